package binfish

import (
	"github.com/kayac/Binfish/apns"
)

// Result is the outcome of one notification handed to response handlers.
type Result interface {
	Err() error
	Status() int
	Provider() string
	RecipientIdentifier() string
	ExtraKeys() []string
	ExtraValue(string) string
	MarshalJSON() ([]byte, error)
}

var _ Result = apns.Result{}
