package binfish

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/kayac/Binfish/apns"
	uuid "github.com/satori/go.uuid"
)

// PostedData is posted data to this provider server /push/apns.
type PostedData struct {
	Token         string  `json:"token"`
	Alert         string  `json:"alert,omitempty"`
	Badge         int     `json:"badge,omitempty"`
	Sound         string  `json:"sound,omitempty"`
	Link          string  `json:"link,omitempty"`
	Expiry        uint32  `json:"expiry,omitempty"`
	ID            *uint32 `json:"id,omitempty"`
	TrackingToken string  `json:"tracking_token,omitempty"`
}

// Notification converts p into a notification. A missing id is left random.
func (p PostedData) Notification() *apns.Notification {
	n := apns.NewNotification(p.Token, p.Alert, p.Badge, p.Sound, p.Link, p.Expiry)
	if p.ID != nil {
		n.CorrelationID = *p.ID
	}
	n.TrackingToken = p.TrackingToken
	return n
}

// Request is one batch of notifications accepted by the provider.
type Request struct {
	ID            string
	Notifications []*apns.Notification
	ReceivedAt    time.Time
}

// NewRequest builds a batch from posted data. Explicit ids must be unique
// within the batch; random ids are drawn again on collision.
func NewRequest(ps []PostedData) (*Request, error) {
	seen := make(map[uint32]struct{}, len(ps))
	for _, p := range ps {
		if p.ID == nil {
			continue
		}
		if _, dup := seen[*p.ID]; dup {
			return nil, fmt.Errorf("duplicate id in request: %d", *p.ID)
		}
		seen[*p.ID] = struct{}{}
	}

	ns := make([]*apns.Notification, 0, len(ps))
	for _, p := range ps {
		n := p.Notification()
		if p.ID == nil {
			for {
				if _, dup := seen[n.CorrelationID]; !dup {
					break
				}
				n.CorrelationID = rand.Uint32()
			}
			seen[n.CorrelationID] = struct{}{}
		}
		ns = append(ns, n)
	}

	return &Request{
		ID:            uuid.NewV4().String(),
		Notifications: ns,
		ReceivedAt:    time.Now(),
	}, nil
}
