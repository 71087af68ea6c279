package apns

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCode is the status code of an error response from the gateway.
// https://developer.apple.com/library/archive/documentation/NetworkingInternet/Conceptual/RemoteNotificationsPG/BinaryProviderAPI.html
type ErrorCode uint8

// Status codes of the legacy binary provider API.
const (
	None               ErrorCode = 0
	ProcessingError    ErrorCode = 1
	MissingToken       ErrorCode = 2
	MissingTopic       ErrorCode = 3
	MissingPayload     ErrorCode = 4
	InvalidTokenSize   ErrorCode = 5
	InvalidTopicSize   ErrorCode = 6
	InvalidPayloadSize ErrorCode = 7
	InvalidToken       ErrorCode = 8
	ShutdownInProgress ErrorCode = 10
	// TransportFailure is never sent by the gateway. It marks notifications
	// which could not be written to the socket or encoded at all.
	TransportFailure ErrorCode = 100
	Unknown          ErrorCode = 255
)

var errorCodeNames = map[ErrorCode]string{
	None:               "NoError",
	ProcessingError:    "ProcessingError",
	MissingToken:       "MissingToken",
	MissingTopic:       "MissingTopic",
	MissingPayload:     "MissingPayload",
	InvalidTokenSize:   "InvalidTokenSize",
	InvalidTopicSize:   "InvalidTopicSize",
	InvalidPayloadSize: "InvalidPayloadSize",
	InvalidToken:       "InvalidToken",
	ShutdownInProgress: "Shutdown",
	TransportFailure:   "TransportFailure",
	Unknown:            "Unknown",
}

func (c ErrorCode) String() string {
	if s, ok := errorCodeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("ErrorCode(%d)", uint8(c))
}

func (c ErrorCode) Error() string {
	return c.String()
}

// FromGateway reports whether the code can appear in an error record.
func (c ErrorCode) FromGateway() bool {
	_, ok := errorCodeNames[c]
	return ok && c != TransportFailure
}

// Validation failures. They never touch the network.
var (
	ErrInvalidToken     = errors.New("token must be 64 hexadecimal characters")
	ErrNoContent        = errors.New("either alert or badge is required")
	ErrUnsupportedSound = errors.New("unsupported sound file extension")
	ErrPayloadEmpty     = errors.New("payload is empty")
	ErrPayloadTooLarge  = errors.New("payload exceeds 256 bytes")
)

// Queue level failures.
var (
	ErrAlreadyRun             = errors.New("queue has already run")
	ErrUnrecoverable          = errors.New("error record does not match any notification in flight")
	ErrDuplicateCorrelationID = errors.New("duplicate correlation id in batch")
)

// ValidationError is returned when a notification is rejected locally.
type ValidationError struct {
	CorrelationID uint32
	Err           error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("notification %d: %s", e.CorrelationID, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// SendError is attached to a notification which was not delivered.
// Err holds the local cause and is nil for errors reported by the gateway.
type SendError struct {
	Status        ErrorCode
	CorrelationID uint32
	Err           error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (id:%d): %s", e.Status, e.CorrelationID, e.Err)
	}
	return fmt.Sprintf("%s (id:%d)", e.Status, e.CorrelationID)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
