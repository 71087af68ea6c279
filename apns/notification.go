package apns

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"math/rand"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

// The gateway expects raw UTF-8, so neither non-ASCII nor HTML characters are escaped.
var json = jsoniter.Config{
	EscapeHTML: false,
}.Froze()

// DefaultSound is always accepted as a sound name.
const DefaultSound = "default"

// SoundExtensions lists the audio formats accepted for custom sounds.
var SoundExtensions = []string{"wav", "aiff", "caf"}

// Notification is one message to a device.
type Notification struct {
	Token         string     `json:"token"`
	Alert         string     `json:"alert,omitempty"`
	Badge         int        `json:"badge,omitempty"`
	Sound         string     `json:"sound,omitempty"`
	Link          string     `json:"link,omitempty"`
	CorrelationID uint32     `json:"id"`
	Expiry        uint32     `json:"expiry"`
	TrackingToken string     `json:"tracking_token,omitempty"`
	SendError     *SendError `json:"-"`
}

// Payload is the JSON body of a notification.
type Payload struct {
	APS  *APS   `json:"aps,omitempty"`
	Link string `json:"z,omitempty"`
}

// APS is a part of Payload
type APS struct {
	Alert string `json:"alert,omitempty"`
	Badge int    `json:"badge,omitempty"`
	Sound string `json:"sound,omitempty"`
}

// NewNotification creates a notification with a random correlation id.
// An expiry of 0 asks the gateway not to store the notification at all.
func NewNotification(token, alert string, badge int, sound, link string, expiry uint32) *Notification {
	return &Notification{
		Token:         token,
		Alert:         alert,
		Badge:         badge,
		Sound:         sound,
		Link:          link,
		Expiry:        expiry,
		CorrelationID: rand.Uint32(),
	}
}

// Validate checks the notification against the restrictions of the binary interface.
func (n *Notification) Validate() error {
	var err error
	switch {
	case !validToken(n.Token):
		err = ErrInvalidToken
	case !validSound(n.Sound):
		err = ErrUnsupportedSound
	case n.Alert == "" && n.Badge <= 0:
		err = ErrNoContent
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"type":  "notification",
			"id":    n.CorrelationID,
			"token": n.Token,
		}).Debugf("Notification failed validation: %s", err)
		return &ValidationError{CorrelationID: n.CorrelationID, Err: err}
	}
	return nil
}

func validToken(token string) bool {
	if len(token) != TokenSize*2 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}

func validSound(sound string) bool {
	if sound == "" || sound == DefaultSound {
		return true
	}
	i := strings.LastIndexByte(sound, '.')
	if i < 0 {
		return false
	}
	ext := sound[i+1:]
	for _, e := range SoundExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Payload builds the notification body.
func (n *Notification) Payload() Payload {
	var p Payload
	if n.Alert != "" || n.Badge > 0 || n.Sound != "" {
		p.APS = &APS{Alert: n.Alert, Sound: n.Sound}
		if n.Badge > 0 {
			p.APS.Badge = n.Badge
		}
	}
	p.Link = n.Link
	return p
}

// EncodePayload serializes the body. With validate, the notification is
// validated first and empty or oversized bodies are rejected.
func (n *Notification) EncodePayload(validate bool) ([]byte, error) {
	if validate {
		if err := n.Validate(); err != nil {
			return nil, err
		}
	}

	b, err := json.Marshal(n.Payload())
	if err != nil {
		return nil, err
	}

	if validate {
		var verr error
		if len(b) == 0 {
			verr = ErrPayloadEmpty
		} else if len(b) > MaxPayloadSize {
			verr = ErrPayloadTooLarge
		}
		if verr != nil {
			logrus.WithFields(logrus.Fields{
				"type": "notification",
				"id":   n.CorrelationID,
				"size": len(b),
			}).Debugf("Invalid payload: %s", verr)
			return nil, &ValidationError{CorrelationID: n.CorrelationID, Err: verr}
		}
	}
	return b, nil
}

// EncodeFrame returns the enhanced notification ready to be written to the gateway.
func (n *Notification) EncodeFrame(validate bool) ([]byte, error) {
	payload, err := n.EncodePayload(validate)
	if err != nil {
		return nil, err
	}

	if len(payload) > math.MaxUint16 {
		return nil, &ValidationError{CorrelationID: n.CorrelationID, Err: ErrPayloadTooLarge}
	}

	token, err := hex.DecodeString(n.Token)
	if err != nil || len(token) != TokenSize {
		return nil, &ValidationError{CorrelationID: n.CorrelationID, Err: ErrInvalidToken}
	}

	b := make([]byte, frameHeaderSize, frameHeaderSize+TokenSize+2+len(payload))
	b[0] = CommandNotification
	binary.BigEndian.PutUint32(b[1:5], n.CorrelationID)
	binary.BigEndian.PutUint32(b[5:9], n.Expiry)
	binary.BigEndian.PutUint16(b[9:11], TokenSize)
	b = append(b, token...)
	b = binary.BigEndian.AppendUint16(b, uint16(len(payload)))
	b = append(b, payload...)
	return b, nil
}

// Failed reports whether an error has been attached to the notification.
func (n *Notification) Failed() bool {
	return n.SendError != nil
}
