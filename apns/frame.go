package apns

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Wire constants of the enhanced notification format.
const (
	CommandNotification = 1
	CommandErrorRecord  = 8

	TokenSize       = 32
	ErrorRecordSize = 6
	// MaxPayloadSize is the payload limit of the legacy binary interface.
	MaxPayloadSize = 256

	// command, identifier, expiry, token length
	frameHeaderSize = 1 + 4 + 4 + 2
)

// ErrorRecord is written by the gateway before it closes the stream
// when it rejects a notification.
type ErrorRecord struct {
	Command       uint8
	Status        ErrorCode
	CorrelationID uint32
}

// DecodeErrorRecord decodes a 6 byte error response.
func DecodeErrorRecord(b []byte) (*ErrorRecord, error) {
	if len(b) < ErrorRecordSize {
		return nil, fmt.Errorf("error record is %d bytes, want %d", len(b), ErrorRecordSize)
	}
	return &ErrorRecord{
		Command:       b[0],
		Status:        ErrorCode(b[1]),
		CorrelationID: binary.BigEndian.Uint32(b[2:6]),
	}, nil
}

// Bytes returns the wire form of the record.
func (r ErrorRecord) Bytes() []byte {
	b := make([]byte, ErrorRecordSize)
	b[0] = r.Command
	if b[0] == 0 {
		b[0] = CommandErrorRecord
	}
	b[1] = byte(r.Status)
	binary.BigEndian.PutUint32(b[2:], r.CorrelationID)
	return b
}

func (r ErrorRecord) String() string {
	return fmt.Sprintf("command:%d status:%s id:%d", r.Command, r.Status, r.CorrelationID)
}

// Frame is a decoded enhanced notification.
type Frame struct {
	CorrelationID uint32
	Expiry        uint32
	Token         []byte
	Payload       []byte
}

// ReadFrame reads exactly one enhanced notification from r.
func ReadFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if header[0] != CommandNotification {
		return nil, fmt.Errorf("unexpected command %d", header[0])
	}
	f := &Frame{
		CorrelationID: binary.BigEndian.Uint32(header[1:5]),
		Expiry:        binary.BigEndian.Uint32(header[5:9]),
	}

	tokenLen := binary.BigEndian.Uint16(header[9:11])
	f.Token = make([]byte, tokenLen)
	if _, err := io.ReadFull(r, f.Token); err != nil {
		return nil, err
	}

	var payloadLen uint16
	if err := binary.Read(r, binary.BigEndian, &payloadLen); err != nil {
		return nil, err
	}
	f.Payload = make([]byte, payloadLen)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		return nil, err
	}
	return f, nil
}

// DecodeFrame decodes a complete frame held in b.
func DecodeFrame(b []byte) (*Frame, error) {
	r := bytes.NewReader(b)
	f, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after frame", r.Len())
	}
	return f, nil
}
