package apns

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const testToken = "1122334455667788112233445566778811223344556677881122334455667788"

func TestEncodePayload(t *testing.T) {
	cases := []struct {
		n    Notification
		want string
	}{
		{
			n:    Notification{Token: testToken, Alert: "hello", Badge: 3, Sound: "default", Link: "app://inbox"},
			want: `{"aps":{"alert":"hello","badge":3,"sound":"default"},"z":"app://inbox"}`,
		},
		{
			n:    Notification{Token: testToken, Badge: 1},
			want: `{"aps":{"badge":1}}`,
		},
		{
			n:    Notification{Token: testToken, Alert: "a < b && c > d"},
			want: `{"aps":{"alert":"a < b && c > d"}}`,
		},
		{
			n:    Notification{Token: testToken, Alert: "hi", Badge: -1},
			want: `{"aps":{"alert":"hi"}}`,
		},
	}

	for _, c := range cases {
		b, err := c.n.EncodePayload(true)
		if err != nil {
			t.Errorf("unexpected error: %s", err)
			continue
		}
		if diff := cmp.Diff(c.want, string(b)); diff != "" {
			t.Errorf("payload mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestEncodePayloadUnicode(t *testing.T) {
	alerts := []string{
		"こんにちは、世界",
		"สวัสดีครับ",
		"🎉 party   time",
		"Ünïcödé ümläuts",
	}

	for _, alert := range alerts {
		n := Notification{Token: testToken, Alert: alert}
		b, err := n.EncodePayload(true)
		if err != nil {
			t.Errorf("unexpected error: %s", err)
			continue
		}
		if bytes.Contains(b, []byte(`\u`)) {
			t.Errorf("payload must not contain escape sequences: %s", b)
		}
		if !bytes.Contains(b, []byte(alert)) {
			t.Errorf("payload does not contain raw alert %q: %s", alert, b)
		}

		var p Payload
		if err := json.Unmarshal(b, &p); err != nil {
			t.Errorf("cannot decode payload: %s", err)
			continue
		}
		if p.APS == nil || p.APS.Alert != alert {
			t.Errorf("round trip mismatch: %#v", p.APS)
		}
	}
}

func TestEncodePayloadSize(t *testing.T) {
	n := Notification{Token: testToken, Alert: strings.Repeat("a", 300)}

	if _, err := n.EncodePayload(true); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}

	b, err := n.EncodePayload(false)
	if err != nil {
		t.Errorf("unexpected error without validation: %s", err)
	}
	if len(b) <= MaxPayloadSize {
		t.Errorf("unvalidated payload was modified: %d bytes", len(b))
	}

	n.Alert = strings.Repeat("a", MaxPayloadSize-len(`{"aps":{"alert":""}}`))
	b, err = n.EncodePayload(true)
	if err != nil {
		t.Errorf("payload of exactly %d bytes must be accepted: %s", MaxPayloadSize, err)
	}
	if len(b) != MaxPayloadSize {
		t.Errorf("unexpected payload size %d", len(b))
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		n    Notification
		err  error
	}{
		{"ok", Notification{Token: testToken, Alert: "hi"}, nil},
		{"badge only", Notification{Token: testToken, Badge: 2}, nil},
		{"upper case hex", Notification{Token: strings.ToUpper(testToken), Alert: "hi"}, nil},
		{"default sound", Notification{Token: testToken, Alert: "hi", Sound: "default"}, nil},
		{"wav", Notification{Token: testToken, Alert: "hi", Sound: "bell.wav"}, nil},
		{"aiff", Notification{Token: testToken, Alert: "hi", Sound: "bell.aiff"}, nil},
		{"caf", Notification{Token: testToken, Alert: "hi", Sound: "bell.caf"}, nil},
		{"empty token", Notification{Alert: "hi"}, ErrInvalidToken},
		{"short token", Notification{Token: testToken[:62], Alert: "hi"}, ErrInvalidToken},
		{"long token", Notification{Token: testToken + "00", Alert: "hi"}, ErrInvalidToken},
		{"odd token", Notification{Token: testToken[:63], Alert: "hi"}, ErrInvalidToken},
		{"non hex token", Notification{Token: "zz" + testToken[2:], Alert: "hi"}, ErrInvalidToken},
		{"no content", Notification{Token: testToken}, ErrNoContent},
		{"zero badge", Notification{Token: testToken, Badge: 0, Sound: "default"}, ErrNoContent},
		{"mp3", Notification{Token: testToken, Alert: "hi", Sound: "bell.mp3"}, ErrUnsupportedSound},
		{"no extension", Notification{Token: testToken, Alert: "hi", Sound: "bell"}, ErrUnsupportedSound},
	}

	for _, c := range cases {
		err := c.n.Validate()
		if c.err == nil {
			if err != nil {
				t.Errorf("%s: unexpected error %s", c.name, err)
			}
			continue
		}
		if !errors.Is(err, c.err) {
			t.Errorf("%s: expected %v, got %v", c.name, c.err, err)
		}
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("%s: expected *ValidationError, got %T", c.name, err)
		}
	}
}

func TestEncodeFrame(t *testing.T) {
	n := &Notification{
		Token:         testToken,
		Alert:         "hello",
		CorrelationID: 0x01020304,
		Expiry:        0x0a0b0c0d,
	}
	payload := []byte(`{"aps":{"alert":"hello"}}`)
	token, _ := hex.DecodeString(testToken)

	b, err := n.EncodeFrame(true)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 1+4+4+2+32+2+len(payload) {
		t.Fatalf("unexpected frame length %d", len(b))
	}

	if b[0] != CommandNotification {
		t.Errorf("unexpected command %d", b[0])
	}
	if diff := cmp.Diff([]byte{1, 2, 3, 4}, b[1:5]); diff != "" {
		t.Errorf("correlation id mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]byte{0x0a, 0x0b, 0x0c, 0x0d}, b[5:9]); diff != "" {
		t.Errorf("expiry mismatch (-want +got):\n%s", diff)
	}
	if l := binary.BigEndian.Uint16(b[9:11]); l != TokenSize {
		t.Errorf("unexpected token length %d", l)
	}
	if diff := cmp.Diff(token, b[11:43]); diff != "" {
		t.Errorf("token mismatch (-want +got):\n%s", diff)
	}
	if l := binary.BigEndian.Uint16(b[43:45]); int(l) != len(payload) {
		t.Errorf("unexpected payload length %d", l)
	}
	if diff := cmp.Diff(string(payload), string(b[45:])); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeFrameRoundTrip(t *testing.T) {
	for i, alert := range []string{"hi", "日本語のお知らせ", strings.Repeat("x", 150)} {
		n := NewNotification(testToken, alert, i, "default", "app://x", uint32(1700000000+i))
		b, err := n.EncodeFrame(true)
		if err != nil {
			t.Errorf("unexpected error: %s", err)
			continue
		}
		f, err := DecodeFrame(b)
		if err != nil {
			t.Errorf("cannot decode frame: %s", err)
			continue
		}
		payload, _ := n.EncodePayload(true)
		token, _ := hex.DecodeString(testToken)
		want := &Frame{
			CorrelationID: n.CorrelationID,
			Expiry:        n.Expiry,
			Token:         token,
			Payload:       payload,
		}
		if diff := cmp.Diff(want, f); diff != "" {
			t.Errorf("frame mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestEncodeFrameInvalid(t *testing.T) {
	n := &Notification{Token: "abcd", Alert: "hi"}
	if _, err := n.EncodeFrame(true); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
	// the frame cannot carry a token of another size even when unvalidated
	if _, err := n.EncodeFrame(false); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}

	n = &Notification{Token: testToken, Alert: strings.Repeat("a", 300)}
	if _, err := n.EncodeFrame(true); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
	if _, err := n.EncodeFrame(false); err != nil {
		t.Errorf("unexpected error without validation: %s", err)
	}
}

func BenchmarkEncodeFrame(b *testing.B) {
	n := NewNotification(testToken, "ベンチマーク", 1, "default", "app://bench", 0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := n.EncodeFrame(true); err != nil {
			b.Fatal(err)
		}
	}
}
