package binfish

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/kayac/Binfish/apns"
	"github.com/sirupsen/logrus"
)

func TestQuoting(t *testing.T) {
	tf := &LtsvFormatter{}

	checkQuoting := func(q bool, value interface{}) {
		b, _ := tf.Format(logrus.WithField("test", value))
		idx := bytes.Index(b, ([]byte)("test:"))
		cont := bytes.Equal(b[idx+5:idx+6], []byte{'"'})
		if cont != q {
			if q {
				t.Errorf("quoting expected for: %#v", value)
			} else {
				t.Errorf("quoting not expected for: %#v", value)
			}
		}
	}

	checkQuoting(false, "abcd")
	checkQuoting(false, "v1.0")
	checkQuoting(false, "1234567890")
	checkQuoting(false, "on_response")
	checkQuoting(true, "")
	checkQuoting(true, "/foobar")
	checkQuoting(true, "x y")
	checkQuoting(true, "x,y")
	checkQuoting(true, "x\ty")
	checkQuoting(false, errors.New("invalid"))
	checkQuoting(true, errors.New("invalid argument"))
	checkQuoting(false, uint32(4294967295))
	checkQuoting(false, apns.InvalidToken)
	checkQuoting(true, []string{"a", "b"})
}

func TestLtsvFormat(t *testing.T) {
	tf := &LtsvFormatter{DisableTimestamp: true}

	b, err := tf.Format(logrus.WithFields(logrus.Fields{
		"type":   "queue",
		"id":     uint32(42),
		"status": apns.ShutdownInProgress,
		"msg":    "clash",
	}))
	if err != nil {
		t.Fatal(err)
	}

	line := strings.TrimSuffix(string(b), "\n")
	want := "level:panic\tfields.msg:clash\tid:42\tstatus:Shutdown\ttype:queue"
	if line != want {
		t.Errorf("unexpected line\nwant: %s\n got: %s", want, line)
	}
}
