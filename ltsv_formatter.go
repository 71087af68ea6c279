package binfish

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// LtsvFormatter is ltsv format for logrus
type LtsvFormatter struct {
	DisableTimestamp bool
	TimestampFormat  string
	DisableSorting   bool
}

// Format entry
func (f *LtsvFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	data := make(logrus.Fields, len(entry.Data)+3)
	for k, v := range entry.Data {
		data[k] = v
	}
	prefixFieldClashes(data)

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	if !f.DisableSorting {
		sort.Strings(keys)
	}

	timestampFormat := f.TimestampFormat
	if timestampFormat == "" {
		timestampFormat = time.RFC3339
	}

	b := &bytes.Buffer{}
	f.appendKeyValue(b, "level", entry.Level.String())
	if entry.Message != "" {
		f.appendKeyValue(b, "msg", entry.Message)
	}
	for _, key := range keys {
		f.appendKeyValue(b, key, data[key])
	}
	if !f.DisableTimestamp {
		f.appendKeyValue(b, "time", entry.Time.Format(timestampFormat))
	}

	// replace the trailing tab
	if b.Len() > 0 {
		b.Truncate(b.Len() - 1)
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// isBareValue reports whether text can be written without quotes.
func isBareValue(text string) bool {
	if text == "" {
		return false
	}
	for _, ch := range text {
		if !((ch >= 'a' && ch <= 'z') ||
			(ch >= 'A' && ch <= 'Z') ||
			(ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_') {
			return false
		}
	}
	return true
}

func (f *LtsvFormatter) appendString(b *bytes.Buffer, s string) {
	if isBareValue(s) {
		b.WriteString(s)
	} else {
		fmt.Fprintf(b, "%q", s)
	}
}

func (f *LtsvFormatter) appendKeyValue(b *bytes.Buffer, key string, value interface{}) {
	b.WriteString(key)
	b.WriteByte(':')

	switch value := value.(type) {
	case string:
		f.appendString(b, value)
	case int, int64, int32, uint, uint64, uint32, uint16, uint8:
		fmt.Fprintf(b, "%d", value)
	case float64, float32:
		fmt.Fprintf(b, "%f", value)
	case bool:
		fmt.Fprintf(b, "%t", value)
	case error:
		f.appendString(b, value.Error())
	case fmt.Stringer:
		f.appendString(b, value.String())
	default:
		fmt.Fprintf(b, "%q", fmt.Sprintf("%v", value))
	}

	b.WriteByte('\t')
}

func prefixFieldClashes(data logrus.Fields) {
	for _, key := range []string{"time", "msg", "level"} {
		if v, ok := data[key]; ok {
			data["fields."+key] = v
			delete(data, key)
		}
	}
}
