package apns

import "strconv"

// Provider is the name reported by results of the binary gateway.
const Provider = "apns-binary"

// Result is the outcome of one notification of a queue run.
type Result struct {
	Token         string    `json:"token"`
	CorrelationID uint32    `json:"id"`
	StatusCode    ErrorCode `json:"status"`
	TrackingToken string    `json:"tracking_token,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

// NewResult describes the outcome of n.
func NewResult(n *Notification) Result {
	r := Result{
		Token:         n.Token,
		CorrelationID: n.CorrelationID,
		TrackingToken: n.TrackingToken,
	}
	if n.SendError != nil {
		r.StatusCode = n.SendError.Status
		r.Reason = n.SendError.Error()
	}
	return r
}

// Results returns the outcome of every notification of the batch.
func (q *Queue) Results() []Result {
	results := make([]Result, 0, len(q.notifications))
	for _, n := range q.notifications {
		results = append(results, NewResult(n))
	}
	return results
}

func (r Result) Err() error {
	if r.StatusCode == None {
		return nil
	}
	return r.StatusCode
}

func (r Result) RecipientIdentifier() string {
	return r.Token
}

func (r Result) ExtraKeys() []string {
	return []string{"id", "reason"}
}

func (r Result) ExtraValue(key string) string {
	switch key {
	case "id":
		return strconv.FormatUint(uint64(r.CorrelationID), 10)
	case "reason":
		return r.Reason
	}
	return ""
}

func (r Result) Status() int {
	return int(r.StatusCode)
}

func (r Result) Provider() string {
	return Provider
}

func (r Result) MarshalJSON() ([]byte, error) {
	type Alias Result
	return json.Marshal(struct {
		Provider string `json:"provider"`
		Alias
	}{
		Provider: Provider,
		Alias:    (Alias)(r),
	})
}
