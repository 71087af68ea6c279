package apns

import (
	"github.com/sirupsen/logrus"
)

// Conn is the part of Gateway used by a Queue.
type Conn interface {
	Send(frame []byte) bool
	PollForErrors() *ErrorRecord
	Disconnect() bool
}

// Tracker is notified of every notification written to the gateway.
type Tracker interface {
	RecordSend(trackingToken string)
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithValidation toggles local validation of notifications before they are
// sent. It is enabled by default.
func WithValidation(validate bool) QueueOption {
	return func(q *Queue) {
		q.validate = validate
	}
}

// WithTracker sets the collaborator receiving tracking tokens of sent notifications.
func WithTracker(t Tracker) QueueOption {
	return func(q *Queue) {
		q.tracker = t
	}
}

// Queue sends a batch of notifications through a Conn and replays the part
// of the batch the gateway dropped after rejecting a notification.
// A Queue runs once.
type Queue struct {
	conn          Conn
	notifications []*Notification
	validate      bool
	tracker       Tracker

	hasRun    bool
	err       error
	failed    []uint32
	failedSet map[uint32]struct{}
	replays   int
	sent      int
}

type checkKind int

const (
	checkNoError checkKind = iota
	checkReplay
	checkUnrecoverable
)

// checkResult is the outcome of looking for an error record.
// rest is only meaningful for checkReplay and may be empty.
type checkResult struct {
	kind checkKind
	rest []*Notification
}

// NewQueue creates a queue for notifications. Correlation ids must be
// unique within the batch.
func NewQueue(conn Conn, notifications []*Notification, opts ...QueueOption) (*Queue, error) {
	ids := make(map[uint32]struct{}, len(notifications))
	for _, n := range notifications {
		if _, ok := ids[n.CorrelationID]; ok {
			return nil, &ValidationError{CorrelationID: n.CorrelationID, Err: ErrDuplicateCorrelationID}
		}
		ids[n.CorrelationID] = struct{}{}
	}

	q := &Queue{
		conn:          conn,
		notifications: notifications,
		validate:      true,
		failedSet:     make(map[uint32]struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Notifications returns the batch the queue was created with. Failed
// notifications carry their SendError after Run.
func (q *Queue) Notifications() []*Notification {
	return q.notifications
}

// HasRun reports whether Run has been called.
func (q *Queue) HasRun() bool {
	return q.hasRun
}

// Err returns the reason of a failed Run.
func (q *Queue) Err() error {
	return q.err
}

// FailedCorrelationIDs returns the ids of failed notifications in the
// order the failures were discovered.
func (q *Queue) FailedCorrelationIDs() []uint32 {
	ids := make([]uint32, len(q.failed))
	copy(ids, q.failed)
	return ids
}

// ReplayCount returns how many times the queue resumed after an error record.
func (q *Queue) ReplayCount() int {
	return q.replays
}

// SentCount returns the number of frames written, replays included.
func (q *Queue) SentCount() int {
	return q.sent
}

// Run sends the batch. It returns false when an error record could not be
// attributed to the batch, or when the queue has already run.
func (q *Queue) Run() bool {
	if q.hasRun {
		logrus.WithFields(logrus.Fields{
			"type": "queue",
		}).Warn(ErrAlreadyRun)
		return false
	}
	q.hasRun = true

	return q.process(q.notifications)
}

func (q *Queue) process(remaining []*Notification) bool {
pass:
	for len(remaining) > 0 {
		for i, n := range remaining {
			frame, err := n.EncodeFrame(q.validate)
			if err != nil {
				q.fail(n, &SendError{Status: TransportFailure, CorrelationID: n.CorrelationID, Err: err})
				logrus.WithFields(logrus.Fields{
					"type":  "queue",
					"id":    n.CorrelationID,
					"token": n.Token,
				}).Infof("Skipped invalid notification: %s", err)
				continue
			}

			if q.conn.Send(frame) {
				q.sent++
				if q.tracker != nil && n.TrackingToken != "" {
					q.tracker.RecordSend(n.TrackingToken)
				}
				continue
			}

			q.fail(n, &SendError{Status: TransportFailure, CorrelationID: n.CorrelationID})
			logrus.WithFields(logrus.Fields{
				"type":  "queue",
				"id":    n.CorrelationID,
				"token": n.Token,
			}).Warn("Socket level failure")

			// the error record, if any, has to be read before the connection goes away
			res := q.checkForErrors(remaining[i:])
			q.conn.Disconnect()

			switch res.kind {
			case checkUnrecoverable:
				return q.unrecoverable()
			case checkReplay:
				remaining = res.rest
				q.replays++
				continue pass
			}
		}

		res := q.checkForErrors(remaining)
		switch res.kind {
		case checkNoError:
			return true
		case checkUnrecoverable:
			q.conn.Disconnect()
			return q.unrecoverable()
		case checkReplay:
			q.conn.Disconnect()
			remaining = res.rest
			q.replays++
		}
	}
	return true
}

// checkForErrors waits for an error record and resolves it against searched.
// Everything up to and including the rejected notification is settled; the
// gateway dropped everything after it.
func (q *Queue) checkForErrors(searched []*Notification) checkResult {
	rec := q.conn.PollForErrors()
	if rec == nil {
		return checkResult{kind: checkNoError}
	}

	for i, n := range searched {
		if n.CorrelationID != rec.CorrelationID {
			continue
		}
		q.fail(n, &SendError{Status: rec.Status, CorrelationID: rec.CorrelationID})
		logrus.WithFields(logrus.Fields{
			"type":   "queue",
			"id":     n.CorrelationID,
			"token":  n.Token,
			"status": rec.Status,
			"replay": len(searched) - i - 1,
		}).Info("Rejected by gateway")
		return checkResult{kind: checkReplay, rest: searched[i+1:]}
	}

	logrus.WithFields(logrus.Fields{
		"type":   "queue",
		"id":     rec.CorrelationID,
		"status": rec.Status,
	}).Error("Error record does not match any notification in flight")
	return checkResult{kind: checkUnrecoverable}
}

func (q *Queue) unrecoverable() bool {
	q.err = ErrUnrecoverable
	logrus.WithFields(logrus.Fields{
		"type":   "queue",
		"failed": len(q.failed),
		"sent":   q.sent,
	}).Error("Unrecoverable error in queue")
	return false
}

func (q *Queue) fail(n *Notification, err *SendError) {
	n.SendError = err
	if _, ok := q.failedSet[n.CorrelationID]; ok {
		return
	}
	q.failedSet[n.CorrelationID] = struct{}{}
	q.failed = append(q.failed, n.CorrelationID)
}
