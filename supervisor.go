package binfish

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/kayac/Binfish/apns"
	"github.com/kayac/Binfish/config"
	"github.com/kayac/Binfish/tracking"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Supervisor owns the gateway connection and delivers batches one by one.
type Supervisor struct {
	queue chan *Request // supervisor's queue that recieves POST requests.
	cmdq  chan Command  // enqueues this command queue when to get error response from the gateway.
	exit  chan struct{} // exit channel is used to stop the sender.

	sender sync.WaitGroup
	hooks  sync.WaitGroup
	busy   int64

	pool     *apns.GatewayPool
	gateway  *apns.Gateway
	tracker  *tracking.RedisTracker
	metrics  *Metrics
	validate bool
}

// Command has execute command and input stream.
type Command struct {
	command string
	input   []byte
}

// EnqueueClientRequest enqueues request to supervisor's queue from external application service
func (s *Supervisor) EnqueueClientRequest(req *Request) error {
	logf := logrus.Fields{
		"type":         "supervisor",
		"request_id":   req.ID,
		"request_size": len(req.Notifications),
		"queue_size":   len(s.queue),
	}

	select {
	case s.queue <- req:
		LogWithFields(logf).Debugf("Enqueued request from provider.")
	default:
		LogWithFields(logf).Warnf("Supervisor's queue is full.")
		return fmt.Errorf("Supervisor's queue is full")
	}

	return nil
}

// Metrics returns the prometheus collectors of s.
func (s *Supervisor) Metrics() *Metrics {
	return s.metrics
}

// StartSupervisor connects its collaborators and starts the sender.
func StartSupervisor(conf *config.Config) (*Supervisor, error) {
	if successResponseHandler == nil {
		InitSuccessResponseHandler(DefaultResponseHandler{})
	}
	if errorResponseHandler == nil {
		InitErrorResponseHandler(DefaultResponseHandler{Hook: conf.Provider.ErrorHook})
	}

	s := &Supervisor{
		queue:    make(chan *Request, conf.Provider.QueueSize),
		cmdq:     make(chan Command, conf.Provider.RequestQueueSize),
		exit:     make(chan struct{}),
		pool:     apns.NewGatewayPool(),
		validate: !conf.Apns.SkipValidation,
	}
	s.metrics = NewMetrics(
		func() int { return len(s.queue) },
		func() int { return len(s.cmdq) },
	)

	gw, err := s.pool.Get(conf.Apns)
	if err != nil {
		return nil, errors.Wrap(err, "cannot prepare gateway")
	}
	s.gateway = gw

	if conf.Tracking.RedisURL != "" {
		t, err := tracking.NewRedisTracker(context.Background(), conf.Tracking.RedisURL, conf.Tracking.Key)
		if err != nil {
			s.pool.Close()
			return nil, err
		}
		s.tracker = t
	}

	LogWithFields(logrus.Fields{
		"type": "supervisor",
		"addr": gw.Addr(),
	}).Infof("Queue size: %d", cap(s.queue))

	// spawn command
	for i := 0; i < HookWorkerNum; i++ {
		s.hooks.Add(1)
		go func() {
			defer s.hooks.Done()
			logf := logrus.Fields{"type": "cmd_worker"}
			for c := range s.cmdq {
				LogWithFields(logf).Debugf("invoking command: %s %s", c.command, string(c.input))
				src := bytes.NewBuffer(c.input)
				out, err := invokePipe(c.command, src)
				if err != nil {
					LogWithFields(logf).Errorf("(%s) %s", err.Error(), string(out))
				} else {
					LogWithFields(logf).Debugf("Success to execute command")
				}
			}
		}()
	}

	// a single sender: the gateway has one connection and the replay
	// algorithm needs exclusive use of it for a whole batch.
	s.sender.Add(1)
	go func() {
		defer s.sender.Done()
		for {
			select {
			case req := <-s.queue:
				s.deliver(req)
			case <-s.exit:
				return
			}
		}
	}()

	return s, nil
}

// Shutdown supervisor
func (s *Supervisor) Shutdown() {
	LogWithFields(logrus.Fields{
		"type": "supervisor",
	}).Infoln("Waiting for stopping supervisor...")

	// Waiting for processing notification requests
	zeroCnt := 0
	deadline := time.Now().Add(ShutdownTimeout)
	for zeroCnt < RestartWaitCount {
		if len(s.queue)+len(s.cmdq)+int(atomic.LoadInt64(&s.busy)) > 0 {
			zeroCnt = 0
		} else {
			zeroCnt++
		}
		if time.Now().After(deadline) {
			LogWithFields(logrus.Fields{
				"type":       "supervisor",
				"queue_size": len(s.queue),
			}).Warnf("Gave up waiting after %s.", ShutdownTimeout)
			break
		}
		time.Sleep(ShutdownWaitTime)
	}

	close(s.exit)
	s.sender.Wait()
	close(s.cmdq)
	s.hooks.Wait()

	s.pool.Close()
	if s.tracker != nil {
		s.tracker.Close()
	}

	LogWithFields(logrus.Fields{
		"type": "supervisor",
	}).Infoln("Stoped supervisor.")
}

func (s *Supervisor) deliver(req *Request) {
	atomic.AddInt64(&s.busy, 1)
	defer atomic.AddInt64(&s.busy, -1)

	logf := logrus.Fields{
		"type":         "supervisor",
		"request_id":   req.ID,
		"request_size": len(req.Notifications),
		"wait_time":    time.Since(req.ReceivedAt).Seconds(),
	}

	opts := []apns.QueueOption{apns.WithValidation(s.validate)}
	if s.tracker != nil {
		opts = append(opts, apns.WithTracker(s.tracker))
	}
	q, err := apns.NewQueue(s.gateway, req.Notifications, opts...)
	if err != nil {
		atomic.AddInt64(&(srvStats.ErrCount), int64(len(req.Notifications)))
		LogWithFields(logf).Errorf("Rejected request: %s", err)
		return
	}

	start := time.Now()
	ok := q.Run()
	elapsed := time.Since(start)
	s.metrics.ObserveQueue(q, ok, elapsed)

	failed := q.FailedCorrelationIDs()
	atomic.AddInt64(&(srvStats.BatchCount), 1)
	atomic.AddInt64(&(srvStats.SentCount), int64(q.SentCount()))
	atomic.AddInt64(&(srvStats.ReplayCount), int64(q.ReplayCount()))
	atomic.AddInt64(&(srvStats.ErrCount), int64(len(failed)))

	logf["response_time"] = elapsed.Seconds()
	logf["sent"] = q.SentCount()
	logf["replays"] = q.ReplayCount()
	logf["failed"] = len(failed)
	if ok {
		LogWithFields(logf).Info("Delivered request")
	} else {
		atomic.AddInt64(&(srvStats.UnrecoverableCount), 1)
		LogWithFields(logf).Errorf("Delivery stopped: %s", q.Err())
	}

	for _, result := range q.Results() {
		if result.Err() != nil {
			onResponse(result, errorResponseHandler.HookCmd(), s.cmdq)
			continue
		}
		// after an unrecoverable run the outcome of the rest is unknown
		if ok {
			onResponse(result, "", s.cmdq)
		}
	}
}

func onResponse(result Result, cmd string, cmdq chan<- Command) {
	logf := logrus.Fields{
		"provider": result.Provider(),
		"type":     "on_response",
		"token":    result.RecipientIdentifier(),
	}
	for _, key := range result.ExtraKeys() {
		logf[key] = result.ExtraValue(key)
	}
	// on error handler
	if err := result.Err(); err != nil {
		errorResponseHandler.OnResponse(result)
	} else {
		successResponseHandler.OnResponse(result)
	}

	if cmd == "" {
		return
	}

	b, _ := result.MarshalJSON()
	command := Command{
		command: cmd,
		input:   b,
	}
	select {
	case cmdq <- command:
		LogWithFields(logf).Debugf("Enqueue command: %v", command)
	default:
		LogWithFields(logf).Warnf("Command queue is full, so could not execute commnad: %v", command)
	}
}

func invokePipe(hook string, src io.Reader) ([]byte, error) {
	logf := logrus.Fields{"type": "invoke_pipe"}
	cmd := exec.Command("sh", "-c", hook)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed: %v %s", cmd, err.Error())
	}

	var b bytes.Buffer
	// merge std(out|err) of command to binfish
	if OutputHookStdout {
		cmd.Stdout = os.Stdout
	} else {
		cmd.Stdout = &b
	}
	if OutputHookStderr {
		cmd.Stderr = os.Stderr
	} else {
		cmd.Stderr = &b
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	// src copy to cmd.stdin
	_, err = io.Copy(stdin, src)
	if e, ok := err.(*os.PathError); ok && e.Err == syscall.EPIPE {
		LogWithFields(logf).Error(e.Error())
	} else if err != nil {
		LogWithFields(logf).Errorf("failed to write STDIN: cmd( %s ), error( %s )", hook, err.Error())
	}
	stdin.Close()

	err = cmd.Wait()
	return b.Bytes(), err
}
