package binfish

import (
	"time"
)

// Version
const (
	Version = "v0.1.0"
)

// Default values
const (
	// Minimum RetryAfter time (seconds).
	RetryAfterSecond = time.Second * 10
	// Binfish returns RetryAfter header based on 'Exponential Backoff'. Therefore,
	// that defines the wait time threshold so as not to wait too long.
	ResetRetryAfterSecond = time.Second * 60
	// Wait millisecond interval when to shutdown.
	ShutdownWaitTime = time.Millisecond * 10
	// That is the count while request counter is 0 in the 'ShutdownWaitTime' period.
	RestartWaitCount = 50
	// Upper bound of the shutdown wait. A batch blocks the sender for at least
	// one error poll window, so a long queue takes a while to drain.
	ShutdownTimeout = time.Minute * 2
	// Number of goroutines invoking the error hook.
	HookWorkerNum = 4
)

// MockGateway is the address of the gateway used in the test environment
// unless a host is configured.
const MockGateway = "localhost:2195"

// Supports Content-Type
const (
	ApplicationJSON              = "application/json"
	ApplicationXW3FormURLEncoded = "application/x-www-form-urlencoded"
)

// Environment struct
type Environment int

// Executed environment
const (
	Production Environment = iota
	Sandbox
	Test
	Disable
)

func (e Environment) String() string {
	switch e {
	case Production:
		return "production"
	case Sandbox:
		return "sandbox"
	case Test:
		return "test"
	case Disable:
		return "disable"
	}
	return "unknown"
}
