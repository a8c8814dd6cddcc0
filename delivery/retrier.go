package delivery

import (
	"time"

	"github.com/xraph/herald/endpoint"
)

// Decision is the outcome of evaluating a delivery attempt.
type Decision int

const (
	// Delivered means the attempt received a 2xx response.
	Delivered Decision = iota

	// Retry means another attempt is scheduled.
	Retry

	// Fail means the attempt budget is spent.
	Fail
)

func (d Decision) String() string {
	switch d {
	case Delivered:
		return "delivered"
	case Retry:
		return "retry"
	case Fail:
		return "fail"
	default:
		return "unknown"
	}
}

// Result holds the outcome of a single HTTP attempt.
type Result struct {
	// StatusCode is 0 when no response was received.
	StatusCode int
	Error      string
	Response   string
	LatencyMs  int64
}

// Succeeded reports whether the response was 2xx.
func (r Result) Succeeded() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Retrier decides what happens to a record after an attempt.
type Retrier struct{}

// NewRetrier creates a retrier.
func NewRetrier() *Retrier {
	return &Retrier{}
}

// Decide classifies res given the number of attempts made so far, which
// includes the one that produced res.
//
// Decision matrix:
//   - 2xx → Delivered
//   - anything else, attempts < MaxRetries → Retry
//   - anything else, attempts >= MaxRetries → Fail
//
// Client errors (4xx) are retried like server errors.
func (r *Retrier) Decide(res Result, attempts int, policy endpoint.RetryPolicy) Decision {
	if res.Succeeded() {
		return Delivered
	}
	if attempts < policy.MaxRetries {
		return Retry
	}
	return Fail
}

// MaxRetryDelay caps a single backoff step so due times stay storable.
const MaxRetryDelay = endpoint.MaxRetryDelay

// NextAttempt returns when the next attempt is due after attempts failures.
// Delays grow strictly with attempts for any multiplier above 1 as long as
// the policy passed endpoint.Validate, which keeps every scheduled step
// under MaxRetryDelay. Unvalidated policies are clamped to the cap, where
// later steps stop growing.
func (r *Retrier) NextAttempt(now time.Time, attempts int, policy endpoint.RetryPolicy) time.Time {
	return now.Add(min(policy.NextDelay(attempts), MaxRetryDelay))
}
