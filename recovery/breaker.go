package recovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/channel-harvest/telemetry"
)

// BreakerState is the circuit position.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker defaults.
const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second
	DefaultSuccessThreshold = 2
)

// CircuitBreaker isolates one failing dependency. Closed counts consecutive
// failures; Open rejects until RecoveryTimeout has elapsed since the last
// failure, then a read flips to Half-Open; Half-Open closes after
// SuccessThreshold consecutive successes and reopens on any failure.
type CircuitBreaker struct {
	Name             string
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int

	mu               sync.Mutex
	state            BreakerState
	failures         int // consecutive failures while closed
	halfOpenSuccess  int
	lastFailure      time.Time
	totalRejections  int64
}

// NewCircuitBreaker builds a closed breaker with the package defaults filled in.
func NewCircuitBreaker(name string) *CircuitBreaker {
	return &CircuitBreaker{
		Name:             name,
		FailureThreshold: DefaultFailureThreshold,
		RecoveryTimeout:  DefaultRecoveryTimeout,
		SuccessThreshold: DefaultSuccessThreshold,
	}
}

// State reads the current state, performing the timed Open -> Half-Open
// transition when the recovery window has elapsed.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpenLocked()
	return cb.state
}

func (cb *CircuitBreaker) maybeHalfOpenLocked() {
	if cb.state == BreakerOpen && time.Since(cb.lastFailure) >= cb.RecoveryTimeout {
		cb.state = BreakerHalfOpen
		cb.halfOpenSuccess = 0
		cb.failures = 0
		cb.publishLocked()
		slog.Info("circuit transitioning to half-open", slog.String("operation", cb.Name))
	}
}

func (cb *CircuitBreaker) publishLocked() {
	var v float64
	switch cb.state {
	case BreakerOpen:
		v = 1
	case BreakerHalfOpen:
		v = 0.5
	}
	telemetry.CircuitState.WithLabelValues(cb.Name).Set(v)
}

// Call invokes f under the breaker rules. While open, f is rejected: the
// fallback result is returned when provided (without counting toward breaker
// statistics), otherwise ErrCircuitOpen.
func (cb *CircuitBreaker) Call(ctx context.Context, f func(context.Context) error, fallback func(context.Context) error) error {
	cb.mu.Lock()
	cb.maybeHalfOpenLocked()
	if cb.state == BreakerOpen {
		cb.totalRejections++
		cb.mu.Unlock()
		if fallback != nil {
			return fallback(ctx)
		}
		return E(KindCircuitOpen, cb.Name, ErrCircuitOpen)
	}
	cb.mu.Unlock()

	err := f(ctx)
	cb.record(err)
	return err
}

// record updates breaker counters after an invocation of the guarded call.
func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err == nil {
		switch cb.state {
		case BreakerHalfOpen:
			cb.halfOpenSuccess++
			if cb.halfOpenSuccess >= cb.SuccessThreshold {
				cb.state = BreakerClosed
				cb.failures = 0
				cb.publishLocked()
				slog.Info("circuit closed", slog.String("operation", cb.Name))
			}
		default:
			cb.failures = 0
		}
		return
	}
	cb.lastFailure = time.Now()
	switch cb.state {
	case BreakerHalfOpen:
		cb.state = BreakerOpen
		cb.publishLocked()
		slog.Warn("circuit reopened from half-open", slog.String("operation", cb.Name))
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.FailureThreshold {
			cb.state = BreakerOpen
			cb.publishLocked()
			slog.Warn("circuit opened", slog.String("operation", cb.Name), slog.Int("failures", cb.failures))
		}
	}
}
