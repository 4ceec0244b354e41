package recovery

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
)

// Strategy names a recovery behavior for WithRecovery.
type Strategy string

const (
	StrategyCircuitBreaker Strategy = "circuit_breaker"
	StrategyRetryBackoff   Strategy = "retry_backoff"
	StrategyRetryImmediate Strategy = "retry_immediate"
	StrategyFallback       Strategy = "fallback"
	StrategySkip           Strategy = "skip"
)

// ErrSkipped is returned by StrategySkip when the operation failed and was
// logged instead of propagated.
var ErrSkipped = errors.New("operation failed and was skipped")

// Manager aggregates the recovery substrate: lazily created per-operation
// circuit breakers, a shared retryer, the dead-letter queue, and the
// checkpoint store. It is a process-scoped service passed by reference.
type Manager struct {
	Retryer     Retryer
	DLQ         *DLQ
	Checkpoints *CheckpointStore

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewManager wires the substrate under recoveryDir: checkpoints live in
// recoveryDir/checkpoints, dead letters in recoveryDir/dead_letter.jsonl.
func NewManager(recoveryDir string, dlqSize int) (*Manager, error) {
	cps, err := NewCheckpointStore(filepath.Join(recoveryDir, "checkpoints"))
	if err != nil {
		return nil, err
	}
	dlq, err := NewDLQ(dlqSize, filepath.Join(recoveryDir, "dead_letter.jsonl"))
	if err != nil {
		return nil, err
	}
	return &Manager{
		Retryer:     DefaultRetryer(),
		DLQ:         dlq,
		Checkpoints: cps,
		breakers:    make(map[string]*CircuitBreaker),
	}, nil
}

// Breaker returns the circuit breaker for an operation name, creating it on
// first use. Reusing the same name across calls shares breaker state.
func (m *Manager) Breaker(opName string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	cb, ok := m.breakers[opName]
	if !ok {
		cb = NewCircuitBreaker(opName)
		m.breakers[opName] = cb
	}
	return cb
}

// BreakerStates snapshots the state of every breaker created so far.
func (m *Manager) BreakerStates() map[string]BreakerState {
	m.mu.Lock()
	names := make([]string, 0, len(m.breakers))
	breakers := make([]*CircuitBreaker, 0, len(m.breakers))
	for name, cb := range m.breakers {
		names = append(names, name)
		breakers = append(breakers, cb)
	}
	m.mu.Unlock()
	out := make(map[string]BreakerState, len(names))
	for i, cb := range breakers {
		out[names[i]] = cb.State()
	}
	return out
}

// WithRecovery dispatches f under the named strategy. When the strategy is
// exhausted and the operation still fails, the work item is enqueued to the
// dead-letter queue before the error propagates — except for circuit-open
// rejections, which are never dead-lettered by the breaker itself.
func (m *Manager) WithRecovery(ctx context.Context, opName string, f func(context.Context) error, strategy Strategy, fallback func(context.Context) error) error {
	var err error
	switch strategy {
	case StrategyCircuitBreaker:
		err = m.Breaker(opName).Call(ctx, f, fallback)
	case StrategyRetryBackoff:
		err = m.Retryer.Do(ctx, f)
	case StrategyRetryImmediate:
		for attempt := 0; attempt < 3; attempt++ {
			if err = f(ctx); err == nil {
				break
			}
			if ctx.Err() != nil {
				break
			}
		}
	case StrategyFallback:
		if err = f(ctx); err != nil && fallback != nil {
			slog.Warn("operation failed, using fallback", slog.String("operation", opName), slog.Any("err", err))
			return fallback(ctx)
		}
	case StrategySkip:
		if err = f(ctx); err != nil {
			slog.Warn("operation failed, skipping", slog.String("operation", opName), slog.Any("err", err))
			err = errors.Join(ErrSkipped, err)
		}
	default:
		err = f(ctx)
	}

	// Circuit-open rejections, cancellations, and not-found results never
	// dead-letter: the first two are transient by definition and not-found is
	// downgraded to an empty result by the caller.
	if err != nil && !errors.Is(err, ErrCircuitOpen) {
		switch KindOf(err) {
		case KindCancelled, KindNotFound:
		default:
			m.DLQ.Add(opName, NewErrorContext(opName, err, string(strategy)), f)
		}
	}
	return err
}
