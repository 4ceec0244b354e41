package recovery

import (
	"context"
	"fmt"
	"log/slog"
)

// Step is one named operation with its compensating action.
type Step struct {
	Name string
	Do   func(context.Context) error
	Undo func(context.Context) error
}

// Transaction runs steps in order and, on the first failure, undoes the
// completed steps in reverse order. Undo errors are logged and never mask the
// original failure. This makes multi-step logical operations (extract channel
// info + upsert person) atomic at the application level.
type Transaction struct {
	Name  string
	steps []Step
}

// NewTransaction creates an empty transaction with a name used in logs.
func NewTransaction(name string) *Transaction {
	return &Transaction{Name: name}
}

// Add appends a step. Undo may be nil for steps with no compensation.
func (t *Transaction) Add(name string, do, undo func(context.Context) error) *Transaction {
	t.steps = append(t.steps, Step{Name: name, Do: do, Undo: undo})
	return t
}

// Execute runs the steps. On failure the error identifies the failing step.
func (t *Transaction) Execute(ctx context.Context) error {
	for i, step := range t.steps {
		if err := step.Do(ctx); err != nil {
			t.rollback(ctx, i)
			return fmt.Errorf("transaction %s: step %s: %w", t.Name, step.Name, err)
		}
	}
	return nil
}

// rollback undoes steps [0, upTo) in reverse order, best effort.
func (t *Transaction) rollback(ctx context.Context, upTo int) {
	for i := upTo - 1; i >= 0; i-- {
		step := t.steps[i]
		if step.Undo == nil {
			continue
		}
		if err := step.Undo(ctx); err != nil {
			slog.Warn("rollback step failed",
				slog.String("transaction", t.Name),
				slog.String("step", step.Name),
				slog.Any("err", err))
		}
	}
}
