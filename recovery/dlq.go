package recovery

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/onnwee/channel-harvest/telemetry"
)

// ErrorContext captures what failed, for dead-letter records and checkpoint
// failed-item lists.
type ErrorContext struct {
	ErrorType        string            `json:"error_type"`
	ErrorMessage     string            `json:"error_message"`
	Timestamp        time.Time         `json:"timestamp"`
	Operation        string            `json:"operation"`
	RetryCount       int               `json:"retry_count"`
	RecoveryStrategy string            `json:"recovery_strategy,omitempty"`
	AdditionalInfo   map[string]string `json:"additional_info,omitempty"`
}

// NewErrorContext builds an ErrorContext from an error and operation name.
func NewErrorContext(op string, err error, strategy string) ErrorContext {
	return ErrorContext{
		ErrorType:        string(KindOf(err)),
		ErrorMessage:     err.Error(),
		Timestamp:        time.Now().UTC(),
		Operation:        op,
		RecoveryStrategy: strategy,
	}
}

// DeadLetter is one permanently failed work item. Retry holds the original
// operation closure for in-process re-drives; it is not persisted.
type DeadLetter struct {
	Item     string       `json:"item"`
	Error    ErrorContext `json:"error"`
	QueuedAt time.Time    `json:"queued_at"`

	Retry func(context.Context) error `json:"-"`
}

// DLQ is a bounded, optionally persisted dead-letter queue. Overflow drops the
// oldest entry. Insertion order is preserved up to the bound.
type DLQ struct {
	mu      sync.Mutex
	items   []*DeadLetter
	maxSize int
	path    string // empty disables persistence
}

// NewDLQ creates a queue holding at most maxSize items. If path is non-empty,
// existing records are loaded and every mutation rewrites the file.
func NewDLQ(maxSize int, path string) (*DLQ, error) {
	if maxSize <= 0 {
		maxSize = 100
	}
	q := &DLQ{maxSize: maxSize, path: path}
	if path != "" {
		if err := q.load(); err != nil {
			return nil, fmt.Errorf("dlq load: %w", err)
		}
	}
	return q, nil
}

// Add enqueues a dead letter, dropping the oldest entry on overflow.
func (q *DLQ) Add(item string, ec ErrorContext, retry func(context.Context) error) {
	q.mu.Lock()
	if len(q.items) >= q.maxSize {
		dropped := q.items[0]
		q.items = q.items[1:]
		slog.Warn("dead-letter queue full, dropping oldest",
			slog.String("dropped_item", dropped.Item),
			slog.Int("max_size", q.maxSize))
	}
	q.items = append(q.items, &DeadLetter{Item: item, Error: ec, QueuedAt: time.Now().UTC(), Retry: retry})
	q.mu.Unlock()
	telemetry.DeadLettered.Inc()
	q.persist()
}

// Len returns the current queue depth.
func (q *DLQ) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a snapshot in insertion order.
func (q *DLQ) Items() []*DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*DeadLetter, len(q.items))
	copy(out, q.items)
	return out
}

// RetryAll drains the queue through processor. Items whose retry fails are
// re-enqueued with an incremented retry count. Returns (succeeded, failed).
func (q *DLQ) RetryAll(ctx context.Context, processor func(context.Context, *DeadLetter) error) (int, int) {
	q.mu.Lock()
	drained := q.items
	q.items = nil
	q.mu.Unlock()

	var ok, failed int
	for _, dl := range drained {
		if err := processor(ctx, dl); err != nil {
			dl.Error.RetryCount++
			dl.Error.ErrorMessage = err.Error()
			dl.Error.Timestamp = time.Now().UTC()
			q.mu.Lock()
			if len(q.items) < q.maxSize {
				q.items = append(q.items, dl)
			}
			q.mu.Unlock()
			failed++
			continue
		}
		ok++
	}
	q.persist()
	return ok, failed
}

// persist rewrites the queue file as JSON lines, atomically.
func (q *DLQ) persist() {
	if q.path == "" {
		return
	}
	q.mu.Lock()
	var buf []byte
	for _, dl := range q.items {
		line, err := json.Marshal(dl)
		if err != nil {
			continue
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	q.mu.Unlock()
	if err := renameio.WriteFile(q.path, buf, 0o644); err != nil {
		slog.Warn("dead-letter persist failed", slog.String("path", q.path), slog.Any("err", err))
	}
}

// load reads previously persisted records. Missing optional fields and
// malformed lines are tolerated; retry closures cannot be rehydrated.
func (q *DLQ) load() error {
	f, err := os.Open(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var dl DeadLetter
		if err := json.Unmarshal(line, &dl); err != nil {
			slog.Warn("skipping malformed dead-letter record", slog.Any("err", err))
			continue
		}
		if len(q.items) < q.maxSize {
			q.items = append(q.items, &dl)
		}
	}
	return sc.Err()
}
