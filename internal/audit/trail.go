// Package audit is the append-only record of every ledger mutation.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/punchamoorthee/otaledger/internal/domain"
	"github.com/punchamoorthee/otaledger/internal/id"
)

// Recorder is what ledgers depend on to report their mutations.
type Recorder interface {
	Record(ctx context.Context, e Event)
}

// Event is a mutation as reported by a ledger; the trail assigns the id and
// timestamp.
type Event struct {
	Table     string
	RecordID  string
	Operation string
	Diff      any
	Operator  string
	Source    string
}

// Sink receives every entry after it is appended, e.g. a message broker.
type Sink interface {
	Publish(ctx context.Context, entry domain.AuditEntry) error
}

// Nop discards events. Ledgers use it when no trail is configured.
var Nop Recorder = nopRecorder{}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, Event) {}

// DefaultQueueSize bounds the entries waiting for the sinks.
const DefaultQueueSize = 1024

type delivery struct {
	ctx   context.Context
	entry domain.AuditEntry
}

// Trail keeps every entry in memory and forwards it to the sinks from a
// single worker.
type Trail struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
	sinks   []Sink
	logger  *zap.Logger
	now     func() time.Time

	queueSize int
	queue     chan delivery
	done      chan struct{}
	closed    bool
}

type Option func(*Trail)

func WithSink(s Sink) Option {
	return func(t *Trail) { t.sinks = append(t.sinks, s) }
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Trail) { t.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(t *Trail) { t.now = now }
}

// WithQueueSize bounds the entries waiting for the sinks. Entries recorded
// while the queue is full are kept in the trail but not published.
func WithQueueSize(n int) Option {
	return func(t *Trail) { t.queueSize = n }
}

// New starts the sink worker when at least one sink is configured; Close
// stops it.
func New(opts ...Option) *Trail {
	t := &Trail{logger: zap.NewNop(), now: time.Now, queueSize: DefaultQueueSize}
	for _, o := range opts {
		o(t)
	}
	if len(t.sinks) > 0 {
		if t.queueSize <= 0 {
			t.queueSize = DefaultQueueSize
		}
		t.queue = make(chan delivery, t.queueSize)
		t.done = make(chan struct{})
		go t.forward()
	}
	return t
}

// Record appends the event and queues it for the sinks without waiting on
// them. Sink failures are logged.
func (t *Trail) Record(ctx context.Context, e Event) {
	diff, err := json.Marshal(e.Diff)
	if err != nil {
		t.logger.Error("audit diff not serializable", zap.String("table", e.Table), zap.String("record_id", e.RecordID), zap.Error(err))
		diff = json.RawMessage("null")
	}
	entry := domain.AuditEntry{
		ID:         id.New(id.Audit),
		TableName:  e.Table,
		RecordID:   e.RecordID,
		Operation:  e.Operation,
		DiffData:   diff,
		Operator:   e.Operator,
		OperatedAt: t.now().UTC(),
		Source:     e.Source,
	}

	dropped := false
	t.mu.Lock()
	t.entries = append(t.entries, entry)
	if t.queue != nil && !t.closed {
		select {
		case t.queue <- delivery{ctx: context.WithoutCancel(ctx), entry: entry}:
		default:
			dropped = true
		}
	}
	t.mu.Unlock()

	if dropped {
		t.logger.Error("audit sink queue full, entry not published", zap.String("entry_id", entry.ID), zap.Int("queue_size", t.queueSize))
	}
}

func (t *Trail) forward() {
	defer close(t.done)
	for d := range t.queue {
		for _, s := range t.sinks {
			if err := s.Publish(d.ctx, d.entry); err != nil {
				t.logger.Error("audit sink publish failed", zap.String("entry_id", d.entry.ID), zap.Error(err))
			}
		}
	}
}

// Close publishes the queued entries and stops the sink worker. Entries
// recorded afterwards stay in the trail only.
func (t *Trail) Close() error {
	t.mu.Lock()
	if t.queue != nil && !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()
	if t.done != nil {
		<-t.done
	}
	return nil
}

// Filter selects entries; empty fields match everything.
type Filter struct {
	Table    string
	RecordID string
}

// Entries returns matching entries, newest last.
func (t *Trail) Entries(f Filter) []domain.AuditEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []domain.AuditEntry
	for _, e := range t.entries {
		if f.Table != "" && e.TableName != f.Table {
			continue
		}
		if f.RecordID != "" && e.RecordID != f.RecordID {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (t *Trail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Hydrate replaces the trail with previously persisted entries.
func (t *Trail) Hydrate(entries []domain.AuditEntry) {
	t.mu.Lock()
	t.entries = append([]domain.AuditEntry(nil), entries...)
	t.mu.Unlock()
}

func (t *Trail) Dump() []domain.AuditEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]domain.AuditEntry(nil), t.entries...)
}
