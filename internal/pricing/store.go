// Package pricing versions (SKU, channel) prices over closed date intervals.
//
// Among records sharing a (SKU, channel) pair at most one is active, and live
// (non-superseded) records must not overlap unless the caller overrides the
// conflict check. Every mutation of a pair happens under that pair's key lock.
package pricing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/punchamoorthee/otaledger/internal/audit"
	"github.com/punchamoorthee/otaledger/internal/dates"
	"github.com/punchamoorthee/otaledger/internal/domain"
	"github.com/punchamoorthee/otaledger/internal/id"
	"github.com/punchamoorthee/otaledger/internal/keylock"
	"github.com/punchamoorthee/otaledger/internal/metrics"
)

const (
	table        = "prices"
	historyTable = "price_history"
)

type Store struct {
	mu      sync.RWMutex
	records map[string]domain.PriceRecord
	byPair  map[string]map[string]struct{}

	historyMu sync.RWMutex
	history   []domain.PriceHistoryEntry

	locks  keylock.Locker
	audit  audit.Recorder
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Store)

func WithLocker(l keylock.Locker) Option { return func(s *Store) { s.locks = l } }
func WithAudit(r audit.Recorder) Option { return func(s *Store) { s.audit = r } }
func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.logger = l } }
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		records: make(map[string]domain.PriceRecord),
		byPair:  make(map[string]map[string]struct{}),
		locks:   keylock.NewLocal(),
		audit:   audit.Nop,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func pairKey(sku, channel string) string { return sku + "|" + channel }

func lockKey(sku, channel string) string { return "price:" + pairKey(sku, channel) }

// CheckConflict returns the live records of (sku, channel), other than
// excludeID, whose interval intersects [start, end].
func (s *Store) CheckConflict(sku, channel, start, end, excludeID string) ([]domain.PriceRecord, error) {
	if err := validInterval(start, end); err != nil {
		return nil, err
	}
	var out []domain.PriceRecord
	for _, p := range s.List(sku, channel) {
		if p.ID == excludeID || !p.Live() {
			continue
		}
		if dates.Overlaps(p.StartAt, p.EndAt, start, end) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Upsert inserts rec, or fully replaces the record with the same id.
func (s *Store) Upsert(ctx context.Context, rec domain.PriceRecord, operator string) (err error) {
	defer func() { metrics.Observe(table, "upsert", err) }()

	if err := validate(rec); err != nil {
		return err
	}
	unlock, prev, existed, err := s.lockRecord(ctx, rec.ID, lockKey(rec.SkuID, rec.ChannelID))
	if err != nil {
		return err
	}
	defer unlock()
	return s.write(ctx, rec, prev, existed, operator)
}

// Admit inspects the stored version of a record before a conditional write.
type Admit func(prev domain.PriceRecord, existed bool) error

// UpsertIfNoConflict stores rec unless admit refuses the stored version or a
// live record of the pair overlaps rec. Both checks and the write happen
// under one hold of the pair lock; override skips the overlap check. It
// returns the replaced record, or nil for an insert.
func (s *Store) UpsertIfNoConflict(ctx context.Context, rec domain.PriceRecord, override bool, operator string, admit Admit) (_ *domain.PriceRecord, err error) {
	defer func() { metrics.Observe(table, "upsert_checked", err) }()

	if err := validate(rec); err != nil {
		return nil, err
	}
	unlock, prev, existed, err := s.lockRecord(ctx, rec.ID, lockKey(rec.SkuID, rec.ChannelID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	if admit != nil {
		if err := admit(prev, existed); err != nil {
			return nil, err
		}
	}
	if !override {
		conflicts, err := s.CheckConflict(rec.SkuID, rec.ChannelID, rec.StartAt, rec.EndAt, rec.ID)
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			return nil, &domain.ConflictError{Conflicts: conflicts}
		}
	}
	if err := s.write(ctx, rec, prev, existed, operator); err != nil {
		return nil, err
	}
	if !existed {
		return nil, nil
	}
	return &prev, nil
}

// lockRecord locks the pairs in extra together with the pair currently
// holding recordID, and returns the record as read under those locks. A
// record moved to another pair before the locks were taken is retried.
func (s *Store) lockRecord(ctx context.Context, recordID string, extra ...string) (keylock.Unlock, domain.PriceRecord, bool, error) {
	for {
		seen, existed := s.Get(recordID)
		keys := append([]string(nil), extra...)
		if existed {
			keys = append(keys, lockKey(seen.SkuID, seen.ChannelID))
		}
		unlock, err := keylock.LockAll(ctx, s.locks, keys...)
		if err != nil {
			return nil, domain.PriceRecord{}, false, err
		}
		cur, ok := s.Get(recordID)
		if ok == existed && (!ok || pairKey(cur.SkuID, cur.ChannelID) == pairKey(seen.SkuID, seen.ChannelID)) {
			return unlock, cur, ok, nil
		}
		unlock()
	}
}

// write stores rec; the caller holds the locks of rec's pair and prev's.
func (s *Store) write(ctx context.Context, rec, prev domain.PriceRecord, existed bool, operator string) error {
	if rec.Status == domain.PriceActive {
		for _, p := range s.List(rec.SkuID, rec.ChannelID) {
			if p.ID != rec.ID && p.Status == domain.PriceActive {
				return fmt.Errorf("price %s already active for %s/%s, activate instead: %w", p.ID, rec.SkuID, rec.ChannelID, domain.ErrInvalidTransition)
			}
		}
	}
	s.put(rec)

	op := domain.OpInsert
	var diff any = rec
	if existed {
		op = domain.OpUpdate
		diff = map[string]domain.PriceRecord{"before": prev, "after": rec}
	}
	s.audit.Record(ctx, audit.Event{Table: table, RecordID: rec.ID, Operation: op, Diff: diff, Operator: operator, Source: "pricing"})
	return nil
}

// ActivatePrice makes id the active record of its pair. Every other active
// record of the pair is superseded and its interval truncated to end the day
// before the new record starts. It returns the activated record.
func (s *Store) ActivatePrice(ctx context.Context, id, operator string) (_ domain.PriceRecord, err error) {
	defer func() { metrics.Observe(table, "activate", err) }()

	unlock, target, ok, err := s.lockRecord(ctx, id)
	if err != nil {
		return domain.PriceRecord{}, err
	}
	defer unlock()
	if !ok {
		return domain.PriceRecord{}, fmt.Errorf("price %s: %w", id, domain.ErrRecordNotFound)
	}
	newEnd, err := dates.AddDays(target.StartAt, -1)
	if err != nil {
		return domain.PriceRecord{}, domain.Invalid("start_at", "%v", err)
	}

	var superseded []string
	for _, p := range s.List(target.SkuID, target.ChannelID) {
		if p.ID == target.ID || p.Status != domain.PriceActive {
			continue
		}
		p.Status = domain.PriceSuperseded
		p.EndAt = newEnd
		s.put(p)
		superseded = append(superseded, p.ID)
	}
	target.Status = domain.PriceActive
	s.put(target)

	s.audit.Record(ctx, audit.Event{
		Table:     table,
		RecordID:  target.ID,
		Operation: domain.OpUpdate,
		Diff:      map[string]any{"status": domain.PriceActive, "superseded": superseded, "superseded_end_at": newEnd},
		Operator:  operator,
		Source:    "pricing",
	})
	s.logger.Info("price activated", zap.String("price_id", target.ID), zap.String("sku_id", target.SkuID),
		zap.String("channel_id", target.ChannelID), zap.Strings("superseded", superseded))
	return target, nil
}

// SetStatus changes only the status of a record.
func (s *Store) SetStatus(ctx context.Context, id string, status domain.PriceStatus, operator string) (domain.PriceRecord, error) {
	unlock, prev, ok, err := s.lockRecord(ctx, id)
	if err != nil {
		return domain.PriceRecord{}, err
	}
	defer unlock()
	if !ok {
		return domain.PriceRecord{}, fmt.Errorf("price %s: %w", id, domain.ErrRecordNotFound)
	}
	rec := prev
	rec.Status = status
	if err := validate(rec); err != nil {
		return domain.PriceRecord{}, err
	}
	if err := s.write(ctx, rec, prev, true, operator); err != nil {
		return domain.PriceRecord{}, err
	}
	return rec, nil
}

// CloneActiveToDraft copies the active record of (sku, channel) under a
// fresh id with draft status. The copy is not stored.
func (s *Store) CloneActiveToDraft(sku, channel string) *domain.PriceRecord {
	for _, p := range s.List(sku, channel) {
		if p.Status == domain.PriceActive {
			p.ID = id.New(id.Price)
			p.Status = domain.PriceDraft
			return &p
		}
	}
	return nil
}

// ActivePrice returns the active record of (sku, channel) whose interval
// contains day.
func (s *Store) ActivePrice(sku, channel, day string) (domain.PriceRecord, bool) {
	for _, p := range s.List(sku, channel) {
		if p.Status == domain.PriceActive && p.StartAt <= day && day <= p.EndAt {
			return p, true
		}
	}
	return domain.PriceRecord{}, false
}

// HasActive reports whether sku has an active price on any channel.
func (s *Store) HasActive(sku string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.records {
		if p.SkuID == sku && p.Status == domain.PriceActive {
			return true
		}
	}
	return false
}

// AddHistory appends a history entry, assigning its id and, when unset, its
// timestamp.
func (s *Store) AddHistory(ctx context.Context, e domain.PriceHistoryEntry) (domain.PriceHistoryEntry, error) {
	if e.PriceID == "" {
		return domain.PriceHistoryEntry{}, domain.Invalid("price_id", "required")
	}
	e.ID = id.New(id.PriceHistory)
	if e.OperatedAt.IsZero() {
		e.OperatedAt = s.now().UTC()
	}
	s.historyMu.Lock()
	s.history = append(s.history, e)
	s.historyMu.Unlock()
	metrics.Observe(historyTable, "append", nil)
	s.audit.Record(ctx, audit.Event{Table: historyTable, RecordID: e.ID, Operation: domain.OpInsert, Diff: e, Operator: e.Operator, Source: "pricing"})
	return e, nil
}

// History returns the entries of priceID in append order; an empty id
// returns all of them.
func (s *Store) History(priceID string) []domain.PriceHistoryEntry {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()
	var out []domain.PriceHistoryEntry
	for _, e := range s.history {
		if priceID == "" || e.PriceID == priceID {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) Get(id string) (domain.PriceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.records[id]
	return p, ok
}

// List returns the records of (sku, channel) ordered by start date.
func (s *Store) List(sku, channel string) []domain.PriceRecord {
	s.mu.RLock()
	ids := s.byPair[pairKey(sku, channel)]
	out := make([]domain.PriceRecord, 0, len(ids))
	for rid := range ids {
		out = append(out, s.records[rid])
	}
	s.mu.RUnlock()
	sortRecords(out)
	return out
}

func sortRecords(out []domain.PriceRecord) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartAt != out[j].StartAt {
			return out[i].StartAt < out[j].StartAt
		}
		return out[i].ID < out[j].ID
	})
}

func (s *Store) put(p domain.PriceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.records[p.ID]; ok {
		if k := pairKey(prev.SkuID, prev.ChannelID); k != pairKey(p.SkuID, p.ChannelID) {
			delete(s.byPair[k], p.ID)
		}
	}
	s.records[p.ID] = p
	k := pairKey(p.SkuID, p.ChannelID)
	if s.byPair[k] == nil {
		s.byPair[k] = make(map[string]struct{})
	}
	s.byPair[k][p.ID] = struct{}{}
}

func (s *Store) Hydrate(records []domain.PriceRecord, history []domain.PriceHistoryEntry) {
	s.mu.Lock()
	s.records = make(map[string]domain.PriceRecord, len(records))
	s.byPair = make(map[string]map[string]struct{})
	s.mu.Unlock()
	for _, p := range records {
		s.put(p)
	}
	s.historyMu.Lock()
	s.history = append([]domain.PriceHistoryEntry(nil), history...)
	s.historyMu.Unlock()
}

func (s *Store) Dump() ([]domain.PriceRecord, []domain.PriceHistoryEntry) {
	s.mu.RLock()
	records := make([]domain.PriceRecord, 0, len(s.records))
	for _, p := range s.records {
		records = append(records, p)
	}
	s.mu.RUnlock()
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, s.History("")
}

func validInterval(start, end string) error {
	if _, err := dates.Parse(start); err != nil {
		return domain.Invalid("start_at", "%v", err)
	}
	if _, err := dates.Parse(end); err != nil {
		return domain.Invalid("end_at", "%v", err)
	}
	if end < start {
		return domain.Invalid("end_at", "must not be before start_at")
	}
	return nil
}

func validate(p domain.PriceRecord) error {
	switch {
	case p.ID == "":
		return domain.Invalid("id", "required")
	case p.SkuID == "":
		return domain.Invalid("sku_id", "required")
	case p.ChannelID == "":
		return domain.Invalid("channel_id", "required")
	case p.SalePrice.IsNegative():
		return domain.Invalid("sale_price", "must not be negative")
	case p.CostPrice.Valid && p.CostPrice.Decimal.IsNegative():
		return domain.Invalid("cost_price", "must not be negative")
	}
	switch p.Status {
	case domain.PriceDraft, domain.PricePending, domain.PriceActive, domain.PriceSuperseded:
	default:
		return domain.Invalid("status", "unknown status %q", p.Status)
	}
	return validInterval(p.StartAt, p.EndAt)
}
