// Package approval records proposed changes and decides them exactly once.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/punchamoorthee/otaledger/internal/audit"
	"github.com/punchamoorthee/otaledger/internal/domain"
	"github.com/punchamoorthee/otaledger/internal/id"
	"github.com/punchamoorthee/otaledger/internal/keylock"
	"github.com/punchamoorthee/otaledger/internal/metrics"
)

const table = "approvals"

// Submission is a proposed change. Before and After are opaque snapshots
// marshalled to JSON.
type Submission struct {
	ObjectType domain.ObjectType
	ObjectID   string
	ActionType string
	Before     any
	After      any
	Applicant  string
	Approver   string
}

type Gate struct {
	mu       sync.RWMutex
	requests map[string]domain.ApprovalRequest

	locks  keylock.Locker
	audit  audit.Recorder
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Gate)

func WithLocker(l keylock.Locker) Option { return func(g *Gate) { g.locks = l } }
func WithAudit(r audit.Recorder) Option { return func(g *Gate) { g.audit = r } }
func WithLogger(l *zap.Logger) Option { return func(g *Gate) { g.logger = l } }
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func New(opts ...Option) *Gate {
	g := &Gate{
		requests: make(map[string]domain.ApprovalRequest),
		locks:    keylock.NewLocal(),
		audit:    audit.Nop,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Submit stores a pending request. It never touches the target object.
func (g *Gate) Submit(ctx context.Context, s Submission) (_ domain.ApprovalRequest, err error) {
	defer func() { metrics.Observe(table, "submit", err) }()

	if !s.ObjectType.Valid() {
		return domain.ApprovalRequest{}, fmt.Errorf("object type %q: %w", s.ObjectType, domain.ErrUnknownObjectType)
	}
	if s.ObjectID == "" {
		return domain.ApprovalRequest{}, domain.Invalid("object_id", "required")
	}
	if s.Applicant == "" {
		return domain.ApprovalRequest{}, domain.Invalid("applicant", "required")
	}
	before, err := snapshot(s.Before)
	if err != nil {
		return domain.ApprovalRequest{}, domain.Invalid("before_data", "%v", err)
	}
	after, err := snapshot(s.After)
	if err != nil {
		return domain.ApprovalRequest{}, domain.Invalid("after_data", "%v", err)
	}

	req := domain.ApprovalRequest{
		ID:         id.New(id.Approval),
		ObjectType: s.ObjectType,
		ObjectID:   s.ObjectID,
		ActionType: s.ActionType,
		BeforeData: before,
		AfterData:  after,
		Status:     domain.ApprovalPending,
		Applicant:  s.Applicant,
		Approver:   s.Approver,
		AppliedAt:  g.now().UTC(),
	}
	g.mu.Lock()
	g.requests[req.ID] = req
	g.mu.Unlock()

	g.audit.Record(ctx, audit.Event{Table: table, RecordID: req.ID, Operation: domain.OpApprovalSubmit, Diff: req, Operator: s.Applicant, Source: "approval"})
	return req, nil
}

// Effect runs while a decision is being committed. If it fails the request
// stays pending.
type Effect func(ctx context.Context, req domain.ApprovalRequest) error

// Decide moves a pending request to approved or rejected.
func (g *Gate) Decide(ctx context.Context, requestID string, status domain.ApprovalStatus, comment, operator string) (domain.ApprovalRequest, error) {
	return g.DecideWith(ctx, requestID, status, comment, operator, nil)
}

// DecideWith is Decide with an effect applied under the request's lock before
// the status is committed, so the effect runs at most once per request.
func (g *Gate) DecideWith(ctx context.Context, requestID string, status domain.ApprovalStatus, comment, operator string, effect Effect) (_ domain.ApprovalRequest, err error) {
	defer func() { metrics.Observe(table, "decide", err) }()

	if !status.Terminal() {
		return domain.ApprovalRequest{}, domain.Invalid("status", "must be %s or %s", domain.ApprovalApproved, domain.ApprovalRejected)
	}
	unlock, err := g.locks.Lock(ctx, "approval:"+requestID)
	if err != nil {
		return domain.ApprovalRequest{}, err
	}
	defer unlock()

	req, ok := g.Get(requestID)
	if !ok {
		return domain.ApprovalRequest{}, fmt.Errorf("approval %s: %w", requestID, domain.ErrRecordNotFound)
	}
	if req.Status.Terminal() {
		return domain.ApprovalRequest{}, fmt.Errorf("approval %s is %s: %w", requestID, req.Status, domain.ErrAlreadyDecided)
	}
	if effect != nil {
		if err := effect(ctx, req); err != nil {
			g.logger.Warn("approval effect failed, request left pending",
				zap.String("approval_id", req.ID), zap.String("object_type", string(req.ObjectType)),
				zap.String("object_id", req.ObjectID), zap.Error(err))
			return domain.ApprovalRequest{}, err
		}
	}

	at := g.now().UTC()
	req.Status = status
	req.Comment = comment
	req.DecidedAt = &at
	if operator != "" {
		req.Approver = operator
	}
	g.mu.Lock()
	g.requests[req.ID] = req
	g.mu.Unlock()

	op := domain.OpApprovalPass
	if status == domain.ApprovalRejected {
		op = domain.OpApprovalReject
	}
	g.audit.Record(ctx, audit.Event{
		Table:     table,
		RecordID:  req.ID,
		Operation: op,
		Diff:      map[string]any{"object_type": req.ObjectType, "object_id": req.ObjectID, "status": status, "comment": comment},
		Operator:  req.Approver,
		Source:    "approval",
	})
	return req, nil
}

func (g *Gate) Get(requestID string) (domain.ApprovalRequest, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.requests[requestID]
	return r, ok
}

// List returns requests in the given status, or all when status is empty,
// newest first.
func (g *Gate) List(status domain.ApprovalStatus) []domain.ApprovalRequest {
	g.mu.RLock()
	var out []domain.ApprovalRequest
	for _, r := range g.requests {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AppliedAt.Equal(out[j].AppliedAt) {
			return out[i].AppliedAt.After(out[j].AppliedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (g *Gate) Hydrate(requests []domain.ApprovalRequest) {
	next := make(map[string]domain.ApprovalRequest, len(requests))
	for _, r := range requests {
		next[r.ID] = r
	}
	g.mu.Lock()
	g.requests = next
	g.mu.Unlock()
}

func (g *Gate) Dump() []domain.ApprovalRequest {
	return g.List("")
}

func snapshot(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		if len(raw) == 0 {
			return json.RawMessage("null"), nil
		}
		return raw, nil
	}
	return json.Marshal(v)
}
