package approval

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/punchamoorthee/otaledger/internal/audit"
	"github.com/punchamoorthee/otaledger/internal/domain"
)

var ctx = context.Background()

func submission() Submission {
	return Submission{
		ObjectType: domain.ObjectPrice,
		ObjectID:   "P2",
		ActionType: "price_change",
		Before:     nil,
		After:      map[string]string{"sale_price": "199"},
		Applicant:  "alice",
		Approver:   "bob",
	}
}

func TestSubmit(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	trail := audit.New()
	g := New(WithAudit(trail), WithClock(func() time.Time { return now }))

	req, err := g.Submit(ctx, submission())
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, domain.ApprovalPending, req.Status)
	assert.Equal(t, now, req.AppliedAt)
	assert.Nil(t, req.DecidedAt)
	assert.JSONEq(t, `null`, string(req.BeforeData))
	assert.JSONEq(t, `{"sale_price":"199"}`, string(req.AfterData))

	entries := trail.Entries(audit.Filter{RecordID: req.ID})
	require.Len(t, entries, 1)
	assert.Equal(t, domain.OpApprovalSubmit, entries[0].Operation)
}

func TestSubmitKeepsRawSnapshots(t *testing.T) {
	s := submission()
	s.Before = json.RawMessage(`{"status":"draft"}`)
	req, err := New().Submit(ctx, s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"draft"}`, string(req.BeforeData))
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Submission)
		want   error
	}{
		{"unknown type", func(s *Submission) { s.ObjectType = "channel" }, domain.ErrUnknownObjectType},
		{"missing object", func(s *Submission) { s.ObjectID = "" }, domain.ErrValidation},
		{"missing applicant", func(s *Submission) { s.Applicant = "" }, domain.ErrValidation},
		{"unmarshalable snapshot", func(s *Submission) { s.After = make(chan int) }, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := submission()
			tt.mutate(&s)
			g := New()
			_, err := g.Submit(ctx, s)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, g.List(""))
		})
	}
}

func TestDecideExactlyOnce(t *testing.T) {
	for _, status := range []domain.ApprovalStatus{domain.ApprovalApproved, domain.ApprovalRejected} {
		t.Run(string(status), func(t *testing.T) {
			g := New()
			req, err := g.Submit(ctx, submission())
			require.NoError(t, err)

			decided, err := g.Decide(ctx, req.ID, status, "looks fine", "bob")
			require.NoError(t, err)
			assert.Equal(t, status, decided.Status)
			assert.Equal(t, "looks fine", decided.Comment)
			require.NotNil(t, decided.DecidedAt)

			for _, next := range []domain.ApprovalStatus{domain.ApprovalApproved, domain.ApprovalRejected} {
				_, err = g.Decide(ctx, req.ID, next, "", "carol")
				assert.ErrorIs(t, err, domain.ErrAlreadyDecided)
			}
			got, _ := g.Get(req.ID)
			assert.Equal(t, status, got.Status)
			assert.Equal(t, "bob", got.Approver)
		})
	}
}

func TestDecideRejectsNonTerminalStatus(t *testing.T) {
	g := New()
	req, err := g.Submit(ctx, submission())
	require.NoError(t, err)
	_, err = g.Decide(ctx, req.ID, domain.ApprovalPending, "", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = g.Decide(ctx, "missing", domain.ApprovalApproved, "", "")
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestDecideWithFailingEffectStaysPending(t *testing.T) {
	g := New()
	req, err := g.Submit(ctx, submission())
	require.NoError(t, err)

	boom := errors.New("activation failed")
	_, err = g.DecideWith(ctx, req.ID, domain.ApprovalApproved, "", "bob", func(context.Context, domain.ApprovalRequest) error { return boom })
	assert.ErrorIs(t, err, boom)

	got, _ := g.Get(req.ID)
	assert.Equal(t, domain.ApprovalPending, got.Status)
	assert.Nil(t, got.DecidedAt)
}

func TestConcurrentDecideRunsEffectOnce(t *testing.T) {
	g := New()
	req, err := g.Submit(ctx, submission())
	require.NoError(t, err)

	var effects, wins int32
	var eg errgroup.Group
	for i := 0; i < 16; i++ {
		eg.Go(func() error {
			_, err := g.DecideWith(ctx, req.ID, domain.ApprovalApproved, "", "bob", func(context.Context, domain.ApprovalRequest) error {
				atomic.AddInt32(&effects, 1)
				return nil
			})
			if err == nil {
				atomic.AddInt32(&wins, 1)
			} else if !errors.Is(err, domain.ErrAlreadyDecided) {
				return err
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	assert.Equal(t, int32(1), effects)
	assert.Equal(t, int32(1), wins)
}

func TestListAndHydrate(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	g := New()
	g.Hydrate([]domain.ApprovalRequest{
		{ID: "a1", Status: domain.ApprovalPending, AppliedAt: base},
		{ID: "a2", Status: domain.ApprovalApproved, AppliedAt: base.Add(time.Hour)},
		{ID: "a3", Status: domain.ApprovalPending, AppliedAt: base.Add(2 * time.Hour)},
	})

	pending := g.List(domain.ApprovalPending)
	require.Len(t, pending, 2)
	assert.Equal(t, "a3", pending[0].ID)
	assert.Len(t, g.Dump(), 3)
}
