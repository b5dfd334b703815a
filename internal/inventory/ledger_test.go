package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/punchamoorthee/otaledger/internal/audit"
	"github.com/punchamoorthee/otaledger/internal/domain"
)

var ctx = context.Background()

func fixedClock(day string) func() time.Time {
	t, _ := time.Parse("2006-01-02", day)
	return func() time.Time { return t.Add(10 * time.Hour) }
}

func newLedger(t *testing.T) (*Ledger, *audit.Trail) {
	t.Helper()
	trail := audit.New()
	return New(WithAudit(trail), WithClock(fixedClock("2024-06-01"))), trail
}

func assertInvariant(t *testing.T, r domain.InventoryRecord) {
	t.Helper()
	assert.GreaterOrEqual(t, r.FrozenQty, 0)
	assert.GreaterOrEqual(t, r.SoldQty, 0)
	assert.LessOrEqual(t, r.FrozenQty+r.SoldQty, r.TotalQty)
}

func TestReservationLifecycle(t *testing.T) {
	g, _ := newLedger(t)
	require.NoError(t, g.InitInventory(ctx, "S1", []string{"2024-06-01"}, 10, "ops", ""))

	require.NoError(t, g.Freeze(ctx, "S1", "2024-06-01", 4, "O1", "ops"))
	rec, _ := g.Get("S1", "2024-06-01")
	assert.Equal(t, 4, rec.FrozenQty)

	require.NoError(t, g.Consume(ctx, "S1", "2024-06-01", 4, "O1", "ops"))
	rec, _ = g.Get("S1", "2024-06-01")
	assert.Equal(t, 0, rec.FrozenQty)
	assert.Equal(t, 4, rec.SoldQty)

	err := g.Release(ctx, "S1", "2024-06-01", 1, "O1", "ops")
	assert.ErrorIs(t, err, domain.ErrInsufficientFrozen)
	assertInvariant(t, rec)

	changes := make([]domain.InventoryChange, 0)
	for _, e := range g.Logs("S1") {
		changes = append(changes, e.ChangeType)
	}
	assert.Equal(t, []domain.InventoryChange{domain.ChangeInitialize, domain.ChangeFreeze, domain.ChangeVerify}, changes)
}

func TestFreezeThenReleaseRestoresFrozen(t *testing.T) {
	g, _ := newLedger(t)
	require.NoError(t, g.InitInventory(ctx, "S1", []string{"2024-06-02"}, 10, "ops", ""))
	require.NoError(t, g.Freeze(ctx, "S1", "2024-06-02", 2, "O0", "ops"))
	before, _ := g.Get("S1", "2024-06-02")

	require.NoError(t, g.Freeze(ctx, "S1", "2024-06-02", 3, "O1", "ops"))
	require.NoError(t, g.Release(ctx, "S1", "2024-06-02", 3, "O1", "ops"))

	after, _ := g.Get("S1", "2024-06-02")
	assert.Equal(t, before, after)

	last := g.Logs("S1")[len(g.Logs("S1"))-1]
	assert.Equal(t, domain.ChangeRelease, last.ChangeType)
	assert.Equal(t, "O1", last.RelatedOrderID)
	assert.Equal(t, domain.Quantities{Total: 10, Frozen: 5, Sold: 0}, last.BeforeQty)
	assert.Equal(t, domain.Quantities{Total: 10, Frozen: 2, Sold: 0}, last.AfterQty)
}

func TestRejectedMutationsLeaveNoTrace(t *testing.T) {
	tests := []struct {
		name string
		run  func(g *Ledger) error
		want error
	}{
		{"freeze uninitialized", func(g *Ledger) error { return g.Freeze(ctx, "S1", "2024-07-01", 1, "O", "ops") }, domain.ErrNotInitialized},
		{"freeze beyond available", func(g *Ledger) error { return g.Freeze(ctx, "S1", "2024-06-01", 7, "O", "ops") }, domain.ErrInsufficientStock},
		{"consume more than frozen", func(g *Ledger) error { return g.Consume(ctx, "S1", "2024-06-01", 3, "O", "ops") }, domain.ErrInsufficientFrozen},
		{"consume missing record", func(g *Ledger) error { return g.Consume(ctx, "S2", "2024-06-01", 1, "O", "ops") }, domain.ErrRecordNotFound},
		{"release missing record", func(g *Ledger) error { return g.Release(ctx, "S2", "2024-06-01", 1, "O", "ops") }, domain.ErrRecordNotFound},
		{"zero quantity", func(g *Ledger) error { return g.Freeze(ctx, "S1", "2024-06-01", 0, "O", "ops") }, domain.ErrValidation},
		{"bad date", func(g *Ledger) error { return g.Freeze(ctx, "S1", "06/01/2024", 1, "O", "ops") }, domain.ErrValidation},
		{"adjust below committed", func(g *Ledger) error { return g.Adjust(ctx, "S1", "2024-06-01", 3, "ops", "") }, domain.ErrTotalBelowCommitted},
		{"adjust uninitialized", func(g *Ledger) error { return g.Adjust(ctx, "S1", "2024-07-01", 3, "ops", "") }, domain.ErrNotInitialized},
		{"init below committed", func(g *Ledger) error {
			return g.InitInventory(ctx, "S1", []string{"2024-06-03", "2024-06-01"}, 3, "ops", "")
		}, domain.ErrTotalBelowCommitted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, trail := newLedger(t)
			require.NoError(t, g.InitInventory(ctx, "S1", []string{"2024-06-01"}, 10, "ops", ""))
			require.NoError(t, g.Freeze(ctx, "S1", "2024-06-01", 2, "O0", "ops"))
			require.NoError(t, g.Consume(ctx, "S1", "2024-06-01", 2, "O0", "ops"))
			require.NoError(t, g.Freeze(ctx, "S1", "2024-06-01", 2, "O1", "ops"))
			before, _ := g.Get("S1", "2024-06-01")
			logs, audits := len(g.Logs("")), trail.Len()

			err := tt.run(g)
			assert.ErrorIs(t, err, tt.want)

			after, _ := g.Get("S1", "2024-06-01")
			assert.Equal(t, before, after)
			assert.Len(t, g.Logs(""), logs)
			assert.Equal(t, audits, trail.Len())
			_, created := g.Get("S1", "2024-06-03")
			assert.False(t, created)
		})
	}
}

func TestInitInventoryUpsert(t *testing.T) {
	g, trail := newLedger(t)
	days := []string{"2024-06-01", "2024-06-02"}
	require.NoError(t, g.InitInventory(ctx, "S1", days, 10, "ops", "season open"))
	require.NoError(t, g.Freeze(ctx, "S1", "2024-06-01", 3, "O1", "ops"))

	require.NoError(t, g.InitInventory(ctx, "S1", days, 20, "ops", "more rooms"))

	rec, _ := g.Get("S1", "2024-06-01")
	assert.Equal(t, 20, rec.TotalQty)
	assert.Equal(t, 3, rec.FrozenQty, "frozen preserved")
	assert.Equal(t, domain.InventoryStatusNormal, rec.Status)

	logs := g.Logs("S1")
	require.Len(t, logs, 5)
	assert.Equal(t, domain.ChangeInitialize, logs[0].ChangeType)
	assert.Equal(t, "season open", logs[0].Remark)
	assert.Equal(t, domain.ChangeAdjust, logs[3].ChangeType)
	assert.Equal(t, domain.Quantities{Total: 10, Frozen: 3}, logs[3].BeforeQty)
	assert.Equal(t, 5, trail.Len())

	ins := trail.Entries(audit.Filter{Table: "inventory", RecordID: rec.ID})
	require.Len(t, ins, 3)
	assert.Equal(t, domain.OpInsert, ins[0].Operation)
}

func TestInitInventoryDuplicateDatesWriteOnce(t *testing.T) {
	g, _ := newLedger(t)
	require.NoError(t, g.InitInventory(ctx, "S1", []string{"2024-06-01", "2024-06-01"}, 5, "ops", ""))
	assert.Len(t, g.Logs("S1"), 1)
}

func TestAdjust(t *testing.T) {
	g, _ := newLedger(t)
	require.NoError(t, g.InitInventory(ctx, "S1", []string{"2024-06-01"}, 10, "ops", ""))
	require.NoError(t, g.Freeze(ctx, "S1", "2024-06-01", 4, "O1", "ops"))

	require.NoError(t, g.Adjust(ctx, "S1", "2024-06-01", 4, "ops", "stop sale"))
	rec, _ := g.Get("S1", "2024-06-01")
	assert.Equal(t, 4, rec.TotalQty)
	assertInvariant(t, rec)

	last := g.Logs("S1")[2]
	assert.Equal(t, domain.ChangeManualAdjust, last.ChangeType)
	assert.Equal(t, "stop sale", last.Remark)
}

func TestUnconsume(t *testing.T) {
	g, _ := newLedger(t)
	require.NoError(t, g.InitInventory(ctx, "S1", []string{"2024-06-01"}, 10, "ops", ""))
	require.NoError(t, g.Freeze(ctx, "S1", "2024-06-01", 2, "O1", "ops"))
	require.NoError(t, g.Consume(ctx, "S1", "2024-06-01", 2, "O1", "ops"))

	require.NoError(t, g.Unconsume(ctx, "S1", "2024-06-01", 2, "O1", "saga", "verify failed"))
	rec, _ := g.Get("S1", "2024-06-01")
	assert.Equal(t, 2, rec.FrozenQty)
	assert.Equal(t, 0, rec.SoldQty)

	assert.ErrorIs(t, g.Unconsume(ctx, "S1", "2024-06-01", 1, "O1", "saga", ""), domain.ErrInsufficientStock)
}

func TestHasFutureStock(t *testing.T) {
	g, _ := newLedger(t) // today is 2024-06-01
	require.NoError(t, g.InitInventory(ctx, "PAST", []string{"2024-05-30"}, 5, "ops", ""))
	require.NoError(t, g.InitInventory(ctx, "YDAY", []string{"2024-05-31"}, 5, "ops", ""))
	require.NoError(t, g.InitInventory(ctx, "EDGE", []string{"2024-06-08"}, 5, "ops", ""))
	require.NoError(t, g.InitInventory(ctx, "LAST", []string{"2024-06-07"}, 5, "ops", ""))
	require.NoError(t, g.InitInventory(ctx, "FULL", []string{"2024-06-03"}, 1, "ops", ""))
	require.NoError(t, g.Freeze(ctx, "FULL", "2024-06-03", 1, "O1", "ops"))

	assert.False(t, g.HasFutureStock("PAST", 7))
	assert.True(t, g.HasFutureStock("YDAY", 7))
	assert.False(t, g.HasFutureStock("EDGE", 7))
	assert.True(t, g.HasFutureStock("EDGE", 8))
	assert.True(t, g.HasFutureStock("LAST", 0), "default horizon")
	assert.False(t, g.HasFutureStock("FULL", 7))
	assert.False(t, g.HasFutureStock("UNKNOWN", 7))
}

func TestConcurrentFreezeNeverOversells(t *testing.T) {
	defer goleak.VerifyNone(t)

	g, _ := newLedger(t)
	require.NoError(t, g.InitInventory(ctx, "S1", []string{"2024-06-01"}, 50, "ops", ""))

	var g2 errgroup.Group
	results := make(chan error, 200)
	for i := 0; i < 200; i++ {
		g2.Go(func() error {
			results <- g.Freeze(ctx, "S1", "2024-06-01", 1, "O", "bench")
			return nil
		})
	}
	require.NoError(t, g2.Wait())
	close(results)

	var ok, rejected int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInsufficientStock):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 50, ok)
	assert.Equal(t, 150, rejected)

	rec, _ := g.Get("S1", "2024-06-01")
	assert.Equal(t, 50, rec.FrozenQty)
	assertInvariant(t, rec)
	assert.Len(t, g.Logs("S1"), 51)
}

func TestConcurrentMixedOperationsKeepInvariant(t *testing.T) {
	g, _ := newLedger(t)
	days := []string{"2024-06-01", "2024-06-02", "2024-06-03"}
	require.NoError(t, g.InitInventory(ctx, "S1", days, 30, "ops", ""))

	var eg errgroup.Group
	for i := 0; i < 90; i++ {
		day := days[i%len(days)]
		eg.Go(func() error {
			if err := g.Freeze(ctx, "S1", day, 2, "O", "ops"); err != nil {
				return nil
			}
			if i%3 == 0 {
				return g.Release(ctx, "S1", day, 2, "O", "ops")
			}
			return g.Consume(ctx, "S1", day, 1, "O", "ops")
		})
	}
	require.NoError(t, eg.Wait())

	records, logs := g.Dump()
	require.Len(t, records, 3)
	for _, r := range records {
		assertInvariant(t, r)
	}
	for _, e := range logs {
		assert.LessOrEqual(t, e.AfterQty.Frozen+e.AfterQty.Sold, e.AfterQty.Total)
	}
}

func TestHydrateAndDump(t *testing.T) {
	g := New()
	g.Hydrate([]domain.InventoryRecord{
		{ID: "i2", SkuID: "S1", InventoryDate: "2024-06-02", TotalQty: 5},
		{ID: "i1", SkuID: "S1", InventoryDate: "2024-06-01", TotalQty: 5, FrozenQty: 1},
	}, []domain.InventoryLogEntry{{ID: "l1", SkuID: "S1"}})

	require.NoError(t, g.Consume(ctx, "S1", "2024-06-01", 1, "O1", "ops"))

	records, logs := g.Dump()
	require.Len(t, records, 2)
	assert.Equal(t, "2024-06-01", records[0].InventoryDate)
	assert.Equal(t, 1, records[0].SoldQty)
	assert.Len(t, logs, 2)
	assert.Len(t, g.ListBySKU("S1"), 2)
}
