package service

import (
	"context"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/event-admission/internal/logging"
	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeperTickExpiresAndRecalculates(t *testing.T) {
	f := newFixture(t)
	f.paidEvent("ev", 10)
	res := f.mustRegister("ev", "5k", "p1")

	f.event("later", 10)
	f.store.PutBatch(model.Batch{ID: "l1", EventID: "later", Position: 1, StartsAt: civil(1, 0), EndsAt: ptr(civil(10, 12)), Status: model.BatchActive})
	f.store.PutBatch(model.Batch{ID: "l2", EventID: "later", Position: 2, StartsAt: civil(10, 12), Status: model.BatchFuture})
	f.store.PutEvent(model.Event{ID: "draft", Capacity: 10, Status: model.EventDraft})
	f.store.PutBatch(model.Batch{ID: "d1", EventID: "draft", Position: 1, StartsAt: civil(1, 0), EndsAt: ptr(civil(2, 0)), Status: model.BatchActive})

	f.advance(31 * time.Minute)
	NewSweeper(f.store, f.release, f.batches, time.Minute, logging.Discard()).Tick(f.ctx)

	assert.Equal(t, model.OrderExpired, f.store.Order(res.Order.ID).Status)
	assert.Equal(t, 0, f.store.Event("ev").Occupied)
	assert.Equal(t, []string{"l2"}, f.store.ActiveBatches("later"))
	assert.Equal(t, []string{"d1"}, f.store.ActiveBatches("draft"), "draft events are not swept")
}

func TestSweeperRunStopsWithContext(t *testing.T) {
	f := newFixture(t)
	s := NewSweeper(f.store, f.release, f.batches, 10*time.Millisecond, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
