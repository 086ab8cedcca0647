package service

import (
	"context"
	"time"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository"
	"github.com/sirupsen/logrus"
)

// Sweeper runs expiration and batch recalculation on a fixed interval.
type Sweeper struct {
	store    repository.Store
	release  *ReleaseService
	batches  *BatchEngine
	interval time.Duration
	log      *logrus.Entry
}

// NewSweeper constructs a Sweeper.
func NewSweeper(store repository.Store, release *ReleaseService, batches *BatchEngine, interval time.Duration, log *logrus.Entry) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{store: store, release: release, batches: batches, interval: interval, log: log}
}

// Run ticks until ctx is done. A failed run is logged and the next tick
// tries again.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	s.log.WithField("interval", s.interval.String()).Info("sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return nil
		case <-t.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one expiration sweep followed by a recalculation of every event
// that is on sale or sold out.
func (s *Sweeper) Tick(ctx context.Context) {
	if _, err := s.release.ExpireOrders(ctx); err != nil {
		s.log.WithError(err).Error("expire orders run failed")
	}

	var ids []string
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		ids, err = tx.ListEventIDs(ctx, model.EventPublished, model.EventSoldOut)
		return err
	})
	if err != nil {
		s.log.WithError(err).Error("list events for recalculation failed")
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.batches.Recalculate(ctx, id); err != nil {
			s.log.WithError(err).WithField("event_id", id).Warn("recalculate failed")
		}
	}
}
