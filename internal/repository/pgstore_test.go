package repository_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/event-admission/internal/database"
	"github.com/Shivanand-hulikatti/event-admission/internal/logging"
	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository"
	"github.com/Shivanand-hulikatti/event-admission/internal/service"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pgSeed is one isolated event graph; ids are random so tests can share a
// database.
type pgSeed struct {
	pool     *pgxpool.Pool
	store    *repository.PgStore
	event    string
	category string
	other    string
	batch    string
}

func newPgSeed(t *testing.T, capacity int) *pgSeed {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, database.Migrate(ctx, pool))

	id := uuid.NewString()[:8]
	s := &pgSeed{
		pool:     pool,
		store:    repository.NewPgStore(pool),
		event:    "ev-" + id,
		category: "5k-" + id,
		other:    "10k-" + id,
		batch:    "b1-" + id,
	}
	s.exec(t, `INSERT INTO events (id, name, capacity, status) VALUES ($1, $1, $2, 'published')`, s.event, capacity)
	s.exec(t, `INSERT INTO categories (id, event_id, name, access_type) VALUES ($1, $2, $1, 'paid'), ($3, $2, $3, 'paid')`,
		s.category, s.event, s.other)
	s.exec(t, `INSERT INTO batches (id, event_id, name, position, starts_at, status) VALUES ($1, $2, $1, 1, '2000-01-01', 'active')`,
		s.batch, s.event)
	s.exec(t, `INSERT INTO prices (category_id, batch_id, amount) VALUES ($1, $3, 100), ($2, $3, 120)`,
		s.category, s.other, s.batch)
	return s
}

func (s *pgSeed) exec(t *testing.T, sql string, args ...any) {
	t.Helper()
	_, err := s.pool.Exec(context.Background(), sql, args...)
	require.NoError(t, err)
}

func (s *pgSeed) participant(t *testing.T) string {
	t.Helper()
	id := "p-" + uuid.NewString()[:8]
	s.exec(t, `INSERT INTO participants (id, name, birth_date) VALUES ($1, $1, '1990-05-20')`, id)
	return id
}

func (s *pgSeed) admission() *service.AdmissionService {
	log := logging.Discard()
	batches := service.NewBatchEngine(s.store, time.UTC, time.Now, log)
	return service.NewAdmissionService(s.store, batches, repository.NewProfileReader(s.pool), 5, 30*time.Minute, time.Now, log)
}

func TestPgStoreConcurrentLastSeat(t *testing.T) {
	s := newPgSeed(t, 1)
	admission := s.admission()
	people := []string{s.participant(t), s.participant(t)}

	var wg sync.WaitGroup
	errs := make([]error, len(people))
	for i, p := range people {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = admission.Register(context.Background(), service.RegisterRequest{
				EventID: s.event, CategoryID: s.category, ParticipantID: p,
			})
		}()
	}
	wg.Wait()

	admitted := 0
	for _, err := range errs {
		if err == nil {
			admitted++
			continue
		}
		assert.Equal(t, model.ClassCapacity, model.ClassOf(err), "error: %v", err)
	}
	assert.Equal(t, 1, admitted)

	var occupied int
	var status string
	require.NoError(t, s.pool.QueryRow(context.Background(),
		`SELECT occupied, status FROM events WHERE id = $1`, s.event).Scan(&occupied, &status))
	assert.Equal(t, 1, occupied)
	assert.Equal(t, string(model.EventSoldOut), status)
}

func TestPgStoreDuplicateScope(t *testing.T) {
	s := newPgSeed(t, 10)
	ctx := context.Background()
	p := s.participant(t)
	_, err := s.admission().Register(ctx, service.RegisterRequest{EventID: s.event, CategoryID: s.category, ParticipantID: p})
	require.NoError(t, err)

	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		anyCategory, err := tx.HasActiveRegistration(ctx, s.event, p, "")
		require.NoError(t, err)
		assert.True(t, anyCategory)

		same, err := tx.HasActiveRegistration(ctx, s.event, p, s.category)
		require.NoError(t, err)
		assert.True(t, same)

		other, err := tx.HasActiveRegistration(ctx, s.event, p, s.other)
		require.NoError(t, err)
		assert.False(t, other)
		return nil
	})
	require.NoError(t, err)
}

func TestPgStoreSizeStockScopeAndClamp(t *testing.T) {
	s := newPgSeed(t, 10)
	ctx := context.Background()
	s.exec(t, `INSERT INTO size_stocks (id, event_id, category_id, size, total, available)
		VALUES ($1, $3, NULL, 'M', 5, 4), ($2, $3, $4, 'M', 2, 1)`,
		"ss-ev-"+s.event, "ss-cat-"+s.event, s.event, s.category)

	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		shared, err := tx.LockSizeStock(ctx, s.event, nil, "M")
		require.NoError(t, err)
		assert.Nil(t, shared.CategoryID)
		assert.Equal(t, 4, shared.Available)

		scoped, err := tx.LockSizeStock(ctx, s.event, &s.category, "M")
		require.NoError(t, err)
		require.NotNil(t, scoped.CategoryID)
		assert.Equal(t, 1, scoped.Available)

		_, err = tx.LockSizeStock(ctx, s.event, &s.other, "M")
		assert.ErrorIs(t, err, repository.ErrNotFound)

		require.NoError(t, tx.AddSizeAvailable(ctx, scoped.ID, 10))
		require.NoError(t, tx.AddSizeAvailable(ctx, shared.ID, -10))
		return nil
	})
	require.NoError(t, err)

	var shared, scoped int
	require.NoError(t, s.pool.QueryRow(ctx, `SELECT available FROM size_stocks WHERE id = $1`, "ss-ev-"+s.event).Scan(&shared))
	require.NoError(t, s.pool.QueryRow(ctx, `SELECT available FROM size_stocks WHERE id = $1`, "ss-cat-"+s.event).Scan(&scoped))
	assert.Equal(t, 0, shared, "clamped at zero")
	assert.Equal(t, 2, scoped, "clamped at total")
}

func TestPgStoreClaimOrderSkipsLockedRow(t *testing.T) {
	s := newPgSeed(t, 10)
	ctx := context.Background()
	orderID := uuid.NewString()
	deadline := time.Now().Add(-time.Minute)
	require.NoError(t, s.store.InTx(ctx, func(tx repository.Tx) error {
		return tx.InsertOrder(ctx, &model.Order{
			ID: orderID, EventID: s.event, BuyerID: "buyer", Total: 100,
			Status: model.OrderPending, ExpiresAt: &deadline,
		})
	}))

	holder, err := s.pool.Begin(ctx)
	require.NoError(t, err)
	_, err = holder.Exec(ctx, `SELECT id FROM orders WHERE id = $1 FOR UPDATE`, orderID)
	require.NoError(t, err)

	claim := func() bool {
		var claimed bool
		require.NoError(t, s.store.InTx(ctx, func(tx repository.Tx) error {
			_, ok, err := tx.ClaimOrder(ctx, orderID)
			claimed = ok
			return err
		}))
		return claimed
	}

	assert.False(t, claim(), "row held by another transaction")
	require.NoError(t, holder.Rollback(ctx))
	assert.True(t, claim())
}
