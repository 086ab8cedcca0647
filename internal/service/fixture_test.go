package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/event-admission/internal/logging"
	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository/repotest"
	"github.com/stretchr/testify/require"
)

// brt is a fixed UTC-3 zone so tests do not depend on tzdata.
var brt = time.FixedZone("BRT", -3*60*60)

// t0 is 2026-03-10 12:00 in BRT.
var t0 = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

// civil builds a wall-clock batch time.
func civil(day, hour int) time.Time {
	return time.Date(2026, 3, day, hour, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

type fakeProfiles struct {
	mu     sync.Mutex
	people map[string]model.Participant
}

func (p *fakeProfiles) Participant(_ context.Context, id string) (*model.Participant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.people[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &v, nil
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *repotest.Store

	mu  sync.Mutex
	now time.Time

	profiles   *fakeProfiles
	batches    *BatchEngine
	admission  *AdmissionService
	settlement *SettlementService
	release    *ReleaseService
	queries    *Queries
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		store:    repotest.New(),
		now:      t0,
		profiles: &fakeProfiles{people: map[string]model.Participant{}},
	}
	f.store.Now = f.clock
	log := logging.Discard()
	f.batches = NewBatchEngine(f.store, brt, f.clock, log)
	f.admission = NewAdmissionService(f.store, f.batches, f.profiles, 5, 30*time.Minute, f.clock, log)
	f.settlement = NewSettlementService(f.store, f.clock, log)
	f.release = NewReleaseService(f.store, f.batches, 100, f.clock, log)
	f.queries = NewQueries(f.store)
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fixture) event(id string, capacity int) {
	f.store.PutEvent(model.Event{ID: id, Name: id, Capacity: capacity, Status: model.EventPublished})
}

func (f *fixture) category(id, eventID string, access model.AccessType, capacity *int) {
	f.store.PutCategory(model.Category{ID: id, EventID: eventID, Name: id, Capacity: capacity, AccessType: access})
}

// batch seeds a batch open from March 1st with an optional end and cap.
func (f *fixture) batch(id, eventID string, position int, status model.BatchStatus, maxUses *int) {
	f.store.PutBatch(model.Batch{
		ID: id, EventID: eventID, Name: id, Position: position,
		StartsAt: civil(1, 0), MaxUses: maxUses, Status: status, Visible: true,
	})
}

func (f *fixture) participant(id string) {
	f.profiles.mu.Lock()
	defer f.profiles.mu.Unlock()
	f.profiles.people[id] = model.Participant{
		ID: id, Name: "Runner " + id, CPF: "000.000.000-00",
		BirthDate: ptr(time.Date(1990, 5, 20, 0, 0, 0, 0, time.UTC)), Sex: "F",
	}
}

// paidEvent seeds event ev with one paid category "5k" priced 100 in an
// active batch "b1".
func (f *fixture) paidEvent(ev string, capacity int) {
	f.event(ev, capacity)
	f.category("5k", ev, model.AccessPaid, nil)
	f.batch("b1", ev, 1, model.BatchActive, nil)
	f.store.PutPrice("5k", "b1", 100)
}

func (f *fixture) register(eventID, categoryID, participantID string) (*RegisterResult, error) {
	f.participant(participantID)
	return f.admission.Register(f.ctx, RegisterRequest{
		EventID:       eventID,
		CategoryID:    categoryID,
		ParticipantID: participantID,
		PaymentMethod: model.PaymentPix,
	})
}

func (f *fixture) mustRegister(eventID, categoryID, participantID string) *RegisterResult {
	f.t.Helper()
	res, err := f.register(eventID, categoryID, participantID)
	require.NoError(f.t, err)
	return res
}

func requireKind(t *testing.T, err error, kind model.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, model.KindOf(err), "error: %v", err)
}

func (f *fixture) changesFor(entity model.EntityType, id string) []model.StatusChange {
	var out []model.StatusChange
	for _, c := range f.store.Changes() {
		if c.EntityType == entity && c.EntityID == id {
			out = append(out, c)
		}
	}
	return out
}
