package callback

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/leadline-ai/leadline/internal/config"
	"github.com/leadline-ai/leadline/internal/models"
)

// fakeStore implements SchedulerStore in memory, mirroring the store's
// conditional transitions.
type fakeStore struct {
	mu        sync.Mutex
	callbacks map[uuid.UUID]*models.Callback
	dueErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{callbacks: make(map[uuid.UUID]*models.Callback)}
}

func (f *fakeStore) add(scheduledAt int64) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.callbacks[id] = &models.Callback{
		ID:          id,
		ClientID:    "c1",
		Phone:       "+911234567890",
		ScheduledAt: scheduledAt,
		Status:      models.CallbackStatusPending,
	}
	return id
}

func (f *fakeStore) get(id uuid.UUID) models.Callback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.callbacks[id]
}

func (f *fakeStore) DuePending(ctx context.Context, now int64, limit int) ([]models.Callback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dueErr != nil {
		return nil, f.dueErr
	}
	var due []models.Callback
	for _, cb := range f.callbacks {
		if cb.Status == models.CallbackStatusPending && cb.ScheduledAt <= now {
			due = append(due, *cb)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt < due[j].ScheduledAt })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (f *fakeStore) MarkDone(ctx context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cb, ok := f.callbacks[id]
	if !ok || cb.Status != models.CallbackStatusPending {
		return false, nil
	}
	cb.Status = models.CallbackStatusDone
	cb.Attempts++
	return true, nil
}

func (f *fakeStore) MarkAttemptFailed(ctx context.Context, id uuid.UUID, maxAttempts int) (models.CallbackStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cb, ok := f.callbacks[id]
	if !ok || cb.Status != models.CallbackStatusPending {
		return "", ErrCallbackNotFound
	}
	cb.Attempts++
	if cb.Attempts >= maxAttempts {
		cb.Status = models.CallbackStatusFailed
	}
	return cb.Status, nil
}

// recordingDispatcher fails the first failures dispatches, then succeeds
type recordingDispatcher struct {
	mu         sync.Mutex
	dispatched []uuid.UUID
	failures   int
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, cb *models.Callback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dispatched = append(d.dispatched, cb.ID)
	if d.failures > 0 {
		d.failures--
		return errors.New("line busy")
	}
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dispatched)
}

func testSchedulerConfig() *config.CallbackConfig {
	return &config.CallbackConfig{
		PollInterval: 10 * time.Second,
		BatchSize:    5,
		MaxAttempts:  3,
	}
}

func TestTick_DispatchesOnlyDueCallbacks(t *testing.T) {
	store := newFakeStore()
	dispatcher := &recordingDispatcher{}
	s := NewScheduler(store, dispatcher, testSchedulerConfig())

	now := time.Now().Unix()
	dueID := store.add(now - 30)
	futureID := store.add(now + 3600)

	s.Tick(context.Background())

	if dispatcher.count() != 1 {
		t.Fatalf("Expected 1 dispatch, got %d", dispatcher.count())
	}
	if store.get(dueID).Status != models.CallbackStatusDone {
		t.Errorf("Due callback should be done, got %s", store.get(dueID).Status)
	}
	if store.get(futureID).Status != models.CallbackStatusPending {
		t.Errorf("Future callback should stay pending, got %s", store.get(futureID).Status)
	}
}

func TestTick_DoneCallbackNeverRedispatched(t *testing.T) {
	store := newFakeStore()
	dispatcher := &recordingDispatcher{}
	s := NewScheduler(store, dispatcher, testSchedulerConfig())

	id := store.add(time.Now().Unix() - 10)

	s.Tick(context.Background())
	s.Tick(context.Background())
	s.Tick(context.Background())

	if dispatcher.count() != 1 {
		t.Fatalf("Done callback was re-dispatched: %d dispatches", dispatcher.count())
	}
	cb := store.get(id)
	if cb.Status != models.CallbackStatusDone || cb.Attempts != 1 {
		t.Errorf("Expected done with 1 attempt, got %s/%d", cb.Status, cb.Attempts)
	}
}

func TestTick_RetriesUntilMaxAttemptsThenFailed(t *testing.T) {
	cfg := testSchedulerConfig()
	store := newFakeStore()
	dispatcher := &recordingDispatcher{failures: 100}
	s := NewScheduler(store, dispatcher, cfg)

	id := store.add(time.Now().Unix() - 10)

	// One extra tick past the ceiling to prove terminality
	for i := 0; i < cfg.MaxAttempts+1; i++ {
		s.Tick(context.Background())
	}

	cb := store.get(id)
	if cb.Status != models.CallbackStatusFailed {
		t.Fatalf("Expected failed after %d attempts, got %s", cfg.MaxAttempts, cb.Status)
	}
	if cb.Attempts != cfg.MaxAttempts {
		t.Errorf("Expected %d attempts, got %d", cfg.MaxAttempts, cb.Attempts)
	}
	if dispatcher.count() != cfg.MaxAttempts {
		t.Errorf("Expected %d dispatches, got %d", cfg.MaxAttempts, dispatcher.count())
	}
}

func TestTick_FailureThenSuccess(t *testing.T) {
	store := newFakeStore()
	dispatcher := &recordingDispatcher{failures: 1}
	s := NewScheduler(store, dispatcher, testSchedulerConfig())

	id := store.add(time.Now().Unix() - 10)

	s.Tick(context.Background())
	if store.get(id).Status != models.CallbackStatusPending {
		t.Fatalf("Callback should stay pending after a failed attempt")
	}

	s.Tick(context.Background())
	cb := store.get(id)
	if cb.Status != models.CallbackStatusDone {
		t.Fatalf("Expected done after retry, got %s", cb.Status)
	}
	if cb.Attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", cb.Attempts)
	}
}

func TestTick_BatchSizeBounded(t *testing.T) {
	cfg := testSchedulerConfig()
	cfg.BatchSize = 2
	store := newFakeStore()
	dispatcher := &recordingDispatcher{}
	s := NewScheduler(store, dispatcher, cfg)

	now := time.Now().Unix()
	for i := 0; i < 5; i++ {
		store.add(now - int64(i) - 1)
	}

	s.Tick(context.Background())
	if dispatcher.count() != 2 {
		t.Fatalf("Expected batch of 2, got %d dispatches", dispatcher.count())
	}

	// The remainder drains on subsequent ticks
	s.Tick(context.Background())
	s.Tick(context.Background())
	if dispatcher.count() != 5 {
		t.Fatalf("Expected all 5 dispatched after drain, got %d", dispatcher.count())
	}
}

func TestTick_StoreErrorIsRetriedNextTick(t *testing.T) {
	store := newFakeStore()
	dispatcher := &recordingDispatcher{}
	s := NewScheduler(store, dispatcher, testSchedulerConfig())

	store.add(time.Now().Unix() - 10)
	store.dueErr = errors.New("connection refused")

	s.Tick(context.Background())
	if dispatcher.count() != 0 {
		t.Fatal("Nothing should dispatch while the store is down")
	}

	store.mu.Lock()
	store.dueErr = nil
	store.mu.Unlock()

	s.Tick(context.Background())
	if dispatcher.count() != 1 {
		t.Fatalf("Expected dispatch after store recovery, got %d", dispatcher.count())
	}
}

func TestScheduler_StartStop(t *testing.T) {
	cfg := testSchedulerConfig()
	cfg.PollInterval = 10 * time.Millisecond
	store := newFakeStore()
	s := NewScheduler(store, NopDispatcher{}, cfg)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !s.IsRunning() {
		t.Error("Scheduler should report running")
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("Second Start should fail")
	}

	id := store.add(time.Now().Unix() - 10)

	deadline := time.After(2 * time.Second)
	for store.get(id).Status != models.CallbackStatusDone {
		select {
		case <-deadline:
			t.Fatal("Callback was not processed by the running scheduler")
		case <-time.After(10 * time.Millisecond):
		}
	}

	s.Stop()
	if s.IsRunning() {
		t.Error("Scheduler should report stopped")
	}
	// Idempotent
	s.Stop()
}

func TestScheduler_RestartAfterStop(t *testing.T) {
	cfg := testSchedulerConfig()
	cfg.PollInterval = 10 * time.Millisecond
	store := newFakeStore()
	s := NewScheduler(store, NopDispatcher{}, cfg)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("First Start failed: %v", err)
	}
	s.Stop()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	defer s.Stop()

	id := store.add(time.Now().Unix() - 10)

	deadline := time.After(2 * time.Second)
	for store.get(id).Status != models.CallbackStatusDone {
		select {
		case <-deadline:
			t.Fatal("Callback was not processed after restart")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
