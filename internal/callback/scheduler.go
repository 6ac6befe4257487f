package callback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/leadline-ai/leadline/internal/config"
	"github.com/leadline-ai/leadline/internal/logging"
	"github.com/leadline-ai/leadline/internal/models"
	"github.com/leadline-ai/leadline/internal/monitoring"
)

// Dispatcher performs the actual outbound call attempt
type Dispatcher interface {
	Dispatch(ctx context.Context, cb *models.Callback) error
}

// NopDispatcher acknowledges every callback without placing a call. Used
// until a telephony provider's outbound API is wired in.
type NopDispatcher struct{}

// Dispatch implements Dispatcher
func (NopDispatcher) Dispatch(ctx context.Context, cb *models.Callback) error {
	return nil
}

// SchedulerStore is the store surface the scheduler needs
type SchedulerStore interface {
	DuePending(ctx context.Context, now int64, limit int) ([]models.Callback, error)
	MarkDone(ctx context.Context, id uuid.UUID) (bool, error)
	MarkAttemptFailed(ctx context.Context, id uuid.UUID, maxAttempts int) (models.CallbackStatus, error)
}

// Scheduler polls for due callbacks and dispatches them. A single loop,
// serialized with itself; it shares nothing with the request path except
// the store. Store errors are logged and retried on the next tick.
type Scheduler struct {
	store       SchedulerStore
	dispatcher  Dispatcher
	interval    time.Duration
	batchSize   int
	maxAttempts int
	logger      zerolog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewScheduler creates a callback scheduler
func NewScheduler(store SchedulerStore, dispatcher Dispatcher, cfg *config.CallbackConfig) *Scheduler {
	return &Scheduler{
		store:       store,
		dispatcher:  dispatcher,
		interval:    cfg.PollInterval,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		logger:      logging.NewLogger("callback-scheduler"),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the poll loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx, stopCh)

	s.logger.Info().Dur("interval", s.interval).Msg("Callback scheduler started")
	return nil
}

// Stop halts the loop and waits for the current tick to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh := s.stopCh
	s.mu.Unlock()

	close(stopCh)
	s.wg.Wait()
	s.logger.Info().Msg("Callback scheduler stopped")
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick processes one batch of due callbacks. Exported so operators (and
// tests) can drive a poll without waiting for the ticker.
func (s *Scheduler) Tick(ctx context.Context) {
	now := time.Now().Unix()

	due, err := s.store.DuePending(ctx, now, s.batchSize)
	if err != nil {
		// Never fatal: the next tick retries
		s.logger.Error().Err(err).Msg("Failed to fetch due callbacks")
		return
	}
	monitoring.SetCallbacksPending(len(due))

	for _, cb := range due {
		s.process(ctx, cb)
	}
}

// process dispatches one callback and records its transition. The move away
// from pending happens in the same atomic conditional update that
// acknowledges the dispatch result, so no attempt is ever double-counted
// and a terminal callback is never dispatched again.
func (s *Scheduler) process(ctx context.Context, cb models.Callback) {
	if err := s.dispatcher.Dispatch(ctx, &cb); err != nil {
		status, markErr := s.store.MarkAttemptFailed(ctx, cb.ID, s.maxAttempts)
		if markErr != nil {
			s.logger.Error().Err(markErr).Str("callback_id", cb.ID.String()).Msg("Failed to record callback attempt")
			return
		}
		outcome := "retry"
		if status == models.CallbackStatusFailed {
			outcome = "failed"
		}
		monitoring.RecordCallbackDispatch(outcome)
		s.logger.Warn().
			Err(err).
			Str("callback_id", cb.ID.String()).
			Str("client_id", cb.ClientID).
			Int("attempts", cb.Attempts+1).
			Str("status", string(status)).
			Msg("Callback dispatch failed")
		return
	}

	claimed, err := s.store.MarkDone(ctx, cb.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("callback_id", cb.ID.String()).Msg("Failed to mark callback done")
		return
	}
	if !claimed {
		// Another worker already moved it to a terminal state
		s.logger.Warn().Str("callback_id", cb.ID.String()).Msg("Callback already claimed")
		return
	}

	monitoring.RecordCallbackDispatch("done")
	s.logger.Info().
		Str("callback_id", cb.ID.String()).
		Str("client_id", cb.ClientID).
		Str("phone", cb.Phone).
		Msg("Callback dispatched")
}
