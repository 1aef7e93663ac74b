// Package scheduler drives the inactivity sweeps: detect stale subscribers,
// fan their notifications out to dispatch workers, and reconcile the
// outcomes back into the store.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tinywideclouds/go-reengagement-service/internal/metrics"
	"github.com/tinywideclouds/go-reengagement-service/pkg/dispatch"
	"github.com/tinywideclouds/go-reengagement-service/pkg/subscriber"
)

// Config controls sweep timing and concurrency. The reference deployment
// used demo-grade timings (minutes, not days); everything is configurable.
type Config struct {
	// ScanInterval is the fixed tick driving sweeps.
	ScanInterval time.Duration
	// InactivityThreshold is how long a subscriber may stay quiet before
	// being re-engaged.
	InactivityThreshold time.Duration
	// FanOut bounds concurrent sends within one sweep.
	FanOut int
	// MaxConcurrentSweeps bounds overlapping sweeps. 1 means an
	// overlapping tick is skipped entirely.
	MaxConcurrentSweeps int
	// Title and Body are the notification copy.
	Title string
	Body  string
}

func (c Config) withDefaults() Config {
	if c.ScanInterval <= 0 {
		c.ScanInterval = 2 * time.Minute
	}
	if c.InactivityThreshold <= 0 {
		c.InactivityThreshold = time.Minute
	}
	if c.FanOut <= 0 {
		c.FanOut = 4
	}
	if c.MaxConcurrentSweeps <= 0 {
		c.MaxConcurrentSweeps = 1
	}
	if c.Title == "" {
		c.Title = "Hey there!"
	}
	if c.Body == "" {
		c.Body = "You haven't visited the app for a while. Come back!"
	}
	return c
}

// Summary reports one completed sweep.
type Summary struct {
	Scanned    int `json:"scanned"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Scheduler periodically scans the store for stale subscribers and drives
// delivery plus reconciliation. The store is the only shared mutable
// resource; each reconciliation is an independent single-row write, so a
// sweep abandoned at shutdown leaves no partial state.
type Scheduler struct {
	store      dispatch.SubscriberStore
	dispatcher dispatch.Dispatcher
	cfg        Config
	clock      clockwork.Clock
	logger     *slog.Logger

	inFlight chan struct{} // sweep admission tokens
	stopCh   chan struct{}
	sweeps   sync.WaitGroup
}

// New creates a stopped scheduler. Call Start to begin sweeping.
func New(
	store dispatch.SubscriberStore,
	dispatcher dispatch.Dispatcher,
	cfg Config,
	clock clockwork.Clock,
	logger *slog.Logger,
) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		cfg:        cfg,
		clock:      clock,
		logger:     logger.With("component", "InactivityScheduler"),
		inFlight:   make(chan struct{}, cfg.MaxConcurrentSweeps),
		stopCh:     make(chan struct{}),
	}
}

// Start runs the tick loop until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	s.logger.Info("Inactivity scheduler started",
		"scan_interval", s.cfg.ScanInterval,
		"inactivity_threshold", s.cfg.InactivityThreshold,
		"fan_out", s.cfg.FanOut,
		"max_concurrent_sweeps", s.cfg.MaxConcurrentSweeps,
	)

	for {
		select {
		case <-ticker.Chan():
			s.tick(ctx)
		case <-s.stopCh:
			s.logger.Info("Inactivity scheduler stopped")
			return
		case <-ctx.Done():
			s.logger.Info("Inactivity scheduler context cancelled")
			return
		}
	}
}

// Stop ends the tick loop and waits for in-flight sweeps to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.sweeps.Wait()
}

// tick admits a sweep if the concurrency budget allows, otherwise skips.
func (s *Scheduler) tick(ctx context.Context) {
	select {
	case s.inFlight <- struct{}{}:
	default:
		s.logger.Warn("Previous sweep still running, skipping tick")
		metrics.SweepsSkipped.Inc()
		return
	}

	s.sweeps.Add(1)
	go func() {
		defer s.sweeps.Done()
		defer func() { <-s.inFlight }()
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("Inactivity sweep failed", "err", err)
		}
	}()
}

// Sweep runs one scan-dispatch-reconcile cycle and returns its summary.
// It completes only after every per-subscriber send in the batch has
// resolved; one subscriber's failure never cancels another's send.
func (s *Scheduler) Sweep(ctx context.Context) (Summary, error) {
	started := s.clock.Now()
	defer func() {
		metrics.SweepDuration.Observe(s.clock.Since(started).Seconds())
	}()

	stale, err := s.store.ListStale(ctx, s.cfg.InactivityThreshold)
	if err != nil {
		metrics.SweepErrors.Inc()
		return Summary{}, err
	}

	summary := Summary{Scanned: len(stale)}
	metrics.SweepSubscribersScanned.Add(float64(len(stale)))
	if len(stale) == 0 {
		return summary, nil
	}
	s.logger.Info("Found inactive subscribers", "count", len(stale))

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.cfg.FanOut)
	)
	for _, sub := range stale {
		if !sub.Subscribed() {
			s.logger.Info("Subscriber has no subscription", "name", sub.Name)
			summary.Skipped++
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(sub subscriber.Subscriber) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := s.dispatcher.Send(ctx, sub, s.cfg.Title, s.cfg.Body)
			metrics.PushDeliveriesTotal.WithLabelValues(string(outcome.Result)).Inc()

			mu.Lock()
			defer mu.Unlock()
			s.reconcile(ctx, sub, outcome, &summary)
		}(sub)
	}
	wg.Wait()

	s.logger.Info("Sweep complete",
		"scanned", summary.Scanned,
		"successful", summary.Successful,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
	)
	return summary, nil
}

// reconcile applies one delivery outcome to the store. Callers hold the
// summary lock; the store writes themselves are independent row updates.
func (s *Scheduler) reconcile(ctx context.Context, sub subscriber.Subscriber, outcome dispatch.Outcome, summary *Summary) {
	switch outcome.Result {
	case dispatch.ResultDelivered:
		summary.Successful++
		if err := s.store.MarkDelivered(ctx, sub.ID); err != nil {
			s.logger.Error("Failed to record delivery", "name", sub.Name, "err", err)
		}
	case dispatch.ResultGone:
		summary.Failed++
		s.logger.Info("Invalidating expired subscription", "name", sub.Name)
		if err := s.store.Invalidate(ctx, sub.ID); err != nil {
			s.logger.Error("Failed to invalidate subscription", "name", sub.Name, "err", err)
		}
	case dispatch.ResultAuthRejected:
		// Misconfigured signing material; retrying forever is pointless
		// and invalidating would throw away a valid subscription.
		summary.Failed++
		s.logger.Error("Push authorization rejected, check VAPID configuration",
			"name", sub.Name, "status", outcome.StatusCode)
	case dispatch.ResultSkippedNoSubscription:
		summary.Skipped++
	default:
		summary.Failed++
		s.logger.Warn("Delivery failed, will retry next cycle",
			"name", sub.Name, "status", outcome.StatusCode, "err", outcome.Err)
	}
}
