// Package monitor drives periodic scans: fetch markets, run each through the
// opportunity pipeline, queue alerts, deliver them and persist the scan state.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rewired-gh/polyedge/internal/logger"
	"github.com/rewired-gh/polyedge/internal/metrics"
	"github.com/rewired-gh/polyedge/internal/models"
)

// MarketSource lists the markets a scan looks at.
type MarketSource interface {
	ListActiveMarkets(ctx context.Context, maxCount int) ([]models.MarketSnapshot, error)
}

// Dispatcher delivers one formatted alert.
type Dispatcher interface {
	Send(ctx context.Context, text string) error
}

// Formatter renders messages for a Dispatcher.
type Formatter interface {
	Alert(a models.AlertSummary) string
	ScanError(err error) string
	Recovery(failures int) string
}

// StateStore persists the scan state.
type StateStore interface {
	Load() (*models.ScanState, error)
	Save(state *models.ScanState) error
}

// History is the optional opportunity log used for the alert cooldown.
type History interface {
	RecordOpportunity(o *models.AlertSummary) error
	MarkNotified(id string, at time.Time) error
	LastForMarket(marketID string) (*models.AlertSummary, error)
	Rotate() error
}

type Config struct {
	PollInterval           time.Duration
	MaxMarketsPerScan      int
	MarketsAnalyzedPerScan int
	AlertCooldown          time.Duration
	MaxPendingAlerts       int
}

func DefaultConfig() Config {
	return Config{
		PollInterval:           5 * time.Minute,
		MaxMarketsPerScan:      50,
		MarketsAnalyzedPerScan: 10,
		AlertCooldown:          time.Hour,
		MaxPendingAlerts:       100,
	}
}

// Deps groups the collaborators of a Scheduler. History may be nil.
type Deps struct {
	Source     MarketSource
	Pipeline   *Pipeline
	Store      StateStore
	History    History
	Dispatcher Dispatcher
	Formatter  Formatter
	Metrics    *metrics.Recorder
}

// Scheduler owns the scan state. Scans are single-flight: a trigger that
// arrives while a scan is running is dropped.
type Scheduler struct {
	config Config
	deps   Deps

	scanning  atomic.Bool
	published atomic.Pointer[models.ScanState]
	wg        sync.WaitGroup

	// touched only while holding the scanning flag
	state               *models.ScanState
	unsaved             bool
	consecutiveFailures int

	now func() time.Time
}

// NewScheduler loads the persisted state once.
func NewScheduler(config Config, deps Deps) (*Scheduler, error) {
	if config.MarketsAnalyzedPerScan > config.MaxMarketsPerScan {
		config.MarketsAnalyzedPerScan = config.MaxMarketsPerScan
	}
	state, err := deps.Store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load scan state: %w", err)
	}
	s := &Scheduler{config: config, deps: deps, state: state, now: time.Now}
	s.publish()
	deps.Metrics.SetPending(len(state.PendingAlerts))
	logger.Info("Loaded scan state: %d scans, %d alerts generated, %d pending",
		state.ScansCompleted, state.AlertsGenerated, len(state.PendingAlerts))
	return s, nil
}

// State returns a snapshot of the scan state. Callers must not modify it.
func (s *Scheduler) State() *models.ScanState {
	return s.published.Load()
}

// Scanning reports whether a scan is in progress.
func (s *Scheduler) Scanning() bool {
	return s.scanning.Load()
}

// Run scans once immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	logger.Info("Starting scan scheduler (interval: %v, markets: %d, analyzed: %d)",
		s.config.PollInterval, s.config.MaxMarketsPerScan, s.config.MarketsAnalyzedPerScan)

	s.TriggerAsync(ctx)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			logger.Info("Scan scheduler stopped")
			return
		case <-ticker.C:
			logger.Debug("Scheduled scan tick")
			s.TriggerAsync(ctx)
		}
	}
}

// TryScan runs a scan on the calling goroutine. It returns false without
// doing anything if a scan is already running.
func (s *Scheduler) TryScan(ctx context.Context) (bool, error) {
	if !s.acquire() {
		return false, nil
	}
	defer s.scanning.Store(false)
	return true, s.scan(ctx)
}

// TriggerAsync starts a scan in the background. It returns false if a scan
// is already running or ctx is already done.
func (s *Scheduler) TriggerAsync(ctx context.Context) bool {
	if ctx.Err() != nil {
		logger.Debug("Scan trigger after shutdown ignored")
		return false
	}
	if !s.acquire() {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.scanning.Store(false)
		_ = s.scan(ctx)
	}()
	return true
}

// Wait blocks until background scans have returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) acquire() bool {
	if s.scanning.CompareAndSwap(false, true) {
		return true
	}
	logger.Info("Scan already in progress, trigger dropped")
	s.deps.Metrics.ScanSkipped()
	return false
}

func (s *Scheduler) publish() {
	s.published.Store(s.state.Clone())
}

func (s *Scheduler) scan(ctx context.Context) error {
	start := s.now()
	logger.Info("Starting scan")

	if s.unsaved {
		if err := s.deps.Store.Save(s.state); err != nil {
			logger.Error("Scan state still cannot be written: %v", err)
		} else {
			s.unsaved = false
			logger.Info("Recreated scan state file")
		}
	}

	s.state.Running = true
	s.publish()

	var scanErr error
	if err := s.analyzeBatch(ctx); err != nil {
		scanErr = err
		logger.Error("Scan failed: %v", err)
	}

	s.state.Running = false
	s.state.LastScan = s.now()
	s.state.ScansCompleted++
	s.state.LastScanDuration = s.now().Sub(start)

	if err := s.persist(); err != nil {
		scanErr = errors.Join(scanErr, err)
	}
	if s.deliverPending(ctx) > 0 {
		if err := s.persist(); err != nil {
			scanErr = errors.Join(scanErr, err)
		}
	}

	if s.deps.History != nil {
		if err := s.deps.History.Rotate(); err != nil {
			logger.Warn("Failed to rotate opportunity history: %v", err)
		}
	}

	s.publish()
	s.deps.Metrics.SetPending(len(s.state.PendingAlerts))
	s.deps.Metrics.ObserveScan(scanErr == nil, s.state.LastScanDuration)
	s.reportOutcome(ctx, scanErr)

	logger.Info("Scan completed in %v (%d pending alerts)", s.state.LastScanDuration, len(s.state.PendingAlerts))
	return scanErr
}

// analyzeBatch returns an error only when the market list cannot be fetched.
// Per-market failures are logged and skipped.
func (s *Scheduler) analyzeBatch(ctx context.Context) error {
	markets, err := s.deps.Source.ListActiveMarkets(ctx, s.config.MaxMarketsPerScan)
	if err != nil {
		return fmt.Errorf("failed to fetch markets: %w", err)
	}
	logger.Info("Fetched %d markets", len(markets))
	if len(markets) > s.config.MarketsAnalyzedPerScan {
		markets = markets[:s.config.MarketsAnalyzedPerScan]
	}

	found := 0
	for i, market := range markets {
		if ctx.Err() != nil {
			logger.Info("Scan interrupted after %d of %d markets", i, len(markets))
			break
		}

		opp, err := s.deps.Pipeline.Analyze(ctx, market, s.suppressor())
		if err != nil {
			s.deps.Metrics.MarketError()
			logger.Warn("Skipping market %s: %v", market.ID, err)
			continue
		}
		if opp == nil {
			continue
		}

		summary := opp.Summary()
		if s.deps.History != nil {
			if err := s.deps.History.RecordOpportunity(&summary); err != nil {
				logger.Warn("Failed to record opportunity %s: %v", summary.ID, err)
			}
		}
		if dropped := s.state.Enqueue(summary, s.config.MaxPendingAlerts); dropped > 0 {
			logger.Warn("Pending alert queue full, dropped %d oldest", dropped)
		}
		found++
	}
	logger.Info("Analyzed %d markets, %d new opportunities", len(markets), found)
	return nil
}

func (s *Scheduler) suppressor() Suppressor {
	if s.deps.History == nil || s.config.AlertCooldown <= 0 {
		return nil
	}
	return s.recentlyAlerted
}

// recentlyAlerted reports whether the market already produced the same
// recommendation within the cooldown.
func (s *Scheduler) recentlyAlerted(marketID string, action models.Action) bool {
	last, err := s.deps.History.LastForMarket(marketID)
	if err != nil {
		return false
	}
	age := s.now().Sub(last.CreatedAt)
	if last.Action != action || age >= s.config.AlertCooldown {
		return false
	}
	logger.Info("Suppressing %s on %s: same alert sent %v ago", action, marketID, age.Round(time.Second))
	return true
}

// deliverPending attempts every queued alert once, in order. Delivered alerts
// leave the queue; failed ones stay for the next scan. It returns the number
// delivered.
func (s *Scheduler) deliverPending(ctx context.Context) int {
	if len(s.state.PendingAlerts) == 0 {
		return 0
	}

	remaining := make([]models.AlertSummary, 0, len(s.state.PendingAlerts))
	delivered := 0
	for _, a := range s.state.PendingAlerts {
		if ctx.Err() != nil {
			remaining = append(remaining, a)
			continue
		}
		if err := s.deps.Dispatcher.Send(ctx, s.deps.Formatter.Alert(a)); err != nil {
			a.Attempts++
			remaining = append(remaining, a)
			s.deps.Metrics.AlertSent(false)
			logger.Error("Failed to deliver alert %s (attempt %d): %v", a.ID, a.Attempts, err)
			continue
		}
		delivered++
		s.deps.Metrics.AlertSent(true)
		if s.deps.History != nil {
			if err := s.deps.History.MarkNotified(a.ID, s.now()); err != nil {
				logger.Debug("Could not mark %s notified: %v", a.ID, err)
			}
		}
	}
	s.state.PendingAlerts = remaining
	logger.Info("Delivered %d alerts, %d still pending", delivered, len(remaining))
	return delivered
}

func (s *Scheduler) persist() error {
	if err := s.deps.Store.Save(s.state); err != nil {
		s.unsaved = true
		s.deps.Metrics.PersistFailed()
		logger.Error("Failed to persist scan state: %v", err)
		return fmt.Errorf("failed to persist scan state: %w", err)
	}
	s.unsaved = false
	return nil
}

// reportOutcome notifies on the first failure of a streak and on recovery.
func (s *Scheduler) reportOutcome(ctx context.Context, scanErr error) {
	if scanErr != nil {
		s.consecutiveFailures++
		if s.consecutiveFailures == 1 {
			if err := s.deps.Dispatcher.Send(ctx, s.deps.Formatter.ScanError(scanErr)); err != nil {
				logger.Warn("Failed to send scan error notification: %v", err)
			}
		}
		return
	}
	if s.consecutiveFailures > 0 {
		if err := s.deps.Dispatcher.Send(ctx, s.deps.Formatter.Recovery(s.consecutiveFailures)); err != nil {
			logger.Warn("Failed to send recovery notification: %v", err)
		}
	}
	s.consecutiveFailures = 0
}
