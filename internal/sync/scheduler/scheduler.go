// Package scheduler drives sync passes from connectivity transitions, a
// periodic ticker and manual triggers.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/errors"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/logging"
	syncpkg "github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/sync"
)

// Trigger names why a pass started.
const (
	TriggerTransition = "transition"
	TriggerPeriodic   = "periodic"
	TriggerManual     = "manual"
	TriggerStartup    = "startup"
)

// Connectivity is the part of the connectivity monitor the scheduler uses.
type Connectivity interface {
	IsOnline() bool
	OnTransition(fn func(online bool)) (unsubscribe func())
}

// PendingCounter reports how many surveys wait for sync.
type PendingCounter interface {
	Count(ctx context.Context) (int, error)
}

// Scheduler manages background sync operations.
type Scheduler struct {
	runner       syncpkg.Runner
	monitor      Connectivity
	counter      PendingCounter
	syncInterval time.Duration
	syncTimeout  time.Duration

	stopCh chan struct{}
	loopWG sync.WaitGroup
	runWG  sync.WaitGroup

	mu          sync.RWMutex
	baseCtx     context.Context
	cancelBase  context.CancelFunc
	isRunning   bool
	stopped     bool
	unsubscribe func()
	lastRunTime time.Time
	lastTrigger string
	lastResult  *syncpkg.Result
	lastErr     error
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval time.Duration // How often to sync while online (default: 5 minutes)
	SyncTimeout  time.Duration // Upper bound for one pass (default: 5 minutes)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval: 5 * time.Minute,
		SyncTimeout:  5 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler. counter may be nil.
func NewScheduler(runner syncpkg.Runner, monitor Connectivity, counter PendingCounter, config *SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if config == nil {
		config = def
	}
	interval, timeout := config.SyncInterval, config.SyncTimeout
	if interval <= 0 {
		interval = def.SyncInterval
	}
	if timeout <= 0 {
		timeout = def.SyncTimeout
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner:       runner,
		monitor:      monitor,
		counter:      counter,
		syncInterval: interval,
		syncTimeout:  timeout,
		stopCh:       make(chan struct{}),
		baseCtx:      baseCtx,
		cancelBase:   cancel,
	}
}

// Start subscribes to connectivity transitions and starts the periodic
// loop. Passes started by the scheduler end when ctx is done or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning || s.stopped {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.cancelBase()
	s.baseCtx, s.cancelBase = context.WithCancel(ctx)
	s.unsubscribe = s.monitor.OnTransition(func(online bool) {
		if online {
			s.trigger(TriggerTransition)
		}
	})
	s.mu.Unlock()

	s.loopWG.Add(1)
	go s.periodicSyncLoop()

	logging.Info("Background sync scheduler started", map[string]interface{}{
		"interval_seconds": s.syncInterval.Seconds(),
	})

	if s.monitor.IsOnline() {
		s.trigger(TriggerStartup)
	}
}

// Stop stops the scheduler and waits for in-flight passes it started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	wasRunning := s.isRunning
	s.isRunning = false
	s.stopped = true
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.cancelBase()
	s.mu.Unlock()

	close(s.stopCh)
	s.loopWG.Wait()
	s.runWG.Wait()

	if wasRunning {
		logging.Info("Background sync scheduler stopped", nil)
	}
}

// periodicSyncLoop runs a pass every interval while online.
func (s *Scheduler) periodicSyncLoop() {
	defer s.loopWG.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	s.mu.RLock()
	ctx := s.baseCtx
	s.mu.RUnlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.monitor.IsOnline() {
				continue
			}
			if s.runner.State() == syncpkg.StateRunning {
				logging.Debug("Sync already in progress, skipping", nil)
				continue
			}
			s.trigger(TriggerPeriodic)
		}
	}
}

// TriggerSync starts a pass in the background.
// Returns true if a pass was started, false if one is already running or
// the scheduler has been stopped.
func (s *Scheduler) TriggerSync() bool {
	return s.trigger(TriggerManual)
}

func (s *Scheduler) trigger(reason string) bool {
	if s.runner.State() == syncpkg.StateRunning {
		return false
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	ctx := s.baseCtx
	s.runWG.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.runWG.Done()
		s.runSync(ctx, reason)
	}()
	return true
}

// runSync executes one pass and records its outcome.
func (s *Scheduler) runSync(ctx context.Context, reason string) (*syncpkg.Result, error) {
	syncCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	result, err := s.runner.SynchronizeAll(syncCtx)
	if result != nil && result.Skipped {
		logging.Debug("Sync pass skipped", map[string]interface{}{"trigger": reason})
		return result, errors.New(errors.ErrSyncInProgress, "a sync pass is already running")
	}

	s.mu.Lock()
	s.lastRunTime = time.Now()
	s.lastTrigger = reason
	s.lastResult = result
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		if errors.Is(err, errors.ErrConnectivityUnavailable) {
			logging.Debug("Sync pass skipped while offline", map[string]interface{}{"trigger": reason})
		} else {
			logging.ErrorWithCode("Sync pass failed", string(errors.CodeOf(err)), err,
				map[string]interface{}{"trigger": reason})
		}
		return result, err
	}

	if syncCtx.Err() == context.DeadlineExceeded {
		logging.Warn("Sync pass hit its timeout", map[string]interface{}{
			"trigger":         reason,
			"timeout_seconds": s.syncTimeout.Seconds(),
		})
	}
	return result, nil
}

// SyncNow runs a pass and waits for it. A pass that finds another one
// running returns the skipped result with a SYNC_IN_PROGRESS error.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.Result, error) {
	return s.runSync(ctx, TriggerManual)
}

// SchedulerStatus describes the scheduler and the last pass it ran.
type SchedulerStatus struct {
	IsRunning      bool            `json:"is_running"`
	IsOnline       bool            `json:"is_online"`
	SyncInProgress bool            `json:"sync_in_progress"`
	LastRunTime    *time.Time      `json:"last_run_time,omitempty"`
	LastTrigger    string          `json:"last_trigger,omitempty"`
	LastResult     *syncpkg.Result `json:"last_result,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	PendingItems   int             `json:"pending_items"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus(ctx context.Context) SchedulerStatus {
	s.mu.RLock()
	status := SchedulerStatus{
		IsRunning:   s.isRunning,
		LastTrigger: s.lastTrigger,
		LastResult:  s.lastResult,
	}
	if !s.lastRunTime.IsZero() {
		t := s.lastRunTime
		status.LastRunTime = &t
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	s.mu.RUnlock()

	status.IsOnline = s.monitor.IsOnline()
	status.SyncInProgress = s.runner.State() == syncpkg.StateRunning

	if s.counter != nil {
		n, err := s.counter.Count(ctx)
		if err != nil {
			logging.Warn("Failed to count pending surveys", map[string]interface{}{"error": err.Error()})
		} else {
			status.PendingItems = n
		}
	}
	return status
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
