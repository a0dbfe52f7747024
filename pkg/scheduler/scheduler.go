package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"naming_events/pkg/config"
	"naming_events/pkg/event"
)

// Transitioner performs the deadline transition of a tenant. It must
// re-read the tenant under its lock and do nothing unless stamp still
// matches the stored record; advanced reports which of the two happened.
type Transitioner interface {
	Advance(ctx context.Context, tenantID string, stamp event.Stamp) (ev *event.TenantEvent, advanced bool, err error)
}

// EventSource is the read side of the event store
type EventSource interface {
	GetEvent(ctx context.Context, tenantID string) (*event.TenantEvent, error)
	ListActiveEvents(ctx context.Context) ([]*event.TenantEvent, error)
}

// armed is the live timer of one tenant
type armed struct {
	stamp event.Stamp
	timer clockwork.Timer
}

// Scheduler fires phase deadlines. Each tenant has at most one live timer;
// arming again replaces it unless the new record is older than the last one
// seen for that tenant.
type Scheduler struct {
	cron        *cron.Cron
	store       EventSource
	transitions Transitioner
	clock       clockwork.Clock
	config      *config.SchedConfig
	logger      *zap.Logger
	metrics     *SchedulerMetrics
	workerPool  chan struct{}
	timers      map[string]*armed
	latest      map[string]uint64
	running     map[string]int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.Mutex
}

// SchedulerMetrics tracks deadline processing
type SchedulerMetrics struct {
	TimersArmed    int64
	Fired          int64
	Completed      int64
	Stale          int64
	Failed         int64
	AverageLatency time.Duration
	LastUpdate     time.Time
	mu             sync.RWMutex
}

// NewScheduler creates a new scheduler instance
func NewScheduler(cfg *config.SchedConfig, store EventSource, transitions Transitioner, clock clockwork.Clock, logger *zap.Logger) (*Scheduler, error) {
	if cfg.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("max concurrent transitions must be positive")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:        cron.New(),
		store:       store,
		transitions: transitions,
		clock:       clock,
		config:      cfg,
		logger:      logger,
		metrics:     &SchedulerMetrics{},
		workerPool:  make(chan struct{}, cfg.MaxConcurrent),
		timers:      make(map[string]*armed),
		latest:      make(map[string]uint64),
		running:     make(map[string]int),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start registers the periodic sweep and starts cron
func (s *Scheduler) Start() error {
	if s.config.SweepSchedule != "" {
		if _, err := s.cron.AddFunc(s.config.SweepSchedule, func() {
			if err := s.Sweep(s.ctx); err != nil {
				s.logger.Error("Deadline sweep failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("scheduling sweep: %w", err)
		}
	}

	s.logger.Info("Starting scheduler",
		zap.Int("maxConcurrent", s.config.MaxConcurrent),
		zap.String("sweepSchedule", s.config.SweepSchedule))

	s.cron.Start()
	return nil
}

// Stop cancels pending timers and waits for running transitions
func (s *Scheduler) Stop() error {
	s.logger.Info("Stopping scheduler")

	s.cancel()
	<-s.cron.Stop().Done()

	s.mu.Lock()
	for tenantID, a := range s.timers {
		a.timer.Stop()
		delete(s.timers, tenantID)
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// Arm sets the tenant's timer to the deadline of ev, replacing any earlier
// one. An Idle record disarms. Arming the same stamp twice is a no-op, and a
// record with a lower generation than one already seen is ignored: callers
// arm after releasing the tenant lock, so arrivals can be out of order.
func (s *Scheduler) Arm(ev *event.TenantEvent) {
	stamp := ev.Stamp()
	tenantID := ev.TenantID

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return
	}

	if seen, ok := s.latest[tenantID]; ok && stamp.Generation < seen {
		s.logger.Debug("Ignoring out-of-date arm",
			zap.String("tenant", tenantID),
			zap.Uint64("generation", stamp.Generation),
			zap.Uint64("latest", seen))
		return
	}
	s.latest[tenantID] = stamp.Generation

	if ev.IsIdle() {
		s.disarmLocked(tenantID)
		return
	}

	if prev, ok := s.timers[tenantID]; ok {
		if prev.stamp.Matches(stamp) {
			return
		}
		prev.timer.Stop()
	}

	delay := s.clock.Until(stamp.EndTime)
	if delay < 0 {
		delay = 0
	}
	s.timers[tenantID] = &armed{
		stamp: stamp,
		timer: s.clock.AfterFunc(delay, func() { s.fire(tenantID, stamp) }),
	}

	s.metrics.mu.Lock()
	s.metrics.TimersArmed++
	s.metrics.LastUpdate = s.clock.Now()
	s.metrics.mu.Unlock()

	s.logger.Debug("Deadline armed",
		zap.String("tenant", tenantID),
		zap.String("phase", string(stamp.Kind)),
		zap.Time("endTime", stamp.EndTime),
		zap.Uint64("generation", stamp.Generation))
}

// Disarm stops the tenant's timer, if any
func (s *Scheduler) Disarm(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmLocked(tenantID)
}

func (s *Scheduler) disarmLocked(tenantID string) {
	if a, ok := s.timers[tenantID]; ok {
		a.timer.Stop()
		delete(s.timers, tenantID)
	}
}

// Reschedule re-reads the tenant and arms its current deadline
func (s *Scheduler) Reschedule(ctx context.Context, tenantID string) error {
	ev, err := s.store.GetEvent(ctx, tenantID)
	if err != nil {
		return err
	}
	s.Arm(ev)
	return nil
}

// Recover resolves every deadline that passed while the process was down
// and arms the rest. Expired tenants are attempted before it returns; one
// that still fails is logged and left to the sweep without holding up the
// others. Only a failure to list the store is returned.
func (s *Scheduler) Recover(ctx context.Context) error {
	events, err := s.store.ListActiveEvents(ctx)
	if err != nil {
		return fmt.Errorf("listing active events: %w", err)
	}

	now := s.clock.Now()
	var g errgroup.Group
	g.SetLimit(s.config.MaxConcurrent)

	var expired, failed atomic.Int64
	for _, ev := range events {
		end, _ := ev.Phase.Deadline()
		if end.After(now) {
			s.Arm(ev)
			continue
		}

		expired.Add(1)
		tenantID, stamp := ev.TenantID, ev.Stamp()
		g.Go(func() error {
			if err := s.process(ctx, tenantID, stamp); err != nil {
				failed.Add(1)
				s.logger.Error("Recovery failed, leaving deadline to the sweep",
					zap.String("tenant", tenantID),
					zap.Time("endTime", stamp.EndTime),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("Recovered active events",
		zap.Int("active", len(events)),
		zap.Int64("expired", expired.Load()),
		zap.Int64("failed", failed.Load()))
	return nil
}

// Sweep re-attempts every active tenant whose deadline has passed and
// re-arms tenants that have no live timer for their current deadline.
func (s *Scheduler) Sweep(ctx context.Context) error {
	events, err := s.store.ListActiveEvents(ctx)
	if err != nil {
		return fmt.Errorf("listing active events: %w", err)
	}

	now := s.clock.Now()
	for _, ev := range events {
		end, _ := ev.Phase.Deadline()
		if end.After(now) {
			s.Arm(ev)
			continue
		}
		s.mu.Lock()
		_, live := s.timers[ev.TenantID]
		busy := s.running[ev.TenantID] > 0
		s.mu.Unlock()
		if live || busy {
			continue
		}

		s.logger.Warn("Found expired deadline without a timer",
			zap.String("tenant", ev.TenantID),
			zap.Time("endTime", end))
		s.dispatch(ev.TenantID, ev.Stamp())
	}
	return nil
}

// ActiveTimers returns the number of armed tenants
func (s *Scheduler) ActiveTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Private methods

func (s *Scheduler) fire(tenantID string, stamp event.Stamp) {
	s.mu.Lock()
	a, ok := s.timers[tenantID]
	if !ok || !a.stamp.Matches(stamp) {
		// Replaced after this timer had already fired.
		s.mu.Unlock()
		return
	}
	delete(s.timers, tenantID)
	s.mu.Unlock()

	s.dispatch(tenantID, stamp)
}

// dispatch runs one transition on the worker pool without blocking the
// caller. Duplicate dispatches for a tenant are harmless: the stamp check in
// Advance turns all but the first into no-ops.
func (s *Scheduler) dispatch(tenantID string, stamp event.Stamp) {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.running[tenantID]++
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			if s.running[tenantID]--; s.running[tenantID] <= 0 {
				delete(s.running, tenantID)
			}
			s.mu.Unlock()
		}()

		select {
		case s.workerPool <- struct{}{}:
			defer func() { <-s.workerPool }()
		case <-s.ctx.Done():
			return
		}

		if err := s.process(s.ctx, tenantID, stamp); err != nil {
			s.logger.Error("Deadline transition failed, leaving it to the sweep",
				zap.String("tenant", tenantID),
				zap.String("phase", string(stamp.Kind)),
				zap.Time("endTime", stamp.EndTime),
				zap.Error(err))
		}
	}()
}

// process advances one tenant with retries and arms the phase it lands in
func (s *Scheduler) process(ctx context.Context, tenantID string, stamp event.Stamp) error {
	start := s.clock.Now()
	s.metrics.mu.Lock()
	s.metrics.Fired++
	s.metrics.mu.Unlock()

	type outcome struct {
		ev       *event.TenantEvent
		advanced bool
	}
	attempt := 0
	res, err := backoff.Retry(ctx, func() (outcome, error) {
		attempt++
		ev, advanced, err := s.transitions.Advance(ctx, tenantID, stamp)
		if err != nil {
			if !event.IsPersistence(err) && !event.IsExternal(err) {
				return outcome{}, backoff.Permanent(err)
			}
			s.logger.Warn("Deadline transition attempt failed",
				zap.String("tenant", tenantID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return outcome{}, err
		}
		return outcome{ev: ev, advanced: advanced}, nil
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(uint(s.config.RetryAttempts+1)),
	)

	s.metrics.mu.Lock()
	s.metrics.LastUpdate = s.clock.Now()
	switch {
	case err != nil:
		s.metrics.Failed++
	case !res.advanced:
		s.metrics.Stale++
	default:
		s.metrics.Completed++
		latency := s.clock.Since(start)
		if s.metrics.Completed == 1 {
			s.metrics.AverageLatency = latency
		} else {
			s.metrics.AverageLatency = (s.metrics.AverageLatency*9 + latency) / 10
		}
	}
	s.metrics.mu.Unlock()

	if err != nil {
		return fmt.Errorf("transition failed after %d attempts: %w", attempt, err)
	}
	if !res.advanced {
		s.logger.Debug("Ignoring superseded deadline",
			zap.String("tenant", tenantID),
			zap.Uint64("generation", stamp.Generation))
	}
	// The stored record is authoritative either way; arming it again is a
	// no-op when its timer is already live.
	if res.ev != nil {
		s.Arm(res.ev)
	}
	return nil
}

func (s *Scheduler) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if s.config.RetryDelay > 0 {
		b.InitialInterval = s.config.RetryDelay
	}
	if s.config.MaxRetryDelay > 0 {
		b.MaxInterval = s.config.MaxRetryDelay
	}
	return b
}

// GetSchedulerStats returns current scheduler statistics
func (s *Scheduler) GetSchedulerStats() SchedulerStats {
	armedNow := s.ActiveTimers()

	s.metrics.mu.RLock()
	defer s.metrics.mu.RUnlock()

	return SchedulerStats{
		ArmedTimers:    armedNow,
		TimersArmed:    s.metrics.TimersArmed,
		Fired:          s.metrics.Fired,
		Completed:      s.metrics.Completed,
		Stale:          s.metrics.Stale,
		Failed:         s.metrics.Failed,
		AverageLatency: s.metrics.AverageLatency,
		LastUpdate:     s.metrics.LastUpdate,
	}
}

// SchedulerStats represents scheduler statistics
type SchedulerStats struct {
	ArmedTimers    int           `json:"armed_timers"`
	TimersArmed    int64         `json:"timers_armed"`
	Fired          int64         `json:"fired"`
	Completed      int64         `json:"completed"`
	Stale          int64         `json:"stale"`
	Failed         int64         `json:"failed"`
	AverageLatency time.Duration `json:"average_latency"`
	LastUpdate     time.Time     `json:"last_update"`
}
