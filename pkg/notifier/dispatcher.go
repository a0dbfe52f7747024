package notifier

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"naming_events/pkg/config"
	"naming_events/pkg/utils"
)

type announcement struct {
	tenantID string
	text     string
}

// Dispatcher queues announcements and delivers them from worker
// goroutines. Announce never blocks; a full queue drops the message.
type Dispatcher struct {
	next    Notifier
	queue   chan announcement
	workers int
	timeout time.Duration
	logger  *zap.Logger

	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	mu        sync.RWMutex
	stopped   bool

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

func NewDispatcher(next Notifier, cfg config.NotifierConfig, logger *zap.Logger) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		next:    next,
		queue:   make(chan announcement, cfg.QueueSize),
		workers: workers,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// Start launches the workers
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			utils.SafeGo(d.logger, func() {
				defer d.wg.Done()
				for a := range d.queue {
					d.deliver(a)
				}
			})
		}
	})
}

// Stop delivers what is already queued and waits for the workers
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		close(d.queue)
		d.mu.Unlock()
	})
	d.wg.Wait()
}

func (d *Dispatcher) Announce(ctx context.Context, tenantID, text string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		d.dropped.Add(1)
		d.logger.Warn("Dispatcher stopped, dropping announcement", zap.String("tenant", tenantID))
		return nil
	}

	select {
	case d.queue <- announcement{tenantID: tenantID, text: text}:
	default:
		d.dropped.Add(1)
		d.logger.Warn("Announcement queue full, dropping announcement",
			zap.String("tenant", tenantID),
			zap.Int("queueSize", cap(d.queue)))
	}
	return nil
}

func (d *Dispatcher) deliver(a announcement) {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	if err := d.next.Announce(ctx, a.tenantID, a.text); err != nil {
		d.failed.Add(1)
		d.logger.Warn("Announcement delivery failed",
			zap.String("tenant", a.tenantID),
			zap.Error(err))
		return
	}
	d.delivered.Add(1)
}

// DispatcherStats counts delivery outcomes
type DispatcherStats struct {
	Queued    int   `json:"queued"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Queued:    len(d.queue),
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}
