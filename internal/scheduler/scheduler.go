package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	DefaultRequestsPerMinute = 1000
	DefaultWorkers           = 10
	DefaultQueueSize         = 100
)

var ErrInvalidRate = errors.New("scheduler: requests per minute must be positive")

// Job is one unit of bulk work, typically a single outbound request.
type Job func(ctx context.Context) error

// Options configures a Scheduler.
type Options struct {
	RequestsPerMinute int
	Workers           int
	QueueSize         int
}

// Scheduler fires Job at a fixed rate on a bounded worker pool. Ticks that
// find the queue full are dropped, so outstanding work never exceeds
// Workers + QueueSize.
type Scheduler struct {
	scheduler *gocron.Scheduler
	job       Job
	interval  time.Duration
	workers   int
	queue     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	ticks     *atomic.Int64
	dropped   *atomic.Int64
	completed *atomic.Int64
	failed    *atomic.Int64

	logger *zap.Logger
}

// New creates a new Scheduler.
func New(job Job, opts Options, logger *zap.Logger) (*Scheduler, error) {
	if opts.RequestsPerMinute <= 0 {
		return nil, ErrInvalidRate
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		job:       job,
		interval:  time.Minute / time.Duration(opts.RequestsPerMinute),
		workers:   opts.Workers,
		queue:     make(chan struct{}, opts.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		ticks:     atomic.NewInt64(0),
		dropped:   atomic.NewInt64(0),
		completed: atomic.NewInt64(0),
		failed:    atomic.NewInt64(0),
		logger:    logger,
	}, nil
}

// Interval returns the tick period derived from the request rate.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start launches the worker pool and the ticking job.
func (s *Scheduler) Start() error {
	s.startWorkers()

	if _, err := s.scheduler.Every(s.interval).Do(s.tick); err != nil {
		s.Stop()
		return err
	}

	s.logger.Info("bulk scheduler started",
		zap.Duration("interval", s.interval),
		zap.Int("workers", s.workers),
		zap.Int("queue_size", cap(s.queue)),
	)
	s.scheduler.StartAsync()
	return nil
}

// Stop stops ticking, cancels in-flight jobs and waits for the workers to exit.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		if s.scheduler != nil {
			s.scheduler.Stop()
		}
		s.cancel()
		s.wg.Wait()
		s.logger.Info("bulk scheduler stopped", zap.Any("stats", s.Snapshot()))
	})
}

func (s *Scheduler) startWorkers() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ctx.Done():
					return
				case <-s.queue:
					s.run()
				}
			}
		}()
	}
}

// tick enqueues one job without blocking.
func (s *Scheduler) tick() {
	if s.ctx.Err() != nil {
		return
	}
	s.ticks.Inc()

	select {
	case s.queue <- struct{}{}:
	default:
		s.dropped.Inc()
		s.logger.Debug("worker pool saturated; tick dropped")
	}
}

func (s *Scheduler) run() {
	if err := s.job(s.ctx); err != nil {
		s.failed.Inc()
		if s.ctx.Err() == nil {
			s.logger.Warn("bulk request failed", zap.Error(err))
		}
		return
	}
	s.completed.Inc()
}

// Stats is a point-in-time copy of the scheduler counters.
type Stats struct {
	Ticks     int64 `json:"ticks"`
	Dropped   int64 `json:"dropped"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Queued    int   `json:"queued"`
}

// Snapshot copies the current counter values.
func (s *Scheduler) Snapshot() Stats {
	return Stats{
		Ticks:     s.ticks.Load(),
		Dropped:   s.dropped.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
		Queued:    len(s.queue),
	}
}
