package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/i474232898/weather-ingest/internal/weather"
)

const (
	DefaultFetchInterval = 300 * time.Second
	DefaultRequestDelay  = 1 * time.Second
)

var (
	ErrNoEntities = errors.New("ingest: no entities configured")
	ErrNoSource   = errors.New("ingest: source is required")
	ErrNoSink     = errors.New("ingest: sink is required")
)

// Options holds the startup-time tunables of a Loop.
type Options struct {
	Entities []string

	// FetchInterval is the pause after a full pass before the next one starts.
	FetchInterval time.Duration
	// RequestDelay is the minimum spacing between consecutive fetch starts.
	RequestDelay time.Duration
	// MaxInFlight bounds concurrently running fetch-then-send operations.
	MaxInFlight int

	// Location is the zone record timestamps are formatted in.
	Location *time.Location
}

// PassResult summarizes one pass over the entity list. Fetched counts upstream
// attempts, successful or not.
type PassResult struct {
	ID       string
	Entities int
	Fetched  int64
	Emitted  int64
	Skipped  int64
	Duration time.Duration
	Err      error
}

// Loop polls the source for every entity and forwards normalized records to the sink.
type Loop struct {
	source   weather.Source
	sink     weather.Sink
	recorder weather.Recorder

	entities      []string
	fetchInterval time.Duration
	loc           *time.Location
	limiter       *rate.Limiter
	sem           chan struct{}

	stats  *Stats
	logger *zap.Logger
}

// New creates a Loop. recorder and logger may be nil.
func New(source weather.Source, sink weather.Sink, recorder weather.Recorder, opts Options, logger *zap.Logger) (*Loop, error) {
	if len(opts.Entities) == 0 {
		return nil, ErrNoEntities
	}
	if source == nil {
		return nil, ErrNoSource
	}
	if sink == nil {
		return nil, ErrNoSink
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if opts.FetchInterval < 0 {
		opts.FetchInterval = DefaultFetchInterval
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 1
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	limit := rate.Inf
	if opts.RequestDelay > 0 {
		limit = rate.Every(opts.RequestDelay)
	}

	entities := make([]string, len(opts.Entities))
	copy(entities, opts.Entities)

	return &Loop{
		source:        source,
		sink:          sink,
		recorder:      recorder,
		entities:      entities,
		fetchInterval: opts.FetchInterval,
		loc:           opts.Location,
		limiter:       rate.NewLimiter(limit, 1),
		sem:           make(chan struct{}, opts.MaxInFlight),
		stats:         newStats(),
		logger:        logger,
	}, nil
}

// Stats returns the loop's counters.
func (l *Loop) Stats() *Stats {
	return l.stats
}

// Run performs passes until ctx is cancelled and returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("ingestion loop started",
		zap.Int("entities", len(l.entities)),
		zap.Duration("fetch_interval", l.fetchInterval),
	)

	for {
		res := l.RunPass(ctx)
		if ctx.Err() != nil {
			l.logger.Info("ingestion loop stopped", zap.String("pass_id", res.ID))
			return ctx.Err()
		}

		l.logger.Info("pass complete; sleeping",
			zap.String("pass_id", res.ID),
			zap.Int64("fetched", res.Fetched),
			zap.Int64("emitted", res.Emitted),
			zap.Int64("skipped", res.Skipped),
			zap.Duration("duration", res.Duration),
			zap.Time("next_pass_at", time.Now().Add(l.fetchInterval)),
		)

		timer := time.NewTimer(l.fetchInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.logger.Info("ingestion loop stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RunPass visits every entity once, in list order. Failures skip the entity;
// they never abort the pass.
func (l *Loop) RunPass(ctx context.Context) PassResult {
	res := PassResult{ID: uuid.NewString(), Entities: len(l.entities)}
	logger := l.logger.With(zap.String("pass_id", res.ID))
	start := time.Now()

	var (
		wg      sync.WaitGroup
		fetched = atomic.NewInt64(0)
		emitted = atomic.NewInt64(0)
		skipped = atomic.NewInt64(0)
	)

dispatch:
	for _, entity := range l.entities {
		if err := l.limiter.Wait(ctx); err != nil {
			res.Err = err
			break
		}

		select {
		case l.sem <- struct{}{}:
		case <-ctx.Done():
			res.Err = ctx.Err()
			break dispatch
		}

		wg.Add(1)
		go func(entity string) {
			defer wg.Done()
			defer func() { <-l.sem }()

			fetched.Inc()
			if l.process(ctx, logger, entity) == outcomeEmitted {
				emitted.Inc()
			} else {
				skipped.Inc()
			}
		}(entity)
	}

	wg.Wait()

	res.Fetched = fetched.Load()
	res.Emitted = emitted.Load()
	res.Skipped = skipped.Load()
	res.Duration = time.Since(start)

	l.stats.passes.Inc()
	l.stats.lastPassID.Store(res.ID)
	l.stats.lastPassDuration.Store(res.Duration)

	return res
}

type outcome int

const (
	outcomeEmitted outcome = iota
	outcomeFetchFailed
	outcomeMalformed
	outcomeEmitFailed
)

// process runs fetch, normalize and emit for one entity.
func (l *Loop) process(ctx context.Context, logger *zap.Logger, entity string) outcome {
	logger = logger.With(zap.String("site_name", entity))

	l.stats.fetches.Inc()
	raw, err := l.source.Fetch(ctx, entity)
	if err != nil {
		l.stats.fetchFailures.Inc()
		if errors.Is(err, weather.ErrMalformedPayload) {
			l.stats.malformed.Inc()
		}
		logger.Warn("fetch failed; skipping entity", zap.String("source", l.source.Name()), zap.Error(err))
		return outcomeFetchFailed
	}

	rec, err := weather.Normalize(entity, raw, l.loc)
	if err != nil {
		l.stats.malformed.Inc()
		logger.Warn("incomplete upstream payload; skipping entity", zap.Error(err))
		return outcomeMalformed
	}

	if err := l.sink.Emit(ctx, rec); err != nil {
		l.stats.emitFailures.Inc()
		logger.Warn("emit failed; record dropped", zap.Error(err))
		return outcomeEmitFailed
	}

	l.stats.emits.Inc()
	if l.recorder != nil {
		l.recorder.SaveRecord(rec)
	}

	logger.Debug("record emitted",
		zap.String("timestamp", rec.Timestamp),
		zap.Float64("temp_f", rec.TempF),
		zap.Float64("precip", rec.Precip),
	)
	return outcomeEmitted
}
