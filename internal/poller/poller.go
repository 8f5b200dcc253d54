// Package poller runs the fetch, normalize and publish cycle on a fixed
// interval.
package poller

import (
	"context"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"my/fronius_publisher/internal/fronius"
	"my/fronius_publisher/internal/metrics"
	"my/fronius_publisher/internal/publisher"
	"my/fronius_publisher/internal/telemetry"
)

// DefaultInterval is the pause between two cycles.
const DefaultInterval = 5 * time.Second

// Fetcher returns the three device payloads for one cycle.
type Fetcher interface {
	FetchAll(ctx context.Context) (fronius.Payloads, error)
}

// Poller drives one cycle at a time, forever. A failed cycle is logged and
// the next one starts after the usual interval.
type Poller struct {
	fetcher        Fetcher
	publisher      publisher.Publisher
	interval       time.Duration
	clock          clockwork.Clock
	metrics        *metrics.Metrics
	publishPartial bool
	logger         zerolog.Logger
}

// Option customizes a Poller.
type Option func(*Poller)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clockwork.Clock) Option {
	return func(p *Poller) {
		p.clock = c
	}
}

// WithMetrics records cycle outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) {
		p.metrics = m
	}
}

// WithPublishPartial makes a cycle continue when some fetches failed.
// Failed payloads then normalize to default values.
func WithPublishPartial(enabled bool) Option {
	return func(p *Poller) {
		p.publishPartial = enabled
	}
}

// New returns a Poller. A non-positive interval falls back to DefaultInterval.
func New(fetcher Fetcher, pub publisher.Publisher, interval time.Duration, logger zerolog.Logger, opts ...Option) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}

	p := &Poller{
		fetcher:   fetcher,
		publisher: pub,
		interval:  interval,
		clock:     clockwork.NewRealClock(),
		logger:    logger.With().Str("component", "poller").Logger(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Run starts a cycle immediately, then one cycle per interval until ctx is
// cancelled. It never returns a cycle error.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info().Dur("interval", p.interval).Msg("Starting Fronius data collector")

	for {
		_ = p.runCycle(ctx)

		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Context cancelled, shutting down.")
			return nil
		case <-p.clock.After(p.interval):
		}
	}
}

// runCycle wraps Cycle with panic recovery, logging and metrics.
func (p *Poller) runCycle(ctx context.Context) (err error) {
	start := p.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			err = &CycleError{Stage: StageUnexpected, Err: errors.Errorf("panic: %v", r)}
		}

		elapsed := p.clock.Since(start)

		if err != nil {
			p.logFailure(err)

			var ce *CycleError
			stage := string(StageUnexpected)
			if errors.As(err, &ce) {
				stage = string(ce.Stage)
			}

			p.metrics.ObserveFailure(elapsed, stage, reason(err))
		}
	}()

	rec, err := p.Cycle(ctx)
	if err != nil {
		return err
	}

	p.metrics.ObserveSuccess(p.clock.Since(start), rec.Time())
	p.logger.Info().
		Int64("timecollected", rec.TimeCollected).
		Float64("pvGeneration", rec.PVGeneration).
		Float64("pvLoad", rec.PVLoad).
		Msg("Successfully published record")

	return nil
}

// Cycle performs one fetch, normalize and publish pass. A failure at any
// stage abandons the cycle and is returned as a *CycleError.
func (p *Poller) Cycle(ctx context.Context) (telemetry.Record, error) {
	payloads, err := p.fetcher.FetchAll(ctx)
	if err != nil {
		if !p.publishPartial {
			return telemetry.Record{}, &CycleError{Stage: StageFetch, Err: err}
		}

		p.logger.Warn().Err(err).Msg("Some endpoints failed, publishing defaults for them")
	}

	rec, err := telemetry.Normalize(payloads.PowerFlow, payloads.Inverter, payloads.Meter, p.clock.Now())
	if err != nil {
		return telemetry.Record{}, &CycleError{Stage: StageNormalize, Err: err}
	}

	if err := p.publisher.Publish(ctx, rec); err != nil {
		return telemetry.Record{}, &CycleError{Stage: StagePublish, Err: err}
	}

	return rec, nil
}

func (p *Poller) logFailure(err error) {
	var ce *CycleError
	stage := StageUnexpected
	if errors.As(err, &ce) {
		stage = ce.Stage
	}

	ev := p.logger.Error().Err(err).Str("stage", string(stage)).Str("reason", reason(err))

	if stage == StageFetch {
		failures := fetchFailures(err)
		endpoints := make([]string, 0, len(failures))

		for _, fe := range failures {
			desc := fe.Endpoint.Name + ":" + string(fe.Kind)
			if fe.Kind == fronius.KindHTTPStatus {
				desc += ":" + strconv.Itoa(fe.Status)
			}

			endpoints = append(endpoints, desc)
		}

		ev = ev.Strs("endpoints", endpoints)
	}

	var pe *publisher.PublishError
	if errors.As(err, &pe) {
		ev = ev.Str("backend", pe.Backend)
	}

	ev.Msg("Cycle failed, skipping until next interval")
}
