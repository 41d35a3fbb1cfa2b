package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/couchcryptid/storm-data-tracks/internal/domain"
	"github.com/couchcryptid/storm-data-tracks/internal/observability"
	"github.com/couchcryptid/storm-data-tracks/internal/resolver"
	"github.com/jonboulle/clockwork"
)

// Store is everything the processor needs from persistence.
type Store interface {
	resolver.EntityStore
	FindByLabel(ctx context.Context, label string) (*domain.StormEntity, error)
	SaveTracks(ctx context.Context, res domain.AssignmentResult, runID string) error
	ArchiveStale(ctx context.Context, now time.Time, olderThan time.Duration, runID string) (int64, error)
}

// ErrUnknownTarget is returned when a track set names a storm the store has
// never seen.
var ErrUnknownTarget = errors.New("unknown track target")

// ProcessorOptions tunes the resolution stage.
type ProcessorOptions struct {
	ActiveWindow  time.Duration
	ArchiveAfter  time.Duration
	StoreRetryMax uint64
	Tracks        resolver.TrackOptions
}

// ResolveProcessor implements Processor on top of the identity and track
// resolvers.
type ResolveProcessor struct {
	store    Store
	regions  domain.RegionResolver
	identity *resolver.IdentityResolver
	tracks   *resolver.TrackResolver
	opts     ProcessorOptions
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics

	// newBackOff is swapped in tests to avoid real sleeps.
	newBackOff func() backoff.BackOff
}

// NewProcessor wires the resolvers to store and regions.
func NewProcessor(store Store, regions domain.RegionResolver, opts ProcessorOptions, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *ResolveProcessor {
	if opts.ActiveWindow <= 0 {
		opts.ActiveWindow = domain.DefaultActiveWindow
	}
	return &ResolveProcessor{
		store:      store,
		regions:    regions,
		identity:   resolver.NewIdentityResolver(store, logger),
		tracks:     resolver.NewTrackResolver(opts.Tracks, logger),
		opts:       opts,
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

// Process dispatches on the message kind header.
func (p *ResolveProcessor) Process(ctx context.Context, raw domain.RawEvent, runID string) ([]domain.OutputEvent, error) {
	switch kind := raw.Kind(); kind {
	case domain.KindStorm:
		msg, err := domain.ParseStormBatch(raw)
		if err != nil {
			return nil, err
		}
		out, err := p.ResolveStorm(ctx, msg.Fixes, runID)
		if err != nil {
			return nil, err
		}
		return []domain.OutputEvent{out}, nil
	case domain.KindTracks:
		msg, err := domain.ParseTrackSet(raw)
		if err != nil {
			return nil, err
		}
		out, err := p.AssignTracks(ctx, msg, runID)
		if err != nil {
			return nil, err
		}
		return []domain.OutputEvent{out}, nil
	default:
		return nil, fmt.Errorf("unsupported message kind %q", kind)
	}
}

// ResolveStorm normalizes one bulletin, resolves it against the store, and
// applies the outcome.
func (p *ResolveProcessor) ResolveStorm(ctx context.Context, fixes []domain.BestTrackFix, runID string) (domain.OutputEvent, error) {
	now := p.clock.Now().UTC()
	c, err := domain.NormalizeStorm(fixes, domain.NormalizeOptions{Now: now, ActiveWindow: p.opts.ActiveWindow})
	if err != nil {
		return domain.OutputEvent{}, err
	}

	region, err := p.regions.RegionByCode(ctx, c.Basin)
	switch {
	case errors.Is(err, domain.ErrUnknownRegion):
		c.RegionID = 0
	case err != nil:
		return domain.OutputEvent{}, fmt.Errorf("resolve region %s: %w", c.Basin, err)
	default:
		c.RegionID = region.ID
	}

	outcome, err := p.identity.Resolve(ctx, c, now)
	if err != nil {
		return domain.OutputEvent{}, err
	}

	id, err := p.apply(ctx, outcome, runID)
	if err != nil {
		return domain.OutputEvent{}, err
	}
	p.metrics.Resolutions.WithLabelValues(string(outcome.Kind), string(outcome.Reason)).Inc()

	p.logger.Debug("storm resolved",
		"key", c.Key(),
		"kind", outcome.Kind,
		"reason", outcome.Reason,
		"storm_id", id,
		"run_id", runID,
	)
	return domain.SerializeOutcome(outcome, id, runID)
}

// apply writes the outcome, retrying transient store failures.
func (p *ResolveProcessor) apply(ctx context.Context, o domain.Outcome, runID string) (int64, error) {
	if !o.Mutates() {
		return o.EntityID, nil
	}

	start := p.clock.Now()
	defer func() {
		p.metrics.StoreApplyDuration.Observe(p.clock.Since(start).Seconds())
	}()

	var id int64
	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 {
			p.metrics.StoreRetries.Inc()
		}
		var err error
		id, err = p.store.Apply(ctx, o, runID)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(p.newBackOff(), p.opts.StoreRetryMax), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return 0, &resolver.StoreError{Op: "apply " + string(o.Kind), Err: err}
	}
	return id, nil
}

// retryable reports whether a store failure may succeed on a second try.
// Missing rows and cancelled contexts never do.
func retryable(err error) bool {
	return !errors.Is(err, domain.ErrEntityNotFound) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// AssignTracks resolves one model run against its target storm and stores
// the assigned members.
func (p *ResolveProcessor) AssignTracks(ctx context.Context, msg domain.TrackSetMessage, runID string) (domain.OutputEvent, error) {
	entity, err := p.store.FindByLabel(ctx, msg.TargetKey)
	if err != nil {
		return domain.OutputEvent{}, &resolver.StoreError{Op: "find by label", Err: err}
	}
	if entity == nil {
		return domain.OutputEvent{}, fmt.Errorf("%w: %s", ErrUnknownTarget, msg.TargetKey)
	}

	target := domain.DisturbanceFromEntity(*entity)
	res := p.tracks.WithEnsembleMean(msg.EnsembleMean || p.opts.Tracks.EnsembleMean).
		Assign(msg.Run, msg.TargetCount, target)

	if err := p.store.SaveTracks(ctx, res, runID); err != nil {
		return domain.OutputEvent{}, &resolver.StoreError{Op: "save tracks", Err: err}
	}
	for _, a := range res.Members {
		p.metrics.TrackAssignments.WithLabelValues(string(a.Method)).Inc()
	}

	p.logger.Debug("tracks assigned",
		"model", res.ModelID,
		"init", res.InitTime,
		"target", target.Label,
		"members", len(res.Members),
		"unassigned", len(res.Unassigned()),
		"run_id", runID,
	)
	return domain.SerializeAssignment(res, runID)
}

// Sweep archives storms that have not reported within ArchiveAfter.
func (p *ResolveProcessor) Sweep(ctx context.Context, runID string) error {
	if p.opts.ArchiveAfter <= 0 {
		return nil
	}
	n, err := p.store.ArchiveStale(ctx, p.clock.Now().UTC(), p.opts.ArchiveAfter, runID)
	if err != nil {
		return err
	}
	if n > 0 {
		p.metrics.StormsArchived.Add(float64(n))
		p.logger.Info("storms archived", "count", n, "run_id", runID)
	}
	return nil
}
