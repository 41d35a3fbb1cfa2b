package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-tracks/internal/domain"
	"github.com/couchcryptid/storm-data-tracks/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// BatchExtractor reads up to batchSize raw events from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Processor resolves one raw message into zero or more output events.
// Sweep runs once per batch after every message has been processed.
type Processor interface {
	Process(ctx context.Context, raw domain.RawEvent, runID string) ([]domain.OutputEvent, error)
	Sweep(ctx context.Context, runID string) error
}

// BatchLoader writes multiple output events to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, events []domain.OutputEvent) error
}

// Pipeline orchestrates the extract-resolve-load loop.
type Pipeline struct {
	extractor BatchExtractor
	processor Processor
	loader    BatchLoader
	logger    *slog.Logger
	metrics   *observability.Metrics
	clock     clockwork.Clock
	ready     atomic.Bool
	batchSize int
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, p Processor, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor: e,
		processor: p,
		loader:    l,
		logger:    logger,
		metrics:   metrics,
		clock:     clockwork.NewRealClock(),
		batchSize: batchSize,
	}
}

// WithClock replaces the clock used for batch timing and backoff sleeps.
func (p *Pipeline) WithClock(c clockwork.Clock) *Pipeline {
	p.clock = c
	return p
}

// CheckReadiness returns nil if the pipeline has processed at least one batch,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not processed any messages yet")
	}
	return nil
}

// NewRunID returns the identifier stamped on every write of one batch.
func NewRunID() string {
	return "RESOLVE__" + uuid.NewString()
}

// Run executes the batch loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// processBatch runs one extract-resolve-load cycle. Returns false if the pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	start := p.clock.Now()

	rawBatch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	if len(rawBatch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.MessagesConsumed.Add(float64(len(rawBatch)))
	p.metrics.BatchSize.Observe(float64(len(rawBatch)))
	*backoff = 200 * time.Millisecond

	runID := NewRunID()
	if err := p.resolveAndLoad(ctx, rawBatch, runID); err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("load batch failed", "error", err, "run_id", runID)
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	if err := p.processor.Sweep(ctx, runID); err != nil {
		p.logger.Warn("post-batch sweep failed", "error", err, "run_id", runID)
	}

	p.metrics.BatchProcessingDuration.Observe(p.clock.Since(start).Seconds())
	p.ready.Store(true)
	return true
}

// resolveAndLoad processes each message in the batch, loads the resulting
// events, and commits offsets. A message that fails to process is logged,
// counted, and committed so it is not redelivered. Offsets stay uncommitted
// when the load fails.
func (p *Pipeline) resolveAndLoad(ctx context.Context, rawBatch []domain.RawEvent, runID string) error {
	var outBatch []domain.OutputEvent
	handled := make([]domain.RawEvent, 0, len(rawBatch))

	for _, raw := range rawBatch {
		out, err := p.processor.Process(ctx, raw, runID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("process failed, skipping message",
				"error", err,
				"kind", raw.Kind(),
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
				"run_id", runID,
			)
			p.metrics.ProcessErrors.Inc()
			p.commitOffset(ctx, raw)
			continue
		}
		outBatch = append(outBatch, out...)
		handled = append(handled, raw)
	}

	if len(outBatch) > 0 {
		if err := p.loader.LoadBatch(ctx, outBatch); err != nil {
			return fmt.Errorf("load %d events: %w", len(outBatch), err)
		}
		p.metrics.MessagesProduced.Add(float64(len(outBatch)))
	}

	for _, raw := range handled {
		p.commitOffset(ctx, raw)
	}
	return nil
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !p.sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func (p *Pipeline) sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := p.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
