package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/storm-data-tracks/internal/domain"
	"github.com/couchcryptid/storm-data-tracks/internal/observability"
	"github.com/couchcryptid/storm-data-tracks/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockExtractor struct {
	batches [][]domain.RawEvent
	index   atomic.Int64
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawEvent, error) {
	i := int(m.index.Add(1) - 1)
	if i >= len(m.batches) {
		// block until context cancelled to simulate waiting for messages
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.batches[i], nil
}

type mockProcessor struct {
	mu     sync.Mutex
	err    error
	runIDs []string
	sweeps []string
}

func (m *mockProcessor) Process(_ context.Context, raw domain.RawEvent, runID string) ([]domain.OutputEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runIDs = append(m.runIDs, runID)
	if m.err != nil {
		return nil, m.err
	}
	return []domain.OutputEvent{{Key: raw.Key, Value: raw.Value}}, nil
}

func (m *mockProcessor) Sweep(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweeps = append(m.sweeps, runID)
	return nil
}

type mockLoader struct {
	mu     sync.Mutex
	loaded []domain.OutputEvent
}

func (m *mockLoader) LoadBatch(_ context.Context, events []domain.OutputEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = append(m.loaded, events...)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMetrics() *observability.Metrics {
	return observability.NewMetricsForTesting()
}

func rawEvent(key string) domain.RawEvent {
	return domain.RawEvent{Key: []byte(key), Value: []byte(`{}`)}
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	ext := &mockExtractor{batches: [][]domain.RawEvent{{rawEvent("AL912024"), rawEvent("AL052024")}}}
	proc := &mockProcessor{}
	ldr := &mockLoader{}

	p := pipeline.New(ext, proc, ldr, discardLogger(), newTestMetrics(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	require.Len(t, ldr.loaded, 2)
	assert.Equal(t, []byte("AL912024"), ldr.loaded[0].Key)
	require.NoError(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_OneRunIDPerBatch(t *testing.T) {
	ext := &mockExtractor{batches: [][]domain.RawEvent{
		{rawEvent("a"), rawEvent("b")},
		{rawEvent("c")},
	}}
	proc := &mockProcessor{}

	p := pipeline.New(ext, proc, &mockLoader{}, discardLogger(), newTestMetrics(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))

	require.Len(t, proc.runIDs, 3)
	assert.Equal(t, proc.runIDs[0], proc.runIDs[1])
	assert.NotEqual(t, proc.runIDs[0], proc.runIDs[2])
	assert.True(t, strings.HasPrefix(proc.runIDs[0], "RESOLVE__"))
	assert.Equal(t, []string{proc.runIDs[0], proc.runIDs[2]}, proc.sweeps)
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	ldr := &mockLoader{}
	p := pipeline.New(&mockExtractor{}, &mockProcessor{}, ldr, discardLogger(), newTestMetrics(), 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, ldr.loaded)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_ProcessErrorCommitsAndSkips(t *testing.T) {
	var commits atomic.Int64
	raw := rawEvent("AL702024")
	raw.Topic = "parsed-track-bulletins"
	raw.Commit = func(_ context.Context) error {
		commits.Add(1)
		return nil
	}

	ext := &mockExtractor{batches: [][]domain.RawEvent{{raw}}}
	proc := &mockProcessor{err: domain.ErrReservedDesignator}
	ldr := &mockLoader{}

	p := pipeline.New(ext, proc, ldr, discardLogger(), newTestMetrics(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, ldr.loaded)
	assert.Equal(t, int64(1), commits.Load())
}

func TestPipeline_Run_CommitsAfterLoad(t *testing.T) {
	commitCalled := false
	raw := rawEvent("AL052024")
	raw.Commit = func(_ context.Context) error {
		commitCalled = true
		return nil
	}

	ext := &mockExtractor{batches: [][]domain.RawEvent{{raw}}}
	p := pipeline.New(ext, &mockProcessor{}, &mockLoader{}, discardLogger(), newTestMetrics(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.True(t, commitCalled)
}

type failingLoader struct{ calls atomic.Int64 }

func (f *failingLoader) LoadBatch(_ context.Context, _ []domain.OutputEvent) error {
	f.calls.Add(1)
	return errors.New("broker unavailable")
}

func TestPipeline_Run_LoadFailureLeavesOffsetsUncommitted(t *testing.T) {
	commitCalled := false
	raw := rawEvent("AL052024")
	raw.Commit = func(_ context.Context) error {
		commitCalled = true
		return nil
	}

	ldr := &failingLoader{}
	ext := &mockExtractor{batches: [][]domain.RawEvent{{raw}}}
	p := pipeline.New(ext, &mockProcessor{}, ldr, discardLogger(), newTestMetrics(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.Equal(t, int64(1), ldr.calls.Load())
	assert.False(t, commitCalled)
}

func TestNewRunID_Unique(t *testing.T) {
	a, b := pipeline.NewRunID(), pipeline.NewRunID()
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "RESOLVE__"))
}
