package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/couchcryptid/storm-data-tracks/internal/adapter/sqlite"
	"github.com/couchcryptid/storm-data-tracks/internal/domain"
	"github.com/couchcryptid/storm-data-tracks/internal/observability"
	"github.com/couchcryptid/storm-data-tracks/internal/resolver"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRun = "RESOLVE__test"

var genesis = time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store *sqlite.Store
	clock *clockwork.FakeClock
	proc  *ResolveProcessor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.Open(context.Background(), ":memory:", discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clock := clockwork.NewFakeClockAt(genesis.Add(30 * time.Hour))
	domain.SetClock(clock)
	t.Cleanup(func() { domain.SetClock(nil) })

	proc := NewProcessor(store, store, ProcessorOptions{
		ArchiveAfter:  12 * time.Hour,
		StoreRetryMax: 2,
	}, clock, discardLogger(), observability.NewMetricsForTesting())
	proc.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return &fixture{store: store, clock: clock, proc: proc}
}

func fixes(number int, name string, wind int) []domain.BestTrackFix {
	return []domain.BestTrackFix{
		{Basin: "AL", Number: number, Time: genesis, Lat: 14, Lon: -45, MaxWind: wind / 2, Name: name},
		{Basin: "AL", Number: number, Time: genesis.Add(24 * time.Hour), Lat: 15, Lon: -47, MaxWind: wind, Name: name},
	}
}

func stormRaw(t *testing.T, fx []domain.BestTrackFix) domain.RawEvent {
	t.Helper()
	value, err := json.Marshal(domain.StormBatchMessage{Fixes: fx})
	require.NoError(t, err)
	return domain.RawEvent{Value: value, Headers: map[string]string{domain.HeaderKind: domain.KindStorm}}
}

func tracksRaw(t *testing.T, msg domain.TrackSetMessage) domain.RawEvent {
	t.Helper()
	value, err := json.Marshal(msg)
	require.NoError(t, err)
	return domain.RawEvent{Value: value, Headers: map[string]string{domain.HeaderKind: domain.KindTracks}}
}

func decodeResolution(t *testing.T, out []domain.OutputEvent) domain.ResolutionRecord {
	t.Helper()
	require.Len(t, out, 1)
	var rec domain.ResolutionRecord
	require.NoError(t, json.Unmarshal(out[0].Value, &rec))
	return rec
}

func TestProcess_InvestThenNamedTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.proc.Process(ctx, stormRaw(t, fixes(91, "INVEST", 30)), testRun)
	require.NoError(t, err)
	invest := decodeResolution(t, out)
	assert.Equal(t, domain.OutcomeNew, invest.Kind)
	assert.Equal(t, []byte("AL912024"), out[0].Key)
	assert.Nil(t, invest.AnnualSequence)

	out, err = f.proc.Process(ctx, stormRaw(t, fixes(5, "Ernesto", 45)), testRun)
	require.NoError(t, err)
	named := decodeResolution(t, out)

	want := domain.ResolutionRecord{
		Kind:           domain.OutcomeTransitioned,
		EntityID:       invest.EntityID,
		IdentityKey:    "AL052024",
		ProvisionalKey: "AL052024",
		RegionID:       1,
		DisplayName:    "TS-Ernesto",
		Status:         domain.StatusActive,
		RunID:          testRun,
		ResolvedAt:     f.clock.Now().UTC(),
	}
	seq := 1
	want.AnnualSequence = &seq
	if diff := cmp.Diff(want, named, cmpIgnoreChanged); diff != "" {
		t.Fatalf("transition record mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "transitioned", out[0].Headers["outcome"])

	stored, err := f.store.FindByIdentityKey(ctx, "AL052024")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, invest.EntityID, stored.ID)
}

var cmpIgnoreChanged = cmp.FilterPath(func(p cmp.Path) bool {
	return p.Last().String() == ".Changed"
}, cmp.Ignore())

func TestProcess_ReplayIsUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.proc.Process(ctx, stormRaw(t, fixes(5, "Ernesto", 45)), testRun)
	require.NoError(t, err)
	out, err := f.proc.Process(ctx, stormRaw(t, fixes(5, "Ernesto", 45)), "RESOLVE__second")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUnchanged, decodeResolution(t, out).Kind)
}

func TestProcess_UnknownRegionIsRejected(t *testing.T) {
	f := newFixture(t)
	fx := fixes(5, "Ernesto", 45)
	for i := range fx {
		fx[i].Basin = "XX"
	}

	out, err := f.proc.Process(context.Background(), stormRaw(t, fx), testRun)
	require.NoError(t, err)
	rec := decodeResolution(t, out)
	assert.Equal(t, domain.OutcomeRejected, rec.Kind)
	assert.Equal(t, domain.ReasonUnknownRegion, rec.Reason)
}

func TestProcess_MalformedInputs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.proc.Process(ctx, stormRaw(t, fixes(75, "", 30)), testRun)
	require.ErrorIs(t, err, domain.ErrReservedDesignator)

	_, err = f.proc.Process(ctx, domain.RawEvent{Value: []byte(`{"fixes":[]}`)}, testRun)
	require.ErrorIs(t, err, domain.ErrEmptyBatch)

	_, err = f.proc.Process(ctx, domain.RawEvent{Value: []byte(`{}`), Headers: map[string]string{domain.HeaderKind: "radar"}}, testRun)
	require.Error(t, err)
}

func TestProcess_AssignTracks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.proc.Process(ctx, stormRaw(t, fixes(5, "Ernesto", 45)), testRun)
	require.NoError(t, err)

	label := "AL052024"
	steps := func(lat float64, n int) []domain.Step {
		var out []domain.Step
		for i := range n {
			out = append(out, domain.Step{OffsetHours: float64(i * 6), Position: domain.GeoPoint{Lat: lat + float64(i)*0.5, Lon: -47}, Intensity: 45})
		}
		return out
	}
	msg := domain.TrackSetMessage{
		TargetKey:   label,
		TargetCount: 2,
		Run: domain.CandidateTrackSet{
			ModelID:  "GEFS",
			InitTime: genesis.Add(24 * time.Hour),
			Members: []domain.TrackMember{
				{EnsembleIndex: 1, Label: &label, Steps: steps(15, 4)},
				{EnsembleIndex: 2, Steps: steps(15.2, 3)},
			},
		},
	}

	out, err := f.proc.Process(ctx, tracksRaw(t, msg), testRun)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []byte(label), out[0].Key)
	assert.Equal(t, "GEFS", out[0].Headers["model"])

	var rec domain.AssignmentRecord
	require.NoError(t, json.Unmarshal(out[0].Value, &rec))
	assert.Equal(t, map[int]domain.AssignMethod{1: domain.MethodDirect, 2: domain.MethodProximity}, rec.Methods)
	assert.Empty(t, rec.Unassigned)

	stored, err := f.store.FindByIdentityKey(ctx, label)
	require.NoError(t, err)
	tracks, err := f.store.Tracks(ctx, stored.ID, "GEFS", msg.Run.InitTime)
	require.NoError(t, err)
	assert.Len(t, tracks, 2)
}

func TestProcess_AssignTracksUnknownTarget(t *testing.T) {
	f := newFixture(t)
	msg := domain.TrackSetMessage{TargetKey: "EP142024", TargetCount: 1, Run: domain.CandidateTrackSet{ModelID: "GEFS", InitTime: genesis}}

	_, err := f.proc.Process(context.Background(), tracksRaw(t, msg), testRun)
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestProcess_OversizedTrackSetRejected(t *testing.T) {
	f := newFixture(t)
	raw := domain.RawEvent{
		Value:   []byte(`{"target_key":"AL052024","target_count":9223372036854775807,"run":{"model_id":"GEFS"}}`),
		Headers: map[string]string{domain.HeaderKind: domain.KindTracks},
	}

	_, err := f.proc.Process(context.Background(), raw, testRun)
	assert.ErrorIs(t, err, domain.ErrMalformedCandidate)
}

func TestSweep_ArchivesQuietStorms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.proc.Process(ctx, stormRaw(t, fixes(5, "Ernesto", 45)), testRun)
	require.NoError(t, err)

	require.NoError(t, f.proc.Sweep(ctx, testRun))
	stored, err := f.store.FindByIdentityKey(ctx, "AL052024")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, stored.Status)

	f.clock.Advance(24 * time.Hour)
	require.NoError(t, f.proc.Sweep(ctx, "RESOLVE__later"))
	stored, err = f.store.FindByIdentityKey(ctx, "AL052024")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusArchive, stored.Status)
}

// flakyStore fails the first failures Apply calls, then delegates.
type flakyStore struct {
	*sqlite.Store
	failures int
	calls    int
	err      error
}

func (s *flakyStore) Apply(ctx context.Context, o domain.Outcome, runID string) (int64, error) {
	s.calls++
	if s.calls <= s.failures {
		return 0, s.err
	}
	return s.Store.Apply(ctx, o, runID)
}

func TestApply_RetriesTransientFailures(t *testing.T) {
	f := newFixture(t)
	flaky := &flakyStore{Store: f.store, failures: 2, err: errors.New("database is locked")}
	f.proc.store = flaky
	f.proc.identity = resolver.NewIdentityResolver(flaky, discardLogger())

	out, err := f.proc.Process(context.Background(), stormRaw(t, fixes(5, "Ernesto", 45)), testRun)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNew, decodeResolution(t, out).Kind)
	assert.Equal(t, 3, flaky.calls)
}

func TestApply_GivesUpAfterRetryBudget(t *testing.T) {
	f := newFixture(t)
	flaky := &flakyStore{Store: f.store, failures: 10, err: errors.New("database is locked")}
	f.proc.store = flaky
	f.proc.identity = resolver.NewIdentityResolver(flaky, discardLogger())

	_, err := f.proc.Process(context.Background(), stormRaw(t, fixes(5, "Ernesto", 45)), testRun)
	var storeErr *resolver.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, 3, flaky.calls)
}

func TestApply_MissingEntityIsPermanent(t *testing.T) {
	f := newFixture(t)
	flaky := &flakyStore{Store: f.store, failures: 10, err: domain.ErrEntityNotFound}
	f.proc.store = flaky
	f.proc.identity = resolver.NewIdentityResolver(flaky, discardLogger())

	_, err := f.proc.Process(context.Background(), stormRaw(t, fixes(5, "Ernesto", 45)), testRun)
	require.ErrorIs(t, err, domain.ErrEntityNotFound)
	assert.Equal(t, 1, flaky.calls)
}
