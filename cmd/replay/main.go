// Command replay resolves a file of recorded messages against a SQLite
// database with a fixed clock. It is used for backfills and for reproducing
// production decisions offline.
//
// The input is a JSON array of envelopes, each carrying a kind ("storm" or
// "tracks") and the message payload exactly as it appears on the source topic.
//
// Usage:
//
//	go run ./cmd/replay \
//	  -db storms.db \
//	  -in data/replay/2024_al.json \
//	  -now 2024080312
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/couchcryptid/storm-data-tracks/internal/adapter/sqlite"
	"github.com/couchcryptid/storm-data-tracks/internal/domain"
	"github.com/couchcryptid/storm-data-tracks/internal/observability"
	"github.com/couchcryptid/storm-data-tracks/internal/pipeline"
	"github.com/couchcryptid/storm-data-tracks/internal/resolver"
	"github.com/jonboulle/clockwork"
)

// nowLayout matches the YYYYMMDDHH synoptic timestamps used in bulletins.
const nowLayout = "2006010215"

type envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	dbPath := flag.String("db", "storms.db", "path to the SQLite database")
	inPath := flag.String("in", "", "JSON file of recorded messages")
	nowFlag := flag.String("now", "", "resolution time as YYYYMMDDHH (default: current hour)")
	archiveAfter := flag.Duration("archive-after", 12*time.Hour, "archive storms quiet for longer than this after replay (0 disables)")
	leadTimeGate := flag.Duration("lead-time-gate", resolver.DefaultLeadTimeGate, "latest first-step lead accepted for proximity assignment")
	controlIndex := flag.Int("control-index", 0, "deterministic member excluded from the ensemble mean (0 keeps all)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	if *inPath == "" {
		flag.Usage()
		return errors.New("-in is required")
	}

	now := time.Now().UTC().Truncate(time.Hour)
	if *nowFlag != "" {
		t, err := time.Parse(nowLayout, *nowFlag)
		if err != nil {
			return fmt.Errorf("parse -now: %w", err)
		}
		now = t
	}
	clock := clockwork.NewFakeClockAt(now)
	domain.SetClock(clock)
	defer domain.SetClock(nil)

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("parse -log-level: %w", err)
	}
	// Results go to stdout; logs stay on stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	envelopes, err := readEnvelopes(*inPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := sqlite.Open(ctx, *dbPath, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	store.WithClock(clock)

	processor := pipeline.NewProcessor(store, store, pipeline.ProcessorOptions{
		ArchiveAfter: *archiveAfter,
		Tracks: resolver.TrackOptions{
			LeadTimeGate:       *leadTimeGate,
			DeterministicIndex: *controlIndex,
		},
	}, clock, logger, observability.NewMetricsForTesting())

	runID := pipeline.NewRunID()
	enc := json.NewEncoder(os.Stdout)
	var failed int
	for i, env := range envelopes {
		raw := domain.RawEvent{
			Value:   env.Payload,
			Headers: map[string]string{domain.HeaderKind: env.Kind},
			Offset:  int64(i),
		}
		out, err := processor.Process(ctx, raw, runID)
		if err != nil {
			failed++
			logger.Warn("replay message failed", "index", i, "kind", raw.Kind(), "error", err)
			continue
		}
		for _, o := range out {
			if err := enc.Encode(json.RawMessage(o.Value)); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
		}
	}
	if err := processor.Sweep(ctx, runID); err != nil {
		return fmt.Errorf("archive sweep: %w", err)
	}

	logger.Info("replay complete", "messages", len(envelopes), "failed", failed, "run_id", runID, "now", now)
	return nil
}

func readEnvelopes(path string) ([]envelope, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var envelopes []envelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return envelopes, nil
}
