// Package sqlite persists storms, regions, and ensemble tracks in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/storm-data-tracks/internal/domain"
	"github.com/jonboulle/clockwork"

	_ "modernc.org/sqlite"
)

// timeLayout is the canonical TEXT encoding for times. It sorts
// lexicographically, so range queries compare strings.
const timeLayout = "2006-01-02T15:04:05Z"

// ErrNotFound is returned when an update targets a missing storm.
var ErrNotFound = domain.ErrEntityNotFound

// Store implements the resolver's EntityStore plus region and track
// persistence on a single SQLite database.
type Store struct {
	db     *sql.DB
	clock  clockwork.Clock
	logger *slog.Logger
}

// Open connects to the database at path (":memory:" for an in-memory
// database) and applies migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Resolution is single-writer; one connection also keeps an in-memory
	// database alive across calls.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := runMigrations(db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, clock: clockwork.NewRealClock(), logger: logger}, nil
}

// WithClock replaces the clock stamping created_at and updated_at.
func (s *Store) WithClock(c clockwork.Clock) *Store {
	s.clock = c
	return s
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite not reachable: %w", err)
	}
	return nil
}

const stormColumns = `id, identity_key, provisional_key, number, annual_sequence, region_id, season,
	start_time, start_lat, start_lon, end_time, end_lat, end_lon, status, display_name`

// FindByIdentityKey returns the most recent storm carrying key, or nil.
func (s *Store) FindByIdentityKey(ctx context.Context, key string) (*domain.StormEntity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+stormColumns+` FROM storms WHERE identity_key = ? ORDER BY start_time DESC, id DESC LIMIT 1`, key)
	e, err := scanStorm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find storm %s: %w", key, err)
	}
	return &e, nil
}

// FindByLabel returns the storm a tracker label refers to: a named storm by
// identity key, or an invest by provisional key. The latest one wins.
func (s *Store) FindByLabel(ctx context.Context, label string) (*domain.StormEntity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+stormColumns+` FROM storms
		 WHERE identity_key = ? OR (identity_key IS NULL AND provisional_key = ?)
		 ORDER BY end_time DESC, id DESC LIMIT 1`, label, label)
	e, err := scanStorm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find storm by label %s: %w", label, err)
	}
	return &e, nil
}

// FindByRegionAndStart returns storms of class in the region starting at start.
func (s *Store) FindByRegionAndStart(ctx context.Context, regionID int64, start time.Time, class domain.DisturbanceClass) ([]domain.StormEntity, error) {
	lo, hi := numberRange(class)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stormColumns+` FROM storms
		 WHERE region_id = ? AND start_time = ? AND number BETWEEN ? AND ?
		 ORDER BY id`, regionID, formatTime(start), lo, hi)
	if err != nil {
		return nil, fmt.Errorf("query storms by start: %w", err)
	}
	return scanStorms(rows)
}

// FindProvisionalByWindow returns invests with provisionalKey in the region
// whose start lies within tolerance of start.
func (s *Store) FindProvisionalByWindow(ctx context.Context, regionID int64, provisionalKey string, start time.Time, tolerance time.Duration) ([]domain.StormEntity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stormColumns+` FROM storms
		 WHERE region_id = ? AND provisional_key = ? AND identity_key IS NULL
		   AND start_time BETWEEN ? AND ?
		 ORDER BY id`,
		regionID, provisionalKey, formatTime(start.Add(-tolerance)), formatTime(start.Add(tolerance)))
	if err != nil {
		return nil, fmt.Errorf("query provisional storms: %w", err)
	}
	return scanStorms(rows)
}

// MaxAnnualSequence returns the highest sequence issued for season/region.
func (s *Store) MaxAnnualSequence(ctx context.Context, season int, regionID int64) (int, bool, error) {
	var seq int
	err := s.db.QueryRowContext(ctx,
		`SELECT last_issued FROM annual_sequences WHERE season = ? AND region_id = ?`, season, regionID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query annual sequence: %w", err)
	}
	return seq, true, nil
}

// Apply writes a mutating outcome in one transaction and returns the storm
// id. Non-mutating outcomes are a no-op.
func (s *Store) Apply(ctx context.Context, o domain.Outcome, runID string) (id int64, err error) {
	if !o.Mutates() {
		return o.EntityID, nil
	}
	updated := o.Updated()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin apply: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := formatTime(s.clock.Now())
	switch o.Kind {
	case domain.OutcomeNew:
		res, execErr := tx.ExecContext(ctx,
			`INSERT INTO storms (identity_key, provisional_key, number, annual_sequence, region_id, season,
			   start_time, start_lat, start_lon, end_time, end_lat, end_lon, status, display_name,
			   run_id, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			nullString(updated.IdentityKey), updated.ProvisionalKey, updated.Number, nullInt(updated.AnnualSequence),
			updated.RegionID, updated.Season,
			formatTime(updated.Start.Time), updated.Start.Position.Lat, updated.Start.Position.Lon,
			formatTime(updated.End.Time), updated.End.Position.Lat, updated.End.Position.Lon,
			string(updated.Status), updated.DisplayName, runID, now, now)
		if execErr != nil {
			return 0, fmt.Errorf("insert storm %s: %w", o.Candidate.Key(), execErr)
		}
		if id, err = res.LastInsertId(); err != nil {
			return 0, fmt.Errorf("insert storm id: %w", err)
		}
	default:
		res, execErr := tx.ExecContext(ctx,
			`UPDATE storms SET identity_key = ?, provisional_key = ?, number = ?, annual_sequence = ?,
			   season = ?, start_time = ?, start_lat = ?, start_lon = ?, end_time = ?, end_lat = ?, end_lon = ?,
			   status = ?, display_name = ?, run_id = ?, updated_at = ?
			 WHERE id = ?`,
			nullString(updated.IdentityKey), updated.ProvisionalKey, updated.Number, nullInt(updated.AnnualSequence),
			updated.Season, formatTime(updated.Start.Time), updated.Start.Position.Lat, updated.Start.Position.Lon,
			formatTime(updated.End.Time), updated.End.Position.Lat, updated.End.Position.Lon,
			string(updated.Status), updated.DisplayName, runID, now, o.EntityID)
		if execErr != nil {
			return 0, fmt.Errorf("update storm %d: %w", o.EntityID, execErr)
		}
		n, rowsErr := res.RowsAffected()
		if rowsErr != nil {
			return 0, fmt.Errorf("update storm %d: %w", o.EntityID, rowsErr)
		}
		if n != 1 {
			err = fmt.Errorf("update storm %d: %w", o.EntityID, ErrNotFound)
			return 0, err
		}
		id = o.EntityID
	}

	if updated.AnnualSequence != nil {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO annual_sequences (season, region_id, last_issued) VALUES (?, ?, ?)
			 ON CONFLICT (season, region_id) DO UPDATE SET last_issued = MAX(last_issued, excluded.last_issued)`,
			updated.Season, updated.RegionID, *updated.AnnualSequence); err != nil {
			return 0, fmt.Errorf("record annual sequence: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit apply: %w", err)
	}
	s.logger.Debug("outcome applied", "kind", o.Kind, "storm_id", id, "run_id", runID)
	return id, nil
}

// ArchiveStale flips Active storms whose last fix is older than olderThan
// to Archive and returns how many changed.
func (s *Store) ArchiveStale(ctx context.Context, now time.Time, olderThan time.Duration, runID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE storms SET status = ?, run_id = ?, updated_at = ?
		 WHERE status = ? AND end_time < ?`,
		string(domain.StatusArchive), runID, formatTime(now),
		string(domain.StatusActive), formatTime(now.Add(-olderThan)))
	if err != nil {
		return 0, fmt.Errorf("archive stale storms: %w", err)
	}
	return res.RowsAffected()
}

// RegionByCode resolves a basin code to its region.
func (s *Store) RegionByCode(ctx context.Context, code string) (domain.Region, error) {
	var r domain.Region
	err := s.db.QueryRowContext(ctx,
		`SELECT id, short_name, long_name FROM regions WHERE short_name = ?`, strings.ToUpper(code)).
		Scan(&r.ID, &r.ShortName, &r.LongName)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Region{}, fmt.Errorf("%w: %s", domain.ErrUnknownRegion, code)
	}
	if err != nil {
		return domain.Region{}, fmt.Errorf("query region %s: %w", code, err)
	}
	return r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStorm(row rowScanner) (domain.StormEntity, error) {
	var (
		e                  domain.StormEntity
		identityKey        sql.NullString
		annualSeq          sql.NullInt64
		startTime, endTime string
		status             string
	)
	if err := row.Scan(&e.ID, &identityKey, &e.ProvisionalKey, &e.Number, &annualSeq, &e.RegionID, &e.Season,
		&startTime, &e.Start.Position.Lat, &e.Start.Position.Lon,
		&endTime, &e.End.Position.Lat, &e.End.Position.Lon, &status, &e.DisplayName); err != nil {
		return domain.StormEntity{}, err
	}
	e.IdentityKey = identityKey.String
	if annualSeq.Valid {
		seq := int(annualSeq.Int64)
		e.AnnualSequence = &seq
	}
	var err error
	if e.Start.Time, err = parseTime(startTime); err != nil {
		return domain.StormEntity{}, err
	}
	if e.End.Time, err = parseTime(endTime); err != nil {
		return domain.StormEntity{}, err
	}
	e.Status = domain.Status(status)
	return e, nil
}

func scanStorms(rows *sql.Rows) ([]domain.StormEntity, error) {
	defer rows.Close()
	var out []domain.StormEntity
	for rows.Next() {
		e, err := scanStorm(rows)
		if err != nil {
			return nil, fmt.Errorf("scan storm: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func numberRange(class domain.DisturbanceClass) (int, int) {
	switch class {
	case domain.ClassInvest:
		return domain.MinInvestNumber, domain.MaxInvestNumber
	case domain.ClassNamed:
		return domain.MinNamedNumber, domain.MaxNamedNumber
	default:
		return 0, -1
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
