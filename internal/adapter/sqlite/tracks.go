package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/storm-data-tracks/internal/domain"
)

// SaveTracks upserts every assigned member of res under the target storm.
// Re-saving a run replaces its steps and drops tracks for indices that are
// no longer assigned. Unassigned indices are not stored.
func (s *Store) SaveTracks(ctx context.Context, res domain.AssignmentResult, runID string) (err error) {
	if res.Target.EntityID == 0 {
		return fmt.Errorf("save tracks for %s: %w", res.Target.Label, ErrNotFound)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tracks: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var assigned []int
	for _, idx := range res.Indices() {
		if res.Members[idx].Member != nil {
			assigned = append(assigned, idx)
		}
	}

	if err = dropStaleTracks(ctx, tx, res, assigned); err != nil {
		return err
	}

	for _, idx := range assigned {
		a := res.Members[idx]

		var trackID int64
		if err = tx.QueryRowContext(ctx,
			`INSERT INTO tracks (storm_id, model_id, init_time, ensemble_index, method, run_id)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (storm_id, model_id, init_time, ensemble_index)
			 DO UPDATE SET method = excluded.method, run_id = excluded.run_id
			 RETURNING id`,
			res.Target.EntityID, res.ModelID, formatTime(res.InitTime), idx, string(a.Method), runID).
			Scan(&trackID); err != nil {
			return fmt.Errorf("upsert track %s/%d: %w", res.ModelID, idx, err)
		}

		if _, err = tx.ExecContext(ctx, `DELETE FROM steps WHERE track_id = ?`, trackID); err != nil {
			return fmt.Errorf("clear steps for track %d: %w", trackID, err)
		}
		for _, st := range a.Member.Steps {
			if _, err = tx.ExecContext(ctx,
				`INSERT INTO steps (track_id, offset_hours, lat, lon, intensity, pressure) VALUES (?, ?, ?, ?, ?, ?)`,
				trackID, st.OffsetHours, st.Position.Lat, st.Position.Lon, st.Intensity, st.Pressure); err != nil {
				return fmt.Errorf("insert step %v for track %d: %w", st.OffsetHours, trackID, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save tracks: %w", err)
	}
	return nil
}

// dropStaleTracks deletes the run's tracks whose index is not in keep.
// Steps follow through ON DELETE CASCADE.
func dropStaleTracks(ctx context.Context, tx *sql.Tx, res domain.AssignmentResult, keep []int) error {
	query := `DELETE FROM tracks WHERE storm_id = ? AND model_id = ? AND init_time = ?`
	args := []any{res.Target.EntityID, res.ModelID, formatTime(res.InitTime)}
	if len(keep) > 0 {
		query += ` AND ensemble_index NOT IN (?` + strings.Repeat(`, ?`, len(keep)-1) + `)`
		for _, idx := range keep {
			args = append(args, idx)
		}
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("drop stale tracks for %s/%s: %w", res.Target.Label, res.ModelID, err)
	}
	return nil
}

// TrackSummary is one stored track row with its step count.
type TrackSummary struct {
	EnsembleIndex int
	Method        domain.AssignMethod
	Steps         int
}

// Tracks lists the stored tracks of a storm for one model run.
func (s *Store) Tracks(ctx context.Context, stormID int64, modelID string, initTime time.Time) ([]TrackSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.ensemble_index, t.method, COUNT(st.track_id)
		 FROM tracks t LEFT JOIN steps st ON st.track_id = t.id
		 WHERE t.storm_id = ? AND t.model_id = ? AND t.init_time = ?
		 GROUP BY t.id ORDER BY t.ensemble_index`,
		stormID, modelID, formatTime(initTime))
	if err != nil {
		return nil, fmt.Errorf("query tracks: %w", err)
	}
	defer rows.Close()

	var out []TrackSummary
	for rows.Next() {
		var ts TrackSummary
		var method string
		if err := rows.Scan(&ts.EnsembleIndex, &method, &ts.Steps); err != nil {
			return nil, fmt.Errorf("scan track: %w", err)
		}
		ts.Method = domain.AssignMethod(method)
		out = append(out, ts)
	}
	return out, rows.Err()
}
