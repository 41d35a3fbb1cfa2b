package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/couchcryptid/storm-data-tracks/internal/domain"
)

// EntityStore is the query and persistence boundary for storm entities.
// Queries return point-in-time snapshots; Apply is the only mutating call
// and must be atomic per entity.
type EntityStore interface {
	// FindByIdentityKey returns nil, nil when no entity carries key.
	FindByIdentityKey(ctx context.Context, key string) (*domain.StormEntity, error)
	// FindByRegionAndStart returns entities of the given class in the region
	// whose start time equals start, ordered by id.
	FindByRegionAndStart(ctx context.Context, regionID int64, start time.Time, class domain.DisturbanceClass) ([]domain.StormEntity, error)
	// FindProvisionalByWindow returns invests in the region with the given
	// provisional key whose start lies within tolerance of start, ordered by id.
	FindProvisionalByWindow(ctx context.Context, regionID int64, provisionalKey string, start time.Time, tolerance time.Duration) ([]domain.StormEntity, error)
	// MaxAnnualSequence returns the highest sequence ever issued for the
	// season and region; ok is false when none has been issued.
	MaxAnnualSequence(ctx context.Context, season int, regionID int64) (seq int, ok bool, err error)
	// Apply persists a mutating outcome stamped with runID and returns the
	// affected entity id.
	Apply(ctx context.Context, outcome domain.Outcome, runID string) (int64, error)
}

// StoreError wraps a failure returned by the EntityStore.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
