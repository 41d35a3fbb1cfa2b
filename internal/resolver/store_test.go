package resolver

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/couchcryptid/storm-data-tracks/internal/domain"
)

// memStore is an in-memory EntityStore used by resolver tests.
type memStore struct {
	entities []domain.StormEntity
	issued   map[[2]int64]int
	nextID   int64
	applied  []string
	err      error
}

func newMemStore(entities ...domain.StormEntity) *memStore {
	s := &memStore{issued: make(map[[2]int64]int), nextID: 1}
	for _, e := range entities {
		if e.ID >= s.nextID {
			s.nextID = e.ID + 1
		}
		if e.AnnualSequence != nil {
			s.bump(e.Season, e.RegionID, *e.AnnualSequence)
		}
		s.entities = append(s.entities, e)
	}
	return s
}

func (s *memStore) bump(season int, region int64, seq int) {
	k := [2]int64{int64(season), region}
	if seq > s.issued[k] {
		s.issued[k] = seq
	}
}

func (s *memStore) FindByIdentityKey(_ context.Context, key string) (*domain.StormEntity, error) {
	if s.err != nil {
		return nil, s.err
	}
	for _, e := range s.entities {
		if e.IdentityKey == key {
			found := e
			return &found, nil
		}
	}
	return nil, nil
}

func (s *memStore) FindByRegionAndStart(_ context.Context, regionID int64, start time.Time, class domain.DisturbanceClass) ([]domain.StormEntity, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.StormEntity
	for _, e := range s.entities {
		if e.RegionID == regionID && e.Start.Time.Equal(start) && e.Class() == class {
			out = append(out, e)
		}
	}
	return sorted(out), nil
}

func (s *memStore) FindProvisionalByWindow(_ context.Context, regionID int64, key string, start time.Time, tol time.Duration) ([]domain.StormEntity, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.StormEntity
	for _, e := range s.entities {
		d := e.Start.Time.Sub(start)
		if d < 0 {
			d = -d
		}
		if e.RegionID == regionID && e.ProvisionalKey == key && e.Class() == domain.ClassInvest && d <= tol {
			out = append(out, e)
		}
	}
	return sorted(out), nil
}

func (s *memStore) MaxAnnualSequence(_ context.Context, season int, regionID int64) (int, bool, error) {
	if s.err != nil {
		return 0, false, s.err
	}
	seq, ok := s.issued[[2]int64{int64(season), regionID}]
	return seq, ok, nil
}

func (s *memStore) Apply(_ context.Context, o domain.Outcome, runID string) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	if !o.Mutates() {
		return o.EntityID, nil
	}
	s.applied = append(s.applied, runID)
	updated := o.Updated()
	if updated.AnnualSequence != nil {
		s.bump(updated.Season, updated.RegionID, *updated.AnnualSequence)
	}
	if o.Kind == domain.OutcomeNew {
		updated.ID = s.nextID
		s.nextID++
		s.entities = append(s.entities, updated)
		return updated.ID, nil
	}
	for i := range s.entities {
		if s.entities[i].ID == o.EntityID {
			s.entities[i] = updated
			return updated.ID, nil
		}
	}
	return 0, errors.New("entity not found")
}

func (s *memStore) count(key string) int {
	n := 0
	for _, e := range s.entities {
		if e.IdentityKey == key {
			n++
		}
	}
	return n
}

func sorted(es []domain.StormEntity) []domain.StormEntity {
	sort.Slice(es, func(i, j int) bool { return es[i].ID < es[j].ID })
	return es
}
