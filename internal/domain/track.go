package domain

import (
	"fmt"
	"slices"
	"time"
)

// MaxEnsembleMembers bounds the target count of one track set.
const MaxEnsembleMembers = 256

// Step is one forecast position of an ensemble member.
type Step struct {
	OffsetHours float64  `json:"offset_hours"`
	Position    GeoPoint `json:"position"`
	Intensity   float64  `json:"intensity"` // max sustained wind, kt
	Pressure    float64  `json:"pressure"`  // minimum central pressure, hPa
}

// TrackMember is one realization from an ensemble run. Steps are ordered by
// OffsetHours ascending.
type TrackMember struct {
	EnsembleIndex int     `json:"ensemble_index"`
	Label         *string `json:"label,omitempty"`
	Steps         []Step  `json:"steps"`
}

// FirstValidTime is the valid time of the member's first step.
func (m TrackMember) FirstValidTime(init time.Time) time.Time {
	if len(m.Steps) == 0 {
		return init
	}
	return init.Add(hours(m.Steps[0].OffsetHours))
}

// CandidateTrackSet is the output of one model run.
type CandidateTrackSet struct {
	ModelID  string        `json:"model_id"`
	InitTime time.Time     `json:"init_time"`
	Members  []TrackMember `json:"members"`
}

// Validate checks that every member has a non-negative index and steps
// ordered by strictly increasing, non-negative offsets at valid positions.
func (s CandidateTrackSet) Validate() error {
	for i, m := range s.Members {
		if m.EnsembleIndex < 0 {
			return fmt.Errorf("%w: member %d has negative ensemble index", ErrMalformedCandidate, i)
		}
		for j, st := range m.Steps {
			if st.OffsetHours < 0 {
				return fmt.Errorf("%w: member %d step %d has negative offset", ErrMalformedCandidate, i, j)
			}
			if j > 0 && st.OffsetHours <= m.Steps[j-1].OffsetHours {
				return fmt.Errorf("%w: member %d steps out of order at %d", ErrMalformedCandidate, i, j)
			}
			if err := st.Position.Validate(); err != nil {
				return fmt.Errorf("%w: member %d step %d: %w", ErrMalformedCandidate, i, j, err)
			}
		}
	}
	return nil
}

// MaxHorizon is the largest step offset across all members, in hours.
func (s CandidateTrackSet) MaxHorizon() float64 {
	var horizon float64
	for _, m := range s.Members {
		for _, st := range m.Steps {
			if st.OffsetHours > horizon {
				horizon = st.OffsetHours
			}
		}
	}
	return horizon
}

// Disturbance is the assignment target: a storm's label and last known fix.
type Disturbance struct {
	EntityID          int64     `json:"entity_id"`
	Label             string    `json:"label"`
	Name              string    `json:"name,omitempty"`
	ReferenceTime     time.Time `json:"reference_time"`
	ReferencePosition GeoPoint  `json:"reference_position"`
}

// DisturbanceFromEntity uses the entity's latest fix as the reference.
func DisturbanceFromEntity(e StormEntity) Disturbance {
	return Disturbance{
		EntityID:          e.ID,
		Label:             e.Label(),
		Name:              e.DisplayName,
		ReferenceTime:     e.End.Time,
		ReferencePosition: e.End.Position,
	}
}

// AssignMethod records how an ensemble index was filled.
type AssignMethod string

const (
	MethodDirect       AssignMethod = "direct"
	MethodProximity    AssignMethod = "proximity"
	MethodUnassigned   AssignMethod = "unassigned"
	MethodEnsembleMean AssignMethod = "ensemble-mean"
)

// Assignment is the resolution for one ensemble index. Member is nil when
// Method is MethodUnassigned.
type Assignment struct {
	Member   *TrackMember `json:"member,omitempty"`
	Method   AssignMethod `json:"method"`
	Distance float64      `json:"distance_nm,omitempty"`
}

// AssignmentResult maps ensemble index to its assignment for one target.
type AssignmentResult struct {
	ModelID  string             `json:"model_id"`
	InitTime time.Time          `json:"init_time"`
	Target   Disturbance        `json:"target"`
	Members  map[int]Assignment `json:"members"`
}

// Unassigned returns the indices left without a member, ascending.
func (r AssignmentResult) Unassigned() []int {
	var out []int
	for idx, a := range r.Members {
		if a.Method == MethodUnassigned {
			out = append(out, idx)
		}
	}
	slices.Sort(out)
	return out
}

// Indices returns every index in the result, ascending.
func (r AssignmentResult) Indices() []int {
	out := make([]int, 0, len(r.Members))
	for idx := range r.Members {
		out = append(out, idx)
	}
	slices.Sort(out)
	return out
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
