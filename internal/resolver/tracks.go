package resolver

import (
	"log/slog"
	"sort"
	"time"

	"github.com/couchcryptid/storm-data-tracks/internal/domain"
)

const (
	// DefaultLeadTimeGate is the furthest a member's first step may start
	// after the target's reference fix.
	DefaultLeadTimeGate = 36 * time.Hour

	// Distance gate bounds at lead 0 and at the run's horizon.
	MinDistanceThresholdNM = 310.0
	MaxDistanceThresholdNM = 1450.0
)

// TrackOptions tunes track assignment.
type TrackOptions struct {
	LeadTimeGate time.Duration
	// EnsembleMean appends a synthetic mean member at index targetCount+1.
	EnsembleMean bool
	// DeterministicIndex, when positive, names the control member excluded
	// from the ensemble mean.
	DeterministicIndex int
}

// TrackResolver assigns ensemble members from a model run to a target storm.
// It is pure: no store access and no mutation of its inputs.
type TrackResolver struct {
	opts   TrackOptions
	logger *slog.Logger
}

// NewTrackResolver creates a TrackResolver. A zero LeadTimeGate falls back
// to DefaultLeadTimeGate.
func NewTrackResolver(opts TrackOptions, logger *slog.Logger) *TrackResolver {
	if opts.LeadTimeGate <= 0 {
		opts.LeadTimeGate = DefaultLeadTimeGate
	}
	return &TrackResolver{opts: opts, logger: logger}
}

// WithEnsembleMean returns a copy of r with the ensemble mean toggled.
func (r *TrackResolver) WithEnsembleMean(on bool) *TrackResolver {
	cp := *r
	cp.opts.EnsembleMean = on
	return &cp
}

// DistanceThreshold returns the proximity gate for a member whose first step
// is leadHours into a run whose longest step is horizonHours. It grows
// linearly from MinDistanceThresholdNM to MaxDistanceThresholdNM.
func DistanceThreshold(leadHours, horizonHours float64) float64 {
	if horizonHours <= 0 || leadHours <= 0 {
		return MinDistanceThresholdNM
	}
	frac := leadHours / horizonHours
	if frac > 1 {
		frac = 1
	}
	return MinDistanceThresholdNM + frac*(MaxDistanceThresholdNM-MinDistanceThresholdNM)
}

// Assign resolves ensemble indices 1..targetCount for target. Members
// labeled for target are taken directly; the remaining indices are filled
// from unlabeled or foreign-labeled members by time and distance gating,
// preferring the longest track. Labeled members outside 1..targetCount are
// ignored, so the mean slot at targetCount+1 is always free. targetCount is
// clamped to domain.MaxEnsembleMembers.
func (r *TrackResolver) Assign(run domain.CandidateTrackSet, targetCount int, target domain.Disturbance) domain.AssignmentResult {
	targetCount = r.clampTargetCount(targetCount, run.ModelID)
	res := domain.AssignmentResult{
		ModelID:  run.ModelID,
		InitTime: run.InitTime,
		Target:   target,
		Members:  make(map[int]domain.Assignment, targetCount+1),
	}

	direct := make(map[int][]candidate)
	for pos, m := range run.Members {
		if m.Label != nil && *m.Label == target.Label && m.EnsembleIndex >= 1 && m.EnsembleIndex <= targetCount {
			direct[m.EnsembleIndex] = append(direct[m.EnsembleIndex], candidate{member: run.Members[pos], order: pos})
		}
	}
	for idx, cands := range direct {
		best := longest(cands)
		res.Members[idx] = domain.Assignment{Member: &best.member, Method: domain.MethodDirect}
	}

	horizon := run.MaxHorizon()
	for idx := 1; idx <= targetCount; idx++ {
		if _, filled := res.Members[idx]; filled {
			continue
		}
		pool := r.pool(run, idx, target, horizon)
		if len(pool) == 0 {
			res.Members[idx] = domain.Assignment{Method: domain.MethodUnassigned}
			continue
		}
		best := longest(pool)
		res.Members[idx] = domain.Assignment{Member: &best.member, Method: domain.MethodProximity, Distance: best.distance}
	}

	if r.opts.EnsembleMean {
		meanIdx := targetCount + 1
		mean, ok := EnsembleMean(res, r.opts.DeterministicIndex)
		if ok {
			mean.EnsembleIndex = meanIdx
			label := target.Label
			mean.Label = &label
			res.Members[meanIdx] = domain.Assignment{Member: &mean, Method: domain.MethodEnsembleMean}
		} else {
			res.Members[meanIdx] = domain.Assignment{Method: domain.MethodUnassigned}
		}
	}

	if n := len(res.Unassigned()); n > 0 {
		r.logger.Debug("ensemble indices left unassigned",
			"model", run.ModelID,
			"init", run.InitTime,
			"target", target.Label,
			"unassigned", n,
		)
	}
	return res
}

func (r *TrackResolver) clampTargetCount(n int, modelID string) int {
	switch {
	case n < 0:
		return 0
	case n > domain.MaxEnsembleMembers:
		r.logger.Warn("target count clamped", "model", modelID, "requested", n, "max", domain.MaxEnsembleMembers)
		return domain.MaxEnsembleMembers
	default:
		return n
	}
}

type candidate struct {
	member   domain.TrackMember
	order    int
	distance float64
}

// pool collects the gated fallback candidates for one ensemble index.
func (r *TrackResolver) pool(run domain.CandidateTrackSet, idx int, target domain.Disturbance, horizon float64) []candidate {
	var out []candidate
	for pos, m := range run.Members {
		if m.EnsembleIndex != idx || len(m.Steps) == 0 {
			continue
		}
		// Members labeled for another storm stay in the pool.
		if m.Label != nil && *m.Label == target.Label {
			continue
		}
		lead := m.FirstValidTime(run.InitTime).Sub(target.ReferenceTime)
		if lead > r.opts.LeadTimeGate {
			continue
		}
		first := m.Steps[0]
		dist := domain.GreatCircleDistance(first.Position, target.ReferencePosition)
		if dist > DistanceThreshold(first.OffsetHours, horizon) {
			continue
		}
		out = append(out, candidate{member: run.Members[pos], order: pos, distance: dist})
	}
	return out
}

// longest orders by step count descending, then ensemble index, then input
// order, and returns the first.
func longest(cands []candidate) candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if len(a.member.Steps) != len(b.member.Steps) {
			return len(a.member.Steps) > len(b.member.Steps)
		}
		if a.member.EnsembleIndex != b.member.EnsembleIndex {
			return a.member.EnsembleIndex < b.member.EnsembleIndex
		}
		return a.order < b.order
	})
	return cands[0]
}
