package resolver

import (
	"sort"

	"github.com/couchcryptid/storm-data-tracks/internal/domain"
)

// EnsembleMean averages the assigned members of res step by step. Steps
// are matched on offset; at each offset only members that carry it take
// part. The member at deterministicIndex is skipped when that index is
// positive. ok is false when no assigned member has any steps.
func EnsembleMean(res domain.AssignmentResult, deterministicIndex int) (domain.TrackMember, bool) {
	type acc struct {
		positions []domain.GeoPoint
		intensity float64
		nInt      int
		pressure  float64
		nPres     int
	}
	byOffset := make(map[float64]*acc)

	for idx, a := range res.Members {
		if a.Member == nil || a.Method == domain.MethodEnsembleMean || a.Method == domain.MethodUnassigned {
			continue
		}
		if deterministicIndex > 0 && idx == deterministicIndex {
			continue
		}
		for _, st := range a.Member.Steps {
			v := byOffset[st.OffsetHours]
			if v == nil {
				v = &acc{}
				byOffset[st.OffsetHours] = v
			}
			v.positions = append(v.positions, st.Position)
			if st.Intensity > 0 {
				v.intensity += st.Intensity
				v.nInt++
			}
			if st.Pressure > 0 {
				v.pressure += st.Pressure
				v.nPres++
			}
		}
	}

	offsets := make([]float64, 0, len(byOffset))
	for off := range byOffset {
		offsets = append(offsets, off)
	}
	sort.Float64s(offsets)

	var mean domain.TrackMember
	for _, off := range offsets {
		v := byOffset[off]
		pos, ok := domain.MeanPosition(v.positions)
		if !ok {
			continue
		}
		st := domain.Step{OffsetHours: off, Position: pos}
		if v.nInt > 0 {
			st.Intensity = v.intensity / float64(v.nInt)
		}
		if v.nPres > 0 {
			st.Pressure = v.pressure / float64(v.nPres)
		}
		mean.Steps = append(mean.Steps, st)
	}
	return mean, len(mean.Steps) > 0
}
