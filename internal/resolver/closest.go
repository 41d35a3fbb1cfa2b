package resolver

import (
	"math"

	"github.com/couchcryptid/storm-data-tracks/internal/domain"
)

// MaxStartSeparationNM is the largest start-position separation at which
// two records sharing a start time are treated as the same disturbance.
const MaxStartSeparationNM = 100.0

// closestStart picks the entity whose start position is nearest to pos. A
// single entity always matches. With several, the nearest must lie within
// MaxStartSeparationNM; equal distances go to the lowest id. ok is false
// when entities is empty or the nearest is too far away.
func closestStart(pos domain.GeoPoint, entities []domain.StormEntity) (match domain.StormEntity, distance float64, ok bool) {
	switch len(entities) {
	case 0:
		return domain.StormEntity{}, 0, false
	case 1:
		return entities[0], domain.GreatCircleDistance(pos, entities[0].Start.Position), true
	}

	best := -1
	bestDist := math.Inf(1)
	for i, e := range entities {
		d := domain.GreatCircleDistance(pos, e.Start.Position)
		if d < bestDist || (d == bestDist && e.ID < entities[best].ID) {
			best, bestDist = i, d
		}
	}
	if bestDist > MaxStartSeparationNM {
		return domain.StormEntity{}, bestDist, false
	}
	return entities[best], bestDist, true
}
