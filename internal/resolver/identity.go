package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/storm-data-tracks/internal/domain"
)

const (
	// InvestStaleAfter is how long an invest may go without a new fix before
	// further batches for it are ignored.
	InvestStaleAfter = 24 * time.Hour
	// ProvisionalStartTolerance bounds the start-time drift allowed between
	// updates of the same invest.
	ProvisionalStartTolerance = 24 * time.Hour
)

// IdentityResolver decides which persisted storm a candidate belongs to. It
// only reads from the store; callers apply the returned outcome.
type IdentityResolver struct {
	store  EntityStore
	logger *slog.Logger
}

// NewIdentityResolver creates an IdentityResolver over store.
func NewIdentityResolver(store EntityStore, logger *slog.Logger) *IdentityResolver {
	return &IdentityResolver{store: store, logger: logger}
}

// Resolve returns the outcome for candidate as of now. Expected non-matches
// are Rejected outcomes; errors are reserved for malformed candidates
// (domain.ErrMalformedCandidate) and store failures (*StoreError).
func (r *IdentityResolver) Resolve(ctx context.Context, c domain.CandidateStorm, now time.Time) (domain.Outcome, error) {
	if c.RegionID == 0 {
		return domain.RejectedOutcome(c, domain.ReasonUnknownRegion, c.Basin), nil
	}
	if err := c.Validate(now); err != nil {
		return domain.Outcome{}, err
	}

	switch c.Class() {
	case domain.ClassNamed:
		return r.resolveNamed(ctx, c)
	case domain.ClassInvest:
		return r.resolveInvest(ctx, c, now)
	default:
		return domain.Outcome{}, fmt.Errorf("%w: designator %d", domain.ErrMalformedCandidate, c.Number)
	}
}

func (r *IdentityResolver) resolveNamed(ctx context.Context, c domain.CandidateStorm) (domain.Outcome, error) {
	existing, err := r.store.FindByIdentityKey(ctx, c.IdentityKey)
	if err != nil {
		return domain.Outcome{}, storeErr("find by identity key", err)
	}
	if existing != nil {
		return r.match(c, *existing), nil
	}

	invests, err := r.store.FindByRegionAndStart(ctx, c.RegionID, c.Start.Time, domain.ClassInvest)
	if err != nil {
		return domain.Outcome{}, storeErr("find invests by start", err)
	}
	if len(invests) > 0 {
		invest, dist, ok := closestStart(c.Start.Position, invests)
		if !ok {
			r.logger.Warn("no invest close enough to transition",
				"identity_key", c.IdentityKey,
				"candidates", len(invests),
				"nearest_nm", dist,
			)
			return domain.RejectedOutcome(c, domain.ReasonAmbiguousMatch,
				fmt.Sprintf("%d invests, nearest %.1f nm", len(invests), dist)), nil
		}
		return r.transition(ctx, c, invest, dist)
	}

	seq, err := r.nextAnnualSequence(ctx, c)
	if err != nil {
		return domain.Outcome{}, err
	}
	return domain.NewOutcome(c, &seq), nil
}

func (r *IdentityResolver) transition(ctx context.Context, c domain.CandidateStorm, invest domain.StormEntity, dist float64) (domain.Outcome, error) {
	var seq *int
	if invest.AnnualSequence == nil {
		next, err := r.nextAnnualSequence(ctx, c)
		if err != nil {
			return domain.Outcome{}, err
		}
		seq = &next
	}
	r.logger.Info("invest transitioned",
		"entity_id", invest.ID,
		"from", invest.ProvisionalKey,
		"to", c.IdentityKey,
		"distance_nm", dist,
	)
	return domain.TransitionedOutcome(c, invest, domain.Diff(invest, c, updateFields(invest, c)), seq), nil
}

func (r *IdentityResolver) resolveInvest(ctx context.Context, c domain.CandidateStorm, now time.Time) (domain.Outcome, error) {
	if now.Sub(c.End.Time) >= InvestStaleAfter {
		return domain.RejectedOutcome(c, domain.ReasonStale, c.End.Time.Format(time.RFC3339)), nil
	}

	named, err := r.store.FindByRegionAndStart(ctx, c.RegionID, c.Start.Time, domain.ClassNamed)
	if err != nil {
		return domain.Outcome{}, storeErr("find named by start", err)
	}
	if len(named) > 0 {
		storm, dist, ok := closestStart(c.Start.Position, named)
		if ok {
			return domain.RejectedOutcome(c, domain.ReasonAlreadyTransitioned, storm.IdentityKey), nil
		}
		r.logger.Warn("named storms share invest start but none is close enough",
			"provisional_key", c.ProvisionalKey,
			"candidates", len(named),
			"nearest_nm", dist,
		)
		return domain.RejectedOutcome(c, domain.ReasonAmbiguousMatch,
			fmt.Sprintf("%d named storms, nearest %.1f nm", len(named), dist)), nil
	}

	provisional, err := r.store.FindProvisionalByWindow(ctx, c.RegionID, c.ProvisionalKey, c.Start.Time, ProvisionalStartTolerance)
	if err != nil {
		return domain.Outcome{}, storeErr("find provisional by window", err)
	}
	for _, e := range provisional {
		if absDuration(e.Start.Time.Sub(c.Start.Time)) <= ProvisionalStartTolerance {
			return r.match(c, e), nil
		}
	}

	return domain.NewOutcome(c, nil), nil
}

// match diffs a candidate against the entity it resolved to, refusing to
// move the entity backwards in time.
func (r *IdentityResolver) match(c domain.CandidateStorm, e domain.StormEntity) domain.Outcome {
	if e.End.Time.After(c.End.Time) {
		r.logger.Warn("candidate older than stored storm, ignoring",
			"entity_id", e.ID,
			"key", c.Key(),
			"stored_end", e.End.Time,
			"candidate_end", c.End.Time,
		)
		return domain.UnchangedOutcome(c, e, domain.DetailTimeRegression)
	}
	return domain.MatchedOutcome(c, e, domain.Diff(e, c, updateFields(e, c)))
}

func (r *IdentityResolver) nextAnnualSequence(ctx context.Context, c domain.CandidateStorm) (int, error) {
	maxSeq, ok, err := r.store.MaxAnnualSequence(ctx, c.Season, c.RegionID)
	if err != nil {
		return 0, storeErr("max annual sequence", err)
	}
	if !ok {
		return 1, nil
	}
	return maxSeq + 1, nil
}

// updateFields is the field set compared on a match. Archived storms keep
// their status unless the candidate extends the track, and a candidate that
// ends earlier than the entity never rewinds its end fix.
func updateFields(e domain.StormEntity, c domain.CandidateStorm) []domain.Field {
	extends := c.End.Time.After(e.End.Time)
	rewinds := e.End.Time.After(c.End.Time)
	fields := make([]domain.Field, 0, len(domain.AllFields))
	for _, f := range domain.AllFields {
		switch f {
		case domain.FieldStatus:
			if rewinds || (e.Status == domain.StatusArchive && !extends) {
				continue
			}
		case domain.FieldEndTime, domain.FieldEndPosition:
			if rewinds {
				continue
			}
		}
		fields = append(fields, f)
	}
	return fields
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
