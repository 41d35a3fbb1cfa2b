package domain

// OutcomeKind tags a resolution decision.
type OutcomeKind string

const (
	OutcomeNew          OutcomeKind = "new"
	OutcomeMatched      OutcomeKind = "matched"
	OutcomeUnchanged    OutcomeKind = "unchanged"
	OutcomeTransitioned OutcomeKind = "transitioned"
	OutcomeRejected     OutcomeKind = "rejected"
)

// RejectReason explains an expected non-match.
type RejectReason string

const (
	ReasonUnknownRegion       RejectReason = "unknown-region"
	ReasonAmbiguousMatch      RejectReason = "ambiguous-match"
	ReasonStale               RejectReason = "stale"
	ReasonAlreadyTransitioned RejectReason = "already-transitioned"
)

// DetailTimeRegression marks an Unchanged outcome produced by a candidate
// older than what is already stored.
const DetailTimeRegression = "time-regression"

// Outcome is the decision produced for one candidate. Only the fields
// relevant to Kind are populated.
type Outcome struct {
	Kind      OutcomeKind
	Candidate CandidateStorm

	// EntityID is the matched (or promoted) entity; zero for New and Rejected.
	EntityID int64
	// Entity is the snapshot the decision was made against.
	Entity *StormEntity
	// Changed lists the fields to copy from Candidate onto Entity.
	Changed []Field
	// AnnualSequence is set for New named storms and for transitions into
	// an entity that has no sequence yet.
	AnnualSequence *int

	Reason RejectReason
	Detail string
}

// Mutates reports whether applying the outcome writes to the store.
func (o Outcome) Mutates() bool {
	switch o.Kind {
	case OutcomeNew, OutcomeTransitioned:
		return true
	case OutcomeMatched:
		return len(o.Changed) > 0
	default:
		return false
	}
}

// Updated returns the entity as it will look after the outcome is applied.
func (o Outcome) Updated() StormEntity {
	if o.Kind == OutcomeNew || o.Entity == nil {
		return NewEntity(o.Candidate, o.AnnualSequence)
	}
	e := ApplyFields(*o.Entity, o.Candidate, o.Changed)
	if e.AnnualSequence == nil && o.AnnualSequence != nil {
		seq := *o.AnnualSequence
		e.AnnualSequence = &seq
	}
	return e
}

func NewOutcome(c CandidateStorm, annualSequence *int) Outcome {
	return Outcome{Kind: OutcomeNew, Candidate: c, AnnualSequence: annualSequence}
}

func MatchedOutcome(c CandidateStorm, e StormEntity, changed []Field) Outcome {
	if len(changed) == 0 {
		return UnchangedOutcome(c, e, "")
	}
	return Outcome{Kind: OutcomeMatched, Candidate: c, EntityID: e.ID, Entity: &e, Changed: changed}
}

func UnchangedOutcome(c CandidateStorm, e StormEntity, detail string) Outcome {
	return Outcome{Kind: OutcomeUnchanged, Candidate: c, EntityID: e.ID, Entity: &e, Detail: detail}
}

func TransitionedOutcome(c CandidateStorm, invest StormEntity, changed []Field, annualSequence *int) Outcome {
	return Outcome{
		Kind:           OutcomeTransitioned,
		Candidate:      c,
		EntityID:       invest.ID,
		Entity:         &invest,
		Changed:        changed,
		AnnualSequence: annualSequence,
	}
}

func RejectedOutcome(c CandidateStorm, reason RejectReason, detail string) Outcome {
	return Outcome{Kind: OutcomeRejected, Candidate: c, Reason: reason, Detail: detail}
}
