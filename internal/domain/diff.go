package domain

// Field names a comparable storm attribute.
type Field string

const (
	FieldIdentityKey    Field = "identity_key"
	FieldProvisionalKey Field = "provisional_key"
	FieldNumber         Field = "number"
	FieldSeason         Field = "season"
	FieldDisplayName    Field = "display_name"
	FieldStartTime      Field = "start_time"
	FieldStartPosition  Field = "start_position"
	FieldEndTime        Field = "end_time"
	FieldEndPosition    Field = "end_position"
	FieldStatus         Field = "status"
)

// AllFields is the full update field set, in canonical order.
var AllFields = []Field{
	FieldIdentityKey,
	FieldProvisionalKey,
	FieldNumber,
	FieldSeason,
	FieldDisplayName,
	FieldStartTime,
	FieldStartPosition,
	FieldEndTime,
	FieldEndPosition,
	FieldStatus,
}

// PositionFields is the subset used for a cheap movement check.
var PositionFields = []Field{FieldEndTime, FieldEndPosition}

// Diff returns the requested fields whose values differ between the
// persisted entity and the incoming candidate. Order follows fields and
// duplicates are reported once. Unknown field names are ignored. Diff never
// mutates its arguments.
func Diff(existing StormEntity, incoming CandidateStorm, fields []Field) []Field {
	var changed []Field
	seen := make(map[Field]bool, len(fields))
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		if differs(existing, incoming, f) {
			changed = append(changed, f)
		}
	}
	return changed
}

func differs(e StormEntity, c CandidateStorm, f Field) bool {
	switch f {
	case FieldIdentityKey:
		return e.IdentityKey != c.IdentityKey
	case FieldProvisionalKey:
		return e.ProvisionalKey != c.ProvisionalKey
	case FieldNumber:
		return e.Number != c.Number
	case FieldSeason:
		return e.Season != c.Season
	case FieldDisplayName:
		return e.DisplayName != c.DisplayName
	case FieldStartTime:
		return !e.Start.Time.Equal(c.Start.Time)
	case FieldStartPosition:
		return e.Start.Position != c.Start.Position
	case FieldEndTime:
		return !e.End.Time.Equal(c.End.Time)
	case FieldEndPosition:
		return e.End.Position != c.End.Position
	case FieldStatus:
		return e.Status != c.Status
	default:
		return false
	}
}

// ApplyFields returns a copy of existing with the named fields taken from
// incoming.
func ApplyFields(existing StormEntity, incoming CandidateStorm, fields []Field) StormEntity {
	out := existing
	for _, f := range fields {
		switch f {
		case FieldIdentityKey:
			out.IdentityKey = incoming.IdentityKey
		case FieldProvisionalKey:
			out.ProvisionalKey = incoming.ProvisionalKey
		case FieldNumber:
			out.Number = incoming.Number
		case FieldSeason:
			out.Season = incoming.Season
		case FieldDisplayName:
			out.DisplayName = incoming.DisplayName
		case FieldStartTime:
			out.Start.Time = incoming.Start.Time
		case FieldStartPosition:
			out.Start.Position = incoming.Start.Position
		case FieldEndTime:
			out.End.Time = incoming.End.Time
		case FieldEndPosition:
			out.End.Position = incoming.End.Position
		case FieldStatus:
			out.Status = incoming.Status
		}
	}
	return out
}

// NewEntity builds the entity a New outcome creates.
func NewEntity(c CandidateStorm, annualSequence *int) StormEntity {
	return StormEntity{
		IdentityKey:    c.IdentityKey,
		ProvisionalKey: c.ProvisionalKey,
		Number:         c.Number,
		AnnualSequence: annualSequence,
		RegionID:       c.RegionID,
		Season:         c.Season,
		Start:          c.Start,
		End:            c.End,
		Status:         c.Status,
		DisplayName:    c.DisplayName,
	}
}
