package domain

import (
	"fmt"
	"time"
)

// DisturbanceClass separates provisional invests from storms holding an
// official designator. It is always derived from the designator number.
type DisturbanceClass int

const (
	ClassUnknown DisturbanceClass = iota
	ClassInvest
	ClassNamed
)

func (c DisturbanceClass) String() string {
	switch c {
	case ClassInvest:
		return "invest"
	case ClassNamed:
		return "named"
	default:
		return "unknown"
	}
}

// Status is the lifecycle state of a persisted storm.
type Status string

const (
	StatusActive  Status = "Active"
	StatusArchive Status = "Archive"
)

// Fix is one timestamped storm position.
type Fix struct {
	Time     time.Time `json:"time"`
	Position GeoPoint  `json:"position"`
}

// CandidateStorm is the normalized view of one observation batch for a
// single disturbance.
type CandidateStorm struct {
	IdentityKey    string `json:"identity_key,omitempty"` // empty for invests
	ProvisionalKey string `json:"provisional_key"`
	Basin          string `json:"basin"`
	Number         int    `json:"number"`
	Season         int    `json:"season"`
	Start          Fix    `json:"start"`
	End            Fix    `json:"end"`
	DisplayName    string `json:"display_name"`
	RegionID       int64  `json:"region_id"`
	Status         Status `json:"status"`
}

// Class derives the disturbance class from the designator number.
func (c CandidateStorm) Class() DisturbanceClass {
	class, _ := ClassifyNumber(c.Number)
	return class
}

// Key returns the identity key for named storms and the provisional key
// otherwise.
func (c CandidateStorm) Key() string {
	if c.IdentityKey != "" {
		return c.IdentityKey
	}
	return c.ProvisionalKey
}

// Validate checks the time ordering of the candidate against now.
func (c CandidateStorm) Validate(now time.Time) error {
	if _, err := ClassifyNumber(c.Number); err != nil {
		return err
	}
	if c.Start.Time.IsZero() || c.End.Time.IsZero() {
		return fmt.Errorf("%w: missing start or end time", ErrMalformedCandidate)
	}
	if c.End.Time.Before(c.Start.Time) {
		return fmt.Errorf("%w: end %s before start %s", ErrMalformedCandidate,
			c.End.Time.Format(time.RFC3339), c.Start.Time.Format(time.RFC3339))
	}
	if c.End.Time.After(now) {
		return fmt.Errorf("%w: end %s after now %s", ErrMalformedCandidate,
			c.End.Time.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	if c.Class() == ClassNamed && c.IdentityKey == "" {
		return fmt.Errorf("%w: named storm %s%02d without identity key", ErrMalformedCandidate, c.Basin, c.Number)
	}
	return nil
}

// StormEntity is a persisted storm.
type StormEntity struct {
	ID             int64  `json:"id"`
	IdentityKey    string `json:"identity_key,omitempty"`
	ProvisionalKey string `json:"provisional_key"`
	Number         int    `json:"number"`
	AnnualSequence *int   `json:"annual_sequence,omitempty"`
	RegionID       int64  `json:"region_id"`
	Season         int    `json:"season"`
	Start          Fix    `json:"start"`
	End            Fix    `json:"end"`
	Status         Status `json:"status"`
	DisplayName    string `json:"display_name"`
}

// Class derives the disturbance class from the stored designator number.
func (e StormEntity) Class() DisturbanceClass {
	class, _ := ClassifyNumber(e.Number)
	return class
}

// Label is the key ensemble trackers use for this storm.
func (e StormEntity) Label() string {
	if e.IdentityKey != "" {
		return e.IdentityKey
	}
	return e.ProvisionalKey
}
