package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ResolutionRecord is the JSON document published for each storm outcome.
type ResolutionRecord struct {
	Kind           OutcomeKind  `json:"kind"`
	EntityID       int64        `json:"entity_id,omitempty"`
	IdentityKey    string       `json:"identity_key,omitempty"`
	ProvisionalKey string       `json:"provisional_key"`
	RegionID       int64        `json:"region_id"`
	DisplayName    string       `json:"display_name"`
	AnnualSequence *int         `json:"annual_sequence,omitempty"`
	Status         Status       `json:"status"`
	Changed        []Field      `json:"changed,omitempty"`
	Reason         RejectReason `json:"reason,omitempty"`
	Detail         string       `json:"detail,omitempty"`
	RunID          string       `json:"run_id"`
	ResolvedAt     time.Time    `json:"resolved_at"`
}

// AssignmentRecord is the JSON document published for each track run.
type AssignmentRecord struct {
	ModelID    string               `json:"model_id"`
	InitTime   time.Time            `json:"init_time"`
	Target     Disturbance          `json:"target"`
	Methods    map[int]AssignMethod `json:"methods"`
	Unassigned []int                `json:"unassigned,omitempty"`
	RunID      string               `json:"run_id"`
	ResolvedAt time.Time            `json:"resolved_at"`
}

// SerializeOutcome converts an applied outcome into a sink message keyed by
// the storm key. entityID is the id the store reported after Apply.
func SerializeOutcome(o Outcome, entityID int64, runID string) (OutputEvent, error) {
	updated := o.Updated()
	rec := ResolutionRecord{
		Kind:           o.Kind,
		EntityID:       entityID,
		IdentityKey:    o.Candidate.IdentityKey,
		ProvisionalKey: o.Candidate.ProvisionalKey,
		RegionID:       o.Candidate.RegionID,
		DisplayName:    o.Candidate.DisplayName,
		Status:         o.Candidate.Status,
		Changed:        o.Changed,
		Reason:         o.Reason,
		Detail:         o.Detail,
		RunID:          runID,
		ResolvedAt:     clock.Now().UTC(),
	}
	if o.Kind != OutcomeRejected {
		rec.AnnualSequence = updated.AnnualSequence
		rec.Status = updated.Status
		rec.DisplayName = updated.DisplayName
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("marshal resolution: %w", err)
	}
	return OutputEvent{
		Key:   []byte(o.Candidate.Key()),
		Value: value,
		Headers: map[string]string{
			HeaderKind: KindStorm,
			"outcome":  string(o.Kind),
		},
	}, nil
}

// SerializeAssignment converts a track assignment into a sink message keyed
// by the target label.
func SerializeAssignment(r AssignmentResult, runID string) (OutputEvent, error) {
	methods := make(map[int]AssignMethod, len(r.Members))
	for idx, a := range r.Members {
		methods[idx] = a.Method
	}
	rec := AssignmentRecord{
		ModelID:    r.ModelID,
		InitTime:   r.InitTime.UTC(),
		Target:     r.Target,
		Methods:    methods,
		Unassigned: r.Unassigned(),
		RunID:      runID,
		ResolvedAt: clock.Now().UTC(),
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("marshal assignment: %w", err)
	}
	return OutputEvent{
		Key:   []byte(r.Target.Label),
		Value: value,
		Headers: map[string]string{
			HeaderKind: KindTracks,
			"model":    r.ModelID,
		},
	}, nil
}
