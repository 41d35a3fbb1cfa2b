package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// HeaderKind names the message header carrying the payload kind.
const HeaderKind = "kind"

// Message kinds on the source topic.
const (
	KindStorm  = "storm"
	KindTracks = "tracks"
)

// RawEvent represents an unprocessed message from the source topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// Kind returns the payload kind, defaulting to storm batches when the
// producer did not set the header.
func (r RawEvent) Kind() string {
	if k := r.Headers[HeaderKind]; k != "" {
		return k
	}
	return KindStorm
}

// StormBatchMessage is one parsed best-track bulletin for one disturbance.
type StormBatchMessage struct {
	Fixes []BestTrackFix `json:"fixes"`
}

// TrackSetMessage asks for one model run to be assigned to a target storm.
type TrackSetMessage struct {
	TargetKey    string            `json:"target_key"`
	TargetCount  int               `json:"target_count"`
	EnsembleMean bool              `json:"ensemble_mean,omitempty"`
	Run          CandidateTrackSet `json:"run"`
}

// ParseStormBatch decodes a storm batch payload.
func ParseStormBatch(raw RawEvent) (StormBatchMessage, error) {
	var msg StormBatchMessage
	if err := json.Unmarshal(raw.Value, &msg); err != nil {
		return StormBatchMessage{}, fmt.Errorf("parse storm batch: %w", err)
	}
	if len(msg.Fixes) == 0 {
		return StormBatchMessage{}, ErrEmptyBatch
	}
	return msg, nil
}

// ParseTrackSet decodes a track set payload.
func ParseTrackSet(raw RawEvent) (TrackSetMessage, error) {
	var msg TrackSetMessage
	if err := json.Unmarshal(raw.Value, &msg); err != nil {
		return TrackSetMessage{}, fmt.Errorf("parse track set: %w", err)
	}
	if msg.TargetKey == "" {
		return TrackSetMessage{}, fmt.Errorf("parse track set: %w: missing target_key", ErrMalformedCandidate)
	}
	if msg.TargetCount < 0 || msg.TargetCount > MaxEnsembleMembers {
		return TrackSetMessage{}, fmt.Errorf("parse track set: %w: target_count %d outside 0..%d",
			ErrMalformedCandidate, msg.TargetCount, MaxEnsembleMembers)
	}
	if err := msg.Run.Validate(); err != nil {
		return TrackSetMessage{}, fmt.Errorf("parse track set: %w", err)
	}
	return msg, nil
}

// OutputEvent is the serialized form destined for the sink topic.
type OutputEvent struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}
