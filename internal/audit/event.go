// Package audit is the append-only, request-keyed record of every run.
// Events of one request form a hash chain so a replay can prove the trail
// is complete and untouched.
package audit

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// EventType is the kind of an audit event.
type EventType string

// Event types
const (
	EventPlan       EventType = "plan"
	EventDispatch   EventType = "dispatch"
	EventExecution  EventType = "execution"
	EventValidation EventType = "validation"
	EventEvaluation EventType = "evaluation"
	EventError      EventType = "error"
	EventAggregate  EventType = "aggregate"
)

// Event is one immutable audit record.
type Event struct {
	RequestID string `json:"request_id"`
	Seq       int64  `json:"seq"`
	// TaskName is empty for run-level events.
	TaskName  string          `json:"task_name,omitempty"`
	Type      EventType       `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

// ComputeHash returns the blake3 digest of the event without its Hash field.
func (e Event) ComputeHash() (string, error) {
	e.Hash = ""
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to encode event: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload of %s#%d: %w", e.Type, e.RequestID, e.Seq, err)
	}
	return nil
}

// DecodePayload unmarshals the payload of e into a new T.
func DecodePayload[T any](e Event) (T, error) {
	var v T
	err := e.Decode(&v)
	return v, err
}
