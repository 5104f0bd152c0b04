package session

import (
	"maps"
	"slices"
	"time"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/deeplink"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/fields"
)

// State is the lifecycle state of a checkout session.
type State string

const (
	StateCollecting      State = "collecting_info"
	StateValidationError State = "validation_error"
	StateReady           State = "ready_for_checkout"
	StateCompleted       State = "completed"
	StateCancelled       State = "cancelled"
	StateSuperseded      State = "superseded"
	StateFailed          State = "failed"
)

// Terminal reports whether no transition may leave s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateSuperseded, StateFailed:
		return true
	}
	return false
}

// AcceptsTurns reports whether a turn may be processed in state s.
func (s State) AcceptsTurns() bool {
	return s == StateCollecting || s == StateValidationError
}

// TurnRecord is one processed utterance.
type TurnRecord struct {
	TurnIndex        int                 `json:"turnIndex" dynamodbav:"turn_index"`
	Utterance        string              `json:"utterance" dynamodbav:"utterance"`
	Extracted        map[string]string   `json:"extracted,omitempty" dynamodbav:"extracted,omitempty"`
	ValidationErrors []fields.FieldError `json:"validationErrors,omitempty" dynamodbav:"validation_errors,omitempty"`
	NewlyCollected   []string            `json:"newlyCollected,omitempty" dynamodbav:"newly_collected,omitempty"`
	PromptEmitted    string              `json:"promptEmitted" dynamodbav:"prompt_emitted"`
	Timestamp        time.Time           `json:"timestamp" dynamodbav:"timestamp"`
}

// Session is the per-user checkout record.
type Session struct {
	SessionID     string             `json:"sessionId" dynamodbav:"session_id"`
	UserID        string             `json:"userId" dynamodbav:"user_id"`
	ProductKey    string             `json:"productKey" dynamodbav:"product_key"`
	State         State              `json:"state" dynamodbav:"state"`
	CPMRef        string             `json:"cpmRef" dynamodbav:"cpm_ref"`
	StepIndex     int                `json:"stepIndex" dynamodbav:"step_index"`
	Collected     map[string]string  `json:"collected" dynamodbav:"collected"`
	History       []TurnRecord       `json:"history" dynamodbav:"history"`
	StartedAt     time.Time          `json:"startedAt" dynamodbav:"started_at"`
	LastUpdatedAt time.Time          `json:"lastUpdatedAt" dynamodbav:"last_updated_at"`
	Disposition   string             `json:"disposition,omitempty" dynamodbav:"disposition,omitempty"`
	DeepLink      *deeplink.Artifact `json:"deeplink,omitempty" dynamodbav:"deeplink,omitempty"`
	Version       int64              `json:"version" dynamodbav:"version"`
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Collected = maps.Clone(s.Collected)
	if out.Collected == nil {
		out.Collected = map[string]string{}
	}
	out.History = make([]TurnRecord, len(s.History))
	for i, t := range s.History {
		t.Extracted = maps.Clone(t.Extracted)
		t.ValidationErrors = slices.Clone(t.ValidationErrors)
		t.NewlyCollected = slices.Clone(t.NewlyCollected)
		out.History[i] = t
	}
	if s.DeepLink != nil {
		dl := *s.DeepLink
		dl.RedactedFields = slices.Clone(s.DeepLink.RedactedFields)
		out.DeepLink = &dl
	}
	return &out
}
