package session

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/fields"
)

var (
	// ErrTerminal is returned when a transition is attempted from a terminal state.
	ErrTerminal = errors.New("session is terminal")
	// ErrInvalidTransition is returned for transitions the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid session transition")
)

// Record merges newly collected values and appends turn to the history.
// With validation errors the session moves to validation_error without
// advancing; otherwise it is (back) in collecting_info.
func (s *Session) Record(turn TurnRecord, newly map[string]string, validationErrors []fields.FieldError, now time.Time) error {
	if !s.State.AcceptsTurns() {
		return fmt.Errorf("%w: record in state %s", ErrInvalidTransition, s.State)
	}
	if s.Collected == nil {
		s.Collected = map[string]string{}
	}
	maps.Copy(s.Collected, newly)

	if len(validationErrors) > 0 {
		s.State = StateValidationError
	} else {
		s.State = StateCollecting
	}

	turn.TurnIndex = len(s.History)
	turn.ValidationErrors = slices.Clone(validationErrors)
	if turn.NewlyCollected == nil {
		turn.NewlyCollected = sortedKeys(newly)
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = now
	}
	s.History = append(s.History, turn)
	s.LastUpdatedAt = now
	return nil
}

// AdvanceIfStepComplete moves past every leading step of steps that has no
// missing required field. Past the last step the session becomes
// ready_for_checkout. It reports whether the step index changed.
func (s *Session) AdvanceIfStepComplete(steps []fields.Step, now time.Time) bool {
	if !s.State.AcceptsTurns() {
		return false
	}
	start := s.StepIndex
	for s.StepIndex < len(steps) && len(fields.MissingFields(steps[s.StepIndex], s.Collected)) == 0 {
		s.StepIndex++
	}
	if s.StepIndex >= len(steps) {
		s.StepIndex = len(steps)
		s.State = StateReady
	}
	if s.StepIndex != start {
		s.LastUpdatedAt = now
		return true
	}
	return false
}

// CurrentStep returns the step the session is collecting, if any.
func (s *Session) CurrentStep(steps []fields.Step) (fields.Step, bool) {
	if s.StepIndex < 0 || s.StepIndex >= len(steps) {
		return fields.Step{}, false
	}
	return steps[s.StepIndex], true
}

// Complete moves a ready session to completed.
func (s *Session) Complete(now time.Time) error {
	if s.State != StateReady {
		return s.refuse(StateCompleted)
	}
	return s.terminate(StateCompleted, string(StateCompleted), now)
}

// Cancel moves any non-terminal session to cancelled.
func (s *Session) Cancel(now time.Time) error {
	return s.terminate(StateCancelled, string(StateCancelled), now)
}

// Supersede marks the session as replaced by a newer one for the same user.
func (s *Session) Supersede(now time.Time) error {
	return s.terminate(StateSuperseded, string(StateSuperseded), now)
}

// Fail moves any non-terminal session to failed, recording reason.
func (s *Session) Fail(reason string, now time.Time) error {
	disposition := string(StateFailed)
	if reason != "" {
		disposition += ": " + reason
	}
	return s.terminate(StateFailed, disposition, now)
}

func (s *Session) terminate(to State, disposition string, now time.Time) error {
	if s.State.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrTerminal, s.State, to)
	}
	s.State = to
	s.Disposition = disposition
	s.LastUpdatedAt = now
	return nil
}

func (s *Session) refuse(to State) error {
	if s.State.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrTerminal, s.State, to)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, to)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
