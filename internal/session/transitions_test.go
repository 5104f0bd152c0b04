package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/fields"
)

var testSteps = []fields.Step{
	{StepID: "s1", Order: 1, Fields: []fields.Field{{Name: "name", Required: true}, {Name: "email", Required: true}}},
	{StepID: "s2", Order: 2, Fields: []fields.Field{{Name: "cep", Required: true}, {Name: "address", Required: true}}},
	{StepID: "s3", Order: 3, Fields: []fields.Field{{Name: "paymentType", Required: true}}},
}

func freshSession() *Session {
	return &Session{SessionID: "s", UserID: "u1", State: StateCollecting, Collected: map[string]string{}}
}

func TestRecord_ValidationErrorDoesNotAdvance(t *testing.T) {
	now := time.Now()
	s := freshSession()

	errs := []fields.FieldError{{Field: "email", Message: "bad"}}
	require.NoError(t, s.Record(TurnRecord{Utterance: "meu email é joaoexcom"}, map[string]string{"name": "João"}, errs, now))
	assert.Equal(t, StateValidationError, s.State)
	assert.False(t, s.AdvanceIfStepComplete(testSteps, now))
	assert.Equal(t, 0, s.StepIndex)
	assert.Equal(t, "João", s.Collected["name"])
	_, hasEmail := s.Collected["email"]
	assert.False(t, hasEmail)

	require.NoError(t, s.Record(TurnRecord{Utterance: "joao@ex.com"}, map[string]string{"email": "joao@ex.com"}, nil, now))
	assert.Equal(t, StateCollecting, s.State)
	assert.True(t, s.AdvanceIfStepComplete(testSteps, now))
	assert.Equal(t, 1, s.StepIndex)

	require.Len(t, s.History, 2)
	assert.Equal(t, 0, s.History[0].TurnIndex)
	assert.Equal(t, 1, s.History[1].TurnIndex)
	assert.Equal(t, []string{"email"}, s.History[1].NewlyCollected)
}

func TestAdvance_AllFieldsAtOnceReachesReady(t *testing.T) {
	now := time.Now()
	s := freshSession()
	all := map[string]string{"name": "a", "email": "b", "cep": "c", "address": "d", "paymentType": "pix"}
	require.NoError(t, s.Record(TurnRecord{}, all, nil, now))
	assert.True(t, s.AdvanceIfStepComplete(testSteps, now))
	assert.Equal(t, StateReady, s.State)
	assert.Equal(t, len(testSteps), s.StepIndex)
	_, ok := s.CurrentStep(testSteps)
	assert.False(t, ok)
}

func TestTerminalStatesAreFinal(t *testing.T) {
	now := time.Now()
	for _, terminate := range []func(*Session) error{
		func(s *Session) error { return s.Cancel(now) },
		func(s *Session) error { return s.Supersede(now) },
		func(s *Session) error { return s.Fail("boom", now) },
	} {
		s := freshSession()
		require.NoError(t, terminate(s))
		assert.True(t, s.State.Terminal())

		assert.True(t, errors.Is(s.Cancel(now), ErrTerminal))
		assert.True(t, errors.Is(s.Complete(now), ErrTerminal))
		assert.True(t, errors.Is(s.Record(TurnRecord{}, nil, nil, now), ErrInvalidTransition))
		assert.False(t, s.AdvanceIfStepComplete(testSteps, now))
	}
}

func TestComplete_RequiresReady(t *testing.T) {
	now := time.Now()
	s := freshSession()
	assert.True(t, errors.Is(s.Complete(now), ErrInvalidTransition))

	s.State = StateReady
	require.NoError(t, s.Complete(now))
	assert.Equal(t, StateCompleted, s.State)
	assert.Equal(t, "completed", s.Disposition)
}

func TestFail_RecordsReason(t *testing.T) {
	s := freshSession()
	require.NoError(t, s.Fail("store_failure", time.Now()))
	assert.Equal(t, StateFailed, s.State)
	assert.Equal(t, "failed: store_failure", s.Disposition)
}

func TestClone_IsDeep(t *testing.T) {
	s := freshSession()
	require.NoError(t, s.Record(TurnRecord{Extracted: map[string]string{"name": "a"}}, map[string]string{"name": "a"}, nil, time.Now()))
	c := s.Clone()
	c.Collected["name"] = "changed"
	c.History[0].Extracted["name"] = "changed"
	assert.Equal(t, "a", s.Collected["name"])
	assert.Equal(t, "a", s.History[0].Extracted["name"])
}
