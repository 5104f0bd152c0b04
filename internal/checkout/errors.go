package checkout

import (
	"errors"
	"fmt"
)

// Kind classifies the errors the orchestrator surfaces.
type Kind string

const (
	KindNoProcessModel        Kind = "no_process_model"
	KindNoActiveSession       Kind = "no_active_session"
	KindTurnInProgress        Kind = "turn_in_progress"
	KindValidation            Kind = "validation_error"
	KindDeepLink              Kind = "deeplink_error"
	KindExtractionUnavailable Kind = "extraction_unavailable"
	KindStoreFailure          Kind = "store_failure"
	KindAgentNotRegistered    Kind = "agent_not_registered"
)

// Error is returned by every Orchestrator operation. errors.Is matches
// on Kind against the sentinels below.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("checkout %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("checkout %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

var (
	ErrNoProcessModel     = &Error{Kind: KindNoProcessModel}
	ErrNoActiveSession    = &Error{Kind: KindNoActiveSession}
	ErrTurnInProgress     = &Error{Kind: KindTurnInProgress}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrDeepLink           = &Error{Kind: KindDeepLink}
	ErrStoreFailure       = &Error{Kind: KindStoreFailure}
	ErrAgentNotRegistered = &Error{Kind: KindAgentNotRegistered}
)

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// errInterrupted is the cause when cancel or a new start stops a turn.
var errInterrupted = errors.New("turn interrupted")
