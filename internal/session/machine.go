package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/deeplink"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/logging"
)

// createAttempts bounds how often Create re-reads a session it lost the
// supersede race on.
const createAttempts = 3

// Machine applies lifecycle transitions and persists them through a Store.
type Machine struct {
	store   Store
	log     logrus.FieldLogger
	nowFunc func() time.Time
	newID   func() string
}

// NewMachine returns a Machine over store.
func NewMachine(store Store, log logrus.FieldLogger) *Machine {
	return &Machine{
		store:   store,
		log:     logging.OrDiscard(log),
		nowFunc: time.Now,
		newID:   uuid.NewString,
	}
}

// Now returns the machine clock.
func (m *Machine) Now() time.Time { return m.nowFunc().UTC() }

// Create starts a fresh session for userID. A live session of the same user
// is superseded first and returned as the second value. Losing the
// supersede race to another writer re-reads the user's session and retries.
func (m *Machine) Create(ctx context.Context, userID, productKey, cpmRef string) (*Session, *Session, error) {
	now := m.Now()

	var superseded *Session
	for attempt := 1; ; attempt++ {
		prev, err := m.store.Get(ctx, userID)
		if err != nil {
			return nil, nil, fmt.Errorf("get session: %w", err)
		}
		if prev == nil || prev.State.Terminal() {
			break
		}
		if err := prev.Supersede(now); err != nil {
			return nil, nil, err
		}
		err = m.Save(ctx, prev)
		if errors.Is(err, ErrVersionMismatch) && attempt < createAttempts {
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("supersede session %s: %w", prev.SessionID, err)
		}
		superseded = prev.Clone()
		m.log.WithFields(logrus.Fields{"user_id": userID, "session_id": prev.SessionID}).Info("session: superseded")
		break
	}

	s := &Session{
		SessionID:     m.newID(),
		UserID:        userID,
		ProductKey:    productKey,
		State:         StateCollecting,
		CPMRef:        cpmRef,
		StepIndex:     0,
		Collected:     map[string]string{},
		History:       []TurnRecord{},
		StartedAt:     now,
		LastUpdatedAt: now,
	}
	if err := m.Save(ctx, s); err != nil {
		return nil, nil, fmt.Errorf("create session: %w", err)
	}
	m.log.WithFields(logrus.Fields{"user_id": userID, "session_id": s.SessionID, "product_key": productKey}).Info("session: created")
	return s.Clone(), superseded, nil
}

// Get returns the latest session of userID, or nil.
func (m *Machine) Get(ctx context.Context, userID string) (*Session, error) {
	return m.store.Get(ctx, userID)
}

// GetByID returns a session by id, or nil.
func (m *Machine) GetByID(ctx context.Context, sessionID string) (*Session, error) {
	return m.store.GetByID(ctx, sessionID)
}

// Save persists s, bumping its version. On failure s keeps its old version.
func (m *Machine) Save(ctx context.Context, s *Session) error {
	expected := s.Version
	s.Version++
	if err := m.store.Put(ctx, s, expected); err != nil {
		s.Version = expected
		return err
	}
	return nil
}

// Complete transitions the user's ready session to completed, attaching
// link when it is not nil.
func (m *Machine) Complete(ctx context.Context, userID string, link *deeplink.Artifact) (*Session, error) {
	return m.apply(ctx, userID, func(s *Session, now time.Time) error {
		if link != nil && s.State == StateReady {
			s.DeepLink = link
		}
		return s.Complete(now)
	})
}

// Cancel transitions the user's session to cancelled and reports whether it
// changed. Cancelling a terminal session is a no-op that returns the stored
// snapshot; a nil session means the user has none.
func (m *Machine) Cancel(ctx context.Context, userID string) (*Session, bool, error) {
	s, err := m.apply(ctx, userID, func(s *Session, now time.Time) error { return s.Cancel(now) })
	if errors.Is(err, ErrTerminal) || errors.Is(err, ErrNotFound) {
		return s, false, nil
	}
	if err != nil {
		return s, false, err
	}
	m.log.WithFields(logrus.Fields{"user_id": userID, "session_id": s.SessionID}).Info("session: cancelled")
	return s, true, nil
}

// Fail transitions the user's session to failed with reason.
func (m *Machine) Fail(ctx context.Context, userID, reason string) (*Session, error) {
	s, err := m.apply(ctx, userID, func(s *Session, now time.Time) error { return s.Fail(reason, now) })
	if err == nil {
		m.log.WithFields(logrus.Fields{"user_id": userID, "reason": reason}).Warn("session: failed")
	}
	return s, err
}

// applyAttempts bounds retries of a transition that lost a version race.
const applyAttempts = 3

// apply loads the user's session, runs fn and saves the result, retrying
// when a concurrent writer got there first. The returned session is the
// stored snapshot, updated only when fn succeeded.
func (m *Machine) apply(ctx context.Context, userID string, fn func(*Session, time.Time) error) (*Session, error) {
	var err error
	for i := 0; i < applyAttempts; i++ {
		var s *Session
		s, err = m.store.Get(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("get session: %w", err)
		}
		if s == nil {
			return nil, ErrNotFound
		}
		next := s.Clone()
		if err := fn(next, m.Now()); err != nil {
			return s, err
		}
		err = m.Save(ctx, next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, ErrVersionMismatch) {
			return s, err
		}
	}
	return nil, err
}
