// Package session implements the per-question state machine that reacts to the
// broadcast signal and keeps the participant's code safe across freezes.
package session

import (
	"context"
	"fmt"
	"sync"

	"redlight/internal/assessment/signal"
	pkgerrors "redlight/pkg/errors"
	"redlight/pkg/utils/logger"

	"go.uber.org/zap"
)

// Boilerplate seeds a buffer when neither prior code nor saved work exists.
const Boilerplate = "#include<stdio.h>\nint main() {\n    printf(\"Hello, World!\\n\");\n    return 0;\n}"

const editFrozenMessage = "Cannot edit code during red light!"

// Transition describes one accepted signal change.
type Transition struct {
	From signal.Signal
	To   signal.Signal

	// Restored is true when a RED to GREEN change replaced the buffer with the snapshot.
	Restored bool
}

// Config wires a Session.
type Config struct {
	// Scope keys the durable slots, usually participant and question.
	Scope string
	Store SlotStore

	// PriorCode, when non-empty, wins over saved work.
	PriorCode string

	// Boilerplate overrides the default starter code.
	Boilerplate string

	// OnTransition is called after each accepted change, outside the lock.
	OnTransition func(Transition)
}

// Session holds the live buffer and the last known signal for one question.
type Session struct {
	mu       sync.Mutex
	scope    string
	store    SlotStore
	current  signal.Signal
	buffer   string
	observer func(Transition)
	sub      signal.Subscription

	// frozenSaved is true when the current freeze wrote the snapshot slot.
	// A resume restores only then, so a stale snapshot never replaces newer work.
	frozenSaved bool
}

// New creates a GREEN session and seeds its buffer.
func New(cfg Config) (*Session, error) {
	if cfg.Scope == "" {
		return nil, fmt.Errorf("scope is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("slot store is required")
	}
	boilerplate := cfg.Boilerplate
	if boilerplate == "" {
		boilerplate = Boilerplate
	}

	s := &Session{
		scope:    cfg.Scope,
		store:    cfg.Store,
		current:  signal.Green,
		observer: cfg.OnTransition,
	}

	switch {
	case cfg.PriorCode != "":
		s.buffer = cfg.PriorCode
	default:
		saved, ok, err := cfg.Store.Load(cfg.Scope, CurrentWork)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, pkgerrors.SlotStoreError, "load saved work failed")
		}
		if ok {
			s.buffer = saved
		} else {
			s.buffer = boilerplate
		}
	}
	return s, nil
}

// Attach subscribes the session to ch. The channel's current value is
// applied before Attach returns when the channel delivers it synchronously.
func (s *Session) Attach(ctx context.Context, ch signal.Channel) error {
	if ch == nil {
		return fmt.Errorf("signal channel is required")
	}
	sub, err := ch.Subscribe(ctx, s.OnSignal)
	if err != nil {
		return fmt.Errorf("subscribe signal failed: %w", err)
	}
	s.mu.Lock()
	prev := s.sub
	s.sub = sub
	s.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// Close releases the signal subscription. The slot store stays open.
func (s *Session) Close() error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Close()
}

// OnSignal applies a raw channel value. It never fails: malformed values keep
// the last known signal and repeated values are no-ops.
func (s *Session) OnSignal(value string) {
	next, ok := signal.Parse(value)
	if !ok {
		logger.Warn(context.Background(), "ignoring malformed signal",
			zap.String("scope", s.scope),
			zap.String("value", value),
		)
		return
	}

	s.mu.Lock()
	prev := s.current
	if prev == next {
		s.mu.Unlock()
		return
	}
	s.current = next
	transition := Transition{From: prev, To: next}
	switch next {
	case signal.Red:
		s.frozenSaved = false
		if err := s.store.Save(s.scope, FrozenSnapshot, s.buffer); err != nil {
			logger.Error(context.Background(), "snapshot on freeze failed, keeping buffer in memory",
				zap.String("scope", s.scope),
				zap.Error(err),
			)
		} else {
			s.frozenSaved = true
		}
	case signal.Green:
		if !s.frozenSaved {
			break
		}
		s.frozenSaved = false
		snapshot, found, err := s.store.Load(s.scope, FrozenSnapshot)
		if err != nil {
			logger.Error(context.Background(), "restore on resume failed",
				zap.String("scope", s.scope),
				zap.Error(err),
			)
		} else if found {
			s.buffer = snapshot
			transition.Restored = true
		}
	}
	observer := s.observer
	s.mu.Unlock()

	logger.Info(context.Background(), "signal transition",
		zap.String("scope", s.scope),
		zap.String("from", string(prev)),
		zap.String("to", string(next)),
	)
	if observer != nil {
		observer(transition)
	}
}

// Signal returns the last known signal.
func (s *Session) Signal() signal.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// CanEdit reports whether Edit is allowed right now.
func (s *Session) CanEdit() bool { return s.Signal() == signal.Green }

// CanRun reports whether code may be sent to the runner right now.
func (s *Session) CanRun() bool { return s.Signal() == signal.Green }

// CanSubmit reports whether code may be sent for evaluation right now.
func (s *Session) CanSubmit() bool { return s.Signal() == signal.Green }

// Code returns the live buffer.
func (s *Session) Code() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer
}

// Scope returns the durable slot scope.
func (s *Session) Scope() string {
	return s.scope
}

// Edit replaces the buffer and mirrors it to the current work slot.
// While RED it returns a SessionFrozen error and changes nothing. A failed
// mirror write leaves the buffer updated and returns a SlotStoreError.
func (s *Session) Edit(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != signal.Green {
		return pkgerrors.FrozenError(editFrozenMessage)
	}
	s.buffer = text
	if err := s.store.Save(s.scope, CurrentWork, text); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.SlotStoreError, "save current work failed")
	}
	return nil
}
