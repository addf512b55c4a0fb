package session_test

import (
	"context"
	"path/filepath"
	"testing"

	"redlight/internal/assessment/session"
	"redlight/internal/assessment/signal"
	"redlight/internal/testutil"
	pkgerrors "redlight/pkg/errors"
)

type failingStore struct {
	session.SlotStore
}

func (failingStore) Save(string, session.Slot, string) error {
	return pkgerrors.New(pkgerrors.SlotStoreError)
}

func newSession(t *testing.T, store session.SlotStore) *session.Session {
	t.Helper()
	s, err := session.New(session.Config{Scope: "p1/q4", Store: store})
	if err != nil {
		t.Fatalf("new session failed: %v", err)
	}
	return s
}

func TestNewSeedsBuffer(t *testing.T) {
	t.Run("boilerplate when nothing saved", func(t *testing.T) {
		s := newSession(t, session.NewMemoryStore())
		testutil.AssertEqual(t, s.Code(), session.Boilerplate)
		testutil.AssertEqual(t, s.Signal(), signal.Green)
	})

	t.Run("saved work wins over boilerplate", func(t *testing.T) {
		store := session.NewMemoryStore()
		_ = store.Save("p1/q4", session.CurrentWork, "int main(){}")
		s := newSession(t, store)
		testutil.AssertEqual(t, s.Code(), "int main(){}")
	})

	t.Run("prior code wins over saved work", func(t *testing.T) {
		store := session.NewMemoryStore()
		_ = store.Save("p1/q4", session.CurrentWork, "saved")
		s, err := session.New(session.Config{Scope: "p1/q4", Store: store, PriorCode: "prior"})
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, s.Code(), "prior")
	})

	t.Run("scope and store are required", func(t *testing.T) {
		if _, err := session.New(session.Config{Store: session.NewMemoryStore()}); err == nil {
			t.Fatalf("expected error for missing scope")
		}
		if _, err := session.New(session.Config{Scope: "x"}); err == nil {
			t.Fatalf("expected error for missing store")
		}
	})
}

func TestEditMirrorsCurrentWorkWhileGreen(t *testing.T) {
	store := session.NewMemoryStore()
	s := newSession(t, store)

	testutil.AssertNoError(t, s.Edit("A"))
	testutil.AssertEqual(t, s.Code(), "A")
	saved, ok, _ := store.Load("p1/q4", session.CurrentWork)
	testutil.AssertTrue(t, ok, "current work should be saved")
	testutil.AssertEqual(t, saved, "A")
}

func TestFreezeRejectsEditWithoutWrites(t *testing.T) {
	store := session.NewMemoryStore()
	s := newSession(t, store)
	testutil.AssertNoError(t, s.Edit("A"))

	s.OnSignal("red")
	writes := store.Writes()

	err := s.Edit("B")
	if !pkgerrors.Is(err, pkgerrors.SessionFrozen) {
		t.Fatalf("expected SessionFrozen, got %v", err)
	}
	testutil.AssertEqual(t, s.Code(), "A")
	testutil.AssertEqual(t, store.Writes(), writes)
	testutil.AssertFalse(t, s.CanEdit(), "edit must be disabled while red")
	testutil.AssertFalse(t, s.CanRun(), "run must be disabled while red")
	testutil.AssertFalse(t, s.CanSubmit(), "submit must be disabled while red")
}

func TestRepeatedRedIsIdempotent(t *testing.T) {
	store := session.NewMemoryStore()
	s := newSession(t, store)
	testutil.AssertNoError(t, s.Edit("A"))

	var transitions int
	s2, _ := session.New(session.Config{Scope: "p1/q4", Store: store, OnTransition: func(session.Transition) { transitions++ }})
	s2.OnSignal("red")
	writes := store.Writes()
	s2.OnSignal("red")
	s2.OnSignal("red")

	testutil.AssertEqual(t, transitions, 1)
	testutil.AssertEqual(t, store.Writes(), writes)
	snap, _, _ := store.Load("p1/q4", session.FrozenSnapshot)
	testutil.AssertEqual(t, snap, "A")
}

func TestResumeRestoresSnapshot(t *testing.T) {
	store := session.NewMemoryStore()
	s := newSession(t, store)
	testutil.AssertNoError(t, s.Edit("A"))

	var last session.Transition
	s2, _ := session.New(session.Config{Scope: "p1/q4", Store: store, OnTransition: func(tr session.Transition) { last = tr }})
	s2.OnSignal("red")
	s2.OnSignal("green")

	testutil.AssertEqual(t, s2.Code(), "A")
	testutil.AssertTrue(t, last.Restored, "resume should report a restore")
	testutil.AssertEqual(t, last.From, signal.Red)
	testutil.AssertEqual(t, last.To, signal.Green)

	// snapshot is retained after resume
	snap, ok, _ := store.Load("p1/q4", session.FrozenSnapshot)
	testutil.AssertTrue(t, ok, "snapshot should be retained")
	testutil.AssertEqual(t, snap, "A")
}

func TestMalformedSignalKeepsLastKnownState(t *testing.T) {
	s := newSession(t, session.NewMemoryStore())
	s.OnSignal("")
	s.OnSignal("amber")
	testutil.AssertEqual(t, s.Signal(), signal.Green)

	s.OnSignal("RED")
	s.OnSignal("purple")
	testutil.AssertEqual(t, s.Signal(), signal.Red)
}

func TestSnapshotFailureDoesNotBlockFreeze(t *testing.T) {
	s := newSession(t, failingStore{SlotStore: session.NewMemoryStore()})
	s.OnSignal("red")
	testutil.AssertEqual(t, s.Signal(), signal.Red)
	testutil.AssertFalse(t, s.CanEdit(), "freeze must hold even when snapshot fails")
}

// snapshotFailingStore fails FrozenSnapshot writes once failSnapshots is set.
type snapshotFailingStore struct {
	session.SlotStore
	failSnapshots bool
}

func (f *snapshotFailingStore) Save(scope string, slot session.Slot, value string) error {
	if slot == session.FrozenSnapshot && f.failSnapshots {
		return pkgerrors.New(pkgerrors.SlotStoreError)
	}
	return f.SlotStore.Save(scope, slot, value)
}

func TestFailedSnapshotKeepsNewerWorkOnResume(t *testing.T) {
	store := &snapshotFailingStore{SlotStore: session.NewMemoryStore()}
	var last session.Transition
	s, err := session.New(session.Config{Scope: "p1/q4", Store: store, OnTransition: func(tr session.Transition) { last = tr }})
	testutil.AssertNoError(t, err)

	testutil.AssertNoError(t, s.Edit("A"))
	s.OnSignal("red")
	s.OnSignal("green")
	testutil.AssertEqual(t, s.Code(), "A")

	testutil.AssertNoError(t, s.Edit("B"))
	store.failSnapshots = true
	s.OnSignal("red")
	testutil.AssertFalse(t, s.CanEdit(), "freeze must hold even when snapshot fails")
	s.OnSignal("green")

	testutil.AssertEqual(t, s.Code(), "B")
	testutil.AssertFalse(t, last.Restored, "no restore without a fresh snapshot")
}

func TestAttachAppliesInitialRedAndCloseReleases(t *testing.T) {
	hub := signal.NewHub(signal.Red)
	store := session.NewMemoryStore()
	s := newSession(t, store)

	testutil.AssertNoError(t, s.Attach(context.Background(), hub))
	testutil.AssertEqual(t, s.Signal(), signal.Red)
	testutil.AssertEqual(t, hub.Subscribers(), 1)

	snap, ok, _ := store.Load("p1/q4", session.FrozenSnapshot)
	testutil.AssertTrue(t, ok, "initial red should snapshot the seeded buffer")
	testutil.AssertEqual(t, snap, session.Boilerplate)

	hub.Publish("green")
	testutil.AssertTrue(t, s.CanEdit(), "green should re-enable editing")

	testutil.AssertNoError(t, s.Close())
	testutil.AssertEqual(t, hub.Subscribers(), 0)
	hub.Publish("red")
	testutil.AssertEqual(t, s.Signal(), signal.Green)
}

func TestRestoreAfterReloadDuringRed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slots.db")
	store, err := session.OpenBoltStore(path)
	testutil.AssertNoError(t, err)

	hub := signal.NewHub(signal.Green)
	s := newSession(t, store)
	testutil.AssertNoError(t, s.Attach(context.Background(), hub))
	testutil.AssertNoError(t, s.Edit("A"))
	hub.Publish("red")
	testutil.AssertNoError(t, s.Close())
	testutil.AssertNoError(t, store.Close())

	// process restarts while the signal is still red
	reopened, err := session.OpenBoltStore(path)
	testutil.AssertNoError(t, err)
	defer reopened.Close()

	s2 := newSession(t, reopened)
	testutil.AssertNoError(t, s2.Attach(context.Background(), hub))
	defer s2.Close()
	testutil.AssertEqual(t, s2.Signal(), signal.Red)

	hub.Publish("green")
	testutil.AssertEqual(t, s2.Code(), "A")
}
