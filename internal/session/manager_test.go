package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestManager() *Manager {
	return NewManager(testConfig(), Services{
		Transcriber: &fakeTranscriber{text: "hello"},
		Generator:   &fakeGenerator{chunks: []string{"Hi."}},
		Synthesizer: &fakeSynthesizer{size: 320},
	}, zerolog.Nop())
}

func TestManager_OpenAndClose(t *testing.T) {
	m := newTestManager()

	s, err := m.Open(context.Background(), "CA1", "MZ1", &fakeTransport{})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if m.Active() != 1 {
		t.Errorf("Expected 1 active session, got %d", m.Active())
	}
	if got, ok := m.Get(s.ID()); !ok || got != s {
		t.Error("Expected Get to return the opened session")
	}
	if s.CallID() != "CA1" {
		t.Errorf("Expected call id CA1, got %s", s.CallID())
	}

	if err := m.Close(s.ID()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for session to end")
	}
	waitFor(t, "session removal", func() bool { return m.Active() == 0 })

	if err := m.Close(s.ID()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed for unknown session, got %v", err)
	}
}

func TestManager_Shutdown(t *testing.T) {
	m := newTestManager()

	var sessions []*CallSession
	for i := 0; i < 3; i++ {
		s, err := m.Open(context.Background(), "CA", "MZ", &fakeTransport{})
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		sessions = append(sessions, s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Expected clean shutdown, got %v", err)
	}

	for _, s := range sessions {
		if s.State() != StateClosed {
			t.Errorf("Expected CLOSED, got %s", s.State())
		}
	}
	if m.Active() != 0 {
		t.Errorf("Expected no active sessions, got %d", m.Active())
	}
	if _, err := m.Open(context.Background(), "CA", "MZ", &fakeTransport{}); err == nil {
		t.Error("Expected Open to fail after shutdown")
	}
}

func TestManager_SessionsAreIndependent(t *testing.T) {
	m := newTestManager()
	a, _ := m.Open(context.Background(), "CA1", "MZ1", &fakeTransport{})
	b, _ := m.Open(context.Background(), "CA2", "MZ2", &fakeTransport{})
	defer func() { _ = m.Shutdown(context.Background()) }()

	if a.ID() == b.ID() {
		t.Error("Expected distinct session ids")
	}

	fa := &feeder{t: t, s: a}
	fa.speech(20)
	fa.waitProcessed()

	if a.Processed() != 20 {
		t.Errorf("Expected 20 frames processed, got %d", a.Processed())
	}
	if b.Processed() != 0 {
		t.Errorf("Expected second session untouched, got %d frames", b.Processed())
	}
}
