package transcode

import (
	"log/slog"
	"testing"
	"time"
)

func waitDone(t *testing.T, s *Supervisor, timeout time.Duration) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(timeout):
		t.Fatal("supervisor did not exit in time")
	}
}

func TestSupervisorStopInterruptsChild(t *testing.T) {
	s := NewSupervisor("sleep", []string{"60"}, nil, "/tmp/rec.flv", slog.Default())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := s.State(); got != StateRunning {
		t.Fatalf("state = %s, want running", got)
	}

	path := s.Stop()
	if path != "/tmp/rec.flv" {
		t.Fatalf("Stop returned %q", path)
	}
	if got := s.State(); got != StateExited {
		t.Fatalf("state after stop = %s, want exited", got)
	}
	if err := s.Err(); err != nil {
		t.Fatalf("expected stop must not report an error, got %v", err)
	}
}

func TestSupervisorStopIdempotent(t *testing.T) {
	s := NewSupervisor("sleep", []string{"60"}, nil, "/tmp/rec.flv", slog.Default())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Stop() != "/tmp/rec.flv" || s.Stop() != "/tmp/rec.flv" {
		t.Fatal("Stop must be idempotent and keep returning the recording path")
	}
}

func TestSupervisorStopBeforeStart(t *testing.T) {
	s := NewSupervisor("sleep", []string{"60"}, nil, "/tmp/rec.flv", slog.Default())
	if s.Stop() != "/tmp/rec.flv" {
		t.Fatal("Stop on idle supervisor must return the recording path")
	}
	if got := s.State(); got != StateExited {
		t.Fatalf("state = %s, want exited", got)
	}
	if err := s.Start(); err == nil {
		t.Fatal("Start after Stop must fail")
	}
}

func TestSupervisorUnexpectedCrash(t *testing.T) {
	s := NewSupervisor("sh", []string{"-c", "exit 3"}, nil, "/tmp/rec.flv", slog.Default())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s, 5*time.Second)
	if err := s.Err(); err == nil {
		t.Fatal("crash must surface an exit error")
	}
}

func TestSupervisorCleanExitIsNotAnError(t *testing.T) {
	s := NewSupervisor("sh", []string{"-c", "exit 0"}, nil, "/tmp/rec.flv", slog.Default())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s, 5*time.Second)
	if err := s.Err(); err != nil {
		t.Fatalf("clean exit must not report an error, got %v", err)
	}
}

func TestSupervisorHardwareFallback(t *testing.T) {
	// First argv dies immediately (hardware init failure); the fallback argv
	// keeps running until stopped.
	s := NewSupervisor("sh",
		[]string{"-c", "exit 1"},
		[]string{"-c", "sleep 60"},
		"/tmp/rec.flv", slog.Default())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	time.Sleep(500 * time.Millisecond)
	if got := s.State(); got != StateRunning {
		t.Fatalf("state after fallback = %s, want running", got)
	}

	s.Stop()
	if err := s.Err(); err != nil {
		t.Fatalf("fallback run stopped cleanly, got error %v", err)
	}
}

func TestSupervisorStartFailure(t *testing.T) {
	s := NewSupervisor("/nonexistent/encoder", []string{"-x"}, nil, "/tmp/rec.flv", slog.Default())
	if err := s.Start(); err == nil {
		t.Fatal("Start must fail for a missing binary")
	}
	if got := s.State(); got != StateExited {
		t.Fatalf("state = %s, want exited", got)
	}
	waitDone(t, s, time.Second)
}
