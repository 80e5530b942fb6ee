package transcode

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"sync"
	"time"
)

// State is the supervisor lifecycle: Idle → Running → Stopping → Exited.
// Running → Exited without a stop request is an unexpected child exit.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateExited
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

const (
	// hardwareFallbackWindow: a hardware encoder that cannot initialize
	// dies almost immediately; an exit inside this window triggers one
	// respawn with software encoders.
	hardwareFallbackWindow = 2 * time.Second
	stopGracePeriod        = 5 * time.Second
	maxRetainedErrorLines  = 20
)

var stderrErrorPattern = regexp.MustCompile(`(?i)\b(error|fatal|failed|invalid)\b`)

// Supervisor owns a single external encoder subprocess. The orchestrator
// holds the supervisor handle, never the raw process.
type Supervisor struct {
	binPath       string
	args          []string
	fallbackArgs  []string // software-encoder argv; nil disables fallback
	recordingPath string
	logger        *slog.Logger

	mu            sync.Mutex
	state         State
	cmd           *exec.Cmd
	startedAt     time.Time
	stopRequested bool
	waitErr       error
	errorLines    []string
	done          chan struct{}
}

func NewSupervisor(binPath string, args, fallbackArgs []string, recordingPath string, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		binPath:       binPath,
		args:          args,
		fallbackArgs:  fallbackArgs,
		recordingPath: recordingPath,
		logger:        logger,
		done:          make(chan struct{}),
	}
}

// Start spawns the encoder and begins supervision. It does not block on the
// hardware fallback window; a failed hardware init is retried asynchronously.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return fmt.Errorf("transcoder already started (state %s)", s.state)
	}

	cmd, err := s.spawn(s.args)
	if err != nil {
		s.state = StateExited
		s.waitErr = err
		close(s.done)
		return fmt.Errorf("spawn transcoder: %w", err)
	}

	s.cmd = cmd
	s.startedAt = time.Now()
	s.state = StateRunning
	go s.supervise(cmd, s.fallbackArgs != nil)
	return nil
}

func (s *Supervisor) spawn(args []string) (*exec.Cmd, error) {
	cmd := exec.Command(s.binPath, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go s.tailStderr(stderr)
	return cmd, nil
}

func (s *Supervisor) supervise(cmd *exec.Cmd, canFallback bool) {
	err := cmd.Wait()

	s.mu.Lock()
	if canFallback && !s.stopRequested && time.Since(s.startedAt) < hardwareFallbackWindow {
		s.logger.Warn("transcoder exited inside hardware init window, retrying with software encoders",
			slog.String("recording", s.recordingPath),
		)
		next, spawnErr := s.spawn(s.fallbackArgs)
		if spawnErr == nil {
			s.cmd = next
			s.startedAt = time.Now()
			s.mu.Unlock()
			s.supervise(next, false)
			return
		}
		err = fmt.Errorf("software fallback spawn: %w", spawnErr)
	}

	if !s.stopRequested {
		// A clean exit means the input ended; a non-zero exit is a crash.
		s.waitErr = err
	}
	s.state = StateExited
	close(s.done)
	s.mu.Unlock()
}

// Stop interrupts the child, waits up to the grace period, then kills it.
// Idempotent; always returns the recording path.
func (s *Supervisor) Stop() string {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.state = StateExited
		close(s.done)
		s.mu.Unlock()
		return s.recordingPath
	case StateExited:
		s.mu.Unlock()
		return s.recordingPath
	case StateStopping:
		s.mu.Unlock()
		<-s.done
		return s.recordingPath
	}

	s.state = StateStopping
	s.stopRequested = true
	cmd := s.cmd
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(os.Interrupt)
	}

	select {
	case <-s.done:
	case <-time.After(stopGracePeriod):
		s.logger.Warn("transcoder still alive after interrupt, killing",
			slog.String("recording", s.recordingPath),
		)
		s.mu.Lock()
		cmd = s.cmd
		s.mu.Unlock()
		if cmd != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-s.done
	}
	return s.recordingPath
}

// Done is closed when the child has exited for good.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Err reports the child's exit error. Nil for an expected stop or a clean
// end-of-input exit.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitErr
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) RecordingPath() string {
	return s.recordingPath
}

// ErrorLines returns the retained stderr lines that matched the error
// pattern, oldest first.
func (s *Supervisor) ErrorLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.errorLines))
	copy(out, s.errorLines)
	return out
}

// tailStderr drains the child's stderr so it can never block the encoder.
// Only lines matching the error pattern are surfaced; the rest is dropped.
func (s *Supervisor) tailStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !stderrErrorPattern.MatchString(line) {
			continue
		}
		s.logger.Error("transcoder stderr", slog.String("line", line))
		s.mu.Lock()
		if len(s.errorLines) < maxRetainedErrorLines {
			s.errorLines = append(s.errorLines, line)
		}
		s.mu.Unlock()
	}
}
