package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"classcast/internal/domain"
)

type fakeSup struct {
	recording string

	mu       sync.Mutex
	started  bool
	stopped  bool
	startErr error
	exitErr  error
	done     chan struct{}
}

func newFakeSup(recording string) *fakeSup {
	return &fakeSup{recording: recording, done: make(chan struct{})}
}

func (f *fakeSup) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeSup) Stop() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stopped {
		f.stopped = true
		close(f.done)
	}
	return f.recording
}

// exit simulates the child dying on its own.
func (f *fakeSup) exit(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stopped {
		f.stopped = true
		f.exitErr = err
		close(f.done)
	}
}

func (f *fakeSup) Done() <-chan struct{} { return f.done }

func (f *fakeSup) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exitErr
}

func (f *fakeSup) RecordingPath() string { return f.recording }

func (f *fakeSup) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type fakeRooms struct {
	policy domain.CodecPolicy

	mu     sync.Mutex
	events []string
}

func (f *fakeRooms) CodecPolicy(domain.StreamKey) domain.CodecPolicy { return f.policy }

func (f *fakeRooms) record(ev string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeRooms) StreamStarted(key domain.StreamKey, codecs []string) {
	f.record(fmt.Sprintf("started:%s:%v", key, codecs))
}

func (f *fakeRooms) StreamEnded(key domain.StreamKey) {
	f.record(fmt.Sprintf("ended:%s", key))
}

func (f *fakeRooms) StreamFailed(key domain.StreamKey, reason string) {
	f.record(fmt.Sprintf("failed:%s", key))
}

func (f *fakeRooms) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

type fakeCatalog struct {
	mu   sync.Mutex
	recs []domain.RecordingRecord
}

func (f *fakeCatalog) Insert(_ context.Context, rec domain.RecordingRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return nil
}

func (f *fakeCatalog) snapshot() []domain.RecordingRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.RecordingRecord(nil), f.recs...)
}

type testEnv struct {
	orch    *Orchestrator
	rooms   *fakeRooms
	catalog *fakeCatalog
	sups    chan *fakeSup
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	cfg := Config{
		IngestURL:       "rtmp://127.0.0.1:1935/live",
		StreamsDir:      t.TempDir(),
		RecordingsDir:   t.TempDir(),
		SegmentDuration: 1,
		PlaylistWindow:  5,
		FrameRate:       30,
		CleanupGrace:    time.Hour, // tests trigger cleanup explicitly
		H264Renditions: []domain.Rendition{
			{Name: "720p", Width: 1280, Height: 720, VideoBitrateKbps: 2800, AudioBitrateKbps: 128},
		},
		HEVCRenditions: []domain.Rendition{
			{Name: "720p", Width: 1280, Height: 720, VideoBitrateKbps: 1800, AudioBitrateKbps: 128},
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		rooms:   &fakeRooms{},
		catalog: &fakeCatalog{},
		sups:    make(chan *fakeSup, 8),
	}
	factory := func(args, fallbackArgs []string, recordingPath string) Supervisor {
		sup := newFakeSup(recordingPath)
		env.sups <- sup
		return sup
	}
	env.orch = New(cfg, factory, env.rooms, env.catalog, slog.Default())
	return env
}

func (e *testEnv) lastSup(t *testing.T) *fakeSup {
	t.Helper()
	select {
	case s := <-e.sups:
		return s
	default:
		t.Fatal("no supervisor was created")
		return nil
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPostPublishStartsStream(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if err := env.orch.PostPublish(ctx, domain.PublishEvent{Key: "k1", Addr: "10.0.0.1"}); err != nil {
		t.Fatalf("PostPublish: %v", err)
	}

	sup := env.lastSup(t)
	if !sup.started {
		t.Fatal("supervisor was not started")
	}

	master := filepath.Join(env.orch.cfg.StreamsDir, "k1_h264.m3u8")
	if _, err := os.Stat(master); err != nil {
		t.Fatalf("master playlist missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.orch.cfg.StreamsDir, "k1_hevc.m3u8")); err == nil {
		t.Fatal("hevc master must not be written with the default policy")
	}

	evs := env.rooms.snapshot()
	if len(evs) != 1 || evs[0] != "started:k1:[h264]" {
		t.Fatalf("room events = %v", evs)
	}

	streams := env.orch.ActiveStreams()
	if len(streams) != 1 || streams[0].Key != "k1" || streams[0].PublisherAddr != "10.0.0.1" {
		t.Fatalf("active streams = %+v", streams)
	}
}

func TestPostPublishFirstWins(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if err := env.orch.PostPublish(ctx, domain.PublishEvent{Key: "k1"}); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	err := env.orch.PostPublish(ctx, domain.PublishEvent{Key: "k1"})
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("second publish: got %v, want ErrAlreadyExists", err)
	}
	if env.orch.ActiveCount() != 1 {
		t.Fatalf("active count = %d, want 1", env.orch.ActiveCount())
	}
}

func TestPrePublish(t *testing.T) {
	env := newTestEnv(t, nil)

	if err := env.orch.PrePublish(domain.PublishEvent{Key: "k1"}); err != nil {
		t.Fatalf("PrePublish: %v", err)
	}
	if err := env.orch.PrePublish(domain.PublishEvent{}); err == nil {
		t.Fatal("empty key must be rejected")
	}

	if err := env.orch.PostPublish(context.Background(), domain.PublishEvent{Key: "k1"}); err != nil {
		t.Fatalf("PostPublish: %v", err)
	}
	if err := env.orch.PrePublish(domain.PublishEvent{Key: "k1"}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("busy key: got %v, want ErrAlreadyExists", err)
	}
}

func TestSecondaryCodecFollowsPolicy(t *testing.T) {
	env := newTestEnv(t, nil)
	env.rooms.policy = domain.CodecPolicy{SecondaryCodecEnabled: true}

	if err := env.orch.PostPublish(context.Background(), domain.PublishEvent{Key: "k1"}); err != nil {
		t.Fatalf("PostPublish: %v", err)
	}

	for _, name := range []string{"k1_h264.m3u8", "k1_hevc.m3u8"} {
		if _, err := os.Stat(filepath.Join(env.orch.cfg.StreamsDir, name)); err != nil {
			t.Fatalf("master %s missing: %v", name, err)
		}
	}
	evs := env.rooms.snapshot()
	if len(evs) != 1 || evs[0] != "started:k1:[h264 hevc]" {
		t.Fatalf("room events = %v", evs)
	}
}

func TestDonePublishStopsAndCatalogs(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if err := env.orch.PostPublish(ctx, domain.PublishEvent{Key: "k1", Addr: "10.0.0.1"}); err != nil {
		t.Fatalf("PostPublish: %v", err)
	}
	sup := env.lastSup(t)

	env.orch.DonePublish(ctx, domain.PublishEvent{Key: "k1", Addr: "10.0.0.1"})

	if !sup.isStopped() {
		t.Fatal("supervisor was not stopped")
	}
	if env.orch.ActiveCount() != 0 {
		t.Fatal("stream row must be removed")
	}

	recs := env.catalog.snapshot()
	if len(recs) != 1 || recs[0].StreamKey != "k1" || recs[0].Failed {
		t.Fatalf("catalog = %+v", recs)
	}
	if recs[0].Path != sup.recording {
		t.Fatalf("catalog path %q, want %q", recs[0].Path, sup.recording)
	}

	evs := env.rooms.snapshot()
	if len(evs) != 2 || evs[1] != "ended:k1" {
		t.Fatalf("room events = %v", evs)
	}
}

func TestDonePublishIgnoresStalePublisher(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if err := env.orch.PostPublish(ctx, domain.PublishEvent{Key: "k1", Addr: "10.0.0.1"}); err != nil {
		t.Fatalf("PostPublish: %v", err)
	}
	sup := env.lastSup(t)

	env.orch.DonePublish(ctx, domain.PublishEvent{Key: "k1", Addr: "10.0.0.9"})
	if sup.isStopped() || env.orch.ActiveCount() != 1 {
		t.Fatal("unpublish from another publisher must be ignored")
	}

	env.orch.DonePublish(ctx, domain.PublishEvent{Key: "unknown"})
	if env.orch.ActiveCount() != 1 {
		t.Fatal("unknown key must be ignored")
	}
}

func TestCrashReportsFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if err := env.orch.PostPublish(ctx, domain.PublishEvent{Key: "k1"}); err != nil {
		t.Fatalf("PostPublish: %v", err)
	}
	sup := env.lastSup(t)
	sup.exit(errors.New("exit status 1"))

	waitFor(t, func() bool { return env.orch.ActiveCount() == 0 }, "crashed stream row was not removed")
	waitFor(t, func() bool {
		evs := env.rooms.snapshot()
		return len(evs) == 2 && evs[1] == "failed:k1"
	}, "room did not observe stream-failed")

	recs := env.catalog.snapshot()
	if len(recs) != 1 || !recs[0].Failed {
		t.Fatalf("catalog = %+v", recs)
	}
}

func TestCleanExitEndsStream(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if err := env.orch.PostPublish(ctx, domain.PublishEvent{Key: "k1"}); err != nil {
		t.Fatalf("PostPublish: %v", err)
	}
	env.lastSup(t).exit(nil)

	waitFor(t, func() bool {
		evs := env.rooms.snapshot()
		return len(evs) == 2 && evs[1] == "ended:k1"
	}, "clean exit must end the stream, not fail it")

	recs := env.catalog.snapshot()
	if len(recs) != 1 || recs[0].Failed {
		t.Fatalf("catalog = %+v", recs)
	}
}

func TestCleanupDeletesStreamFiles(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.CleanupGrace = 20 * time.Millisecond })
	ctx := context.Background()

	if err := env.orch.PostPublish(ctx, domain.PublishEvent{Key: "k1"}); err != nil {
		t.Fatalf("PostPublish: %v", err)
	}
	dir := env.orch.cfg.StreamsDir
	for _, name := range []string{"k1_h264_720p_000.ts", "k1_h264_720p.m3u8", "k2_h264.m3u8", "k1_notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}

	env.orch.DonePublish(ctx, domain.PublishEvent{Key: "k1"})

	waitFor(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "k1_h264.m3u8"))
		return os.IsNotExist(err)
	}, "cleanup did not delete the master playlist")

	for _, gone := range []string{"k1_h264_720p_000.ts", "k1_h264_720p.m3u8"} {
		if _, err := os.Stat(filepath.Join(dir, gone)); !os.IsNotExist(err) {
			t.Fatalf("%s must be deleted", gone)
		}
	}
	for _, kept := range []string{"k2_h264.m3u8", "k1_notes.txt"} {
		if _, err := os.Stat(filepath.Join(dir, kept)); err != nil {
			t.Fatalf("%s must survive cleanup: %v", kept, err)
		}
	}
}

func TestRepublishCancelsCleanup(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.CleanupGrace = 50 * time.Millisecond })
	ctx := context.Background()

	if err := env.orch.PostPublish(ctx, domain.PublishEvent{Key: "k1"}); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	env.orch.DonePublish(ctx, domain.PublishEvent{Key: "k1"})

	if err := env.orch.PostPublish(ctx, domain.PublishEvent{Key: "k1"}); err != nil {
		t.Fatalf("republish: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if _, err := os.Stat(filepath.Join(env.orch.cfg.StreamsDir, "k1_h264.m3u8")); err != nil {
		t.Fatalf("republish must cancel the pending cleanup: %v", err)
	}
}

func TestShutdownStopsEverything(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for _, key := range []string{"k1", "k2"} {
		if err := env.orch.PostPublish(ctx, domain.PublishEvent{Key: domain.StreamKey(key)}); err != nil {
			t.Fatalf("publish %s: %v", key, err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	env.orch.Shutdown(shutdownCtx)

	if env.orch.ActiveCount() != 0 {
		t.Fatal("streams must be gone after shutdown")
	}
	if got := len(env.catalog.snapshot()); got != 2 {
		t.Fatalf("catalog has %d records, want 2", got)
	}
}
