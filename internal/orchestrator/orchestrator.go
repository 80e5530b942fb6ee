package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"classcast/internal/domain"
	"classcast/internal/metrics"
	"classcast/internal/transcode"
)

// Supervisor is the orchestrator's handle on one transcoder process.
// Implemented by transcode.Supervisor; faked in tests.
type Supervisor interface {
	Start() error
	Stop() string
	Done() <-chan struct{}
	Err() error
	RecordingPath() string
}

// SupervisorFactory builds a supervisor for one publish. args is the primary
// argv, fallbackArgs the software argv or nil.
type SupervisorFactory func(args, fallbackArgs []string, recordingPath string) Supervisor

// Rooms is the slice of the room registry the orchestrator needs: the codec
// policy snapshot at publish time and the lifecycle fan-out.
type Rooms interface {
	CodecPolicy(key domain.StreamKey) domain.CodecPolicy
	StreamStarted(key domain.StreamKey, codecs []string)
	StreamEnded(key domain.StreamKey)
	StreamFailed(key domain.StreamKey, reason string)
}

// RecordingCatalog persists finished recordings. Nil disables the catalog.
type RecordingCatalog interface {
	Insert(ctx context.Context, rec domain.RecordingRecord) error
}

// Config is the transcoding slice of the application config.
type Config struct {
	IngestURL       string
	StreamsDir      string
	RecordingsDir   string
	HardwareAccel   bool
	SegmentDuration int
	PlaylistWindow  int
	FrameRate       int
	CleanupGrace    time.Duration
	H264Renditions  []domain.Rendition
	HEVCRenditions  []domain.Rendition
}

type activeStream struct {
	sup           Supervisor
	publisherAddr string
	startedAt     time.Time
	recordingPath string
	codecs        []string
	policy        domain.CodecPolicy
}

// Orchestrator maps publish lifecycle events onto transcoder supervisors.
// At most one active stream per key; a second publisher on a busy key is
// rejected. All per-key transitions run under a per-key lock so a racing
// publish and unpublish serialize.
type Orchestrator struct {
	cfg     Config
	factory SupervisorFactory
	rooms   Rooms
	catalog RecordingCatalog
	logger  *slog.Logger

	mu       sync.Mutex
	keyLocks map[domain.StreamKey]*sync.Mutex
	streams  map[domain.StreamKey]*activeStream
	cleanups map[domain.StreamKey]*time.Timer
}

func New(cfg Config, factory SupervisorFactory, rooms Rooms, catalog RecordingCatalog, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:      cfg,
		factory:  factory,
		rooms:    rooms,
		catalog:  catalog,
		logger:   logger,
		keyLocks: make(map[domain.StreamKey]*sync.Mutex),
		streams:  make(map[domain.StreamKey]*activeStream),
		cleanups: make(map[domain.StreamKey]*time.Timer),
	}
}

// NewFFMPEGFactory returns the production factory spawning ffmpeg at binPath.
func NewFFMPEGFactory(binPath string, logger *slog.Logger) SupervisorFactory {
	return func(args, fallbackArgs []string, recordingPath string) Supervisor {
		return transcode.NewSupervisor(binPath, args, fallbackArgs, recordingPath, logger)
	}
}

func (o *Orchestrator) lockKey(key domain.StreamKey) func() {
	o.mu.Lock()
	l, ok := o.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		o.keyLocks[key] = l
	}
	o.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// PrePublish validates a publish attempt before the ingest accepts it.
func (o *Orchestrator) PrePublish(ev domain.PublishEvent) error {
	if ev.Key == "" {
		return fmt.Errorf("publish without a stream key")
	}

	o.mu.Lock()
	_, busy := o.streams[ev.Key]
	o.mu.Unlock()
	if busy {
		return fmt.Errorf("stream key %s: %w", ev.Key, domain.ErrAlreadyExists)
	}

	o.logger.Info("publish authorized",
		slog.String("streamKey", string(ev.Key)),
		slog.String("addr", ev.Addr),
	)
	return nil
}

// PostPublish starts transcoding for the key. The codec policy is read once
// here; later policy changes apply to the next publish.
func (o *Orchestrator) PostPublish(ctx context.Context, ev domain.PublishEvent) error {
	if ev.Key == "" {
		return fmt.Errorf("publish without a stream key")
	}

	unlock := o.lockKey(ev.Key)
	defer unlock()

	o.mu.Lock()
	if _, busy := o.streams[ev.Key]; busy {
		o.mu.Unlock()
		return fmt.Errorf("stream key %s: %w", ev.Key, domain.ErrAlreadyExists)
	}
	if t, ok := o.cleanups[ev.Key]; ok {
		t.Stop()
		delete(o.cleanups, ev.Key)
	}
	o.mu.Unlock()

	policy := o.rooms.CodecPolicy(ev.Key)
	profiles := o.codecProfiles(policy)

	recordingPath := filepath.Join(o.cfg.RecordingsDir,
		fmt.Sprintf("%s_%d.flv", ev.Key, time.Now().UnixMilli()))

	argCfg := transcode.ArgConfig{
		IngestURL:       fmt.Sprintf("%s/%s", o.cfg.IngestURL, ev.Key),
		StreamKey:       string(ev.Key),
		OutputDir:       o.cfg.StreamsDir,
		RecordingPath:   recordingPath,
		Codecs:          profiles,
		HardwareAccel:   o.cfg.HardwareAccel,
		SegmentDuration: o.cfg.SegmentDuration,
		PlaylistWindow:  o.cfg.PlaylistWindow,
		FrameRate:       o.cfg.FrameRate,
	}

	args := transcode.BuildArgs(argCfg)
	var fallbackArgs []string
	if o.cfg.HardwareAccel {
		softCfg := argCfg
		softCfg.HardwareAccel = false
		fallbackArgs = transcode.BuildArgs(softCfg)
	}

	sup := o.factory(args, fallbackArgs, recordingPath)
	if err := sup.Start(); err != nil {
		return fmt.Errorf("start transcoder for %s: %w", ev.Key, err)
	}
	metrics.TranscoderStartsTotal.Inc()

	codecs := make([]string, 0, len(profiles))
	for _, p := range profiles {
		codecs = append(codecs, p.Tag)
		if _, err := transcode.WriteMasterPlaylist(o.cfg.StreamsDir, ev.Key, p); err != nil {
			o.logger.Error("write master playlist",
				slog.String("streamKey", string(ev.Key)),
				slog.String("codec", p.Tag),
				slog.String("error", err.Error()),
			)
		}
	}

	row := &activeStream{
		sup:           sup,
		publisherAddr: ev.Addr,
		startedAt:     time.Now(),
		recordingPath: recordingPath,
		codecs:        codecs,
		policy:        policy,
	}
	o.mu.Lock()
	o.streams[ev.Key] = row
	o.mu.Unlock()

	go o.watch(ev.Key, row)

	o.rooms.StreamStarted(ev.Key, codecs)
	o.logger.Info("stream started",
		slog.String("streamKey", string(ev.Key)),
		slog.String("addr", ev.Addr),
		slog.Any("codecs", codecs),
		slog.String("recording", recordingPath),
	)
	return nil
}

// DonePublish stops transcoding for the key and schedules playlist cleanup.
// Unknown keys and stale publisher addresses are ignored.
func (o *Orchestrator) DonePublish(ctx context.Context, ev domain.PublishEvent) {
	unlock := o.lockKey(ev.Key)
	defer unlock()

	o.mu.Lock()
	row, ok := o.streams[ev.Key]
	if ok && ev.Addr != "" && row.publisherAddr != "" && row.publisherAddr != ev.Addr {
		o.mu.Unlock()
		o.logger.Warn("ignoring unpublish from a non-active publisher",
			slog.String("streamKey", string(ev.Key)),
			slog.String("addr", ev.Addr),
		)
		return
	}
	if ok {
		delete(o.streams, ev.Key)
	}
	o.mu.Unlock()

	if !ok {
		o.logger.Warn("unpublish for an unknown stream key", slog.String("streamKey", string(ev.Key)))
		return
	}

	recording := row.sup.Stop()
	o.recordFinished(ctx, ev.Key, row, recording, false)
	o.rooms.StreamEnded(ev.Key)
	o.scheduleCleanup(ev.Key)

	o.logger.Info("stream ended",
		slog.String("streamKey", string(ev.Key)),
		slog.String("recording", recording),
		slog.Duration("duration", time.Since(row.startedAt)),
	)
}

// watch observes one supervisor until its child exits. An exit while the
// stream row is still present was not requested: the publisher vanished or
// the transcoder crashed.
func (o *Orchestrator) watch(key domain.StreamKey, row *activeStream) {
	<-row.sup.Done()

	unlock := o.lockKey(key)
	defer unlock()

	o.mu.Lock()
	current, ok := o.streams[key]
	if !ok || current != row {
		// DonePublish already took the row; this exit was requested.
		o.mu.Unlock()
		return
	}
	delete(o.streams, key)
	o.mu.Unlock()

	recording := row.sup.RecordingPath()
	if err := row.sup.Err(); err != nil {
		metrics.TranscoderFailuresTotal.Inc()
		o.recordFinished(context.Background(), key, row, recording, true)
		o.rooms.StreamFailed(key, err.Error())
		o.logger.Error("transcoder exited unexpectedly",
			slog.String("streamKey", string(key)),
			slog.String("error", err.Error()),
		)
	} else {
		// Input ended before the unpublish hook arrived.
		o.recordFinished(context.Background(), key, row, recording, false)
		o.rooms.StreamEnded(key)
		o.logger.Info("transcoder input ended",
			slog.String("streamKey", string(key)),
			slog.String("recording", recording),
		)
	}
	o.scheduleCleanup(key)
}

func (o *Orchestrator) recordFinished(ctx context.Context, key domain.StreamKey, row *activeStream, recording string, failed bool) {
	if o.catalog == nil {
		return
	}
	rec := domain.RecordingRecord{
		StreamKey: key,
		Path:      recording,
		StartedAt: row.startedAt,
		EndedAt:   time.Now(),
		Failed:    failed,
	}
	if err := o.catalog.Insert(ctx, rec); err != nil {
		o.logger.Error("catalog recording",
			slog.String("streamKey", string(key)),
			slog.String("error", err.Error()),
		)
	}
}

func (o *Orchestrator) codecProfiles(policy domain.CodecPolicy) []transcode.CodecProfile {
	profiles := []transcode.CodecProfile{transcode.H264Profile(o.cfg.H264Renditions)}
	if policy.SecondaryCodecEnabled && len(o.cfg.HEVCRenditions) > 0 {
		profiles = append(profiles, transcode.HEVCProfile(o.cfg.HEVCRenditions))
	}
	return profiles
}

// ActiveStreams lists the currently transcoded streams for the status API.
func (o *Orchestrator) ActiveStreams() []domain.StreamStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]domain.StreamStatus, 0, len(o.streams))
	for key, row := range o.streams {
		out = append(out, domain.StreamStatus{
			Key:           key,
			PublisherAddr: row.publisherAddr,
			StartedAt:     row.startedAt,
			RecordingPath: row.recordingPath,
			Codecs:        append([]string(nil), row.codecs...),
			Policy:        row.policy,
		})
	}
	return out
}

// ActiveCount reports the number of live transcodes for the gauge.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.streams)
}

// Shutdown stops every running transcoder and cancels pending cleanups.
// Segments on disk are left for the next startup's grace cleanup.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	rows := make(map[domain.StreamKey]*activeStream, len(o.streams))
	for key, row := range o.streams {
		rows[key] = row
		delete(o.streams, key)
	}
	for key, t := range o.cleanups {
		t.Stop()
		delete(o.cleanups, key)
	}
	o.mu.Unlock()

	var wg sync.WaitGroup
	for key, row := range rows {
		wg.Add(1)
		go func(key domain.StreamKey, row *activeStream) {
			defer wg.Done()
			recording := row.sup.Stop()
			o.recordFinished(ctx, key, row, recording, false)
			o.rooms.StreamEnded(key)
		}(key, row)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		o.logger.Warn("shutdown deadline hit while stopping transcoders")
	}
}
