package orchestrator

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"classcast/internal/domain"
	"classcast/internal/metrics"
)

// Playlist and segment extensions eligible for cleanup. Recordings live in a
// separate directory and are never touched.
var cleanupExtensions = map[string]struct{}{
	".m3u8": {},
	".ts":   {},
	".m4s":  {},
	".mp4":  {},
}

// scheduleCleanup arms the grace timer for the key's playlist files.
// Re-arming replaces a pending timer; a republish cancels it instead.
func (o *Orchestrator) scheduleCleanup(key domain.StreamKey) {
	if o.cfg.CleanupGrace <= 0 {
		o.runCleanup(key)
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if t, ok := o.cleanups[key]; ok {
		t.Stop()
	}
	o.cleanups[key] = time.AfterFunc(o.cfg.CleanupGrace, func() {
		o.runCleanup(key)
	})
}

// runCleanup deletes the key's playlist and segment files unless the key went
// live again while the timer was pending.
func (o *Orchestrator) runCleanup(key domain.StreamKey) {
	o.mu.Lock()
	delete(o.cleanups, key)
	_, live := o.streams[key]
	o.mu.Unlock()

	if live {
		o.logger.Info("skipping cleanup, stream is live again", slog.String("streamKey", string(key)))
		return
	}
	o.deleteStreamFiles(key)
}

// deleteStreamFiles removes every file the transcoder produced for the key.
// Best effort: failures are logged and counted, never propagated.
func (o *Orchestrator) deleteStreamFiles(key domain.StreamKey) {
	entries, err := os.ReadDir(o.cfg.StreamsDir)
	if err != nil {
		metrics.CleanupErrorsTotal.Inc()
		o.logger.Error("cleanup: read streams dir", slog.String("error", err.Error()))
		return
	}

	prefix := string(key) + "_"
	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if _, ok := cleanupExtensions[filepath.Ext(name)]; !ok {
			continue
		}
		if err := os.Remove(filepath.Join(o.cfg.StreamsDir, name)); err != nil {
			metrics.CleanupErrorsTotal.Inc()
			o.logger.Error("cleanup: remove file",
				slog.String("file", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		deleted++
	}

	metrics.CleanupDeletedFiles.Add(float64(deleted))
	if deleted > 0 {
		o.logger.Info("cleaned up stream files",
			slog.String("streamKey", string(key)),
			slog.Int("deleted", deleted),
		)
	}
}
