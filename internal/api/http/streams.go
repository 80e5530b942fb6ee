package apihttp

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"
)

func hlsContentType(ext string) string {
	switch ext {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".m4s", ".mp4":
		return "video/iso.segment"
	default:
		return "application/octet-stream"
	}
}

func resolveStreamFilePath(baseDir, name string) (string, error) {
	joined := filepath.Join(baseDir, filepath.FromSlash(name))
	joined = filepath.Clean(joined)
	if abs, err := filepath.Abs(joined); err == nil {
		joined = abs
	}
	if joined == baseDir || !strings.HasPrefix(joined, baseDir+string(filepath.Separator)) {
		return "", errors.New("path escapes streams dir")
	}
	return joined, nil
}

// handleStreamFile serves playlists and segments. Playlists must never be
// cached: the live window rolls every segment duration. Segments are
// immutable once written.
func (s *Server) handleStreamFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/streams/")
	path, err := resolveStreamFilePath(s.streamsDir, name)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid file path")
		return
	}

	ext := filepath.Ext(path)
	w.Header().Set("Content-Type", hlsContentType(ext))
	if ext == ".m3u8" {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	}
	http.ServeFile(w, r, path)
}
