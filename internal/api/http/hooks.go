package apihttp

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"classcast/internal/domain"
)

// hookPayload is the JSON body sent by webhook-style ingest servers. Form
// posts (nginx-rtmp on_publish style) carry the same fields as form values.
type hookPayload struct {
	Type      string `json:"type"`
	StreamKey string `json:"stream_key"`
	Name      string `json:"name"`
	Key       string `json:"key"`
	Path      string `json:"path"`
	Addr      string `json:"addr"`
}

// parsePublishEvent normalizes both hook dialects into one event. The stream
// key is the last path segment, so "live/math-101" and "math-101" agree.
func parsePublishEvent(r *http.Request) (domain.PublishEvent, error) {
	var p hookPayload
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			return domain.PublishEvent{}, errors.New("malformed hook body")
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return domain.PublishEvent{}, errors.New("malformed hook body")
		}
		p.StreamKey = r.PostFormValue("stream_key")
		p.Name = r.PostFormValue("name")
		p.Key = r.PostFormValue("key")
		p.Path = r.PostFormValue("path")
		p.Addr = r.PostFormValue("addr")
	}

	raw := p.StreamKey
	if raw == "" {
		raw = p.Name
	}
	if raw == "" {
		raw = p.Key
	}
	if raw == "" {
		raw = p.Path
	}
	raw = strings.Trim(strings.TrimSpace(raw), "/")
	if raw == "" {
		return domain.PublishEvent{}, errors.New("hook without a stream key")
	}
	if idx := strings.LastIndexByte(raw, '/'); idx >= 0 {
		raw = raw[idx+1:]
	}

	return domain.PublishEvent{
		Key:  domain.StreamKey(raw),
		Path: p.Path,
		Addr: strings.TrimSpace(p.Addr),
	}, nil
}

// handlePrePublish authorizes a publish attempt. A non-2xx response makes
// the ingest server reject the publisher.
func (s *Server) handlePrePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	ev, err := parsePublishEvent(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.orch.PrePublish(ev); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePublish starts transcoding once the ingest has accepted the stream.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	ev, err := parsePublishEvent(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.orch.PostPublish(r.Context(), ev); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			writeDomainError(w, err)
			return
		}
		s.logger.Error("start transcoding",
			slog.String("streamKey", string(ev.Key)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "transcoder_error", "failed to start transcoding")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePublishDone tears the stream down. Always 200: a duplicate or stale
// unpublish must not make the ingest retry.
func (s *Server) handlePublishDone(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	ev, err := parsePublishEvent(r)
	if err != nil {
		s.logger.Warn("malformed publish-done hook", slog.String("error", err.Error()))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	s.orch.DonePublish(r.Context(), ev)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
