package apihttp

import (
	"net/http"

	"classcast/internal/domain"
)

type streamsResponse struct {
	Streams []domain.StreamStatus `json:"streams"`
}

func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	streams := s.orch.ActiveStreams()
	if streams == nil {
		streams = []domain.StreamStatus{}
	}
	writeJSON(w, http.StatusOK, streamsResponse{Streams: streams})
}

type roomsResponse struct {
	Rooms []domain.RoomSummary `json:"rooms"`
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	writeJSON(w, http.StatusOK, roomsResponse{Rooms: s.rooms.Summaries()})
}

type recordingsResponse struct {
	Recordings []domain.RecordingRecord `json:"recordings"`
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	if s.recordings == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog_disabled", "recording catalog is not configured")
		return
	}
	limit, err := parseOptionalIntQuery(r.URL.Query().Get("limit"), 20)
	if err != nil || limit <= 0 || limit > 200 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}
	recs, err := s.recordings.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "repository_error", err.Error())
		return
	}
	if recs == nil {
		recs = []domain.RecordingRecord{}
	}
	writeJSON(w, http.StatusOK, recordingsResponse{Recordings: recs})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
