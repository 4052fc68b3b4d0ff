package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"lintas/internal/auth"
	"lintas/internal/config"
	"lintas/internal/worker"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	Username  string `json:"username"`
}

type pipelineStats struct {
	State           string  `json:"state"`
	FramesEnqueued  uint64  `json:"frames_enqueued"`
	FramesDropped   uint64  `json:"frames_dropped"`
	FramesProcessed uint64  `json:"frames_processed"`
	ResultsDropped  uint64  `json:"results_dropped"`
	DetectionsSeen  uint64  `json:"detections_seen"`
	Rejections      uint64  `json:"rejections"`
	EventsCounted   uint64  `json:"events_counted"`
	ActiveTracks    int     `json:"active_tracks"`
	LastInferenceMs float64 `json:"last_inference_ms"`
}

type captureStats struct {
	FramesCaptured uint64 `json:"frames_captured"`
	BadFrames      uint64 `json:"bad_frames"`
	LastFrameUnix  int64  `json:"last_frame_unix"`
}

type healthResponse struct {
	Status        string         `json:"status"`
	SessionID     string         `json:"session_id,omitempty"`
	Source        string         `json:"source,omitempty"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	OracleHealthy bool           `json:"oracle_healthy"`
	Pipeline      *pipelineStats `json:"pipeline,omitempty"`
	Capture       *captureStats  `json:"capture,omitempty"`
}

type classCount struct {
	Class string `json:"class"`
	In    int    `json:"in"`
	Out   int    `json:"out"`
}

type countsResponse struct {
	SessionID string       `json:"session_id,omitempty"`
	InTotal   int          `json:"in_total"`
	OutTotal  int          `json:"out_total"`
	Classes   []classCount `json:"classes"`
}

type countEventInfo struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	TrackID   int       `json:"track_id"`
	Class     string    `json:"class"`
	Direction string    `json:"direction"`
	CountedAt time.Time `json:"counted_at"`
}

type eventsResponse struct {
	SessionID string           `json:"session_id,omitempty"`
	Count     int              `json:"count"`
	Events    []countEventInfo `json:"events"`
}

type sessionInfo struct {
	ID        string     `json:"id"`
	Source    string     `json:"source"`
	Status    string     `json:"status"`
	InTotal   int        `json:"in_total"`
	OutTotal  int        `json:"out_total"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

type profileRequest struct {
	Profile string `json:"profile"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	token, expiresAt, err := s.auth.Authenticate(req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrAuthDisabled):
		writeJSONError(w, http.StatusBadRequest, "authentication is disabled")
	case err != nil:
		writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
	default:
		writeJSON(w, http.StatusOK, loginResponse{
			Token:     token,
			ExpiresAt: expiresAt,
			Username:  req.Username,
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := healthResponse{
		Status:        "ok",
		SessionID:     s.sessionID,
		Source:        s.source,
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		OracleHealthy: true,
	}

	if s.tracker != nil {
		resp.OracleHealthy = s.tracker.Healthy()
		if !resp.OracleHealthy {
			resp.Status = "degraded"
		}
	}

	if s.worker != nil {
		st := s.worker.GetStats()
		resp.Pipeline = &pipelineStats{
			State:           s.worker.State(),
			FramesEnqueued:  st.FramesEnqueued,
			FramesDropped:   st.FramesDropped,
			FramesProcessed: st.FramesProcessed,
			ResultsDropped:  st.ResultsDropped,
			DetectionsSeen:  st.DetectionsSeen,
			Rejections:      st.Rejections,
			EventsCounted:   st.EventsCounted,
			ActiveTracks:    st.ActiveTracks,
			LastInferenceMs: st.LastInferenceMs,
		}
		if resp.Pipeline.State != worker.StateRunning {
			resp.Status = "degraded"
		}
	}

	if s.frames != nil {
		cs := s.frames.GetStats()
		resp.Capture = &captureStats{
			FramesCaptured: cs.FramesCaptured,
			BadFrames:      cs.BadFrames,
			LastFrameUnix:  cs.LastFrameUnix,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.store == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}

	sessionID := s.sessionParam(r)
	totals, err := s.store.CountsByClass(sessionID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to query counts")
		return
	}

	resp := countsResponse{SessionID: sessionID, Classes: make([]classCount, 0, len(totals))}
	for _, t := range totals {
		resp.InTotal += t.In
		resp.OutTotal += t.Out
		resp.Classes = append(resp.Classes, classCount{Class: t.Class, In: t.In, Out: t.Out})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.store == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}

	var since *time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = &t
	}

	sessionID := s.sessionParam(r)
	limit := limitParam(r, 100, 1000)

	rows, err := s.store.ListCountEvents(sessionID, since, limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to query events")
		return
	}

	resp := eventsResponse{
		SessionID: sessionID,
		Count:     len(rows),
		Events:    make([]countEventInfo, 0, len(rows)),
	}
	for _, row := range rows {
		resp.Events = append(resp.Events, countEventInfo{
			ID:        row.ID,
			SessionID: row.SessionID,
			TrackID:   row.TrackID,
			Class:     row.Class,
			Direction: row.Direction,
			CountedAt: row.CountedAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.store == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}

	rows, err := s.store.RecentSessions(limitParam(r, 20, 200))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to query sessions")
		return
	}

	sessions := make([]sessionInfo, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, sessionInfo{
			ID:        row.ID,
			Source:    row.Source,
			Status:    row.Status,
			InTotal:   row.InTotal,
			OutTotal:  row.OutTotal,
			StartedAt: row.StartedAt,
			EndedAt:   row.EndedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// handleSettings reads and updates the live tuning settings. PUT
// decodes over a copy of the current snapshot, so omitted fields keep
// their values; the result is validated before install.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		snap, _ := s.settings.Get()
		writeJSON(w, http.StatusOK, snap)

	case http.MethodPut:
		snap, _ := s.settings.Get()
		if err := json.NewDecoder(r.Body).Decode(snap); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		s.settings.Set(snap)
		applied, _ := s.settings.Get()
		writeJSON(w, http.StatusOK, applied)

	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{"profiles": config.Profiles()})

	case http.MethodPost:
		var req profileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		snap, _ := s.settings.Get()
		if err := snap.ApplyProfile(req.Profile); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.settings.Set(snap)
		applied, _ := s.settings.Get()
		writeJSON(w, http.StatusOK, applied)

	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// sessionParam resolves the session scope of a query: absent means the
// live session, "all" means every session.
func (s *Server) sessionParam(r *http.Request) string {
	switch v := r.URL.Query().Get("session"); v {
	case "":
		return s.sessionID
	case "all":
		return ""
	default:
		return v
	}
}

func limitParam(r *http.Request, def, max int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
