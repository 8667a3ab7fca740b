package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"sessionvault/internal/scanner"
	"sessionvault/internal/security"
	"sessionvault/internal/storage"
)

// Error codes returned next to the localised message.
const (
	CodeNotFound     = "not_found"
	CodeAccessDenied = "access_denied"
	CodeTooLarge     = "too_large"
	CodeNotText      = "not_text"
	CodeStore        = "store_error"
	CodeBadRequest   = "bad_request"
	CodeUnavailable  = "unavailable"
	CodeBadHost      = "bad_host"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorBody{Error: message, Code: code})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scans == nil {
		respondError(w, http.StatusServiceUnavailable, CodeUnavailable, "scanner unavailable")
		return
	}
	res, err := s.deps.Scans.Trigger(r.Context())
	if err != nil {
		s.logger.Error("scan request failed", "err", err)
		respondError(w, http.StatusInternalServerError, CodeStore, s.catalog(r).T("scan.failed", err.Error()))
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := storage.ListOptions{
		Source:         q.Get("source"),
		Workspace:      q.Get("workspace"),
		Limit:          intParam(q.Get("limit"), 0),
		Offset:         intParam(q.Get("offset"), 0),
		IncludeMissing: q.Get("missing") == "1" || q.Get("missing") == "true",
	}
	records, err := s.deps.Sessions.ListSessions(r.Context(), opts)
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeStore, s.catalog(r).T("error.store", err.Error()))
		return
	}
	if records == nil {
		records = []storage.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": records, "total": len(records)})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.deps.Sessions.Get(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, CodeNotFound, s.catalog(r).T("read.not_found", id))
	case err != nil:
		respondError(w, http.StatusInternalServerError, CodeStore, s.catalog(r).T("error.store", err.Error()))
	default:
		respondJSON(w, http.StatusOK, rec)
	}
}

type fileResponse struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		respondError(w, http.StatusBadRequest, CodeBadRequest, "path query parameter is required")
		return
	}
	content, err := s.deps.Gate.ReadFile(path)
	if err != nil {
		status, code, msg := s.readError(r, path, err)
		respondError(w, status, code, msg)
		return
	}
	respondJSON(w, http.StatusOK, fileResponse{Path: path, Content: content})
}

// readError maps gate errors to a status, a code and a message that never
// names the trusted locations.
func (s *Server) readError(r *http.Request, path string, err error) (int, string, string) {
	c := s.catalog(r)
	switch {
	case errors.Is(err, security.ErrNotFound):
		return http.StatusNotFound, CodeNotFound, c.T("read.not_found", path)
	case errors.Is(err, security.ErrAccessDenied):
		return http.StatusForbidden, CodeAccessDenied, c.T("read.denied", path)
	case errors.Is(err, security.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, CodeTooLarge, c.T("read.too_large", s.deps.Gate.MaxSize()>>20)
	case errors.Is(err, security.ErrNotText):
		return http.StatusUnsupportedMediaType, CodeNotText, c.T("read.not_text", path)
	}
	s.logger.Error("read file failed", "err", err)
	return http.StatusInternalServerError, "read_failed", c.T("read.failed", path)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		respondError(w, http.StatusBadRequest, CodeBadRequest, "q query parameter is required")
		return
	}
	if s.deps.Search == nil {
		respondError(w, http.StatusServiceUnavailable, CodeUnavailable, "search unavailable")
		return
	}
	hits, err := s.deps.Search.Search(r.Context(), q, intParam(r.URL.Query().Get("limit"), 20))
	if err != nil {
		respondError(w, http.StatusInternalServerError, CodeStore, s.catalog(r).T("error.store", err.Error()))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"hits": hits, "total": len(hits)})
}

// Event 推送给 UI 的扫描事件 / Scan event pushed to the UI
type Event struct {
	Type      string        `json:"type"`
	Total     int           `json:"total"`
	Stats     scanner.Stats `json:"stats"`
	Timestamp int64         `json:"timestamp"`
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scans == nil {
		respondError(w, http.StatusServiceUnavailable, CodeUnavailable, "scanner unavailable")
		return
	}
	// 先订阅再升级，握手完成后的扫描不会丢失 / Subscribe before the handshake completes
	events, unsubscribe := s.deps.Scans.Subscribe()
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	// 读循环只用于发现断开 / The read loop only detects disconnects
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("websocket closed", "err", err)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case res, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(Event{
				Type:      "scan_completed",
				Total:     res.Total,
				Stats:     res.Stats,
				Timestamp: res.FinishedAt.UnixMilli(),
			}); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func intParam(v string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return def
	}
	return n
}
