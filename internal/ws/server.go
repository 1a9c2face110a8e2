package ws

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agent-beacon/backend/internal/diag"
	"github.com/agent-beacon/backend/internal/session"
	"github.com/gorilla/websocket"
)

// hostStatsTimeout bounds the gopsutil probes so a stuck collector cannot
// hang a health request.
const hostStatsTimeout = 2 * time.Second

type Server struct {
	registry       *session.Registry
	broadcaster    *Broadcaster
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	healthHook     func() []DecodeHealthPayload
}

func NewServer(registry *session.Registry, broadcaster *Broadcaster, allowedOrigins []string, authToken string) *Server {
	s := &Server{
		registry:       registry,
		broadcaster:    broadcaster,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      authToken,
	}

	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// SetHealthHook configures the decode diagnostics source for /api/health.
// Must be called before SetupRoutes.
func (s *Server) SetHealthHook(hook func() []DecodeHealthPayload) {
	s.healthHook = hook
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionByID)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/history/", s.handleHistoryRoutes)
	mux.HandleFunc("/api/metrics", s.handleMetrics)
	mux.HandleFunc("/api/health", s.handleHealth)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	c := s.broadcaster.AddClient(conn)
	if c == nil {
		conn.Close()
		return
	}
	log.Printf("[ws] client connected: %s", r.RemoteAddr)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			log.Printf("[ws] client disconnected: %s", r.RemoteAddr)
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	writeJSON(w, s.broadcaster.FilterRecords(s.registry.Snapshot()))
}

func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/api/sessions/"))
	if err != nil || id == "" || strings.Contains(id, "/") {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	rec, ok := s.registry.Get(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	filtered := s.broadcaster.FilterRecords([]*session.Record{rec})
	if len(filtered) == 0 {
		// Hidden by the privacy path filter; indistinguishable from absent.
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, filtered[0])
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		entries := s.registry.History(r.URL.Query().Get("session"))
		writeJSON(w, s.broadcaster.FilterEntries(entries))
	case http.MethodDelete:
		s.registry.ClearHistory()
		s.broadcaster.BroadcastHistoryUpdate(0, true)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleHistoryRoutes dispatches /api/history/unread, /api/history/read-all,
// and /api/history/{id}/read.
func (s *Server) handleHistoryRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/history/")
	switch path {
	case "unread":
		writeJSON(w, map[string]int{"unread": s.registry.UnreadCount()})
		return
	case "read-all":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		marked := s.registry.MarkAllRead()
		if marked > 0 {
			s.broadcaster.BroadcastHistoryUpdate(s.registry.UnreadCount(), false)
		}
		writeJSON(w, map[string]int{"marked": marked})
		return
	}

	// /api/history/{id}/read
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[1] != "read" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		http.Error(w, "invalid notification id", http.StatusBadRequest)
		return
	}
	// Marking an unknown id is a no-op; mark-read must never fail a client
	// that raced a history clear. Subscribers only hear about actual changes.
	if s.registry.MarkRead(id) {
		s.broadcaster.BroadcastHistoryUpdate(s.registry.UnreadCount(), false)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	m := s.registry.Metrics()
	writeJSON(w, struct {
		session.Metrics
		Tooltip string `json:"tooltip"`
	}{Metrics: m, Tooltip: m.Tooltip()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var decode []DecodeHealthPayload
	if s.healthHook != nil {
		decode = s.healthHook()
	}

	host, err := diag.CollectWithTimeout(r.Context(), hostStatsTimeout)
	if err != nil {
		log.Printf("[server] host stats error: %v", err)
	}

	writeJSON(w, struct {
		Status  string                `json:"status"`
		Decode  []DecodeHealthPayload `json:"decode"`
		Host    *diag.HostStats       `json:"host,omitempty"`
		Clients int                   `json:"wsClients"`
	}{
		Status:  overallStatus(decode),
		Decode:  decode,
		Host:    host,
		Clients: s.broadcaster.ClientCount(),
	})
}

func overallStatus(decode []DecodeHealthPayload) string {
	for _, d := range decode {
		if d.Status != StatusHealthy {
			return string(StatusDegraded)
		}
	}
	return string(StatusHealthy)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Agent-Beacon-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("[server] listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
