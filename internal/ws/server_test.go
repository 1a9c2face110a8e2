package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/agent-beacon/backend/internal/protocol"
	"github.com/agent-beacon/backend/internal/session"
	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T, authToken string) (*Server, *session.Registry, *httptest.Server) {
	t.Helper()
	registry := session.NewRegistry(session.Policy{})
	b := newTestBroadcaster(registry)
	s := NewServer(registry, b, nil, authToken)

	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return s, registry, ts
}

func seedSession(registry *session.Registry, id, cwd string) {
	registry.ApplyStatus(&protocol.StatusUpdate{
		SessionID: id,
		Model:     "claude-opus-4-5",
		Cwd:       cwd,
	}, time.Now(), nil)
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestSessionsEndpoint(t *testing.T) {
	_, registry, ts := newTestServer(t, "")
	seedSession(registry, "host1-100", "/home/user/a")
	seedSession(registry, "host1-200", "/home/user/b")

	var records []*session.Record
	resp := getJSON(t, ts.URL+"/api/sessions", &records)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].DisplayName > records[1].DisplayName {
		t.Error("records not ordered by display name")
	}
}

func TestSessionByIDEndpoint(t *testing.T) {
	_, registry, ts := newTestServer(t, "")
	seedSession(registry, "host1-100", "/home/user/a")

	var rec session.Record
	resp := getJSON(t, ts.URL+"/api/sessions/host1-100", &rec)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if rec.ID != "host1-100" {
		t.Errorf("ID = %q, want host1-100", rec.ID)
	}

	resp = getJSON(t, ts.URL+"/api/sessions/unknown", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", resp.StatusCode)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	_, registry, ts := newTestServer(t, "")
	registry.ApplyEvent(&protocol.LifecycleEvent{
		Type:      protocol.EventStop,
		SessionID: "host1-100",
		Cwd:       "/home/user/a",
	}, time.Now(), nil)

	var entries []session.Entry
	resp := getJSON(t, ts.URL+"/api/history", &entries)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}

	var unread map[string]int
	getJSON(t, ts.URL+"/api/history/unread", &unread)
	if unread["unread"] != 1 {
		t.Errorf("unread = %d, want 1", unread["unread"])
	}

	// Mark the single entry read.
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/history/1/read", nil)
	mresp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	mresp.Body.Close()
	if mresp.StatusCode != http.StatusNoContent {
		t.Errorf("mark read status = %d, want 204", mresp.StatusCode)
	}

	getJSON(t, ts.URL+"/api/history/unread", &unread)
	if unread["unread"] != 0 {
		t.Errorf("unread after mark = %d, want 0", unread["unread"])
	}

	// Clear history.
	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/api/history", nil)
	dresp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	dresp.Body.Close()
	if dresp.StatusCode != http.StatusNoContent {
		t.Errorf("clear status = %d, want 204", dresp.StatusCode)
	}

	getJSON(t, ts.URL+"/api/history", &entries)
	if len(entries) != 0 {
		t.Errorf("entries after clear = %d, want 0", len(entries))
	}
}

func TestHistoryReadAllEndpoint(t *testing.T) {
	_, registry, ts := newTestServer(t, "")
	for _, id := range []string{"a", "b"} {
		registry.ApplyEvent(&protocol.LifecycleEvent{
			Type:      protocol.EventStop,
			SessionID: id,
		}, time.Now(), nil)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/history/read-all", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var marked map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&marked); err != nil {
		t.Fatal(err)
	}
	if marked["marked"] != 2 {
		t.Errorf("marked = %d, want 2", marked["marked"])
	}
	if registry.UnreadCount() != 0 {
		t.Errorf("UnreadCount() = %d, want 0", registry.UnreadCount())
	}
}

func TestHistoryMutationsSignalSubscribers(t *testing.T) {
	_, registry, ts := newTestServer(t, "")
	registry.ApplyEvent(&protocol.LifecycleEvent{
		Type:      protocol.EventStop,
		SessionID: "host1-100",
	}, time.Now(), nil)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	readMessage := func() (MessageType, json.RawMessage) {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg struct {
			Type    MessageType     `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		return msg.Type, msg.Payload
	}

	if typ, _ := readMessage(); typ != MsgSnapshot {
		t.Fatalf("first message = %q, want %q", typ, MsgSnapshot)
	}

	// Marking everything read must reach the subscriber, not just the
	// registry.
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/history/read-all", nil)
	presp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	presp.Body.Close()

	typ, payload := readMessage()
	if typ != MsgHistoryUpdate {
		t.Fatalf("message after read-all = %q, want %q", typ, MsgHistoryUpdate)
	}
	var upd HistoryUpdatePayload
	if err := json.Unmarshal(payload, &upd); err != nil {
		t.Fatal(err)
	}
	if upd.Unread != 0 || upd.Cleared {
		t.Errorf("payload = %+v, want unread 0 and not cleared", upd)
	}

	// So must a clear.
	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/api/history", nil)
	dresp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	dresp.Body.Close()

	typ, payload = readMessage()
	if typ != MsgHistoryUpdate {
		t.Fatalf("message after clear = %q, want %q", typ, MsgHistoryUpdate)
	}
	if err := json.Unmarshal(payload, &upd); err != nil {
		t.Fatal(err)
	}
	if !upd.Cleared || upd.Unread != 0 {
		t.Errorf("payload = %+v, want cleared with unread 0", upd)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, registry, ts := newTestServer(t, "")
	registry.ApplyStatus(&protocol.StatusUpdate{
		SessionID: "host1-100",
		CostUSD:   1.5,
	}, time.Now(), nil)

	var m struct {
		ActiveSessions int     `json:"activeSessions"`
		TotalCostUSD   float64 `json:"totalCostUsd"`
		Tooltip        string  `json:"tooltip"`
	}
	resp := getJSON(t, ts.URL+"/api/metrics", &m)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if m.ActiveSessions != 1 || m.TotalCostUSD != 1.5 {
		t.Errorf("metrics = %+v, want 1 session at $1.50", m)
	}
	if m.Tooltip == "" {
		t.Error("tooltip missing")
	}
}

func TestAuthToken(t *testing.T) {
	_, _, ts := newTestServer(t, "secret")

	resp := getJSON(t, ts.URL+"/api/sessions", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", resp.StatusCode)
	}

	resp = getJSON(t, ts.URL+"/api/sessions?token=secret", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("query token status = %d, want 200", resp.StatusCode)
	}

	for _, hdr := range []struct{ name, value string }{
		{"X-Agent-Beacon-Token", "secret"},
		{"Authorization", "Bearer secret"},
	} {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/sessions", nil)
		req.Header.Set(hdr.name, hdr.value)
		hresp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		hresp.Body.Close()
		if hresp.StatusCode != http.StatusOK {
			t.Errorf("%s auth status = %d, want 200", hdr.name, hresp.StatusCode)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _, ts := newTestServer(t, "")
	s.SetHealthHook(func() []DecodeHealthPayload { return nil })

	var body struct {
		Status string `json:"status"`
	}
	resp := getJSON(t, ts.URL+"/api/health", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body.Status != string(StatusHealthy) {
		t.Errorf("status = %q, want %q", body.Status, StatusHealthy)
	}
}

func TestCheckOrigin(t *testing.T) {
	registry := session.NewRegistry(session.Policy{})
	b := newTestBroadcaster(registry)

	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{"no origin header", nil, "", "example.com", true},
		{"same host", nil, "http://example.com", "example.com", true},
		{"localhost", nil, "http://localhost:3000", "example.com", true},
		{"loopback", nil, "http://127.0.0.1:3000", "example.com", true},
		{"foreign host", nil, "http://evil.com", "example.com", false},
		{"explicit allow", []string{"http://app.local"}, "http://app.local", "example.com", true},
		{"explicit allow rejects others", []string{"http://app.local"}, "http://other.local", "example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(registry, b, tt.allowed, "")
			r := httptest.NewRequest(http.MethodGet, "http://"+tt.host+"/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := s.checkOrigin(r); got != tt.want {
				t.Errorf("checkOrigin(origin=%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
