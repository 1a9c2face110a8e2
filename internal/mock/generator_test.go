package mock

import (
	"context"
	"testing"
	"time"

	"github.com/agent-beacon/backend/internal/ingest"
	"github.com/agent-beacon/backend/internal/protocol"
	"github.com/agent-beacon/backend/internal/session"
	"github.com/agent-beacon/backend/internal/ws"
)

func TestStatusPayloadDecodes(t *testing.T) {
	ms := &mockSession{
		id: "mock-test", model: "claude-opus-4-5", cwd: "/home/user/proj",
		mode: "default", cost: 1.2345, tokens: 42000, ctxPct: 21.0,
		linesAdded: 10, linesRem: 3,
	}

	d, err := protocol.Decode(protocol.StatusTopicPrefix+ms.id, statusPayload(ms))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	u := d.Status
	if u.SessionID != "mock-test" {
		t.Errorf("SessionID = %q, want mock-test", u.SessionID)
	}
	if u.Model != "claude-opus-4-5" {
		t.Errorf("Model = %q, want claude-opus-4-5", u.Model)
	}
	if u.TotalTokens != 42000 {
		t.Errorf("TotalTokens = %d, want 42000", u.TotalTokens)
	}
	if u.LinesAdded != 10 || u.LinesRemoved != 3 {
		t.Errorf("Lines = %d/%d, want 10/3", u.LinesAdded, u.LinesRemoved)
	}
}

func TestEventPayloadDecodes(t *testing.T) {
	ms := &mockSession{id: "mock-test", cwd: "/home/user/proj"}

	tests := []struct {
		name    string
		topic   string
		content string
		summary string
	}{
		{
			"permission request",
			protocol.TopicEventPermissionRequest,
			`{"tool_name": "Bash", "tool_input": {"command": "rm -rf build"}}`,
			"Bash: rm -rf build",
		},
		{
			"question",
			protocol.TopicEventNotification,
			`{"message": "Which database?"}`,
			"Which database?",
		},
		{"stop", protocol.TopicEventStop, "null", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := protocol.Decode(tt.topic, eventPayload(ms, tt.content))
			if err != nil {
				t.Fatalf("Decode() error: %v", err)
			}
			if d.Event.SessionID != "mock-test" {
				t.Errorf("SessionID = %q, want mock-test", d.Event.SessionID)
			}
			if d.Event.Summary != tt.summary {
				t.Errorf("Summary = %q, want %q", d.Event.Summary, tt.summary)
			}
		})
	}
}

func TestGeneratorPopulatesRegistry(t *testing.T) {
	registry := session.NewRegistry(session.Policy{})
	broadcaster := ws.NewBroadcaster(registry, time.Hour, time.Hour)
	engine := ingest.NewEngine(registry, broadcaster, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer broadcaster.Stop()

	go engine.Start(ctx)

	g := NewGenerator(engine)
	g.Start(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if registry.ActiveCount() >= 5 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("ActiveCount() = %d after 5s, want all 5 mock sessions", registry.ActiveCount())
}
