// Package mock simulates a fleet of agent publishers for demos and UI
// work without a broker. Messages are emitted in wire format and go
// through the real decode path.
package mock

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/agent-beacon/backend/internal/ingest"
	"github.com/agent-beacon/backend/internal/protocol"
)

type mockSession struct {
	id          string
	model       string
	cwd         string
	mode        string
	pattern     string
	costPerTick float64
	cost        float64
	tokens      int64
	ctxPct      float64
	linesAdded  int64
	linesRem    int64
	stopped     bool
}

type MockGenerator struct {
	engine   *ingest.Engine
	sessions []*mockSession
}

func NewGenerator(engine *ingest.Engine) *MockGenerator {
	return &MockGenerator{engine: engine}
}

func (g *MockGenerator) Start(ctx context.Context) {
	g.sessions = []*mockSession{
		{
			id: "mock-host-refactor", model: "claude-opus-4-5", cwd: "/home/user/myproject",
			mode: "default", pattern: "steady", costPerTick: 0.03,
		},
		{
			id: "mock-host-tests", model: "claude-sonnet-4-5", cwd: "/home/user/webapp",
			mode: "acceptEdits", pattern: "burst", costPerTick: 0.05,
		},
		{
			id: "mock-host-debug", model: "claude-opus-4-5", cwd: "/home/user/api-server",
			mode: "default", pattern: "permission", costPerTick: 0.02,
		},
		{
			id: "mock-host-feature", model: "claude-sonnet-4-5", cwd: "/home/user/frontend",
			mode: "plan", pattern: "question", costPerTick: 0.04,
		},
		{
			// Goes silent after a while so expiry and eviction are visible.
			id: "mock-host-stale", model: "claude-haiku-4-5", cwd: "/home/user/scripts",
			mode: "default", pattern: "vanish", costPerTick: 0.01,
		},
	}

	go g.run(ctx)
}

func (g *MockGenerator) run(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			for _, ms := range g.sessions {
				g.advance(ms, tick)
			}
		}
	}
}

func (g *MockGenerator) advance(ms *mockSession, tick int) {
	if ms.stopped {
		return
	}

	switch ms.pattern {
	case "steady":
		ms.cost += ms.costPerTick
		ms.tokens += int64(1200 + rand.Intn(400))
		ms.linesAdded += int64(rand.Intn(20))
		ms.linesRem += int64(rand.Intn(5))
		g.publishStatus(ms)
		if ms.ctxPct >= 90 {
			g.publishStop(ms)
		}

	case "burst":
		mult := 1.0
		if tick%8 < 3 {
			mult = 2.5
		}
		ms.cost += ms.costPerTick * mult
		ms.tokens += int64(float64(2000+rand.Intn(600)) * mult)
		ms.linesAdded += int64(rand.Intn(40))
		g.publishStatus(ms)

	case "permission":
		ms.cost += ms.costPerTick
		ms.tokens += int64(800 + rand.Intn(200))
		g.publishStatus(ms)
		if tick%20 == 0 {
			cmd := []string{"rm -rf build", "git push --force", "npm install"}[tick/20%3]
			g.publishEvent(ms, protocol.TopicEventPermissionRequest,
				fmt.Sprintf(`{"tool_name": "Bash", "tool_input": {"command": %q}}`, cmd))
		}

	case "question":
		ms.cost += ms.costPerTick
		// Sinusoidal pace so the metrics view has some movement.
		pace := 0.7 + 0.3*math.Sin(float64(tick)/10.0)
		ms.tokens += int64(1500 * pace)
		g.publishStatus(ms)
		if tick%30 == 0 {
			g.publishEvent(ms, protocol.TopicEventNotification,
				`{"message": "Which database should the migration target?"}`)
		}

	case "vanish":
		if tick > 40 {
			return // no stop event, just silence; the sweeper takes it from here
		}
		ms.cost += ms.costPerTick
		ms.tokens += int64(500 + rand.Intn(100))
		g.publishStatus(ms)
	}
}

func (g *MockGenerator) publishStatus(ms *mockSession) {
	ms.ctxPct = math.Min(float64(ms.tokens)/2000, 100)
	g.engine.Offer(ingest.Message{
		Topic:      protocol.StatusTopicPrefix + ms.id,
		Payload:    statusPayload(ms),
		ReceivedAt: time.Now(),
	})
}

func (g *MockGenerator) publishEvent(ms *mockSession, topic, content string) {
	g.engine.Offer(ingest.Message{
		Topic:      topic,
		Payload:    eventPayload(ms, content),
		ReceivedAt: time.Now(),
	})
}

func statusPayload(ms *mockSession) []byte {
	return []byte(fmt.Sprintf(`{
		"session_id": %q,
		"model": %q,
		"cwd": %q,
		"permission_mode": %q,
		"cost": {"total_cost_usd": %.4f, "total_tokens": %d},
		"context_window": {"used_percentage": %.1f},
		"lines": {"added": %d, "removed": %d}
	}`, ms.id, ms.model, ms.cwd, ms.mode, ms.cost, ms.tokens, ms.ctxPct, ms.linesAdded, ms.linesRem))
}

func eventPayload(ms *mockSession, content string) []byte {
	return []byte(fmt.Sprintf(`{"session_id": %q, "cwd": %q, "timestamp": %d, "content": %s}`,
		ms.id, ms.cwd, time.Now().Unix(), content))
}

func (g *MockGenerator) publishStop(ms *mockSession) {
	g.publishEvent(ms, protocol.TopicEventStop, "null")
	ms.stopped = true
}
