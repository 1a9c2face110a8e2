// Package ingest drives the pipeline from raw broker messages to registry
// state and broadcast output.
package ingest

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/agent-beacon/backend/internal/protocol"
	"github.com/agent-beacon/backend/internal/session"
	"github.com/agent-beacon/backend/internal/ws"
)

// Message is one raw broker delivery. ReceivedAt is stamped by the
// transport at receipt; it is the only clock the registry trusts.
type Message struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// inputBuffer sizes the message channel. Bursts beyond it block the
// transport's delivery goroutine briefly rather than dropping messages.
const inputBuffer = 256

// Engine consumes messages from a single input channel and applies them to
// the registry, queueing broadcast output inside the registry's critical
// section so WS clients observe mutations in apply order. All registry
// writes happen on the engine goroutine.
type Engine struct {
	registry    *session.Registry
	broadcaster *ws.Broadcaster
	input       chan Message
	health      *decodeHealth

	mu            sync.Mutex
	sweepInterval time.Duration

	droppedLogAt time.Time
	dropped      int64
}

func NewEngine(registry *session.Registry, broadcaster *ws.Broadcaster, sweepInterval time.Duration) *Engine {
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	e := &Engine{
		registry:      registry,
		broadcaster:   broadcaster,
		input:         make(chan Message, inputBuffer),
		health:        newDecodeHealth(),
		sweepInterval: sweepInterval,
	}
	broadcaster.SetHealthHook(e.health.Snapshot)
	return e
}

// Input returns the channel the transport delivers into.
func (e *Engine) Input() chan<- Message {
	return e.input
}

// Offer is a non-blocking submit for producers that must not stall, such
// as the mock generator. Drops are counted and logged at most once per
// 10 seconds.
func (e *Engine) Offer(msg Message) {
	select {
	case e.input <- msg:
	default:
		e.mu.Lock()
		e.dropped++
		now := time.Now()
		if e.droppedLogAt.IsZero() || now.Sub(e.droppedLogAt) >= 10*time.Second {
			log.Printf("[ingest] messages dropped: %d (input full)", e.dropped)
			e.dropped = 0
			e.droppedLogAt = now
		}
		e.mu.Unlock()
	}
}

// DecodeHealth returns the current non-healthy topic families. Wired into
// the HTTP health endpoint.
func (e *Engine) DecodeHealth() []ws.DecodeHealthPayload {
	return e.health.Snapshot()
}

// SetSweepInterval changes the sweep cadence. Takes effect on the next
// tick.
func (e *Engine) SetSweepInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	e.mu.Lock()
	e.sweepInterval = interval
	e.mu.Unlock()
}

func (e *Engine) currentSweepInterval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sweepInterval
}

// Start runs the engine loop until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	interval := e.currentSweepInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[ingest] engine started (sweep every %s)", interval)

	for {
		select {
		case <-ctx.Done():
			log.Println("[ingest] engine stopped")
			return
		case msg := <-e.input:
			e.handle(msg)
		case now := <-ticker.C:
			e.sweep(now)
			if next := e.currentSweepInterval(); next != interval {
				interval = next
				ticker.Reset(interval)
				log.Printf("[ingest] sweep interval now %s", interval)
			}
		}
	}
}

// handle decodes and applies one message. A decode failure drops the
// message without touching session state; the failure is recorded per
// topic family and a health transition is broadcast when the family
// crosses the threshold.
func (e *Engine) handle(msg Message) {
	fh := e.health.get(msg.Topic)

	decoded, err := protocol.Decode(msg.Topic, msg.Payload)
	if err != nil {
		fh.recordFailure(err)
		log.Printf("[ingest] drop: %v", err)
		e.maybeEmitHealth(msg.Topic, fh)
		return
	}
	fh.recordSuccess()
	e.maybeEmitHealth(msg.Topic, fh)

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	switch {
	case decoded.Status != nil:
		e.registry.ApplyStatus(decoded.Status, receivedAt, e.queueChange)
	case decoded.Event != nil:
		e.registry.ApplyEvent(decoded.Event, receivedAt, e.queueChange)
	}
}

func (e *Engine) sweep(now time.Time) {
	e.registry.Sweep(now, e.queueChange)
}

// queueChange translates a registry change into broadcast output. Runs
// inside the registry's critical section; it only enqueues.
func (e *Engine) queueChange(c session.Change) {
	if len(c.Updated) > 0 {
		e.broadcaster.QueueUpdate(c.Updated)
	}
	if len(c.Evicted) > 0 {
		e.broadcaster.QueueEviction(c.Evicted)
	}
	if c.Notification != nil {
		e.broadcaster.QueueNotification(*c.Notification, c.Unread)
	}
}

// maybeEmitHealth broadcasts a decode health payload when the topic
// family's status changed since the last emission.
func (e *Engine) maybeEmitHealth(topic string, fh *familyHealth) {
	status, failures, lastErr, changed := fh.snapshotAndEmit()
	if !changed {
		return
	}
	family := familyForTopic(topic)
	e.broadcaster.BroadcastDecodeHealth(ws.DecodeHealthPayload{
		Family:    family,
		Status:    status,
		Failures:  failures,
		LastError: lastErr,
		Timestamp: time.Now(),
	})
	log.Printf("[ingest] decode health for %s: %s (failures=%d)", family, status, failures)
}
