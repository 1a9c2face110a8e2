package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/agent-beacon/backend/internal/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// maxClients caps concurrent WebSocket connections. This is a local
// notification surface, not a public API; a runaway reconnect loop should
// not exhaust the process.
const maxClients = 32

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Broadcaster fans registry changes out to WebSocket clients. Record and
// eviction deltas are coalesced over a throttle window; notifications are
// sent immediately. A periodic full snapshot reconciles any client that
// missed deltas.
type Broadcaster struct {
	mu             sync.RWMutex
	clients        map[*client]bool
	registry       *session.Registry
	throttle       time.Duration
	snapshotTicker *time.Ticker
	stopSnapshots  chan struct{}

	privacyMu sync.RWMutex
	privacy   session.PrivacyFilter

	flushMu        sync.Mutex
	pendingUpdates map[string]*session.Record // keyed by session id, last write wins
	pendingEvicted []*session.Record
	flushTimer     *time.Timer

	healthHook func() []DecodeHealthPayload
}

func NewBroadcaster(registry *session.Registry, throttle, snapshotInterval time.Duration) *Broadcaster {
	b := &Broadcaster{
		clients:        make(map[*client]bool),
		registry:       registry,
		throttle:       throttle,
		pendingUpdates: make(map[string]*session.Record),
		stopSnapshots:  make(chan struct{}),
	}

	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()

	return b
}

// SetPrivacy replaces the privacy filter applied to outgoing payloads.
func (b *Broadcaster) SetPrivacy(f session.PrivacyFilter) {
	b.privacyMu.Lock()
	b.privacy = f
	b.privacyMu.Unlock()
}

func (b *Broadcaster) privacyFilter() session.PrivacyFilter {
	b.privacyMu.RLock()
	defer b.privacyMu.RUnlock()
	return b.privacy
}

// FilterRecords applies the current privacy filter to a record slice.
// Exposed for the HTTP handlers so REST and WS emit the same view.
func (b *Broadcaster) FilterRecords(records []*session.Record) []*session.Record {
	f := b.privacyFilter()
	if f.IsNoop() {
		return records
	}
	return f.FilterRecords(records)
}

// FilterEntries applies the current privacy filter to history entries.
func (b *Broadcaster) FilterEntries(entries []session.Entry) []session.Entry {
	f := b.privacyFilter()
	if f.IsNoop() {
		return entries
	}
	return f.FilterEntries(entries)
}

// SetHealthHook configures a callback that supplies decode health entries
// for snapshot messages. Must be set before clients connect.
func (b *Broadcaster) SetHealthHook(hook func() []DecodeHealthPayload) {
	b.healthHook = hook
}

// AddClient registers a connection and immediately sends it a full
// snapshot, plus any non-healthy decode state. Returns nil when the client
// cap is reached; the caller should close the connection.
func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	b.mu.Lock()
	if len(b.clients) >= maxClients {
		b.mu.Unlock()
		log.Printf("[ws] client limit reached (%d), rejecting connection", maxClients)
		return nil
	}
	c := newClient(conn)
	b.clients[c] = true
	b.mu.Unlock()

	b.sendTo(c, b.snapshotMessage())

	if b.healthHook != nil {
		for _, payload := range b.healthHook() {
			b.sendTo(c, WSMessage{Type: MsgDecodeHealth, Payload: payload})
		}
	}

	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// QueueUpdate buffers record updates for the next coalesced delta. Later
// updates for the same session replace earlier buffered ones, so a burst
// of status messages flushes as a single current record.
func (b *Broadcaster) QueueUpdate(records []*session.Record) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	for _, rec := range records {
		b.pendingUpdates[rec.ID] = rec
	}

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

// QueueEviction buffers evicted records for the next coalesced delta. The
// full record is carried so the flush can privacy-filter the eviction
// signal the same way it filters updates.
func (b *Broadcaster) QueueEviction(evicted []*session.Record) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingEvicted = append(b.pendingEvicted, evicted...)
	for _, rec := range evicted {
		delete(b.pendingUpdates, rec.ID)
	}

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

// QueueNotification sends a notification immediately, bypassing the
// throttle. A permission prompt buried in a 250ms coalescing window is a
// prompt the user answers late.
func (b *Broadcaster) QueueNotification(entry session.Entry, unread int) {
	f := b.privacyFilter()
	if !f.IsAllowed(entry.Cwd) {
		return
	}
	b.broadcast(WSMessage{
		Type:    MsgNotification,
		Payload: NotificationPayload{Entry: f.ApplyEntry(entry), Unread: unread},
	})
}

// BroadcastHistoryUpdate announces a read-state change or a history clear.
// These are user-initiated and rare, so like notifications they bypass the
// delta throttle.
func (b *Broadcaster) BroadcastHistoryUpdate(unread int, cleared bool) {
	b.broadcast(WSMessage{
		Type:    MsgHistoryUpdate,
		Payload: HistoryUpdatePayload{Unread: unread, Cleared: cleared},
	})
}

// BroadcastDecodeHealth sends a decode health transition to all clients.
func (b *Broadcaster) BroadcastDecodeHealth(payload DecodeHealthPayload) {
	b.broadcast(WSMessage{Type: MsgDecodeHealth, Payload: payload})
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	updates := make([]*session.Record, 0, len(b.pendingUpdates))
	for _, rec := range b.pendingUpdates {
		updates = append(updates, rec)
	}
	evicted := b.pendingEvicted
	b.pendingUpdates = make(map[string]*session.Record)
	b.pendingEvicted = nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	msg, ok := b.deltaMessage(updates, evicted)
	if !ok {
		return
	}
	b.broadcast(msg)
}

// deltaMessage privacy-filters a drained delta. Evicted ids get the same
// treatment as the records they refer to: a session hidden by the path
// filter is not announced on eviction either, and with id masking on the
// eviction carries the masked id the client saw in updates.
func (b *Broadcaster) deltaMessage(updates, evictedRecs []*session.Record) (WSMessage, bool) {
	f := b.privacyFilter()
	if !f.IsNoop() {
		updates = f.FilterRecords(updates)
	}

	evicted := make([]string, 0, len(evictedRecs))
	for _, rec := range evictedRecs {
		if !f.IsAllowed(rec.Cwd) {
			continue
		}
		evicted = append(evicted, f.Apply(rec).ID)
	}

	if len(updates) == 0 && len(evicted) == 0 {
		return WSMessage{}, false
	}
	return WSMessage{
		Type:    MsgDelta,
		Payload: DeltaPayload{Updates: updates, Evicted: evicted},
	}, true
}

func (b *Broadcaster) snapshotMessage() WSMessage {
	return WSMessage{
		Type: MsgSnapshot,
		Payload: SnapshotPayload{
			Sessions: b.FilterRecords(b.registry.Snapshot()),
			Metrics:  b.registry.Metrics(),
		},
	}
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.stopSnapshots:
			return
		case <-b.snapshotTicker.C:
			b.broadcast(b.snapshotMessage())
		}
	}
}

// Stop halts the periodic snapshot loop and disconnects all clients.
func (b *Broadcaster) Stop() {
	b.snapshotTicker.Stop()
	close(b.stopSnapshots)

	b.mu.Lock()
	for c := range b.clients {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

func (b *Broadcaster) sendTo(c *client, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[ws] marshal error: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
		// Client too slow, drop the message
	}
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[ws] broadcast marshal error: %v", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			// Client can't keep up, disconnect it
			log.Printf("[ws] client %s too slow, disconnecting", c.id)
			b.RemoveClient(c)
		}
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
