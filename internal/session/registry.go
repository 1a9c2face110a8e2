package session

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/agent-beacon/backend/internal/protocol"
)

// Policy holds the registry's timing and capacity knobs. All fields are
// configurable; zero values fall back to defaults.
type Policy struct {
	// FreshnessThreshold is the maximum silence before an Active session
	// is considered Expired.
	FreshnessThreshold time.Duration
	// GracePeriod is the additional silence after Expired before the
	// record is evicted and its name released.
	GracePeriod time.Duration
	// DedupWindow is the span within which a repeated lifecycle event for
	// the same (session, event type) pair is treated as a retransmission.
	DedupWindow time.Duration
	// HistoryCapacity bounds the notification history.
	HistoryCapacity int
}

const (
	DefaultFreshnessThreshold = 5 * time.Minute
	DefaultGracePeriod        = time.Minute
	DefaultDedupWindow        = 5 * time.Second
	DefaultHistoryCapacity    = 100
)

func (p Policy) withDefaults() Policy {
	if p.FreshnessThreshold <= 0 {
		p.FreshnessThreshold = DefaultFreshnessThreshold
	}
	if p.GracePeriod <= 0 {
		p.GracePeriod = DefaultGracePeriod
	}
	if p.DedupWindow <= 0 {
		p.DedupWindow = DefaultDedupWindow
	}
	if p.HistoryCapacity <= 0 {
		p.HistoryCapacity = DefaultHistoryCapacity
	}
	return p
}

// Change describes what one registry mutation did. It is handed to the
// notify callback inside the critical section so downstream broadcast
// queueing is ordered with the mutation. Records are snapshots, safe to
// retain.
type Change struct {
	Updated []*Record
	// Evicted carries the final state of each removed record so downstream
	// consumers can apply the same privacy filtering to the eviction signal
	// as to the record itself.
	Evicted      []*Record
	Notification *Entry
	Unread       int
}

type eventKey struct {
	sessionID string
	eventType protocol.EventType
}

// tracked wraps a record with bookkeeping that is not part of the
// externally visible state.
type tracked struct {
	rec       Record
	expiredAt time.Time
}

// Registry is the single owner of all session state, the name pool, and
// the notification history. One mutex guards the three as a unit: every
// mutation is atomic and totally ordered, and no reader can observe a
// record mid-update or history out of step with the session map.
type Registry struct {
	mu       sync.RWMutex
	policy   Policy
	sessions map[string]*tracked
	names    *namePool
	hist     *history
	lastSent map[eventKey]time.Time
}

func NewRegistry(policy Policy) *Registry {
	policy = policy.withDefaults()
	return &Registry{
		policy:   policy,
		sessions: make(map[string]*tracked),
		names:    newNamePool(),
		hist:     newHistory(policy.HistoryCapacity),
		lastSent: make(map[eventKey]time.Time),
	}
}

// SetPolicy replaces the timing knobs. Applied on the next mutation or
// sweep; history capacity changes take effect on the next append.
func (r *Registry) SetPolicy(policy Policy) {
	policy = policy.withDefaults()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = policy
	r.hist.capacity = policy.HistoryCapacity
}

// ApplyStatus applies a decoded status update with last-arrival-wins
// semantics. receivedAt is the local receipt time and governs ordering;
// producer timestamps are never consulted. The notify callback, if
// non-nil, runs inside the critical section and must only enqueue.
func (r *Registry) ApplyStatus(u *protocol.StatusUpdate, receivedAt time.Time, notify func(Change)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.getOrCreateLocked(u.SessionID, receivedAt)
	t.rec.Cwd = u.Cwd
	t.rec.Model = u.Model
	t.rec.PermissionMode = u.PermissionMode
	t.rec.Cost = Cost{TotalUSD: u.CostUSD, TotalTokens: u.TotalTokens}
	t.rec.ContextWindow = ContextWindow{UsedPct: u.ContextUsedPct}
	t.rec.Lines = LineStats{Added: u.LinesAdded, Removed: u.LinesRemoved}
	t.rec.LastSeenAt = receivedAt

	if notify != nil {
		notify(Change{Updated: []*Record{t.rec.Clone()}})
	}
}

// ApplyEvent applies a decoded lifecycle event. A repeat of the same
// (session, event type) pair within the dedup window is treated as an
// at-least-once retransmission: no new history entry, but the session's
// freshness is still refreshed.
func (r *Registry) ApplyEvent(ev *protocol.LifecycleEvent, receivedAt time.Time, notify func(Change)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.getOrCreateLocked(ev.SessionID, receivedAt)
	if ev.Cwd != "" {
		t.rec.Cwd = ev.Cwd
	}
	t.rec.LastSeenAt = receivedAt

	change := Change{Updated: []*Record{t.rec.Clone()}}

	key := eventKey{sessionID: ev.SessionID, eventType: ev.Type}
	if last, ok := r.lastSent[key]; !ok || receivedAt.Sub(last) >= r.policy.DedupWindow {
		r.lastSent[key] = receivedAt
		entry := r.hist.append(Entry{
			EventType:   ev.Type,
			SessionID:   ev.SessionID,
			SessionName: t.rec.DisplayName,
			Cwd:         t.rec.Cwd,
			Summary:     ev.Summary,
			Timestamp:   receivedAt,
		})
		change.Notification = &entry
		change.Unread = r.hist.unreadCount()
	}

	if notify != nil {
		notify(change)
	}
}

// getOrCreateLocked returns the live record for id, creating one when the
// id is unknown. An Expired record is not resurrectable: a message for it
// evicts the old record and starts a fresh one, which may draw a different
// name. Caller must hold r.mu.
func (r *Registry) getOrCreateLocked(id string, receivedAt time.Time) *tracked {
	if t, ok := r.sessions[id]; ok {
		if t.rec.Status == StatusActive {
			return t
		}
		// Expired: retire the old record before starting over.
		r.evictLocked(id, t)
	}

	t := &tracked{rec: Record{
		ID:          id,
		DisplayName: r.names.allocate(id),
		LastSeenAt:  receivedAt,
		Status:      StatusActive,
	}}
	r.sessions[id] = t
	log.Printf("[registry] New session %s as %q", id, t.rec.DisplayName)
	return t
}

// Sweep retires sessions silent beyond the freshness threshold and evicts
// Expired records past the grace period, releasing their names. It is
// idempotent and safe to run at any cadence.
func (r *Registry) Sweep(now time.Time, notify func(Change)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var change Change
	for id, t := range r.sessions {
		switch t.rec.Status {
		case StatusActive:
			if now.Sub(t.rec.LastSeenAt) > r.policy.FreshnessThreshold {
				t.rec.Status = StatusExpired
				t.expiredAt = now
				change.Updated = append(change.Updated, t.rec.Clone())
				log.Printf("[registry] Session %s (%s) expired after %s of silence",
					id, t.rec.DisplayName, now.Sub(t.rec.LastSeenAt).Round(time.Second))
			}
		case StatusExpired:
			if now.Sub(t.expiredAt) > r.policy.GracePeriod {
				r.evictLocked(id, t)
				change.Evicted = append(change.Evicted, t.rec.Clone())
			}
		}
	}

	if notify != nil && (len(change.Updated) > 0 || len(change.Evicted) > 0) {
		notify(change)
	}
}

// evictLocked removes a record, releases its name, and drops its dedup
// bookkeeping. Caller must hold r.mu.
func (r *Registry) evictLocked(id string, t *tracked) {
	r.names.release(t.rec.DisplayName)
	delete(r.sessions, id)
	for key := range r.lastSent {
		if key.sessionID == id {
			delete(r.lastSent, key)
		}
	}
	log.Printf("[registry] Session %s evicted, name %q released", id, t.rec.DisplayName)
}

// Snapshot returns the Active sessions ordered by display name. Records
// are copies, safe to retain and mutate.
func (r *Registry) Snapshot() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Record, 0, len(r.sessions))
	for _, t := range r.sessions {
		if t.rec.Status != StatusActive {
			continue
		}
		result = append(result, t.rec.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DisplayName < result[j].DisplayName
	})
	return result
}

// Get returns a copy of the record for id, Expired records included.
func (r *Registry) Get(id string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return t.rec.Clone(), true
}

// ActiveCount returns the number of Active sessions.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, t := range r.sessions {
		if t.rec.Status == StatusActive {
			count++
		}
	}
	return count
}

// History returns notification entries in insertion order, optionally
// filtered by session display name.
func (r *Registry) History(sessionName string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hist.list(sessionName)
}

// UnreadCount returns the number of unread notifications.
func (r *Registry) UnreadCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hist.unreadCount()
}

// MarkRead flags one notification as read. Unknown ids are a no-op; the
// return value reports whether an entry was found.
func (r *Registry) MarkRead(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hist.markRead(id)
}

// MarkAllRead flags every notification as read and returns how many
// changed.
func (r *Registry) MarkAllRead() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hist.markAllRead()
}

// ClearHistory removes all notification entries.
func (r *Registry) ClearHistory() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hist.clear()
}
