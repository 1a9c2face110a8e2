package session

import (
	"time"

	"github.com/agent-beacon/backend/internal/protocol"
)

// Entry is one user-facing notification. Entries are immutable once
// created except for the Read flag.
type Entry struct {
	ID          uint64             `json:"id"`
	EventType   protocol.EventType `json:"eventType"`
	SessionID   string             `json:"sessionId"`
	SessionName string             `json:"sessionName"`
	Cwd         string             `json:"cwd"`
	Summary     string             `json:"summary,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
	Read        bool               `json:"read"`
}

// history is a bounded insertion-ordered notification log. It carries no
// lock of its own: the registry is its only writer and guards all access
// with the same mutex that protects the session map, so readers can never
// observe history and sessions out of step.
type history struct {
	entries  []Entry // ascending insertion order
	nextID   uint64
	capacity int
}

func newHistory(capacity int) *history {
	return &history{nextID: 1, capacity: capacity}
}

// append adds an entry, evicting the oldest when over capacity.
func (h *history) append(e Entry) Entry {
	e.ID = h.nextID
	h.nextID++
	h.entries = append(h.entries, e)
	if len(h.entries) > h.capacity {
		over := len(h.entries) - h.capacity
		h.entries = append(h.entries[:0], h.entries[over:]...)
	}
	return e
}

// list returns entries in insertion order, optionally filtered by the
// session display name recorded at entry creation time.
func (h *history) list(sessionName string) []Entry {
	result := make([]Entry, 0, len(h.entries))
	for _, e := range h.entries {
		if sessionName != "" && e.SessionName != sessionName {
			continue
		}
		result = append(result, e)
	}
	return result
}

// markRead flags one entry as read. Unknown ids are a no-op, not an error.
func (h *history) markRead(id uint64) bool {
	for i := range h.entries {
		if h.entries[i].ID == id {
			h.entries[i].Read = true
			return true
		}
	}
	return false
}

func (h *history) markAllRead() int {
	marked := 0
	for i := range h.entries {
		if !h.entries[i].Read {
			h.entries[i].Read = true
			marked++
		}
	}
	return marked
}

func (h *history) clear() {
	h.entries = nil
}

func (h *history) unreadCount() int {
	count := 0
	for _, e := range h.entries {
		if !e.Read {
			count++
		}
	}
	return count
}
