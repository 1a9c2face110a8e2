package ingest

import (
	"strings"
	"sync"
	"time"

	"github.com/agent-beacon/backend/internal/protocol"
	"github.com/agent-beacon/backend/internal/ws"
)

// decodeFailureThreshold is the consecutive failure count at which a topic
// family is reported as degraded.
const decodeFailureThreshold = 3

// familyHealth tracks consecutive decode failures for one topic family.
// Fields are protected by mu because handle() writes them from the engine
// goroutine while snapshots are read from HTTP handlers and the
// broadcaster's connect path.
type familyHealth struct {
	mu                sync.Mutex
	failures          int
	lastErr           string
	lastFail          time.Time
	lastEmittedStatus ws.DecodeHealthStatus
}

func newFamilyHealth() *familyHealth {
	return &familyHealth{lastEmittedStatus: ws.StatusHealthy}
}

func (h *familyHealth) recordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = 0
	h.lastErr = ""
}

func (h *familyHealth) recordFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
	h.lastErr = err.Error()
	h.lastFail = time.Now()
}

func (h *familyHealth) statusLocked() ws.DecodeHealthStatus {
	if h.failures >= decodeFailureThreshold {
		return ws.StatusDegraded
	}
	return ws.StatusHealthy
}

// snapshotAndEmit returns the current fields and whether the status changed
// since the last emission, updating the emission marker when it did.
func (h *familyHealth) snapshotAndEmit() (status ws.DecodeHealthStatus, failures int, lastErr string, changed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	status = h.statusLocked()
	changed = status != h.lastEmittedStatus
	if changed {
		h.lastEmittedStatus = status
	}
	return status, h.failures, h.lastErr, changed
}

func (h *familyHealth) snapshot() (status ws.DecodeHealthStatus, failures int, lastErr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statusLocked(), h.failures, h.lastErr
}

// decodeHealth aggregates familyHealth trackers keyed by topic family.
// Families are fixed at construction; unknown topics fall into their own
// bucket so a flood of junk on the subscription is visible.
type decodeHealth struct {
	families map[string]*familyHealth
	order    []string
}

const familyUnknown = "unknown"

func newDecodeHealth() *decodeHealth {
	order := []string{"status", "stop", "permission-request", "notification", familyUnknown}
	families := make(map[string]*familyHealth, len(order))
	for _, name := range order {
		families[name] = newFamilyHealth()
	}
	return &decodeHealth{families: families, order: order}
}

// familyForTopic maps a raw topic to its health bucket.
func familyForTopic(topic string) string {
	if strings.HasPrefix(topic, protocol.StatusTopicPrefix) {
		return "status"
	}
	switch topic {
	case protocol.TopicEventStop:
		return "stop"
	case protocol.TopicEventPermissionRequest:
		return "permission-request"
	case protocol.TopicEventNotification:
		return "notification"
	}
	return familyUnknown
}

func (d *decodeHealth) get(topic string) *familyHealth {
	return d.families[familyForTopic(topic)]
}

// Snapshot returns payloads for all non-healthy families.
func (d *decodeHealth) Snapshot() []ws.DecodeHealthPayload {
	now := time.Now()
	var result []ws.DecodeHealthPayload
	for _, name := range d.order {
		status, failures, lastErr := d.families[name].snapshot()
		if status == ws.StatusHealthy {
			continue
		}
		result = append(result, ws.DecodeHealthPayload{
			Family:    name,
			Status:    status,
			Failures:  failures,
			LastError: lastErr,
			Timestamp: now,
		})
	}
	return result
}
