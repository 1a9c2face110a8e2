package session

import (
	"fmt"
	"strings"
)

// Metrics aggregates the last-reported figures across Active sessions.
// Expired records are excluded: a silent session's stale numbers would
// otherwise linger in the totals until eviction.
type Metrics struct {
	ActiveSessions int     `json:"activeSessions"`
	TotalCostUSD   float64 `json:"totalCostUsd"`
	TotalTokens    int64   `json:"totalTokens"`
	LinesAdded     int64   `json:"linesAdded"`
	LinesRemoved   int64   `json:"linesRemoved"`
	UnreadCount    int     `json:"unreadCount"`
}

// Metrics computes the aggregate view under a single read lock so the
// totals and the unread count come from the same instant.
func (r *Registry) Metrics() Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var m Metrics
	for _, t := range r.sessions {
		if t.rec.Status != StatusActive {
			continue
		}
		m.ActiveSessions++
		m.TotalCostUSD += t.rec.Cost.TotalUSD
		m.TotalTokens += t.rec.Cost.TotalTokens
		m.LinesAdded += t.rec.Lines.Added
		m.LinesRemoved += t.rec.Lines.Removed
	}
	m.UnreadCount = r.hist.unreadCount()
	return m
}

// Tooltip renders a short human-readable summary suitable for a status
// indicator.
func (m Metrics) Tooltip() string {
	if m.ActiveSessions == 0 {
		return "No active sessions"
	}

	var b strings.Builder
	if m.ActiveSessions == 1 {
		b.WriteString("1 active session")
	} else {
		fmt.Fprintf(&b, "%d active sessions", m.ActiveSessions)
	}
	fmt.Fprintf(&b, " | $%.2f | %s tokens", m.TotalCostUSD, formatTokens(m.TotalTokens))
	if m.UnreadCount > 0 {
		fmt.Fprintf(&b, " | %d unread", m.UnreadCount)
	}
	return b.String()
}

// formatTokens renders a token count with a k/M suffix above 10k.
func formatTokens(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 10_000:
		return fmt.Sprintf("%.0fk", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}
