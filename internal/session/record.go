package session

import (
	"encoding/json"
	"time"
)

// Status is a session record's lifecycle state. Eviction removes the record
// entirely, so only the two observable states are represented.
type Status int

const (
	StatusActive Status = iota
	StatusExpired
)

var statusNames = map[Status]string{
	StatusActive:  "active",
	StatusExpired: "expired",
}

var statusFromName = map[string]Status{
	"active":  StatusActive,
	"expired": StatusExpired,
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if v, ok := statusFromName[n]; ok {
		*s = v
	}
	return nil
}

// Cost is the last-reported spend for a session. Producers report running
// totals; the registry stores whatever arrived last and does not enforce
// monotonicity.
type Cost struct {
	TotalUSD    float64 `json:"totalUsd"`
	TotalTokens int64   `json:"totalTokens"`
}

// ContextWindow is the last-reported context usage.
type ContextWindow struct {
	UsedPct float64 `json:"usedPct"`
}

// LineStats is the last-reported line churn.
type LineStats struct {
	Added   int64 `json:"added"`
	Removed int64 `json:"removed"`
}

// Record is the registry's view of one session. LastSeenAt is the local
// receipt time of the most recent accepted message, never a producer clock.
type Record struct {
	ID             string        `json:"id"`
	DisplayName    string        `json:"displayName"`
	Cwd            string        `json:"cwd"`
	Model          string        `json:"model"`
	PermissionMode string        `json:"permissionMode"`
	Cost           Cost          `json:"cost"`
	ContextWindow  ContextWindow `json:"contextWindow"`
	Lines          LineStats     `json:"lines"`
	LastSeenAt     time.Time     `json:"lastSeenAt"`
	Status         Status        `json:"status"`
}

// Clone returns a copy that can be mutated independently of the original.
func (r *Record) Clone() *Record {
	c := *r
	return &c
}
