package ws

import (
	"time"

	"github.com/agent-beacon/backend/internal/session"
)

type MessageType string

const (
	MsgSnapshot      MessageType = "snapshot"
	MsgDelta         MessageType = "delta"
	MsgNotification  MessageType = "notification"
	MsgHistoryUpdate MessageType = "history_update"
	MsgDecodeHealth  MessageType = "decode_health"
	MsgError         MessageType = "error"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

type SnapshotPayload struct {
	Sessions []*session.Record `json:"sessions"`
	Metrics  session.Metrics   `json:"metrics"`
}

type DeltaPayload struct {
	Updates []*session.Record `json:"updates"`
	Evicted []string          `json:"evicted,omitempty"`
}

type NotificationPayload struct {
	Entry  session.Entry `json:"entry"`
	Unread int           `json:"unread"`
}

// HistoryUpdatePayload announces a read-state mutation on the notification
// history. Cleared means the whole history was emptied.
type HistoryUpdatePayload struct {
	Unread  int  `json:"unread"`
	Cleared bool `json:"cleared,omitempty"`
}

// DecodeHealthStatus classifies a topic family's recent decode record.
type DecodeHealthStatus string

const (
	StatusHealthy  DecodeHealthStatus = "healthy"
	StatusDegraded DecodeHealthStatus = "degraded"
)

// DecodeHealthPayload reports decode failures for one topic family. Sent
// when the family's status crosses the failure threshold in either
// direction, and included in /api/health responses.
type DecodeHealthPayload struct {
	Family    string             `json:"family"`
	Status    DecodeHealthStatus `json:"status"`
	Failures  int                `json:"failures"`
	LastError string             `json:"lastError,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}
