package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StatusUpdate is a decoded per-session status report.
type StatusUpdate struct {
	SessionID      string
	Model          string
	Cwd            string
	PermissionMode string
	CostUSD        float64
	TotalTokens    int64
	ContextUsedPct float64
	LinesAdded     int64
	LinesRemoved   int64
}

// LifecycleEvent is a decoded lifecycle notification from a producer hook.
// Timestamp is the producer's clock and is advisory only: ordering and
// dedup decisions use local receipt time, never this field.
type LifecycleEvent struct {
	Type      EventType
	SessionID string
	Cwd       string
	Timestamp int64
	Summary   string
}

// Decoded holds the result of decoding one inbound publish.
// Exactly one of Status and Event is non-nil.
type Decoded struct {
	Status *StatusUpdate
	Event  *LifecycleEvent
}

// DecodeError reports a payload that could not be decoded. These are
// dropped by the ingestion path and counted for diagnostics; they never
// reach the registry.
type DecodeError struct {
	Topic  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.Topic, e.Reason)
}

// Wire-format structs. Field names follow the producer contract.
type statusPayload struct {
	SessionID      string  `json:"session_id"`
	Model          string  `json:"model"`
	Cwd            string  `json:"cwd"`
	PermissionMode string  `json:"permission_mode"`
	Cost           struct {
		TotalCostUSD float64 `json:"total_cost_usd"`
		TotalTokens  int64   `json:"total_tokens"`
	} `json:"cost"`
	ContextWindow struct {
		UsedPercentage float64 `json:"used_percentage"`
	} `json:"context_window"`
	Lines struct {
		Added   int64 `json:"added"`
		Removed int64 `json:"removed"`
	} `json:"lines"`
}

type eventPayload struct {
	SessionID string          `json:"session_id"`
	Cwd       string          `json:"cwd"`
	Timestamp int64           `json:"timestamp"`
	Content   json.RawMessage `json:"content"`
}

type eventContent struct {
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Raw       string          `json:"raw"`
}

// Decode parses a raw publish into a typed record. It never panics on
// malformed input: anything that doesn't match the topic scheme or the
// payload contract comes back as a *DecodeError.
func Decode(topic string, payload []byte) (Decoded, error) {
	if id, ok := strings.CutPrefix(topic, StatusTopicPrefix); ok {
		u, err := decodeStatus(topic, id, payload)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Status: u}, nil
	}

	if evType, ok := eventTopics[topic]; ok {
		ev, err := decodeEvent(topic, evType, payload)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Event: ev}, nil
	}

	return Decoded{}, &DecodeError{Topic: topic, Reason: "unknown topic"}
}

func decodeStatus(topic, topicID string, payload []byte) (*StatusUpdate, error) {
	if topicID == "" || strings.Contains(topicID, "/") {
		return nil, &DecodeError{Topic: topic, Reason: "invalid session id segment"}
	}

	var p statusPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, &DecodeError{Topic: topic, Reason: err.Error()}
	}

	// The topic segment is the routing key; a disagreeing embedded
	// session_id is ignored.
	return &StatusUpdate{
		SessionID:      topicID,
		Model:          p.Model,
		Cwd:            p.Cwd,
		PermissionMode: p.PermissionMode,
		CostUSD:        clampMin(p.Cost.TotalCostUSD, 0),
		TotalTokens:    clampMinInt(p.Cost.TotalTokens, 0),
		ContextUsedPct: clampRange(p.ContextWindow.UsedPercentage, 0, 100),
		LinesAdded:     clampMinInt(p.Lines.Added, 0),
		LinesRemoved:   clampMinInt(p.Lines.Removed, 0),
	}, nil
}

func decodeEvent(topic string, evType EventType, payload []byte) (*LifecycleEvent, error) {
	var p eventPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, &DecodeError{Topic: topic, Reason: err.Error()}
	}
	if p.SessionID == "" {
		return nil, &DecodeError{Topic: topic, Reason: "missing session_id"}
	}

	return &LifecycleEvent{
		Type:      evType,
		SessionID: p.SessionID,
		Cwd:       p.Cwd,
		Timestamp: p.Timestamp,
		Summary:   summarizeContent(evType, p.Content),
	}, nil
}

// summarizeContent builds a short human-readable line from an event's
// content block. Content is optional and arbitrarily shaped (hook scripts
// forward whatever the agent gave them), so every path here is best-effort.
func summarizeContent(evType EventType, raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var c eventContent
	if err := json.Unmarshal(raw, &c); err != nil {
		return ""
	}

	switch evType {
	case EventPermissionRequest:
		if c.ToolName != "" {
			if cmd := extractCommand(c.ToolInput); cmd != "" {
				return c.ToolName + ": " + cmd
			}
			return c.ToolName + " approval required"
		}
	case EventUserInputRequired:
		if c.Message != "" {
			return c.Message
		}
		if c.Title != "" {
			return c.Title
		}
	}

	if c.Raw != "" {
		return truncate(c.Raw, 100)
	}
	return ""
}

func extractCommand(input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	var fields struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &fields); err != nil {
		return ""
	}
	return fields.Command
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func clampMin(v, min float64) float64 {
	if v < min {
		return min
	}
	return v
}

func clampMinInt(v, min int64) int64 {
	if v < min {
		return min
	}
	return v
}

func clampRange(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
