package protocol

import "encoding/json"

// Topic layout for the beacon broker. Producers publish status updates on a
// per-session topic and lifecycle events on a small fixed set of topics.
const (
	// TopicFilter is the subscription filter covering everything below.
	TopicFilter = "agents/#"

	// StatusTopicPrefix is the prefix for per-session status topics; the
	// remainder of the topic is the session id (agents/status/<session_id>).
	StatusTopicPrefix = "agents/status/"

	TopicEventStop              = "agents/events/stop"
	TopicEventPermissionRequest = "agents/events/permission-request"
	TopicEventNotification      = "agents/events/notification"
)

// EventType classifies lifecycle events.
type EventType int

const (
	EventStop EventType = iota
	EventPermissionRequest
	EventUserInputRequired
)

var eventTypeNames = map[EventType]string{
	EventStop:              "stop",
	EventPermissionRequest: "permission_request",
	EventUserInputRequired: "user_input_required",
}

var eventTypeFromName = map[string]EventType{
	"stop":                EventStop,
	"permission_request":  EventPermissionRequest,
	"user_input_required": EventUserInputRequired,
}

func (t EventType) String() string {
	if s, ok := eventTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

func (t EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *EventType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := eventTypeFromName[s]; ok {
		*t = v
	}
	return nil
}

// eventTopics maps the fixed lifecycle topics to their event type.
var eventTopics = map[string]EventType{
	TopicEventStop:              EventStop,
	TopicEventPermissionRequest: EventPermissionRequest,
	TopicEventNotification:      EventUserInputRequired,
}
