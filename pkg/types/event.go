package types

import "time"

// EventLevel is the fixed enumeration for EventBus records.
type EventLevel string

const (
	EventDebug   EventLevel = "debug"
	EventInfo    EventLevel = "info"
	EventSuccess EventLevel = "success"
	EventWarning EventLevel = "warning"
	EventError   EventLevel = "error"
	EventAlert   EventLevel = "alert"
)

// Event is the structured activity record published to the EventBus and
// mirrored into an incident's IncidentTrace (§4.9).
type Event struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Level       EventLevel             `json:"level"`
	Message     string                 `json:"message"`
	IncidentID  string                 `json:"incident_id,omitempty"`
	Stage       Stage                  `json:"stage,omitempty"`
	Integration string                 `json:"integration,omitempty"`
	Action      string                 `json:"action,omitempty"`
	Progress    *float64               `json:"progress,omitempty"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
}

// CircuitState is the fixed CircuitBreaker state enumeration (§4.4).
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)
