package notify

// Event identifies the engine condition a notification reports. The
// operator's config lists which events are forwarded to the configured
// senders; everything else stays in the logs.
type Event string

const (
	EventEngineStarted  Event = "engine_started"
	EventEngineStopped  Event = "engine_stopped"
	EventCircuitOpen    Event = "circuit_open"
	EventRiskModeChange Event = "risk_mode_change"
	EventOrderPlaced    Event = "order_placed"
	EventOrderFailed    Event = "order_failed"
	EventError          Event = "error"
)

// ParseEvents converts the raw config strings into typed events. Unknown
// names are kept as-is; they simply never match an emitted event.
func ParseEvents(raw []string) []Event {
	events := make([]Event, 0, len(raw))
	for _, r := range raw {
		events = append(events, Event(r))
	}
	return events
}

// Notification is the unit handed to each sender: the event that caused it
// plus the operator-facing title and body.
type Notification struct {
	Event Event
	Title string
	Body  string
}
