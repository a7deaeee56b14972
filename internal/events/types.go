package events

// Event enumerates topics published inside the execution core.
type Event string

const (
	// EventAudit carries every appended audit.Event; the websocket stream reads it.
	EventAudit Event = "audit"
	// EventOrderUpdate carries order.Order snapshots on every transition.
	EventOrderUpdate Event = "order.update"
	// EventPositionChange carries the position snapshot after a fill is applied.
	EventPositionChange Event = "position.change"
	// EventRiskHalt carries risk.Decision values when a halt is raised or cleared.
	EventRiskHalt Event = "risk.halt"
)
