package models

import "time"

// FailoverState represents the supervisor's view of the coordinator.
type FailoverState string

const (
	// FailoverNormal means the coordinator is routing as usual.
	FailoverNormal FailoverState = "normal"
	// FailoverDegraded means at least one heartbeat window was missed.
	// Observational only; routing is unchanged.
	FailoverDegraded FailoverState = "degraded"
	// FailoverActive means the coordinator is considered down and critical
	// work is rerouted to the stand-in.
	FailoverActive FailoverState = "failed_over"
)

// Valid returns true if the state is a known value.
func (s FailoverState) Valid() bool {
	switch s {
	case FailoverNormal, FailoverDegraded, FailoverActive:
		return true
	default:
		return false
	}
}

// FailoverEvent records one activation of failover mode.
// Owned exclusively by the failover supervisor; read-only elsewhere.
type FailoverEvent struct {
	// ID is the generated identifier for this event.
	ID string `json:"id"`
	// AgentID is the coordinator whose silence triggered the event.
	AgentID string `json:"agent_id"`
	// MissedWindows is the consecutive-miss count at trigger time.
	MissedWindows int `json:"missed_windows"`
	// TriggeredAt is when failover activated.
	TriggeredAt time.Time `json:"triggered_at"`
	// RecoveredAt is when the coordinator's heartbeat resumed, if it has.
	RecoveredAt *time.Time `json:"recovered_at,omitempty"`
}
