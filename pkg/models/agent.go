package models

import "time"

// AgentRole distinguishes the coordinator from specialist workers.
type AgentRole string

const (
	// RoleCoordinator marks the single agent responsible for routing.
	RoleCoordinator AgentRole = "coordinator"
	// RoleSpecialist marks a regular task-executing agent.
	RoleSpecialist AgentRole = "specialist"
)

// Valid returns true if the role is a known value.
func (r AgentRole) Valid() bool {
	return r == RoleCoordinator || r == RoleSpecialist
}

// Agent represents a long-lived worker identity that claims and executes tasks.
type Agent struct {
	// ID is the stable identifier for this agent.
	ID string `json:"id"`
	// Name is the human-readable agent name.
	Name string `json:"name,omitempty"`
	// Role is coordinator or specialist. Exactly one configured agent holds
	// the coordinator role at a time; transfer happens only through failover.
	Role AgentRole `json:"role"`
	// Capabilities lists the task capabilities this agent can serve.
	Capabilities []string `json:"capabilities,omitempty"`
	// InfraHeartbeat is the last pulse from the liveness sidecar.
	InfraHeartbeat time.Time `json:"infra_heartbeat"`
	// LastHeartbeat is the last functional pulse, updated only by successful
	// task claim and complete operations.
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// HasCapability reports whether the agent can serve the given capability.
// An empty capability requirement matches every agent.
func (a *Agent) HasCapability(capability string) bool {
	if capability == "" {
		return true
	}
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}
