package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/dispatch/pkg/models"
)

// RosterEntry is one agent in the fleet roster file.
type RosterEntry struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Role         string   `yaml:"role"`
	Capabilities []string `yaml:"capabilities"`
}

// Roster is the parsed fleet roster.
type Roster struct {
	Agents []RosterEntry `yaml:"agents"`
	// StandIn names the agent that takes over routing during failover.
	StandIn string `yaml:"stand_in"`
}

// LoadRoster reads and validates the fleet roster YAML. Exactly one agent
// must hold the coordinator role, and the stand-in must be a listed
// specialist.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roster: %w", err)
	}

	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing roster: %w", err)
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks the roster invariants.
func (r *Roster) Validate() error {
	if len(r.Agents) == 0 {
		return fmt.Errorf("roster has no agents")
	}

	seen := make(map[string]bool)
	coordinators := 0
	standInFound := false
	for _, a := range r.Agents {
		if a.ID == "" {
			return fmt.Errorf("roster agent with empty id")
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate agent id %s", a.ID)
		}
		seen[a.ID] = true

		role := models.AgentRole(a.Role)
		if !role.Valid() {
			return fmt.Errorf("agent %s has unknown role %q", a.ID, a.Role)
		}
		if role == models.RoleCoordinator {
			coordinators++
		}
		if a.ID == r.StandIn {
			if role == models.RoleCoordinator {
				return fmt.Errorf("stand-in %s cannot be the coordinator", a.ID)
			}
			standInFound = true
		}
	}

	if coordinators != 1 {
		return fmt.Errorf("roster must have exactly one coordinator, found %d", coordinators)
	}
	if r.StandIn != "" && !standInFound {
		return fmt.Errorf("stand-in %s is not in the roster", r.StandIn)
	}
	return nil
}

// Coordinator returns the ID of the roster's coordinator agent.
func (r *Roster) Coordinator() string {
	for _, a := range r.Agents {
		if models.AgentRole(a.Role) == models.RoleCoordinator {
			return a.ID
		}
	}
	return ""
}

// Models converts roster entries to agent models.
func (r *Roster) Models() []models.Agent {
	agents := make([]models.Agent, 0, len(r.Agents))
	for _, e := range r.Agents {
		agents = append(agents, models.Agent{
			ID:           e.ID,
			Name:         e.Name,
			Role:         models.AgentRole(e.Role),
			Capabilities: append([]string(nil), e.Capabilities...),
		})
	}
	return agents
}
