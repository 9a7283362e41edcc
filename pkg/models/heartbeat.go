package models

// Channel identifies one of the two independent liveness signals.
type Channel string

const (
	// ChannelInfra is the sidecar pulse proving the agent process is alive.
	ChannelInfra Channel = "infra"
	// ChannelFunctional is the task-claim pulse proving the agent is making
	// progress on work. A process can be alive yet functionally stuck, so
	// neither channel alone is a complete liveness proof.
	ChannelFunctional Channel = "functional"
)

// Valid returns true if the channel is a known value.
func (c Channel) Valid() bool {
	return c == ChannelInfra || c == ChannelFunctional
}

// Classification is an agent liveness verdict derived from heartbeat samples.
type Classification int

const (
	// Healthy means the channel's last sample is within its staleness threshold.
	Healthy Classification = iota
	// Stale means the threshold has been exceeded but not doubled.
	Stale
	// Failed means the channel has been silent for more than twice its threshold.
	Failed
)

// String returns the lowercase name of the classification.
func (c Classification) String() string {
	switch c {
	case Healthy:
		return "healthy"
	case Stale:
		return "stale"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Worse returns the more severe of the two classifications.
func Worse(a, b Classification) Classification {
	if a > b {
		return a
	}
	return b
}
