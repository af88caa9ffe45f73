package dtmesh

import "time"

// Maintenance ticker periods from spec §4.7.
const (
	// CleanupInterval governs how often Forwarder.Cleanup and
	// RetryScheduler.Cleanup run.
	CleanupInterval = 5 * time.Minute
	// StatsInterval governs how often a Stats snapshot is emitted.
	StatsInterval = 2 * time.Minute
	// RediscoveryInterval governs how often StartDiscovery is re-issued
	// while no peer is connected.
	RediscoveryInterval = 30 * time.Second
	// ShutdownDrainBudget bounds how long Shutdown waits for in-flight
	// forwarder work before force-stopping.
	ShutdownDrainBudget = 5 * time.Second
)
