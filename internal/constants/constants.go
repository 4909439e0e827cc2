// Package constants provides centralized domain-specific constants
// for the entire rigwatch application.
package constants

import "time"

// =============================================================================
// Health State - Daemon health as reported by /v1/health
// =============================================================================

const (
	// HealthOK means the store answers and every job is succeeding.
	HealthOK = "ok"

	// HealthDegraded means a background job keeps failing.
	HealthDegraded = "degraded"

	// HealthDown means the store is unreachable or the service is stopped.
	HealthDown = "down"
)

// ValidHealthStates contains all valid health state values
var ValidHealthStates = []string{HealthOK, HealthDegraded, HealthDown}

// IsValidHealthState checks if a state is valid
func IsValidHealthState(state string) bool {
	for _, s := range ValidHealthStates {
		if s == state {
			return true
		}
	}
	return false
}

// =============================================================================
// Health Thresholds
// =============================================================================

const (
	// ConsecutiveFailuresForUnhealthy is the number of failed runs after
	// which a job is reported unhealthy.
	ConsecutiveFailuresForUnhealthy = 3

	// OnlineWindow is how recently a machine must have reported to count
	// as online.
	OnlineWindow = 5 * time.Minute
)
