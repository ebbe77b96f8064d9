package models

import "time"

// HealthState is the tri-state health of an account, mailbox or daemon
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
)

// Health is embedded by every entity that reports its own health.
// A nil IsHealthy means the entity has never been exercised.
type Health struct {
	IsHealthy   *bool      `gorm:"column:is_healthy" json:"is_healthy"`
	LastError   string     `gorm:"type:text" json:"last_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
}

// State returns the tri-state view of IsHealthy
func (h Health) State() HealthState {
	switch {
	case h.IsHealthy == nil:
		return HealthUnknown
	case *h.IsHealthy:
		return HealthHealthy
	default:
		return HealthUnhealthy
	}
}

// Unhealthy reports whether the entity is explicitly unhealthy
func (h Health) Unhealthy() bool {
	return h.State() == HealthUnhealthy
}
