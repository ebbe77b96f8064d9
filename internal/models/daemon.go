package models

import (
	"time"
)

// DefaultCycleIntervalSeconds is the fetch interval of a new daemon
const DefaultCycleIntervalSeconds = 60

// Daemon is a recurring ingestion trigger for a mailbox
type Daemon struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	MailboxID            uint       `gorm:"not null;index" json:"mailbox_id"`
	FetchingCriterion    string     `gorm:"not null;size:64;default:ALL" json:"fetching_criterion"`
	CycleIntervalSeconds int        `gorm:"default:60" json:"cycle_interval_seconds"`
	Health               Health     `gorm:"embedded" json:"health"`
	LastRunAt            *time.Time `json:"last_run_at,omitempty"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	// Relationships
	Mailbox Mailbox `gorm:"foreignKey:MailboxID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for Daemon
func (Daemon) TableName() string {
	return "daemons"
}

// Interval returns the cycle interval
func (d *Daemon) Interval() time.Duration {
	if d.CycleIntervalSeconds <= 0 {
		return DefaultCycleIntervalSeconds * time.Second
	}
	return time.Duration(d.CycleIntervalSeconds) * time.Second
}

// Due reports whether a cycle should start at now
func (d *Daemon) Due(now time.Time) bool {
	return d.LastRunAt == nil || !now.Before(d.LastRunAt.Add(d.Interval()))
}
