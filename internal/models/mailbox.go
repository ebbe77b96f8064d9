package models

import (
	"time"
)

// Mailbox is one folder of an account that gets archived
type Mailbox struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	AccountID       uint      `gorm:"not null;index" json:"account_id"`
	Name            string    `gorm:"not null;size:255" json:"name"`
	SaveAttachments bool      `json:"save_attachments"`
	SaveToEML       bool      `gorm:"column:save_to_eml;default:false" json:"save_to_eml"`
	Health          Health    `gorm:"embedded" json:"health"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// Relationships
	Account Account  `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE" json:"-"`
	Daemons []Daemon `gorm:"foreignKey:MailboxID;constraint:OnDelete:CASCADE" json:"-"`
	Emails  []Email  `gorm:"foreignKey:MailboxID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for Mailbox
func (Mailbox) TableName() string {
	return "mailboxes"
}
