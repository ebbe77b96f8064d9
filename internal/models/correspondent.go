package models

import (
	"time"
)

// Mention is the header position a correspondent occupies on an email
type Mention string

const (
	MentionFrom Mention = "FROM"
	MentionTo   Mention = "TO"
	MentionCc   Mention = "CC"
	MentionBcc  Mention = "BCC"
)

// Correspondent is a deduplicated mail address
type Correspondent struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	EmailAddress string    `gorm:"uniqueIndex;not null;size:255" json:"email_address"`
	EmailName    string    `gorm:"size:255" json:"email_name,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// Mailing list descriptor, filled from List-* headers
	ListID              string `gorm:"size:255" json:"list_id,omitempty"`
	ListOwner           string `gorm:"size:500" json:"list_owner,omitempty"`
	ListSubscribe       string `gorm:"size:500" json:"list_subscribe,omitempty"`
	ListUnsubscribe     string `gorm:"size:500" json:"list_unsubscribe,omitempty"`
	ListUnsubscribePost string `gorm:"size:255" json:"list_unsubscribe_post,omitempty"`
	ListPost            string `gorm:"size:500" json:"list_post,omitempty"`
	ListHelp            string `gorm:"size:500" json:"list_help,omitempty"`
	ListArchive         string `gorm:"size:500" json:"list_archive,omitempty"`
}

// TableName returns the table name for Correspondent
func (Correspondent) TableName() string {
	return "correspondents"
}

// IsMailingList reports whether a list descriptor is attached
func (c *Correspondent) IsMailingList() bool {
	return c.ListID != ""
}

// EmailCorrespondent records the role a correspondent plays on an email
type EmailCorrespondent struct {
	ID              uint    `gorm:"primaryKey" json:"id"`
	EmailID         uint    `gorm:"not null;uniqueIndex:idx_email_correspondent_mention" json:"email_id"`
	CorrespondentID uint    `gorm:"not null;uniqueIndex:idx_email_correspondent_mention;index" json:"correspondent_id"`
	Mention         Mention `gorm:"not null;size:8;uniqueIndex:idx_email_correspondent_mention" json:"mention"`

	// Relationships
	Email         Email         `gorm:"foreignKey:EmailID;constraint:OnDelete:CASCADE" json:"-"`
	Correspondent Correspondent `gorm:"foreignKey:CorrespondentID;constraint:OnDelete:CASCADE" json:"correspondent"`
}

// TableName returns the table name for EmailCorrespondent
func (EmailCorrespondent) TableName() string {
	return "email_correspondents"
}
