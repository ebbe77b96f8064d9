package models

import (
	"time"
)

// Email is one archived message. MessageID is globally unique.
type Email struct {
	ID               uint                `gorm:"primaryKey" json:"id"`
	MailboxID        uint                `gorm:"not null;index" json:"mailbox_id"`
	MessageID        string              `gorm:"uniqueIndex;not null;size:255" json:"message_id"`
	DateTime         time.Time           `gorm:"index" json:"datetime"`
	Subject          string              `gorm:"type:text" json:"subject"`
	PlainBody        string              `gorm:"type:text" json:"plain_body,omitempty"`
	HTMLBody         string              `gorm:"column:html_body;type:text" json:"html_body,omitempty"`
	Datasize         int64               `json:"datasize"`
	Headers          map[string][]string `gorm:"type:json;serializer:json" json:"headers"`
	XSpam            bool                `gorm:"default:false" json:"x_spam"`
	IsFavorite       bool                `gorm:"default:false" json:"is_favorite"`
	EMLFilePath      *string             `gorm:"column:eml_file_path;size:500" json:"eml_file_path,omitempty"`
	InReplyTo        []string            `gorm:"type:json;serializer:json" json:"in_reply_to,omitempty"`
	References       []string            `gorm:"type:json;serializer:json" json:"references,omitempty"`
	InReplyToEmailID *uint               `gorm:"index" json:"in_reply_to_email_id,omitempty"`
	CreatedAt        time.Time           `gorm:"autoCreateTime" json:"created_at"`

	// Relationships
	Mailbox        Mailbox              `gorm:"foreignKey:MailboxID;constraint:OnDelete:CASCADE" json:"-"`
	Attachments    []Attachment         `gorm:"foreignKey:EmailID;constraint:OnDelete:CASCADE" json:"attachments,omitempty"`
	Correspondents []EmailCorrespondent `gorm:"foreignKey:EmailID;constraint:OnDelete:CASCADE" json:"correspondents,omitempty"`
}

// TableName returns the table name for Email
func (Email) TableName() string {
	return "emails"
}
