package models

// Attachment is one MIME part extracted from an email
type Attachment struct {
	ID                 uint    `gorm:"primaryKey" json:"id"`
	EmailID            uint    `gorm:"not null;index" json:"email_id"`
	FileName           string  `gorm:"size:255" json:"file_name"`
	ContentDisposition string  `gorm:"size:64" json:"content_disposition"`
	ContentID          string  `gorm:"size:255" json:"content_id,omitempty"`
	ContentMaintype    string  `gorm:"size:64" json:"content_maintype"`
	ContentSubtype     string  `gorm:"size:128" json:"content_subtype"`
	Datasize           int64   `json:"datasize"`
	FilePath           *string `gorm:"size:500" json:"file_path,omitempty"`

	// Relationships
	Email Email `gorm:"foreignKey:EmailID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for Attachment
func (Attachment) TableName() string {
	return "attachments"
}

// ContentType returns maintype/subtype
func (a *Attachment) ContentType() string {
	if a.ContentMaintype == "" {
		return ""
	}
	return a.ContentMaintype + "/" + a.ContentSubtype
}
