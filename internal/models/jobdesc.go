package models

import (
	"time"

	"github.com/lib/pq"
)

// JobDescription is an uploaded job posting plus the metadata the
// question generator extracted from it. The raw file lives in object
// storage; FilePath is the object key.
type JobDescription struct {
	ID     string `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID string `gorm:"column:user_id;type:uuid;index" json:"user_id"`

	Title    string `gorm:"column:title;type:text" json:"title"`
	FileName string `gorm:"column:file_name;type:text" json:"file_name"`
	FilePath string `gorm:"column:file_path;type:text" json:"file_path"`
	FileSize int    `gorm:"column:file_size;type:integer" json:"file_size"`
	MimeType string `gorm:"column:mime_type;type:text" json:"mime_type"`

	RawText string `gorm:"column:raw_text;type:text" json:"raw_text"`

	Topics pq.StringArray `gorm:"column:topics;type:text[]" json:"topics"`

	UploadedAt time.Time `gorm:"column:uploaded_at;type:timestamptz" json:"uploaded_at"`
}

func (JobDescription) TableName() string { return "job_descriptions" }
