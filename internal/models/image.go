package models

import "time"

// Image processing states.
const (
	ImageStatusQueued     = "queued"
	ImageStatusProcessing = "processing"
	ImageStatusReady      = "ready"
	ImageStatusFailed     = "failed"
)

// Image is a processed upload or generated picture stored in the media bucket.
type Image struct {
	ID                  uint           `gorm:"primaryKey" json:"id"`
	Hash                string         `gorm:"size:64;not null;uniqueIndex" json:"hash"`
	UserID              uint           `gorm:"not null;index" json:"user_id"`
	OriginalFilename    string         `gorm:"size:255" json:"original_filename,omitempty"`
	MimeType            string         `gorm:"size:32" json:"mime_type"`
	SizeBytes           int64          `json:"size_bytes"`
	Width               int            `json:"width"`
	Height              int            `json:"height"`
	MasterKey           string         `gorm:"size:255;not null" json:"master_key"`
	CropMode            string         `gorm:"size:16" json:"crop_mode"`
	Status              string         `gorm:"size:16;not null;default:'queued';index" json:"status"`
	ProcessingAttempts  int            `gorm:"not null;default:0" json:"processing_attempts"`
	ProcessingStartedAt *time.Time     `json:"-"`
	Error               string         `gorm:"type:text" json:"-"`
	LastAccessedAt      *time.Time     `json:"-"`
	CreatedAt           time.Time      `json:"created_at"`
	Variants            []ImageVariant `gorm:"foreignKey:ImageID" json:"variants,omitempty"`
}

// ImageVariant is one resized rendition of an Image.
type ImageVariant struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	ImageID  uint   `gorm:"not null;uniqueIndex:idx_image_variants_unique" json:"image_id"`
	SizeName string `gorm:"size:16" json:"size_name"`
	SizePx   int    `gorm:"not null;uniqueIndex:idx_image_variants_unique" json:"size_px"`
	Format   string `gorm:"size:8;not null;uniqueIndex:idx_image_variants_unique" json:"format"`
	Key      string `gorm:"size:255;not null" json:"key"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Bytes    int64  `json:"bytes"`
}
