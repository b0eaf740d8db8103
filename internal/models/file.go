package models

import "time"

// File status values, following the lifecycle in spec.md §4.D.
const (
	StatusPending = "pending"
	StatusActive  = "active"
	StatusTrashed = "trashed"
)

// File is a logical object split into chunks stored externally (spec.md §3).
type File struct {
	ID        string    `gorm:"primaryKey;size:255" json:"id"`
	Name      string    `gorm:"size:1024;not null" json:"name"`
	Size      uint64    `gorm:"not null;default:0" json:"size"`
	Type      string    `gorm:"size:255" json:"type,omitempty"`
	IV        string    `gorm:"size:255" json:"iv,omitempty"`
	Salt      string    `gorm:"size:255" json:"salt,omitempty"`
	Status    string    `gorm:"size:16;not null;index" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`

	Chunks []Chunk `gorm:"foreignKey:FileID;references:ID;constraint:OnDelete:CASCADE" json:"chunks,omitempty"`
}

func (File) TableName() string { return "files" }

// Chunk is one opaque encrypted blob stored as an attachment message
// (spec.md §3).
type Chunk struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	FileID    string `gorm:"size:255;not null;uniqueIndex:idx_file_chunk_idx" json:"fileId"`
	Idx       int    `gorm:"not null;uniqueIndex:idx_file_chunk_idx" json:"idx"`
	MessageID string `gorm:"size:255;not null" json:"messageId"`
	ChannelID string `gorm:"size:255;not null" json:"channelId"`
	Size      int64  `gorm:"not null" json:"size"`
	URL       string `gorm:"size:2048" json:"url,omitempty"`
}

func (Chunk) TableName() string { return "chunks" }
