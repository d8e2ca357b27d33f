package models

import "time"

// Default mime type for files stored without one
const MimeTypeBinary = "application/octet-stream"

// BinaryFileData is an image or attachment referenced by a scene element
type BinaryFileData struct {
	ID            string `json:"id"`
	MimeType      string `json:"mimeType"`
	DataURL       string `json:"dataURL"`
	Created       int64  `json:"created"`
	LastRetrieved int64  `json:"lastRetrieved,omitempty"`
}

// FileMetadata travels with the encoded file payload
type FileMetadata struct {
	ID       string `json:"id,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Created  int64  `json:"created,omitempty"`
}

// FileUpload is one encoded file ready for the bucket
type FileUpload struct {
	ID     string `json:"id"`
	Buffer []byte `json:"buffer"`
}

// FileBlob is a bucket object kept in the database bucket
type FileBlob struct {
	Key          string    `json:"key" gorm:"column:object_key;type:varchar(512);primaryKey"`
	Data         []byte    `json:"-" gorm:"type:bytea;not null"`
	CacheControl string    `json:"cache_control" gorm:"type:varchar(255)"`
	CreatedAt    time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName override
func (FileBlob) TableName() string {
	return "file_blobs"
}
