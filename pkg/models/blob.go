package models

import "gorm.io/gorm"

// Blob holds stored bytes for the database-backed storage provider, keyed by
// the storage key recorded on the transfer row.
type Blob struct {
	gorm.Model

	Key string `gorm:"uniqueIndex"`

	Checksum string
	Size     int64

	Content []byte
}
