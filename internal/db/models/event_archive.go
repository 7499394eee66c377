// Package models - event_archive.go defines EventArchive, the record of a sealed NDJSON
// segment of sale events written to object storage.
package models

import "time"

// EventArchive describes one uploaded segment covering a contiguous sequence range
type EventArchive struct {
	ID             string    `db:"id" json:"id"`
	FirstSequence  int64     `db:"first_sequence" json:"first_sequence"`
	LastSequence   int64     `db:"last_sequence" json:"last_sequence"`
	EventCount     int       `db:"event_count" json:"event_count"`
	StoragePath    string    `db:"storage_path" json:"storage_path"`
	StorageBackend string    `db:"storage_backend" json:"storage_backend"`
	Checksum       string    `db:"checksum" json:"checksum"`
	SizeBytes      int64     `db:"size_bytes" json:"size_bytes"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
