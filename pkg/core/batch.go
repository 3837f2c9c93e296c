package core

import (
	"time"

	"github.com/google/uuid"
)

// Batch is one flush of the ingest buffer, ready to be persisted. Records
// are flat JSON objects already stamped with ts_received and ts_stored.
type Batch struct {
	ID            uuid.UUID
	StoredAt      time.Time
	FlushDuration time.Duration
	// TotalCount is the number of records received so far, this batch included.
	TotalCount int64
	Records    []map[string]any
}

// NewBatch creates a batch with a fresh random id.
func NewBatch(storedAt time.Time, records []map[string]any) Batch {
	return Batch{ID: uuid.New(), StoredAt: storedAt, Records: records}
}
