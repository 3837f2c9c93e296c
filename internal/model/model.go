package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&ServerInfo{},
	&Batch{},
	&Track{},
}

// ServerInfo describes the ingest instance that owns the database.
type ServerInfo struct {
	gorm.Model
	Name        string `json:"name" gorm:"size:127"`
	Description string `json:"description" gorm:"size:255"`
	Version     string `json:"version" gorm:"size:32"`
}

func (*ServerInfo) TableName() string {
	return "server_infos"
}

// Batch is one flush of the ingest buffer.
type Batch struct {
	ID         uuid.UUID `json:"id" gorm:"type:varchar(36);primaryKey"`
	StoredAt   time.Time `json:"storedAt" gorm:"index:idx_batch_stored_at"`
	Count      int       `json:"count"`
	FlushMs    float64   `json:"flushMs"`
	TotalCount int64     `json:"totalCount"`
}

func (*Batch) TableName() string {
	return "batches"
}

// Track is one stored record. The flat record is kept verbatim in Payload;
// the other columns are extracted from it for querying.
type Track struct {
	ID         uint       `json:"-" gorm:"primarykey"`
	BatchID    uuid.UUID  `json:"batchId" gorm:"type:varchar(36);index:idx_track_batch_id"`
	SourceType string     `json:"sourceType" gorm:"size:16;index:idx_track_entity,priority:1"`
	EntityID   string     `json:"entityId" gorm:"size:64;index:idx_track_entity,priority:2"`
	RecordedAt *time.Time `json:"recordedAt" gorm:"index:idx_track_recorded_at"`
	// Position is the reported location in EPSG:3857 metres.
	Position   geom.Point     `json:"position"`
	SentAt     *time.Time     `json:"sentAt"`
	ReceivedAt *time.Time     `json:"receivedAt"`
	StoredAt   time.Time      `json:"storedAt" gorm:"index:idx_track_stored_at"`
	Payload    datatypes.JSON `json:"payload"`
}

func (*Track) TableName() string {
	return "tracks"
}

// Record decodes the stored payload back into a flat record.
func (t *Track) Record() (map[string]any, error) {
	out := map[string]any{}
	if len(t.Payload) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(t.Payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}
