package streaming

import (
	"encoding/json"
)

// Message type constants used on websocket connections.
const (
	TypeRecord = "record" // one record, producer to server
	TypeBatch  = "batch"  // a flushed ingest batch or the connect-time history
	TypeAck    = "ack"
)

// Envelope wraps record messages sent by producers over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// BatchMessage is broadcast to viewers whenever the ingest buffer is flushed.
// TotalCount is the number of records received since the server started,
// including the ones already persisted before startup.
type BatchMessage struct {
	Type       string           `json:"type"`
	Data       []map[string]any `json:"data"`
	TotalCount int64            `json:"total_count"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// NewBatch builds a batch message from stored records.
func NewBatch(data []map[string]any, total int64) BatchMessage {
	if data == nil {
		data = []map[string]any{}
	}
	return BatchMessage{Type: TypeBatch, Data: data, TotalCount: total}
}
