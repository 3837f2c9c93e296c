// Package memory keeps ingested records in a bounded in-process history.
package memory

import (
	"context"
	"sync"

	"github.com/tracksynth/tracksynth/pkg/core"
)

// DefaultMaxRecords bounds the retained history.
const DefaultMaxRecords = 100_000

// Config configures the memory backend.
type Config struct {
	// MaxRecords is the number of most recent records retained.
	MaxRecords int `json:"maxRecords" mapstructure:"maxRecords"`
	// ExportPath, when set, receives the retained records on Close.
	ExportPath string `json:"exportPath" mapstructure:"exportPath"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// entityRecords holds the sequence numbers of one entity's records.
type entityRecords struct {
	seqs []uint64
}

// Backend stores records in memory.
type Backend struct {
	cfg Config

	// records holds the retained history; records[i] has sequence
	// number first+i.
	records []map[string]any
	first   uint64
	total   int64
	batches int

	entities map[string]*entityRecords

	mu sync.RWMutex
}

// New creates a new memory backend
func New(cfg Config) *Backend {
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = DefaultMaxRecords
	}
	return &Backend{
		cfg:      cfg,
		entities: make(map[string]*entityRecords),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close exports the retained records if an export path is configured.
func (b *Backend) Close() error {
	if b.cfg.ExportPath == "" {
		return nil
	}
	return b.Export(b.cfg.ExportPath, b.cfg.Compress)
}

// StoreBatch appends the batch and evicts the oldest records beyond
// MaxRecords.
func (b *Backend) StoreBatch(_ context.Context, batch core.Batch) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, rec := range batch.Records {
		seq := b.first + uint64(len(b.records))
		b.records = append(b.records, rec)
		b.total++

		_, id := core.RecordIdentity(rec)
		if id == "" {
			continue
		}
		e, ok := b.entities[id]
		if !ok {
			e = &entityRecords{}
			b.entities[id] = e
		}
		e.seqs = append(e.seqs, seq)
	}
	b.batches++

	if over := len(b.records) - b.cfg.MaxRecords; over > 0 {
		b.records = append([]map[string]any(nil), b.records[over:]...)
		b.first += uint64(over)
		b.pruneEntities()
	}
	return nil
}

// pruneEntities drops index entries that point before the retained window.
func (b *Backend) pruneEntities() {
	for id, e := range b.entities {
		i := 0
		for i < len(e.seqs) && e.seqs[i] < b.first {
			i++
		}
		if i == len(e.seqs) {
			delete(b.entities, id)
			continue
		}
		e.seqs = e.seqs[i:]
	}
}

// Recent returns up to n of the most recent records, oldest first.
func (b *Backend) Recent(_ context.Context, n int) ([]map[string]any, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > len(b.records) {
		n = len(b.records)
	}
	out := make([]map[string]any, n)
	copy(out, b.records[len(b.records)-n:])
	return out, nil
}

// History returns up to n of the most recent records of one entity.
func (b *Backend) History(_ context.Context, entityID string, n int) ([]map[string]any, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.entities[entityID]
	if !ok {
		return []map[string]any{}, nil
	}
	seqs := e.seqs
	if n > 0 && len(seqs) > n {
		seqs = seqs[len(seqs)-n:]
	}
	out := make([]map[string]any, 0, len(seqs))
	for _, seq := range seqs {
		out = append(out, b.records[seq-b.first])
	}
	return out, nil
}

// Count returns the number of records ever stored, evicted ones included.
func (b *Backend) Count(context.Context) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total, nil
}

// Retained returns how many records are currently held.
func (b *Backend) Retained() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}
