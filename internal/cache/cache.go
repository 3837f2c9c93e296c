// Package cache keeps the last known state of every entity seen by the
// ingest server so the entity listing never has to hit storage.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/tracksynth/tracksynth/pkg/core"
)

// Entity is the last known state of one entity.
type Entity struct {
	SourceType string        `json:"source_type"`
	ID         string        `json:"id"`
	Position   core.Position `json:"position"`
	Speed      float64       `json:"speed"`
	Heading    float64       `json:"heading"`
	// Recorded is the record timestamp, LastSeen the local receive time.
	Recorded time.Time `json:"recorded"`
	LastSeen time.Time `json:"last_seen"`
	Count    int64     `json:"count"`
}

// EntityCache caches entity state as records arrive. Latency in these
// calls is critical, they run once per flushed record.
type EntityCache struct {
	m        sync.RWMutex
	Entities map[string]Entity
}

func NewEntityCache() *EntityCache {
	return &EntityCache{
		Entities: make(map[string]Entity),
	}
}

func (c *EntityCache) Reset() {
	c.m.Lock()
	defer c.m.Unlock()
	c.Entities = make(map[string]Entity)
}

// Update folds a flat record into the cache. Records without an id are
// ignored; a record older than the cached state only bumps the counter.
func (c *EntityCache) Update(rec map[string]any, seen time.Time) bool {
	sourceType, id := core.RecordIdentity(rec)
	if id == "" {
		return false
	}

	c.m.Lock()
	defer c.m.Unlock()

	e := c.Entities[id]
	e.Count++
	e.LastSeen = seen

	recorded, hasTime := core.RecordTime(rec)
	if hasTime && !e.Recorded.IsZero() && recorded.Before(e.Recorded) {
		c.Entities[id] = e
		return true
	}

	e.SourceType = sourceType
	e.ID = id
	if hasTime {
		e.Recorded = recorded
	}
	if pos, ok := core.RecordPosition(rec); ok {
		e.Position = pos
	}
	if v, ok := core.Float(rec["speed"]); ok {
		e.Speed = v
	}
	if v, ok := core.Float(rec["heading"]); ok {
		e.Heading = v
	}
	c.Entities[id] = e
	return true
}

func (c *EntityCache) Get(id string) (Entity, bool) {
	c.m.RLock()
	defer c.m.RUnlock()
	e, ok := c.Entities[id]
	return e, ok
}

// List returns all entities ordered by source type then id, optionally
// restricted to one source type.
func (c *EntityCache) List(sourceType string) []Entity {
	c.m.RLock()
	out := make([]Entity, 0, len(c.Entities))
	for _, e := range c.Entities {
		if sourceType == "" || e.SourceType == sourceType {
			out = append(out, e)
		}
	}
	c.m.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceType != out[j].SourceType {
			return out[i].SourceType < out[j].SourceType
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Prune removes entities not seen since before cutoff and returns how many
// were removed.
func (c *EntityCache) Prune(cutoff time.Time) int {
	c.m.Lock()
	defer c.m.Unlock()
	n := 0
	for id, e := range c.Entities {
		if e.LastSeen.Before(cutoff) {
			delete(c.Entities, id)
			n++
		}
	}
	return n
}

func (c *EntityCache) Len() int {
	c.m.RLock()
	defer c.m.RUnlock()
	return len(c.Entities)
}

// SafeCounter is a thread-safe counter
type SafeCounter struct {
	mu sync.Mutex
	v  int64
}

func (c *SafeCounter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

func (c *SafeCounter) Set(v int64) {
	c.mu.Lock()
	c.v = v
	c.mu.Unlock()
}

// Add increases the counter by n and returns the new value.
func (c *SafeCounter) Add(n int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.v += n
	return c.v
}
