// Package transport delivers generated or replayed records to the outside
// world: UDP datagrams, serial ports, pcap captures and websocket streams.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/tracksynth/tracksynth/pkg/core"
)

// Sink accepts one record at a time. v is a core.Record or a flat
// map[string]any as read from a dataset.
type Sink interface {
	Send(ctx context.Context, v any) error
	Close() error
}

// Func adapts a plain function to a Sink.
type Func func(ctx context.Context, v any) error

func (f Func) Send(ctx context.Context, v any) error { return f(ctx, v) }
func (f Func) Close() error                          { return nil }

// Collector keeps every record in memory.
type Collector struct {
	mu    sync.Mutex
	items []any
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Send(_ context.Context, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, v)
	return nil
}

func (c *Collector) Close() error { return nil }

// Items returns a copy of everything collected so far.
func (c *Collector) Items() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of collected records.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Multi fans every record out to all sinks. A failing sink does not stop the
// others; the errors are joined.
type Multi []Sink

func (m Multi) Send(ctx context.Context, v any) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// marshal renders a record as a JSON object.
func marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return data, nil
}

// rawMessage extracts the wire sentence from a record.
func rawMessage(v any) (string, bool) {
	switch r := v.(type) {
	case core.Record:
		return r.RawMsg, r.RawMsg != ""
	case *core.Record:
		if r == nil {
			return "", false
		}
		return r.RawMsg, r.RawMsg != ""
	case map[string]any:
		s, ok := r["raw_msg"].(string)
		return s, ok && s != ""
	}
	return "", false
}
