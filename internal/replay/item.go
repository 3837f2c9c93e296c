package replay

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mohae/deepcopy"
	"github.com/tracksynth/tracksynth/pkg/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DefaultTimestampField is the record field replay timing is derived from.
const DefaultTimestampField = "timestamp"

// SentField is stamped on every record as it leaves the replayer.
const SentField = core.FieldSent

// Item is a recorded record together with its parsed recorded time.
type Item struct {
	Data     map[string]any
	Recorded time.Time
}

// Prepare parses field on every record, drops the ones without a usable
// timestamp and returns the rest in stable recorded-time order.
func Prepare(records []map[string]any, field string, logger *slog.Logger) (items []Item, dropped int) {
	if field == "" {
		field = DefaultTimestampField
	}
	if logger == nil {
		logger = slog.Default()
	}

	items = make([]Item, 0, len(records))
	for i, rec := range records {
		raw, ok := rec[field].(string)
		if !ok {
			dropped++
			logger.Warn("Dropping record without timestamp", "index", i, "field", field)
			continue
		}
		ts, ok := core.ParseTimestamp(raw)
		if !ok {
			dropped++
			logger.Warn("Dropping record with unparseable timestamp", "index", i, "field", field, "value", raw)
			continue
		}
		items = append(items, Item{Data: rec, Recorded: ts})
	}

	if dropped > 0 {
		countDropped(dropped, field)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Recorded.Before(items[j].Recorded)
	})
	return items, dropped
}

func countDropped(n int, field string) {
	c, err := otel.Meter(instrumentationName).Int64Counter("replay.records.dropped",
		metric.WithDescription("Records skipped for a missing or unparseable timestamp"))
	if err != nil {
		return
	}
	c.Add(context.Background(), int64(n), metric.WithAttributes(attribute.String("field", field)))
}

// Clean returns a deep copy of data without scheduling-only fields (names
// starting with an underscore) and stamped with the send time.
func Clean(data map[string]any, sentAt time.Time) map[string]any {
	out, _ := deepcopy.Copy(data).(map[string]any)
	if out == nil {
		out = make(map[string]any, 1)
	}
	for k := range out {
		if strings.HasPrefix(k, "_") {
			delete(out, k)
		}
	}
	out[SentField] = core.FormatTimestamp(sentAt)
	return out
}
