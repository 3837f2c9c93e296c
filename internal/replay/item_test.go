package replay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestPrepare_DropsAndSorts(t *testing.T) {
	records := []map[string]any{
		{"id": "c", "timestamp": "2024-01-01T00:00:02.000Z"},
		{"id": "missing"},
		{"id": "a", "timestamp": "2024-01-01T00:00:00.000Z"},
		{"id": "bad", "timestamp": "yesterday"},
		{"id": "number", "timestamp": 12345},
		{"id": "b1", "timestamp": "2024-01-01T00:00:01.000Z"},
		{"id": "b2", "timestamp": "2024-01-01T00:00:01.000Z"},
	}

	items, dropped := Prepare(records, "", quietLogger())

	assert.Equal(t, 3, dropped)
	var ids []string
	for _, it := range items {
		ids = append(ids, it.Data["id"].(string))
	}
	assert.Equal(t, []string{"a", "b1", "b2", "c"}, ids, "ties keep input order")
}

func TestPrepare_CountsDropped(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	records := []map[string]any{
		{"id": "ok", "ts": "2024-01-01T00:00:00Z"},
		{"id": "missing"},
		{"id": "bad", "ts": "noon"},
	}
	_, dropped := Prepare(records, "ts", quietLogger())
	require.Equal(t, 2, dropped)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "replay.records.dropped" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				if field, _ := dp.Attributes.Value("field"); field.AsString() == "ts" {
					total += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(2), total)
}

func TestPrepare_CustomField(t *testing.T) {
	records := []map[string]any{
		{"track_id": "t2", "tola_utc": "2024-01-01T00:00:01"},
		{"track_id": "t1", "tola_utc": "2024-01-01T00:00:00"},
	}

	items, dropped := Prepare(records, "tola_utc", nil)
	require.Len(t, items, 2)
	assert.Zero(t, dropped)
	assert.Equal(t, "t1", items[0].Data["track_id"])
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), items[0].Recorded)
}

func TestPrepare_Empty(t *testing.T) {
	items, dropped := Prepare(nil, "timestamp", nil)
	assert.Empty(t, items)
	assert.Zero(t, dropped)
}

func TestClean(t *testing.T) {
	in := map[string]any{"id": "x", "_dt": 1, "_id": "oid", "ts_sent": "old"}
	out := Clean(in, time.Date(2024, 1, 1, 0, 0, 0, 5_000_000, time.UTC))

	assert.Equal(t, map[string]any{"id": "x", "ts_sent": "2024-01-01T00:00:00.005Z"}, out)
	assert.Len(t, in, 4)

	assert.Equal(t, map[string]any{"ts_sent": "2024-01-01T00:00:00.005Z"}, Clean(nil, time.Date(2024, 1, 1, 0, 0, 0, 5_000_000, time.UTC)))
}
