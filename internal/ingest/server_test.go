package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracksynth/tracksynth/internal/storage/memory"
	"github.com/tracksynth/tracksynth/internal/timeutil"
	"github.com/tracksynth/tracksynth/pkg/core"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func record(class, id string, lat, lon float64, at time.Time) map[string]any {
	return map[string]any{
		"source_type": class,
		"id":          id,
		"timestamp":   core.FormatTimestamp(at),
		"latitude":    lat,
		"longitude":   lon,
		"speed":       12.5,
		"heading":     90.0,
		"raw_msg":     "garbage",
	}
}

func newTestServer(t *testing.T, cfg Config) (*Server, *memory.Backend, *timeutil.MockClock) {
	t.Helper()
	store := memory.New(memory.Config{})
	require.NoError(t, store.Init())
	clock := timeutil.NewMockClock(t0)
	s, err := New(cfg, store, zerolog.Nop(), WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, store, clock
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(Config{}, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultBatchInterval, cfg.BatchInterval)
	assert.Equal(t, DefaultBufferSize, cfg.BufferSize)
	assert.Equal(t, DefaultHistorySize, cfg.HistorySize)
	assert.Equal(t, DefaultEntityTTL, cfg.EntityTTL)
}

func TestIngest_FlushStampsAndStores(t *testing.T) {
	s, store, clock := newTestServer(t, Config{})

	require.NoError(t, s.Ingest(record("AIS", "244660001", 52.0, 4.0, t0)))
	require.NoError(t, s.Ingest(record("ADSB", "4CA2D1", 51.0, 3.0, t0)))
	require.Eventually(t, func() bool { return s.Buffered() == 2 }, time.Second, 5*time.Millisecond)

	clock.Advance(40 * time.Millisecond)
	n, err := s.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, s.Buffered())
	assert.Equal(t, int64(2), s.TotalCount())

	stored, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for _, rec := range stored {
		received, ok := core.StampedTime(rec, core.FieldReceived)
		require.True(t, ok)
		assert.Equal(t, t0, received)
		storedAt, ok := core.StampedTime(rec, core.FieldStored)
		require.True(t, ok)
		assert.Equal(t, t0.Add(40*time.Millisecond), storedAt)
	}

	e, ok := s.Entities().Get("244660001")
	require.True(t, ok)
	assert.Equal(t, "AIS", e.SourceType)
	assert.Equal(t, 2, s.Entities().Len())

	assert.Equal(t, float64(2), testutil.ToFloat64(s.metrics.stored))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.invalidRaw.WithLabelValues("AIS")))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.received.WithLabelValues("ADSB")))
}

func TestFlush_EmptyBufferIsNoop(t *testing.T) {
	s, store, _ := newTestServer(t, Config{})

	n, err := s.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIngest_UnknownSourceTypeUsesFallback(t *testing.T) {
	s, _, _ := newTestServer(t, Config{})

	require.NoError(t, s.Ingest(map[string]any{"track_id": "T-1"}))
	require.Eventually(t, func() bool { return s.Buffered() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.received.WithLabelValues("UNKNOWN")))
}

func TestIngest_BurstLargerThanDispatchQueue(t *testing.T) {
	s, _, _ := newTestServer(t, Config{})

	burst := 2*dispatchBuffer + 1
	for i := range burst {
		require.NoError(t, s.Ingest(record("ADSB", fmt.Sprintf("%06X", i), 51, 3, t0)))
	}
	require.Eventually(t, func() bool { return s.Buffered() == burst }, 5*time.Second, 10*time.Millisecond)
	assert.Zero(t, testutil.ToFloat64(s.metrics.dropped))
}

func TestIngest_FallbackLogsUnknownKinds(t *testing.T) {
	var logs bytes.Buffer
	store := memory.New(memory.Config{})
	require.NoError(t, store.Init())
	s, err := New(Config{}, store, zerolog.New(&logs).Level(zerolog.DebugLevel))
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.Ingest(map[string]any{"source_type": "RADAR", "id": "R-1"}))
	require.Eventually(t, func() bool { return s.Buffered() == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, logs.String(), `"kind":"*"`)
	assert.Contains(t, logs.String(), "handling event")
}

func TestIngest_BufferEvictsOldest(t *testing.T) {
	s, _, _ := newTestServer(t, Config{BufferSize: 2})

	for i := range 3 {
		require.NoError(t, s.Ingest(record("GPS", fmt.Sprintf("VEH-%d", i), 1, 1, t0.Add(time.Duration(i)*time.Second))))
	}
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(s.metrics.dropped) == 1
	}, time.Second, 5*time.Millisecond)

	n, err := s.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, ok := s.Entities().Get("VEH-0")
	assert.False(t, ok, "oldest record should have been evicted")
}

func TestIngest_AfterClose(t *testing.T) {
	s, _, _ := newTestServer(t, Config{})
	s.Close()

	err := s.Ingest(record("AIS", "244660001", 0, 0, t0))
	assert.Error(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.dropped))
}

func TestIngestBatch_ChunksByBufferSize(t *testing.T) {
	s, store, _ := newTestServer(t, Config{BufferSize: 3})

	records := make([]map[string]any, 7)
	for i := range records {
		records[i] = record("AIS", "244660001", 50+float64(i)*0.01, 4, t0.Add(time.Duration(i)*time.Second))
	}
	records = append(records, nil)

	stored, err := s.IngestBatch(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 7, stored)
	assert.Equal(t, int64(7), s.TotalCount())
	assert.Zero(t, testutil.ToFloat64(s.metrics.dropped))

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)

	e, ok := s.Entities().Get("244660001")
	require.True(t, ok)
	assert.Equal(t, int64(7), e.Count)
}

type failingStore struct {
	*memory.Backend
}

func (failingStore) StoreBatch(context.Context, core.Batch) error {
	return errors.New("disk full")
}

func TestFlush_StoreErrorStillUpdatesCache(t *testing.T) {
	store := failingStore{memory.New(memory.Config{})}
	s, err := New(Config{}, store, zerolog.Nop(), WithClock(timeutil.NewMockClock(t0)))
	require.NoError(t, err)
	t.Cleanup(s.Close)

	_, err = s.IngestBatch(context.Background(), []map[string]any{record("AIS", "244660001", 1, 1, t0)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.storeErrors))
	assert.Equal(t, 1, s.Entities().Len())
}

func TestFlush_PrunesSilentEntities(t *testing.T) {
	s, _, clock := newTestServer(t, Config{EntityTTL: 2 * time.Minute})

	_, err := s.IngestBatch(context.Background(), []map[string]any{record("AIS", "244660001", 1, 1, t0)})
	require.NoError(t, err)
	require.Equal(t, 1, s.Entities().Len())

	clock.Advance(90 * time.Second)
	_, _ = s.Flush(context.Background())
	assert.Equal(t, 1, s.Entities().Len(), "entity seen 90s ago is still live")

	clock.Advance(2 * time.Minute)
	_, _ = s.Flush(context.Background())
	assert.Zero(t, s.Entities().Len())
}

func TestDecodeRecord(t *testing.T) {
	rec, err := decodeRecord([]byte(`{"id":"1","latitude":52.123456789}`))
	require.NoError(t, err)
	lat, ok := core.Float(rec["latitude"])
	require.True(t, ok)
	assert.InDelta(t, 52.123456789, lat, 1e-12)

	_, err = decodeRecord([]byte(`null`))
	assert.Error(t, err)
	_, err = decodeRecord([]byte(`[1,2]`))
	assert.Error(t, err)
	_, err = decodeRecord([]byte(`{broken`))
	assert.Error(t, err)
}
