package influx

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)

// lineProtocol matches a tagged line: measurement,tags fields timestamp.
var lineProtocol = regexp.MustCompile(`^[a-z_]+(,[a-z_]+=[^,= ]+)+ [a-z_]+=[^ ]+ \d+$`)

func TestConnect_Disabled(t *testing.T) {
	m := NewManager(Config{}, zerolog.Nop())
	assert.ErrorIs(t, m.Connect(context.Background()), ErrDisabled)
	assert.NoError(t, m.Close())
}

func TestConnect_FallsBackToBackup(t *testing.T) {
	backup := filepath.Join(t.TempDir(), "influx_backup.log.gz")
	m := NewManager(Config{Enabled: true, Protocol: "http", Host: "127.0.0.1", Port: "1", BackupPath: backup}, zerolog.Nop())

	require.NoError(t, m.Connect(context.Background()))
	assert.False(t, m.IsValid)

	sent := at.Add(-150 * time.Millisecond)
	received := at.Add(-100 * time.Millisecond)
	require.NoError(t, m.WritePoint(BucketIngest, LatencyPoint("AIS", sent, received, at)))
	require.NoError(t, m.WritePoint(BucketIngest, FlushPoint(at, 3, 2*time.Millisecond, 10)))
	require.NoError(t, m.Close())

	f, err := os.Open(backup)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)

	require.True(t, strings.HasSuffix(string(data), "\n"))
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Regexp(t, lineProtocol, line)
	}
	assert.True(t, strings.HasPrefix(lines[0], "record_latency,source_type=AIS "), lines[0])
	assert.Contains(t, lines[0], "network_ms=50")
	assert.Contains(t, lines[0], "buffer_ms=100")
	assert.Contains(t, lines[0], "total_ms=150")
	assert.True(t, strings.HasPrefix(lines[1], "flush,bucket=ingest "), lines[1])
	assert.Contains(t, lines[1], "records=3i")
}

func TestConnect_UnreachableWithoutBackup(t *testing.T) {
	m := NewManager(Config{Enabled: true, Protocol: "http", Host: "127.0.0.1", Port: "1"}, zerolog.Nop())
	assert.Error(t, m.Connect(context.Background()))
}

func TestWritePoint_NoWriter(t *testing.T) {
	m := NewManager(Config{}, zerolog.Nop())
	assert.Error(t, m.WritePoint(BucketIngest, FlushPoint(at, 1, 0, 1)))
}

func TestLatencyPoint_PartialStamps(t *testing.T) {
	p := LatencyPoint("GPS", time.Time{}, at.Add(-time.Second), at)
	var names []string
	for _, f := range p.FieldList() {
		names = append(names, f.Key)
	}
	assert.Equal(t, []string{"buffer_ms"}, names)
}

func TestGenerationPoint(t *testing.T) {
	p := GenerationPoint(at, "ADSB", "quota", 100, 2, time.Second)
	assert.Equal(t, "generation", p.Name())
	assert.Len(t, p.TagList(), 2)
	assert.Len(t, p.FieldList(), 3)
}
