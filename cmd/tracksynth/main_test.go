package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracksynth/tracksynth/internal/dataset"
	"github.com/tracksynth/tracksynth/internal/replay"
	"github.com/tracksynth/tracksynth/pkg/core"
)

func runCLI(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	args = append(args, "--logs-dir", t.TempDir())
	err := run(ctx, args, &out)
	return out.String(), err
}

func TestRun_NoCommand(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), nil, &out)
	assert.Error(t, err)
	assert.Contains(t, out.String(), "generate")
}

func TestRun_UnknownCommand(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{"transmogrify"}, &out)
	assert.ErrorContains(t, err, "transmogrify")
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"version"}, &out))
	assert.Contains(t, out.String(), CurrentVersion)
}

func TestGenerate_BadFlag(t *testing.T) {
	_, err := runCLI(t, context.Background(), "generate", "--no-such-flag")
	assert.Error(t, err)
}

func TestGenerate_UnknownMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	_, err := runCLI(t, context.Background(), "generate", "--mode", "forever", "-o", path)
	assert.ErrorContains(t, err, "forever")
	assert.NoFileExists(t, path)
}

func TestGenerate_QuotaMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quota.json.gz")
	out, err := runCLI(t, context.Background(), "generate",
		"--mode", "quota", "--count", "5", "--fleet-size", "2", "--seed", "42", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "15 records")

	records, err := dataset.Read(path)
	require.NoError(t, err)
	require.Len(t, records, 15)

	perClass := make(map[string]int)
	for _, rec := range records {
		sourceType, _ := rec["source_type"].(string)
		perClass[sourceType]++
	}
	assert.Equal(t, map[string]int{"AIS": 5, "ADSB": 5, "GPS": 5}, perClass)
}

// stripWallClock removes the fields that depend on when the run happened.
func stripWallClock(records []map[string]any) []map[string]any {
	out := make([]map[string]any, len(records))
	for i, rec := range records {
		c := make(map[string]any, len(rec))
		for k, v := range rec {
			if k != "timestamp" && k != "raw_msg" {
				c[k] = v
			}
		}
		out[i] = c
	}
	return out
}

func TestGenerate_SameSeedSameFleet(t *testing.T) {
	dir := t.TempDir()
	generateTo := func(name string) []map[string]any {
		path := filepath.Join(dir, name)
		_, err := runCLI(t, context.Background(), "generate",
			"--duration", "2", "--fleet-size", "1", "--seed", "7", "-o", path)
		require.NoError(t, err)
		records, err := dataset.Read(path)
		require.NoError(t, err)
		require.NotEmpty(t, records)
		return stripWallClock(records)
	}

	first := generateTo("a.json")
	second := generateTo("b.json")
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("runs with the same seed differ (-first +second):\n%s", diff)
	}
}

func TestGenerate_InterruptedStillWritesDataset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.json")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := runCLI(t, ctx, "generate", "--duration", "3600", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "interrupted")

	records, err := dataset.Read(path)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func writeDataset(t *testing.T, records []map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.json")
	require.NoError(t, dataset.Write(path, records, false))
	return path
}

func TestReplay_SendsOverUDP(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	input := writeDataset(t, []map[string]any{
		{"source_type": "GPS", "id": "VEH-2", "timestamp": core.FormatTimestamp(t0.Add(20 * time.Millisecond))},
		{"source_type": "AIS", "id": "244660001", "timestamp": core.FormatTimestamp(t0)},
		{"source_type": "ADSB", "id": "4CA2D1"},
		{"source_type": "ADSB", "id": "4CA2D1", "timestamp": core.FormatTimestamp(t0.Add(10 * time.Millisecond))},
	})

	out, err := runCLI(t, context.Background(), "replay",
		"-i", input, "--sink", "udp", "--udp-address", pc.LocalAddr().String(), "--speed", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "sent 3 of 3 records (0 failed, 1 dropped)")

	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 65535)
	var ids []string
	for range 3 {
		n, _, err := pc.ReadFrom(buf)
		require.NoError(t, err)
		var rec map[string]any
		require.NoError(t, json.Unmarshal(buf[:n], &rec))
		assert.Contains(t, rec, replay.SentField)
		ids = append(ids, rec["id"].(string))
	}
	assert.Equal(t, []string{"244660001", "4CA2D1", "VEH-2"}, ids)
}

func TestReplay_EmptyDatasetIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0o644))

	out, err := runCLI(t, context.Background(), "replay", "-i", path, "--sink", "udp", "--udp-address", "127.0.0.1:9")
	require.NoError(t, err)
	assert.Contains(t, out, "sent 0 of 0")
}

func TestReplay_MissingInput(t *testing.T) {
	_, err := runCLI(t, context.Background(), "replay", "-i", filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestReplay_RequiresSink(t *testing.T) {
	_, err := runCLI(t, context.Background(), "replay", "--sink", "none")
	assert.ErrorContains(t, err, "sink")
}

func TestIngest_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runCLI(t, ctx, "ingest", "--udp", "127.0.0.1:0", "--http", "127.0.0.1:0")
	assert.NoError(t, err)
}

func TestIngest_UnknownStorage(t *testing.T) {
	_, err := runCLI(t, context.Background(), "ingest", "--storage", "tape")
	assert.ErrorContains(t, err, "tape")
}

func TestLoadConfig_ExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("generator:\n  targetCountPerClass: 3\n  mode: quota\n"), 0o644))
	out := filepath.Join(t.TempDir(), "cfg.json")

	stdout, err := runCLI(t, context.Background(), "generate", "--config", path, "--fleet-size", "1", "-o", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "9 records")
}
