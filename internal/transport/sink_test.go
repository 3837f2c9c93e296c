package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tracksynth/tracksynth/pkg/core"
)

var (
	_ Sink = (*UDP)(nil)
	_ Sink = (*Serial)(nil)
	_ Sink = (*Pcap)(nil)
	_ Sink = (*WebSocket)(nil)
	_ Sink = (*Collector)(nil)
	_ Sink = (*Lines)(nil)
	_ Sink = Multi(nil)
	_ Sink = Func(nil)
)

func sampleRecord() core.Record {
	return core.Record{
		SourceType: core.ClassAIS,
		ID:         "244123400",
		Timestamp:  "2024-01-01T00:00:00.000Z",
		Latitude:   52.37,
		Longitude:  4.89,
		Speed:      12.3,
		Heading:    87,
		RawMsg:     "!AIVDM,1,1,,A,13aEOK?P00PD2wVMdLDRhgvL289?,0*26",
	}
}

func TestCollector(t *testing.T) {
	c := NewCollector()
	require.NoError(t, c.Send(context.Background(), 1))
	require.NoError(t, c.Send(context.Background(), "two"))

	assert.Equal(t, 2, c.Len())
	items := c.Items()
	items[0] = "mutated"
	assert.Equal(t, []any{1, "two"}, c.Items())
	assert.NoError(t, c.Close())
}

func TestMulti(t *testing.T) {
	a, b := NewCollector(), NewCollector()
	boom := errors.New("boom")
	failing := Func(func(context.Context, any) error { return boom })

	m := Multi{a, failing, b}
	err := m.Send(context.Background(), "x")

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 1, b.Len(), "later sinks still receive the record")
	assert.NoError(t, m.Close())
}

func TestRawMessage(t *testing.T) {
	rec := sampleRecord()

	raw, ok := rawMessage(rec)
	assert.True(t, ok)
	assert.Equal(t, rec.RawMsg, raw)

	raw, ok = rawMessage(&rec)
	assert.True(t, ok)
	assert.Equal(t, rec.RawMsg, raw)

	raw, ok = rawMessage(map[string]any{"raw_msg": "$GPRMC*00"})
	assert.True(t, ok)
	assert.Equal(t, "$GPRMC*00", raw)

	_, ok = rawMessage(map[string]any{"raw_msg": 12})
	assert.False(t, ok)
	_, ok = rawMessage(core.Record{})
	assert.False(t, ok)
	_, ok = rawMessage("string")
	assert.False(t, ok)
}

func TestLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewLines(&buf)
	require.NoError(t, l.Send(context.Background(), sampleRecord()))
	require.NoError(t, l.Send(context.Background(), map[string]any{"id": "x"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, "AIS", got["source_type"])
	assert.JSONEq(t, `{"id":"x"}`, lines[1])
}

func TestOpen(t *testing.T) {
	s, err := Open(Config{Kind: "none"}, nil)
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = Open(Config{}, nil)
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = Open(Config{Kind: "carrier-pigeon"}, nil)
	assert.ErrorIs(t, err, ErrUnknownSink)

	_, err = Open(Config{Kind: KindPcap}, nil)
	assert.Error(t, err)
	_, err = Open(Config{Kind: KindSerial}, nil)
	assert.Error(t, err)
	_, err = Open(Config{Kind: KindWebSocket}, nil)
	assert.Error(t, err)

	s, err = Open(Config{Kind: "PCAP", Path: filepath.Join(t.TempDir(), "x.pcap")}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Pcap{}, s)
	assert.NoError(t, s.Close())
}
