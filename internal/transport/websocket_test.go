package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tracksynth/tracksynth/pkg/streaming"
)

type envelopeLog struct {
	mu      sync.Mutex
	secrets []string
	msgs    []streaming.Envelope
}

func (l *envelopeLog) add(env streaming.Envelope) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, env)
}

func (l *envelopeLog) all() []streaming.Envelope {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]streaming.Envelope, len(l.msgs))
	copy(out, l.msgs)
	return out
}

func testWSServer(t *testing.T) (*httptest.Server, *envelopeLog) {
	t.Helper()
	log := &envelopeLog{}
	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.mu.Lock()
		log.secrets = append(log.secrets, r.URL.Query().Get("secret"))
		log.mu.Unlock()

		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var env streaming.Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			log.add(env)
		}
	}))
	return srv, log
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocket_StreamsRecordEnvelopes(t *testing.T) {
	srv, log := testWSServer(t)
	defer srv.Close()

	sink, err := DialWebSocket(wsURL(srv), "s3cret", nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		rec := sampleRecord()
		rec.Speed = float64(i)
		require.NoError(t, sink.Send(context.Background(), rec))
	}
	require.NoError(t, sink.Close())

	require.Eventually(t, func() bool { return len(log.all()) == 3 }, 2*time.Second, 10*time.Millisecond)

	for i, env := range log.all() {
		assert.Equal(t, streaming.TypeRecord, env.Type)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(env.Payload, &payload))
		assert.Equal(t, float64(i), payload["speed"], "records arrive in order")
	}
	log.mu.Lock()
	assert.Equal(t, []string{"s3cret"}, log.secrets)
	log.mu.Unlock()
}

func TestWebSocket_SendAfterClose(t *testing.T) {
	srv, _ := testWSServer(t)
	defer srv.Close()

	sink, err := DialWebSocket(wsURL(srv), "", nil)
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	assert.Error(t, sink.Send(context.Background(), sampleRecord()))
}

func TestWebSocket_DialFailure(t *testing.T) {
	_, err := DialWebSocket("ws://127.0.0.1:1/none", "", nil)
	assert.Error(t, err)

	_, err = DialWebSocket("://bad", "", nil)
	assert.Error(t, err)
}

func TestMarshalEnvelope(t *testing.T) {
	data, err := MarshalEnvelope(streaming.TypeRecord, map[string]any{"id": "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"record","payload":{"id":"x"}}`, string(data))

	_, err = MarshalEnvelope(streaming.TypeRecord, make(chan int))
	assert.Error(t, err)
}
