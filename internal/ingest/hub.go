package ingest

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	viewerSendSize = 256
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
)

// viewer is one websocket client receiving batches. A single writeLoop owns
// the connection for writing.
type viewer struct {
	conn *ws.Conn
	send chan []byte
	once sync.Once
}

func (v *viewer) stop() {
	v.once.Do(func() { close(v.send) })
}

// hub fans encoded batches out to every connected viewer. Slow viewers whose
// queue is full are disconnected rather than stalling the flusher.
type hub struct {
	mu      sync.RWMutex
	viewers map[*viewer]struct{}
	closed  bool

	gauge  prometheus.Gauge
	logger zerolog.Logger
}

func newHub(logger zerolog.Logger, gauge prometheus.Gauge) *hub {
	return &hub{
		viewers: make(map[*viewer]struct{}),
		gauge:   gauge,
		logger:  logger,
	}
}

// attach registers conn, queues the initial messages ahead of any broadcast
// and starts its loops.
func (h *hub) attach(conn *ws.Conn, initial ...[]byte) error {
	v := &viewer{conn: conn, send: make(chan []byte, viewerSendSize+len(initial))}
	for _, msg := range initial {
		v.send <- msg
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return fmt.Errorf("hub closed")
	}
	h.viewers[v] = struct{}{}
	h.gauge.Set(float64(len(h.viewers)))
	h.mu.Unlock()

	go h.writeLoop(v)
	go h.readLoop(v)
	return nil
}

func (h *hub) detach(v *viewer) {
	h.mu.Lock()
	if _, ok := h.viewers[v]; ok {
		delete(h.viewers, v)
		v.stop()
	}
	h.gauge.Set(float64(len(h.viewers)))
	h.mu.Unlock()
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// broadcastJSON encodes msg once and queues it for every viewer.
func (h *hub) broadcastJSON(msg any) error {
	h.mu.RLock()
	n := len(h.viewers)
	h.mu.RUnlock()
	if n == 0 {
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.broadcast(data)
	return nil
}

func (h *hub) broadcast(data []byte) {
	var slow []*viewer
	h.mu.RLock()
	for v := range h.viewers {
		select {
		case v.send <- data:
		default:
			slow = append(slow, v)
		}
	}
	h.mu.RUnlock()

	for _, v := range slow {
		h.logger.Warn().Str("remote", v.conn.RemoteAddr().String()).Msg("Viewer too slow, disconnecting")
		h.detach(v)
	}
}

func (h *hub) writeLoop(v *viewer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = v.conn.Close()
	}()

	for {
		select {
		case data, ok := <-v.send:
			_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = v.conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
				return
			}
			if err := v.conn.WriteMessage(ws.TextMessage, data); err != nil {
				h.logger.Debug().Err(err).Msg("Viewer write failed")
				h.detach(v)
				return
			}
		case <-ticker.C:
			_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(ws.PingMessage, nil); err != nil {
				h.detach(v)
				return
			}
		}
	}
}

// readLoop only watches for the viewer going away; viewers send nothing.
func (h *hub) readLoop(v *viewer) {
	defer h.detach(v)
	_ = v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// close disconnects every viewer and refuses new ones.
func (h *hub) close() {
	h.mu.Lock()
	h.closed = true
	for v := range h.viewers {
		delete(h.viewers, v)
		v.stop()
	}
	h.gauge.Set(0)
	h.mu.Unlock()
}
