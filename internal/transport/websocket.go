package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/tracksynth/tracksynth/pkg/streaming"
)

const (
	sendChSize   = 10_000
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
	flushWait    = 2 * time.Second
)

// WebSocket streams records as envelopes over a websocket connection. A
// single goroutine owns all writes; Send only queues.
type WebSocket struct {
	mu      sync.Mutex
	conn    *ws.Conn
	sendCh  chan []byte
	done    chan struct{} // closed on shutdown
	flushed chan struct{} // closed once no writer is left
	flushOnce sync.Once
	closed  bool

	wsURL  string
	secret string

	// initialBackoff is the first reconnect delay.
	initialBackoff time.Duration

	logger *slog.Logger
}

// DialWebSocket connects to rawURL. A non-empty secret is passed as the
// "secret" query parameter.
func DialWebSocket(rawURL, secret string, logger *slog.Logger) (*WebSocket, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w := &WebSocket{
		sendCh:         make(chan []byte, sendChSize),
		done:           make(chan struct{}),
		flushed:        make(chan struct{}),
		wsURL:          rawURL,
		secret:         secret,
		initialBackoff: time.Second,
		logger:         logger,
	}

	conn, err := w.dialOnce()
	if err != nil {
		return nil, err
	}
	w.conn = conn

	go w.writeLoop()
	go w.readLoop()
	return w, nil
}

func (w *WebSocket) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(w.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if w.secret != "" {
		q := u.Query()
		q.Set("secret", w.secret)
		u.RawQuery = q.Encode()
	}

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

func (w *WebSocket) write(conn *ws.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(ws.TextMessage, data)
}

// writeLoop drains sendCh. Only one runs at a time; it returns on a write
// error (handing over to reconnect) or on shutdown after flushing.
func (w *WebSocket) writeLoop() {
	for {
		select {
		case <-w.done:
			w.drain()
			return
		case data := <-w.sendCh:
			w.mu.Lock()
			conn := w.conn
			w.mu.Unlock()

			if conn == nil {
				continue
			}
			if err := w.write(conn, data); err != nil {
				w.logger.Warn("WebSocket write error", "error", err)
				go w.reconnect()
				return
			}
		}
	}
}

// drain writes whatever is still queued, then signals Close.
func (w *WebSocket) drain() {
	defer w.markFlushed()

	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return
	}
	for {
		select {
		case data := <-w.sendCh:
			if err := w.write(conn, data); err != nil {
				w.logger.Warn("WebSocket write error during flush", "error", err)
				return
			}
		default:
			return
		}
	}
}

// readLoop only watches for a broken connection; server messages are
// logged and discarded.
func (w *WebSocket) readLoop() {
	for {
		w.mu.Lock()
		conn := w.conn
		w.mu.Unlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			w.logger.Warn("WebSocket read error", "error", err)
			// the write loop notices too; only one side reconnects
			w.mu.Lock()
			stale := w.conn == conn
			w.mu.Unlock()
			if stale {
				_ = conn.Close()
			}
			return
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(message, &ack); err == nil && ack.Type == streaming.TypeAck {
			w.logger.Debug("WebSocket ack", "for", ack.For)
		}
	}
}

// reconnect re-establishes the connection with exponential backoff and
// restarts the read and write loops.
func (w *WebSocket) reconnect() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.markFlushed()
		return
	}
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.mu.Unlock()

	backoff := w.initialBackoff
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		w.logger.Info("Reconnecting to WebSocket", "attempt", attempt, "backoff", backoff)
		select {
		case <-w.done:
			w.markFlushed()
			return
		case <-time.After(backoff):
		}

		conn, err := w.dialOnce()
		if err != nil {
			w.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			_ = conn.Close()
			w.markFlushed()
			return
		}
		w.conn = conn
		w.mu.Unlock()

		w.logger.Info("WebSocket reconnected", "attempt", attempt)
		go w.writeLoop()
		go w.readLoop()
		return
	}

	w.logger.Error("WebSocket reconnect failed after max attempts", "maxAttempts", maxReconnect)
	w.markFlushed()
}

func (w *WebSocket) markFlushed() {
	w.flushOnce.Do(func() { close(w.flushed) })
}

// Send queues the record as a TypeRecord envelope. It never blocks; the
// record is dropped with an error when the queue is full.
func (w *WebSocket) Send(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := MarshalEnvelope(streaming.TypeRecord, v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return fmt.Errorf("websocket sink closed")
	}

	select {
	case w.sendCh <- data:
		return nil
	default:
		return fmt.Errorf("websocket send queue full")
	}
}

// Close flushes queued records, sends a close frame and stops all loops.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.done)
	w.mu.Unlock()

	select {
	case <-w.flushed:
	case <-time.After(flushWait):
		w.logger.Warn("WebSocket flush timed out", "pending", len(w.sendCh))
	}

	w.mu.Lock()
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()

	if conn != nil {
		_ = conn.WriteMessage(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		)
		return conn.Close()
	}
	return nil
}

// MarshalEnvelope builds a JSON-encoded envelope from a message type and
// payload.
func MarshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(streaming.Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}
