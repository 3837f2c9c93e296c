// Package ingest is the receiving end of a traffic run: it accepts records
// over UDP, websocket and bulk upload, flushes them to storage in batches
// and fans every batch out to live viewers.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"github.com/tracksynth/tracksynth/internal/cache"
	"github.com/tracksynth/tracksynth/internal/dispatcher"
	"github.com/tracksynth/tracksynth/internal/encode"
	"github.com/tracksynth/tracksynth/internal/influx"
	"github.com/tracksynth/tracksynth/internal/logging"
	"github.com/tracksynth/tracksynth/internal/queue"
	"github.com/tracksynth/tracksynth/internal/storage"
	"github.com/tracksynth/tracksynth/internal/timeutil"
	"github.com/tracksynth/tracksynth/pkg/core"
	"github.com/tracksynth/tracksynth/pkg/streaming"
)

const (
	DefaultBatchInterval = 100 * time.Millisecond
	DefaultBufferSize    = 100_000
	DefaultHistorySize   = 1000
	DefaultRecentLimit   = 50
	DefaultEntityTTL     = 10 * time.Minute

	// dispatchBuffer is the per-class queue between receivers and the buffer.
	dispatchBuffer = 10_000
	maxDatagram    = 65535
	pruneEvery     = time.Minute
	shutdownWait   = 5 * time.Second
)

// Config holds the ingestion server settings.
type Config struct {
	UDPAddress    string
	HTTPAddress   string
	BatchInterval time.Duration
	// BufferSize bounds the records held between flushes; the oldest are evicted.
	BufferSize  int
	HistorySize int
	// Secret, when set, is required from producers and uploaders.
	Secret string
	// EntityTTL drops entities from the live cache after this much silence.
	EntityTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchInterval <= 0 {
		c.BatchInterval = DefaultBatchInterval
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.EntityTTL == 0 {
		c.EntityTTL = DefaultEntityTTL
	}
	return c
}

// Option configures a Server.
type Option func(*Server)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c timeutil.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithInflux records latency and flush series in InfluxDB.
func WithInflux(m *influx.Manager) Option {
	return func(s *Server) { s.influx = m }
}

// Server is the ingestion server.
type Server struct {
	cfg    Config
	store  storage.Backend
	clock  timeutil.Clock
	influx *influx.Manager
	logger zerolog.Logger

	buffer     *queue.Queue[map[string]any]
	dispatcher *dispatcher.Dispatcher
	entities   *cache.EntityCache
	total      cache.SafeCounter
	hub        *hub
	metrics    *metrics

	// flushMu serializes flushes so batches reach storage in order.
	flushMu   sync.Mutex
	lastPrune time.Time
	closeOnce sync.Once
}

// New creates a server on top of an initialized storage backend.
func New(cfg Config, store storage.Backend, logger zerolog.Logger, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, errors.New("ingest: storage backend is required")
	}
	s := &Server{
		cfg:      cfg.withDefaults(),
		store:    store,
		clock:    timeutil.RealClock{},
		logger:   logger.With().Str("component", "ingest").Logger(),
		entities: cache.NewEntityCache(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.buffer = queue.New[map[string]any](s.cfg.BufferSize)
	s.metrics = newMetrics(func() float64 { return float64(s.buffer.Len()) })
	s.hub = newHub(s.logger, s.metrics.viewers)
	s.lastPrune = s.clock.Now()

	d, err := dispatcher.New(logging.NewDispatcherLogger(s.logger))
	if err != nil {
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}
	// a full class queue stalls the receiver; overflow is handled by the
	// buffer's eviction instead
	for _, c := range core.Classes() {
		d.Register(string(c), s.accept, dispatcher.Buffered(dispatchBuffer), dispatcher.Blocking())
	}
	d.Fallback(s.accept, dispatcher.Buffered(dispatchBuffer), dispatcher.Blocking(), dispatcher.Logged())
	s.dispatcher = d

	return s, nil
}

// Ingest stamps a freshly received record and hands it to its class queue.
func (s *Server) Ingest(rec map[string]any) error {
	sourceType := s.receive(rec)
	_, err := s.dispatcher.Dispatch(s.eventFor(sourceType, rec))
	if err != nil {
		s.metrics.dropped.Inc()
		return err
	}
	return nil
}

func (s *Server) eventFor(kind string, rec map[string]any) dispatcher.Event {
	return dispatcher.Event{Kind: kind, Payload: rec, ReceivedAt: s.clock.Now()}
}

func (s *Server) receive(rec map[string]any) string {
	rec[core.FieldReceived] = core.FormatTimestamp(s.clock.Now())
	sourceType, _ := core.RecordIdentity(rec)
	s.metrics.received.WithLabelValues(sourceType).Inc()
	return sourceType
}

// accept checks the raw message of a record and buffers it for the next flush.
func (s *Server) accept(e dispatcher.Event) (any, error) {
	if raw, ok := e.Payload["raw_msg"].(string); ok {
		if class, err := core.ParseClass(e.Kind); err == nil {
			if err := encode.VerifyRaw(class, raw); err != nil {
				s.metrics.invalidRaw.WithLabelValues(e.Kind).Inc()
				s.logger.Debug().Err(err).Str("source_type", e.Kind).Msg("Invalid raw message")
			}
		}
	}
	if evicted := s.buffer.Push(e.Payload); evicted > 0 {
		s.metrics.dropped.Add(float64(evicted))
		s.logger.Warn().Int("evicted", evicted).Msg("Ingest buffer full, oldest records evicted")
	}
	return nil, nil
}

// Buffered returns the number of records waiting for the next flush.
func (s *Server) Buffered() int {
	return s.buffer.Len()
}

// TotalCount returns the number of records flushed so far.
func (s *Server) TotalCount() int64 {
	return s.total.Value()
}

// Entities returns the live entity cache.
func (s *Server) Entities() *cache.EntityCache {
	return s.entities
}

// Flush persists everything buffered as one batch, updates the entity cache,
// records latency and broadcasts the batch. It returns the batch size.
func (s *Server) Flush(ctx context.Context) (int, error) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	records := s.buffer.Drain()
	if len(records) == 0 {
		s.maybePrune()
		return 0, nil
	}

	start := s.clock.Now()
	stamp := core.FormatTimestamp(start)
	for _, rec := range records {
		rec[core.FieldStored] = stamp
	}

	batch := core.NewBatch(start, records)
	batch.TotalCount = s.total.Add(int64(len(records)))

	storeErr := s.store.StoreBatch(ctx, batch)
	batch.FlushDuration = s.clock.Now().Sub(start)
	if storeErr != nil {
		s.metrics.storeErrors.Inc()
		s.logger.Error().Err(storeErr).Int("records", len(records)).Msg("Failed to store batch")
		storeErr = fmt.Errorf("store batch %s: %w", batch.ID, storeErr)
	} else {
		s.metrics.stored.Add(float64(len(records)))
	}
	s.metrics.flushTime.Observe(float64(batch.FlushDuration) / float64(time.Millisecond))

	for _, rec := range records {
		s.entities.Update(rec, start)
		s.observeLatency(rec, start)
	}
	if s.influx != nil {
		s.writeInflux(influx.BucketIngest, influx.FlushPoint(start, len(records), batch.FlushDuration, batch.TotalCount))
	}

	if err := s.hub.broadcastJSON(streaming.NewBatch(records, batch.TotalCount)); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode batch for viewers")
	}

	s.logger.Debug().
		Str("batch", batch.ID.String()).
		Int("records", len(records)).
		Int64("total", batch.TotalCount).
		Dur("took", batch.FlushDuration).
		Msg("Flushed batch")

	s.maybePrune()
	return len(records), storeErr
}

func (s *Server) observeLatency(rec map[string]any, stored time.Time) {
	sourceType, _ := core.RecordIdentity(rec)
	received, okRecv := core.StampedTime(rec, core.FieldReceived)
	sent, okSent := core.StampedTime(rec, core.FieldSent)

	if okRecv {
		s.metrics.latency.WithLabelValues(sourceType, "buffer").Observe(msBetween(received, stored))
	}
	if okSent {
		s.metrics.latency.WithLabelValues(sourceType, "total").Observe(msBetween(sent, stored))
		if okRecv {
			s.metrics.latency.WithLabelValues(sourceType, "network").Observe(msBetween(sent, received))
		}
	}
	if s.influx != nil && (okRecv || okSent) {
		s.writeInflux(influx.BucketIngest, influx.LatencyPoint(sourceType, sent, received, stored))
	}
}

func msBetween(from, to time.Time) float64 {
	return float64(to.Sub(from)) / float64(time.Millisecond)
}

func (s *Server) writeInflux(bucket string, point *write.Point) {
	if err := s.influx.WritePoint(bucket, point); err != nil {
		s.logger.Debug().Err(err).Msg("Influx write failed")
	}
}

func (s *Server) maybePrune() {
	if s.cfg.EntityTTL < 0 {
		return
	}
	now := s.clock.Now()
	if now.Sub(s.lastPrune) < pruneEvery {
		return
	}
	s.lastPrune = now
	if n := s.entities.Prune(now.Add(-s.cfg.EntityTTL)); n > 0 {
		s.logger.Info().Int("entities", n).Msg("Pruned silent entities")
	}
}

func (s *Server) flushLoop(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.BatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			_, _ = s.Flush(ctx)
		}
	}
}

// decodeRecord parses one JSON object, keeping numbers as json.Number.
func decodeRecord(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec map[string]any
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.New("not a JSON object")
	}
	return rec, nil
}

func (s *Server) serveUDP(ctx context.Context, conn net.PacketConn) {
	buf := make([]byte, maxDatagram)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn().Err(err).Msg("UDP read failed")
			continue
		}
		rec, err := decodeRecord(buf[:n])
		if err != nil {
			s.metrics.malformed.Inc()
			s.logger.Debug().Err(err).Int("bytes", n).Msg("Dropping malformed datagram")
			continue
		}
		if err := s.Ingest(rec); err != nil {
			s.logger.Debug().Err(err).Msg("Record not queued")
		}
	}
}

// Run listens on the configured UDP and HTTP addresses and serves until ctx
// is cancelled.
func (s *Server) Run(ctx context.Context) error {
	pc, err := net.ListenPacket("udp", s.cfg.UDPAddress)
	if err != nil {
		return fmt.Errorf("listen udp %s: %w", s.cfg.UDPAddress, err)
	}
	ln, err := net.Listen("tcp", s.cfg.HTTPAddress)
	if err != nil {
		pc.Close()
		return fmt.Errorf("listen http %s: %w", s.cfg.HTTPAddress, err)
	}
	return s.Serve(ctx, pc, ln)
}

// Serve runs the server on already opened listeners. On return both are
// closed, the dispatch queues are drained and a final flush has run.
func (s *Server) Serve(ctx context.Context, pc net.PacketConn, ln net.Listener) error {
	if n, err := s.store.Count(ctx); err == nil {
		s.total.Set(n)
	}

	httpServer := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.serveUDP(loopCtx, pc)
	}()
	go func() {
		defer wg.Done()
		s.flushLoop(loopCtx)
	}()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- httpServer.Serve(ln)
	}()

	s.logger.Info().
		Str("udp", pc.LocalAddr().String()).
		Str("http", ln.Addr().String()).
		Dur("batchInterval", s.cfg.BatchInterval).
		Msg("Ingest server started")

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-httpErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownWait)
	defer stop()
	s.hub.close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("HTTP shutdown")
	}
	_ = pc.Close()
	wg.Wait()

	s.Close()
	if _, err := s.Flush(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("Final flush failed")
	}
	s.logger.Info().Int64("total", s.total.Value()).Msg("Ingest server stopped")
	return runErr
}

// Close stops accepting records and waits for the dispatch queues to drain
// into the buffer. It does not flush.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.dispatcher.Close()
	})
}
