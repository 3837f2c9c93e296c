package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	ws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tracksynth/tracksynth/internal/cache"
	"github.com/tracksynth/tracksynth/internal/dataset"
	"github.com/tracksynth/tracksynth/internal/geo"
	"github.com/tracksynth/tracksynth/pkg/core"
	"github.com/tracksynth/tracksynth/pkg/streaming"
)

const (
	// DefaultPathLimit bounds the records used to draw one entity's path.
	DefaultPathLimit = 500
	maxUploadMemory  = 32 << 20
	historyTimeout   = 5 * time.Second
)

var upgrader = ws.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Router returns the HTTP routes of the server.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleViewer).Methods(http.MethodGet)
	r.HandleFunc("/ws/ingest", s.handleProducer).Methods(http.MethodGet)
	r.HandleFunc("/tracks", s.handleTracks).Methods(http.MethodGet)
	r.HandleFunc("/entities", s.handleEntities).Methods(http.MethodGet)
	r.HandleFunc("/entities/{id}", s.handleEntity).Methods(http.MethodGet)
	r.HandleFunc("/entities/{id}/path", s.handlePath).Methods(http.MethodGet)
	r.HandleFunc("/healthcheck", s.handleHealthcheck).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/datasets", s.handleUpload).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func (s *Server) authorized(secret string) bool {
	return s.cfg.Secret == "" || secret == s.cfg.Secret
}

func (s *Server) handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"total_count": s.total.Value(),
		"buffered":    s.buffer.Len(),
		"viewers":     s.hub.count(),
	})
}

// handleViewer upgrades to a websocket that first receives the recent
// history and then every flushed batch.
func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), historyTimeout)
	history, err := s.store.Recent(ctx, s.cfg.HistorySize)
	cancel()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load history for viewer")
		history = nil
	}
	initial, err := json.Marshal(streaming.NewBatch(history, s.total.Value()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode history")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the request
		s.logger.Debug().Err(err).Msg("Viewer upgrade failed")
		return
	}
	if err := s.hub.attach(conn, initial); err != nil {
		_ = conn.Close()
		return
	}
	s.logger.Info().Str("remote", r.RemoteAddr).Int("history", len(history)).Msg("Viewer connected")
}

// handleProducer accepts record envelopes from the websocket sink.
func (s *Server) handleProducer(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r.URL.Query().Get("secret")) {
		writeError(w, http.StatusForbidden, "invalid secret")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Producer upgrade failed")
		return
	}
	s.logger.Info().Str("remote", r.RemoteAddr).Msg("Producer connected")
	go s.readProducer(conn)
}

func (s *Server) readProducer(conn *ws.Conn) {
	defer conn.Close()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("Producer read failed")
			}
			return
		}

		var env streaming.Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Type != streaming.TypeRecord {
			s.metrics.malformed.Inc()
			continue
		}
		rec, err := decodeRecord(env.Payload)
		if err != nil {
			s.metrics.malformed.Inc()
			continue
		}
		if err := s.Ingest(rec); err != nil {
			s.logger.Debug().Err(err).Msg("Record not queued")
		}
	}
}

func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.Recent(r.Context(), queryLimit(r, DefaultRecentLimit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	entities := s.entities.List(r.URL.Query().Get("source_type"))
	if entities == nil {
		entities = []cache.Entity{}
	}
	writeJSON(w, http.StatusOK, entities)
}

func (s *Server) handleEntity(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	e, ok := s.entities.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown entity %q", id))
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// PathResponse is the recent track of one entity.
type PathResponse struct {
	ID       string      `json:"id"`
	Points   [][]float64 `json:"points"` // [lon, lat]
	LengthKm float64     `json:"length_km"`
	WKT      string      `json:"wkt,omitempty"`
}

func (s *Server) handlePath(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	records, err := s.store.History(r.Context(), id, queryLimit(r, DefaultPathLimit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(records) == 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no history for %q", id))
		return
	}

	positions := make([]core.Position, 0, len(records))
	for _, rec := range records {
		if p, ok := core.RecordPosition(rec); ok {
			positions = append(positions, p)
		}
	}

	resp := PathResponse{ID: id, Points: make([][]float64, 0, len(positions))}
	for _, p := range positions {
		resp.Points = append(resp.Points, []float64{p.Lon, p.Lat})
	}
	resp.LengthKm = geo.PathLength(positions)
	if line, err := geo.Path(positions); err == nil {
		resp.WKT = line.AsText()
	}
	writeJSON(w, http.StatusOK, resp)
}

// UploadResponse answers a dataset upload.
type UploadResponse struct {
	Stored     int   `json:"stored"`
	TotalCount int64 `json:"total_count"`
}

// handleUpload takes a dataset either as the "file" part of a multipart
// form or as the raw request body, plain or gzipped.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var (
		body   io.Reader = r.Body
		secret           = r.Header.Get("X-Secret")
		runID            = r.Header.Get("X-Run-Id")
	)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		secret = r.FormValue("secret")
		runID = r.FormValue("runId")
		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing file")
			return
		}
		defer file.Close()
		body = file
	}

	if !s.authorized(secret) {
		writeError(w, http.StatusForbidden, "invalid secret")
		return
	}

	records, err := dataset.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stored, err := s.IngestBatch(r.Context(), records)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info().
		Int("records", stored).
		Str("run", runID).
		Msg("Dataset uploaded")
	writeJSON(w, http.StatusOK, UploadResponse{Stored: stored, TotalCount: s.total.Value()})
}

// IngestBatch receives many records at once and flushes them synchronously,
// in chunks no larger than the buffer so nothing is evicted.
func (s *Server) IngestBatch(ctx context.Context, records []map[string]any) (int, error) {
	var stored int
	for start := 0; start < len(records); start += s.cfg.BufferSize {
		end := min(start+s.cfg.BufferSize, len(records))
		for _, rec := range records[start:end] {
			if rec == nil {
				continue
			}
			sourceType := s.receive(rec)
			_, _ = s.accept(s.eventFor(sourceType, rec))
		}
		n, err := s.Flush(ctx)
		stored += n
		if err != nil {
			return stored, err
		}
		if ctx.Err() != nil {
			return stored, errors.Join(ctx.Err(), fmt.Errorf("stored %d of %d records", stored, len(records)))
		}
	}
	return stored, nil
}
