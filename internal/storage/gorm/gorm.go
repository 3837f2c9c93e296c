// Package gormstorage implements storage.Backend on a relational database
// through gorm. Each stored record becomes one row of the tracks table with
// its position projected to EPSG:3857.
package gormstorage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tracksynth/tracksynth/internal/database"
	"github.com/tracksynth/tracksynth/internal/geo"
	"github.com/tracksynth/tracksynth/internal/model"
	"github.com/tracksynth/tracksynth/pkg/core"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ServerName is written into server_infos on first setup.
const ServerName = "tracksynth-ingest"

// Version is stamped into server_infos; set by the binary at startup.
var Version = "dev"

// Backend implements storage.Backend using gorm.
type Backend struct {
	db       *database.Manager
	stopChan chan struct{}
	wg       sync.WaitGroup
	ready    atomic.Bool
}

// New creates a new gorm storage backend over an unconnected manager.
func New(db *database.Manager) *Backend {
	return &Backend{db: db}
}

// Driver reports the configured database driver.
func (b *Backend) Driver() string {
	if b.db.Config.Driver == "" {
		return database.DriverSQLite
	}
	return b.db.Config.Driver
}

// Init connects, migrates the schema and, for an in-memory SQLite database
// with a dump path, starts the periodic dump.
func (b *Backend) Init() error {
	if err := b.db.Connect(); err != nil {
		return err
	}
	if err := b.db.Setup(ServerName, Version); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}
	b.ready.Store(true)
	b.stopChan = make(chan struct{})

	cfg := b.db.Config
	if cfg.InMemory() && cfg.DumpPath != "" && cfg.DumpInterval > 0 {
		b.wg.Add(1)
		go b.dumpLoop(cfg.DumpPath, cfg.DumpInterval)
	}
	return nil
}

// Close stops the dump loop, writes a final dump for in-memory databases
// and closes the connection.
func (b *Backend) Close() error {
	if !b.ready.CompareAndSwap(true, false) {
		return nil
	}
	close(b.stopChan)
	b.wg.Wait()

	var errs []error
	cfg := b.db.Config
	if cfg.InMemory() && cfg.DumpPath != "" {
		if err := b.db.DumpToDisk(cfg.DumpPath); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// dumpLoop periodically snapshots the in-memory database with VACUUM INTO.
func (b *Backend) dumpLoop(path string, interval time.Duration) {
	defer b.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.db.DumpToDisk(path); err != nil {
				b.db.Logger.Error().Err(err).Msg("Error dumping to disk")
			}
		}
	}
}

// StoreBatch inserts the batch row and one track row per record.
func (b *Backend) StoreBatch(ctx context.Context, batch core.Batch) error {
	if !b.ready.Load() {
		return fmt.Errorf("gorm backend not initialized")
	}
	tracks := make([]model.Track, 0, len(batch.Records))
	for _, rec := range batch.Records {
		t, err := toTrack(batch, rec)
		if err != nil {
			return err
		}
		tracks = append(tracks, t)
	}

	db := b.db.DB.WithContext(ctx)
	row := model.Batch{
		ID:         batch.ID,
		StoredAt:   batch.StoredAt,
		Count:      len(batch.Records),
		FlushMs:    float64(batch.FlushDuration) / float64(time.Millisecond),
		TotalCount: batch.TotalCount,
	}
	if err := db.Create(&row).Error; err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	if len(tracks) == 0 {
		return nil
	}
	if err := db.Create(&tracks).Error; err != nil {
		return fmt.Errorf("insert %d tracks: %w", len(tracks), err)
	}
	return nil
}

func toTrack(batch core.Batch, rec map[string]any) (model.Track, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return model.Track{}, fmt.Errorf("encode payload: %w", err)
	}

	sourceType, id := core.RecordIdentity(rec)
	t := model.Track{
		BatchID:    batch.ID,
		SourceType: sourceType,
		EntityID:   id,
		StoredAt:   batch.StoredAt,
		Payload:    datatypes.JSON(payload),
	}
	if ts, ok := core.RecordTime(rec); ok {
		t.RecordedAt = &ts
	}
	if ts, ok := core.StampedTime(rec, core.FieldSent); ok {
		t.SentAt = &ts
	}
	if ts, ok := core.StampedTime(rec, core.FieldReceived); ok {
		t.ReceivedAt = &ts
	}
	if pos, ok := core.RecordPosition(rec); ok {
		if p, err := geo.Coords3857From4326(pos.Lon, pos.Lat); err == nil {
			t.Position = p
		}
	}
	return t, nil
}

// Recent returns up to n of the most recently stored records, oldest first.
func (b *Backend) Recent(ctx context.Context, n int) ([]map[string]any, error) {
	return b.query(ctx, nil, n)
}

// History returns up to n of the most recent records of one entity.
func (b *Backend) History(ctx context.Context, entityID string, n int) ([]map[string]any, error) {
	return b.query(ctx, func(q *gorm.DB) *gorm.DB {
		return q.Where("entity_id = ?", entityID)
	}, n)
}

// query runs the newest-first track query, narrowed by scope when given.
func (b *Backend) query(ctx context.Context, scope func(*gorm.DB) *gorm.DB, n int) ([]map[string]any, error) {
	if !b.ready.Load() {
		return nil, fmt.Errorf("gorm backend not initialized")
	}
	q := b.db.DB.WithContext(ctx)
	if scope != nil {
		q = scope(q)
	}
	q = q.Order("id DESC")
	if n > 0 {
		q = q.Limit(n)
	}
	var tracks []model.Track
	if err := q.Find(&tracks).Error; err != nil {
		return nil, fmt.Errorf("query tracks: %w", err)
	}

	out := make([]map[string]any, 0, len(tracks))
	for i := len(tracks) - 1; i >= 0; i-- {
		rec, err := tracks[i].Record()
		if err != nil {
			return nil, fmt.Errorf("decode track %d: %w", tracks[i].ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Count returns the number of stored track rows.
func (b *Backend) Count(ctx context.Context) (int64, error) {
	if !b.ready.Load() {
		return 0, fmt.Errorf("gorm backend not initialized")
	}
	var count int64
	if err := b.db.DB.WithContext(ctx).Model(&model.Track{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
