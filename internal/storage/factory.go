package storage

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tracksynth/tracksynth/internal/database"
	gormstorage "github.com/tracksynth/tracksynth/internal/storage/gorm"
	"github.com/tracksynth/tracksynth/internal/storage/memory"
)

// ErrUnknownBackend is returned for an unsupported storage type.
var ErrUnknownBackend = errors.New("unknown storage type")

// Config selects the storage backend.
type Config struct {
	Type     string          `json:"type" mapstructure:"type"`
	Memory   memory.Config   `json:"memory" mapstructure:"memory"`
	Database database.Config `json:"database" mapstructure:"database"`
}

// NewBackend creates a storage backend based on configuration
func NewBackend(cfg Config, log zerolog.Logger) (Backend, error) {
	switch cfg.Type {
	case "memory", "":
		return memory.New(cfg.Memory), nil
	case "gorm", database.DriverSQLite, database.DriverPostgres:
		dbCfg := cfg.Database
		if cfg.Type != "gorm" {
			dbCfg.Driver = cfg.Type
		}
		return gormstorage.New(database.NewManager(dbCfg, log)), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Type)
	}
}
