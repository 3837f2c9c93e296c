// Package database opens the relational stores behind the gorm storage
// backend: PostgreSQL for shared deployments and SQLite, file based or in
// memory with periodic dumps, for single hosts.
package database

import (
	"fmt"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/tracksynth/tracksynth/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// memoryDSN is the shared in-memory SQLite database.
const memoryDSN = "file::memory:?cache=shared"

// Config selects and addresses the database.
type Config struct {
	Driver string `json:"driver" mapstructure:"driver"`

	// SQLite: Path is the database file; empty means in memory.
	Path string `json:"path" mapstructure:"path"`
	// DumpPath receives VACUUM INTO snapshots of an in-memory database.
	DumpPath     string        `json:"dumpPath" mapstructure:"dumpPath"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`

	// Postgres
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// PostgresDSN renders the keyword/value connection string.
func (c Config) PostgresDSN() string {
	return fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=disable`,
		c.Host, c.Port, c.Username, c.Password, c.Database)
}

// InMemory reports whether the SQLite database lives in memory.
func (c Config) InMemory() bool {
	return c.Driver == DriverSQLite && c.Path == ""
}

// Manager handles database connections and operations.
type Manager struct {
	DB     *gorm.DB
	Config Config
	Logger zerolog.Logger
}

// NewManager creates a new database manager.
func NewManager(cfg Config, log zerolog.Logger) *Manager {
	return &Manager{
		Config: cfg,
		Logger: log,
	}
}

// Connect opens the configured database and validates the connection.
func (m *Manager) Connect() error {
	var err error

	switch m.Config.Driver {
	case DriverPostgres:
		m.DB, err = m.openPostgres()
	case DriverSQLite, "":
		m.Config.Driver = DriverSQLite
		m.DB, err = m.openSqlite()
	default:
		return fmt.Errorf("unknown database driver: %q", m.Config.Driver)
	}
	if err != nil {
		return err
	}

	sqlDB, err := m.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("failed to validate connection: %w", err)
	}
	if m.Config.Driver == DriverPostgres {
		sqlDB.SetMaxOpenConns(10)
	}

	m.Logger.Info().Str("driver", m.Config.Driver).Msg("Connected to database")
	return nil
}

func (m *Manager) openPostgres() (*gorm.DB, error) {
	m.Logger.Debug().Str("host", m.Config.Host).Str("database", m.Config.Database).Msg("Connecting to Postgres DB")

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  m.Config.PostgresDSN(),
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        10000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return db, nil
}

func (m *Manager) openSqlite() (*gorm.DB, error) {
	dsn := m.Config.Path
	if dsn == "" {
		dsn = memoryDSN
		m.Logger.Info().Msg("Using local SQLite DB in memory")
	} else {
		m.Logger.Info().Str("path", dsn).Msg("Using local SQLite DB")
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		CreateBatchSize:        2000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA user_version = 1;",
		"PRAGMA journal_mode = MEMORY;",
		"PRAGMA synchronous = OFF;",
		"PRAGMA cache_size = -32000;",
		"PRAGMA temp_store = MEMORY;",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %s", err)
		}
	}

	return db, nil
}

// Setup migrates tables and records the owning server if missing.
func (m *Manager) Setup(serverName, version string) error {
	if !m.DB.Migrator().HasTable(&model.ServerInfo{}) {
		if err := m.DB.AutoMigrate(&model.ServerInfo{}); err != nil {
			return fmt.Errorf("failed to create server_infos table: %w", err)
		}
		err := m.DB.Create(&model.ServerInfo{
			Name:        serverName,
			Description: "telemetry ingest",
			Version:     version,
		}).Error
		if err != nil {
			return fmt.Errorf("failed to create server_infos entry: %w", err)
		}
	}

	m.Logger.Info().Msg("Migrating schema")
	if err := m.DB.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	m.Logger.Info().Msg("Database setup complete")
	return nil
}

// DumpToDisk writes a point-in-time copy of a SQLite database to path.
func (m *Manager) DumpToDisk(path string) error {
	if path == "" {
		return fmt.Errorf("sqlite dump path not set")
	}
	if m.Config.Driver != DriverSQLite {
		return fmt.Errorf("dump is only supported for sqlite, not %s", m.Config.Driver)
	}

	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("error removing existing DB file: %w", err)
		}
	}

	start := time.Now()
	if err := m.DB.Exec("VACUUM INTO ?", path).Error; err != nil {
		return fmt.Errorf("error dumping DB to disk: %w", err)
	}

	m.Logger.Debug().Dur("duration", time.Since(start)).Str("path", path).Msg("Dumped DB to disk")
	return nil
}

// Close releases the connection pool.
func (m *Manager) Close() error {
	if m.DB == nil {
		return nil
	}
	sqlDB, err := m.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
