package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tracksynth/tracksynth/internal/database"
	"github.com/tracksynth/tracksynth/internal/influx"
	"github.com/tracksynth/tracksynth/internal/otel"
	"github.com/tracksynth/tracksynth/internal/storage"
	"github.com/tracksynth/tracksynth/internal/storage/memory"
	"github.com/tracksynth/tracksynth/internal/transport"
)

const (
	// FileName is the config file searched for in the config directory.
	FileName = "tracksynth.cfg.json"
	// EnvPrefix prefixes environment overrides, e.g. TRACKSYNTH_LOGLEVEL.
	EnvPrefix = "TRACKSYNTH"
)

// GeneratorConfig holds the synthesis settings.
type GeneratorConfig struct {
	Mode                string        `json:"mode" mapstructure:"mode"`
	Duration            time.Duration `json:"-" mapstructure:"-"`
	TargetCountPerClass int           `json:"targetCountPerClass" mapstructure:"targetCountPerClass"`
	FleetSize           int           `json:"fleetSize" mapstructure:"fleetSize"`
	JitterFraction      float64       `json:"jitterFraction" mapstructure:"jitterFraction"`
	Output              string        `json:"output" mapstructure:"output"`
	Compress            bool          `json:"compress" mapstructure:"compress"`
	Profiles            string        `json:"profiles" mapstructure:"profiles"`
	Sink                string        `json:"sink" mapstructure:"sink"`
	Upload              bool          `json:"upload" mapstructure:"upload"`
}

// ReplayConfig holds the replay settings.
type ReplayConfig struct {
	Input          string  `json:"input" mapstructure:"input"`
	TimestampField string  `json:"timestampField" mapstructure:"timestampField"`
	Speed          float64 `json:"speed" mapstructure:"speed"`
	Sink           string  `json:"sink" mapstructure:"sink"`
}

// IngestConfig holds the ingestion server settings.
type IngestConfig struct {
	UDPAddress    string        `json:"udpAddress" mapstructure:"udpAddress"`
	HTTPAddress   string        `json:"httpAddress" mapstructure:"httpAddress"`
	BatchInterval time.Duration `json:"batchInterval" mapstructure:"batchInterval"`
	BufferSize    int           `json:"bufferSize" mapstructure:"bufferSize"`
	HistorySize   int           `json:"historySize" mapstructure:"historySize"`
	Secret        string        `json:"secret" mapstructure:"secret"`
}

// GraylogConfig holds GELF shipping settings.
type GraylogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// APIConfig points the uploader at an ingest server.
type APIConfig struct {
	ServerURL string `json:"serverUrl" mapstructure:"serverUrl"`
	APIKey    string `json:"apiKey" mapstructure:"apiKey"`
}

// SetDefaults registers the default value of every key.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "")
	viper.SetDefault("seed", 0)

	viper.SetDefault("generator.mode", "duration")
	viper.SetDefault("generator.durationSeconds", 10)
	viper.SetDefault("generator.targetCountPerClass", 1000)
	viper.SetDefault("generator.fleetSize", 0)
	viper.SetDefault("generator.jitterFraction", 0.10)
	viper.SetDefault("generator.output", "dataset.json")
	viper.SetDefault("generator.compress", false)
	viper.SetDefault("generator.profiles", "")
	viper.SetDefault("generator.sink", transport.KindNone)
	viper.SetDefault("generator.upload", false)

	viper.SetDefault("replay.input", "dataset.json")
	viper.SetDefault("replay.timestampField", "timestamp")
	viper.SetDefault("replay.speed", 1.0)
	viper.SetDefault("replay.sink", transport.KindUDP)

	viper.SetDefault("sink.udp.address", transport.DefaultUDPAddr)
	viper.SetDefault("sink.serial.port", "")
	viper.SetDefault("sink.serial.baud", 4800)
	viper.SetDefault("sink.pcap.path", "capture.pcap")
	viper.SetDefault("sink.websocket.url", "ws://localhost:8080/ws/ingest")
	viper.SetDefault("sink.websocket.secret", "")

	viper.SetDefault("ingest.udpAddress", "0.0.0.0:5005")
	viper.SetDefault("ingest.httpAddress", ":8080")
	viper.SetDefault("ingest.batchInterval", "100ms")
	viper.SetDefault("ingest.bufferSize", 100000)
	viper.SetDefault("ingest.historySize", 1000)
	viper.SetDefault("ingest.secret", "")

	viper.SetDefault("api.serverUrl", "http://localhost:8080")
	viper.SetDefault("api.apiKey", "")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.maxRecords", memory.DefaultMaxRecords)
	viper.SetDefault("storage.memory.exportPath", "")
	viper.SetDefault("storage.memory.compress", true)
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.sqlite.dumpPath", "")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "tracksynth")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "tracksynth")
	viper.SetDefault("influx.backupPath", "")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "tracksynth")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.metricInterval", "30s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// Load sets defaults, enables TRACKSYNTH_ environment overrides and reads
// the config file from configDir.
func Load(configDir string) error {
	SetDefaults()
	bindEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// LoadFile is Load for an explicit file path. The format follows the
// extension (JSON or YAML).
func LoadFile(path string) error {
	SetDefaults()
	bindEnv()

	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// IsNotFound reports whether err means no config file was found in the
// searched directories.
func IsNotFound(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf)
}

func bindEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// BindFlags binds command-line flags to config keys. bindings maps a config
// key to the flag name; flags that are not defined are an error.
func BindFlags(fs *pflag.FlagSet, bindings map[string]string) error {
	for key, name := range bindings {
		flag := fs.Lookup(name)
		if flag == nil {
			return fmt.Errorf("flag %q for key %q is not defined", name, key)
		}
		if err := viper.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %q: %w", name, err)
		}
	}
	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetUint64 returns an unsigned config value.
func GetUint64(key string) uint64 {
	return viper.GetUint64(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetGeneratorConfig returns the synthesis settings.
func GetGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Mode:                strings.ToLower(viper.GetString("generator.mode")),
		Duration:            time.Duration(viper.GetFloat64("generator.durationSeconds") * float64(time.Second)),
		TargetCountPerClass: viper.GetInt("generator.targetCountPerClass"),
		FleetSize:           viper.GetInt("generator.fleetSize"),
		JitterFraction:      viper.GetFloat64("generator.jitterFraction"),
		Output:              viper.GetString("generator.output"),
		Compress:            viper.GetBool("generator.compress"),
		Profiles:            viper.GetString("generator.profiles"),
		Sink:                viper.GetString("generator.sink"),
		Upload:              viper.GetBool("generator.upload"),
	}
}

// GetReplayConfig returns the replay settings.
func GetReplayConfig() ReplayConfig {
	return ReplayConfig{
		Input:          viper.GetString("replay.input"),
		TimestampField: viper.GetString("replay.timestampField"),
		Speed:          viper.GetFloat64("replay.speed"),
		Sink:           viper.GetString("replay.sink"),
	}
}

// GetSinkConfig returns the transport settings for the given sink kind.
func GetSinkConfig(kind string) transport.Config {
	return transport.Config{
		Kind:   kind,
		Addr:   viper.GetString("sink.udp.address"),
		Path:   sinkPath(kind),
		URL:    viper.GetString("sink.websocket.url"),
		Secret: viper.GetString("sink.websocket.secret"),
		Serial: transport.PortOptions{BaudRate: viper.GetInt("sink.serial.baud")},
	}
}

func sinkPath(kind string) string {
	if kind == transport.KindSerial {
		return viper.GetString("sink.serial.port")
	}
	return viper.GetString("sink.pcap.path")
}

// GetIngestConfig returns the ingestion server settings.
func GetIngestConfig() IngestConfig {
	return IngestConfig{
		UDPAddress:    viper.GetString("ingest.udpAddress"),
		HTTPAddress:   viper.GetString("ingest.httpAddress"),
		BatchInterval: viper.GetDuration("ingest.batchInterval"),
		BufferSize:    viper.GetInt("ingest.bufferSize"),
		HistorySize:   viper.GetInt("ingest.historySize"),
		Secret:        viper.GetString("ingest.secret"),
	}
}

// GetDatabaseConfig returns the gorm connection settings for driver.
func GetDatabaseConfig(driver string) database.Config {
	return database.Config{
		Driver:       driver,
		Path:         viper.GetString("storage.sqlite.path"),
		DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
		DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		Host:         viper.GetString("db.host"),
		Port:         viper.GetString("db.port"),
		Username:     viper.GetString("db.username"),
		Password:     viper.GetString("db.password"),
		Database:     viper.GetString("db.database"),
	}
}

// GetStorageConfig returns the storage backend settings.
func GetStorageConfig() storage.Config {
	typ := strings.ToLower(viper.GetString("storage.type"))
	driver := typ
	if typ == "gorm" {
		driver = database.DriverSQLite
	}
	return storage.Config{
		Type: typ,
		Memory: memory.Config{
			MaxRecords: viper.GetInt("storage.memory.maxRecords"),
			ExportPath: viper.GetString("storage.memory.exportPath"),
			Compress:   viper.GetBool("storage.memory.compress"),
		},
		Database: GetDatabaseConfig(driver),
	}
}

// GetInfluxConfig returns the InfluxDB settings.
func GetInfluxConfig() influx.Config {
	return influx.Config{
		Enabled:    viper.GetBool("influx.enabled"),
		Protocol:   viper.GetString("influx.protocol"),
		Host:       viper.GetString("influx.host"),
		Port:       viper.GetString("influx.port"),
		Token:      viper.GetString("influx.token"),
		Org:        viper.GetString("influx.org"),
		BackupPath: viper.GetString("influx.backupPath"),
	}
}

// GetGraylogConfig returns the GELF settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetAPIConfig returns the upload target.
func GetAPIConfig() APIConfig {
	return APIConfig{
		ServerURL: viper.GetString("api.serverUrl"),
		APIKey:    viper.GetString("api.apiKey"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings. Writers are left for
// the caller to fill in.
func GetOTelConfig() otel.Config {
	return otel.Config{
		Enabled:        viper.GetBool("otel.enabled"),
		ServiceName:    viper.GetString("otel.serviceName"),
		BatchTimeout:   viper.GetDuration("otel.batchTimeout"),
		MetricInterval: viper.GetDuration("otel.metricInterval"),
		Endpoint:       viper.GetString("otel.endpoint"),
		Insecure:       viper.GetBool("otel.insecure"),
	}
}
