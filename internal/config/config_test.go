package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracksynth/tracksynth/internal/database"
	"github.com/tracksynth/tracksynth/internal/transport"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"seed": 42,
		"db": { "host": "10.0.0.1", "port": "5433" }
	}`)

	require.NoError(t, Load(dir))

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, 42, GetInt("seed"))
	assert.Equal(t, "10.0.0.1", viper.GetString("db.host"))
	assert.Equal(t, "5433", viper.GetString("db.port"))
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "", viper.GetString("logsDir"))
	assert.Equal(t, "duration", viper.GetString("generator.mode"))
	assert.Equal(t, 10, viper.GetInt("generator.durationSeconds"))
	assert.Equal(t, 1000, viper.GetInt("generator.targetCountPerClass"))
	assert.InDelta(t, 0.10, viper.GetFloat64("generator.jitterFraction"), 1e-9)
	assert.Equal(t, "timestamp", viper.GetString("replay.timestampField"))
	assert.InDelta(t, 1.0, viper.GetFloat64("replay.speed"), 1e-9)
	assert.Equal(t, "127.0.0.1:5005", viper.GetString("sink.udp.address"))
	assert.Equal(t, 4800, viper.GetInt("sink.serial.baud"))
	assert.Equal(t, "100ms", viper.GetString("ingest.batchInterval"))
	assert.Equal(t, 1000, viper.GetInt("ingest.historySize"))
	assert.Equal(t, "localhost", viper.GetString("db.host"))
	assert.Equal(t, "5432", viper.GetString("db.port"))
	assert.Equal(t, "postgres", viper.GetString("db.username"))
	assert.Equal(t, "tracksynth", viper.GetString("db.database"))
	assert.Equal(t, false, viper.GetBool("graylog.enabled"))
	assert.Equal(t, "localhost:12201", viper.GetString("graylog.address"))
	assert.Equal(t, "memory", viper.GetString("storage.type"))
	assert.Equal(t, "3m", viper.GetString("storage.sqlite.dumpInterval"))
	assert.Equal(t, false, viper.GetBool("otel.enabled"))
	assert.Equal(t, "tracksynth", viper.GetString("otel.serviceName"))
	assert.Equal(t, true, viper.GetBool("otel.insecure"))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
	assert.True(t, IsNotFound(err))

	// defaults stay usable
	assert.Equal(t, "info", GetString("logLevel"))
}

func TestLoadFile_YAML(t *testing.T) {
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("replay:\n  speed: 4\n  sink: pcap\n"), 0644))
	require.NoError(t, LoadFile(path))

	rc := GetReplayConfig()
	assert.InDelta(t, 4.0, rc.Speed, 1e-9)
	assert.Equal(t, "pcap", rc.Sink)
	assert.Equal(t, "dataset.json", rc.Input)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("TRACKSYNTH_LOGLEVEL", "warn")
	t.Setenv("TRACKSYNTH_INGEST_HISTORYSIZE", "25")

	require.NoError(t, Load(writeConfig(t, `{"logLevel": "debug"}`)))

	assert.Equal(t, "warn", GetString("logLevel"))
	assert.Equal(t, 25, GetIngestConfig().HistorySize)
}

func TestBindFlags(t *testing.T) {
	t.Cleanup(viper.Reset)
	SetDefaults()

	fs := pflag.NewFlagSet("replay", pflag.ContinueOnError)
	fs.Float64("speed", 1, "")
	fs.String("sink", "udp", "")
	require.NoError(t, BindFlags(fs, map[string]string{
		"replay.speed": "speed",
		"replay.sink":  "sink",
	}))
	require.NoError(t, fs.Parse([]string{"--speed", "2.5"}))

	rc := GetReplayConfig()
	assert.InDelta(t, 2.5, rc.Speed, 1e-9)
	// unchanged flags fall through to the defaults
	assert.Equal(t, "udp", rc.Sink)
}

func TestBindFlags_UndefinedFlag(t *testing.T) {
	t.Cleanup(viper.Reset)

	fs := pflag.NewFlagSet("x", pflag.ContinueOnError)
	err := BindFlags(fs, map[string]string{"replay.speed": "speed"})
	assert.Error(t, err)
}

func TestGetString(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	assert.Equal(t, "testValue", GetString("testKey"))
}

func TestGetBool(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testBool", true)
	assert.Equal(t, true, GetBool("testBool"))
}

func TestGetGeneratorConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"generator": { "mode": "QUOTA", "durationSeconds": 2.5, "fleetSize": 7, "sink": "udp" }
	}`)))

	gc := GetGeneratorConfig()
	assert.Equal(t, "quota", gc.Mode)
	assert.Equal(t, 2500*time.Millisecond, gc.Duration)
	assert.Equal(t, 7, gc.FleetSize)
	assert.Equal(t, 1000, gc.TargetCountPerClass)
	assert.Equal(t, "dataset.json", gc.Output)
	assert.Equal(t, transport.KindUDP, gc.Sink)
}

func TestGetSinkConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"sink": { "serial": { "port": "/dev/ttyUSB0", "baud": 38400 }, "pcap": { "path": "out.pcap" } }
	}`)))

	serial := GetSinkConfig(transport.KindSerial)
	assert.Equal(t, "/dev/ttyUSB0", serial.Path)
	assert.Equal(t, 38400, serial.Serial.BaudRate)

	pcap := GetSinkConfig(transport.KindPcap)
	assert.Equal(t, "out.pcap", pcap.Path)
	assert.Equal(t, transport.DefaultUDPAddr, pcap.Addr)
}

func TestGetStorageConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetStorageConfig()
	assert.Equal(t, "memory", cfg.Type)
	assert.Equal(t, 100000, cfg.Memory.MaxRecords)
	assert.Equal(t, true, cfg.Memory.Compress)
	assert.Equal(t, 3*time.Minute, cfg.Database.DumpInterval)
}

func TestGetStorageConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"storage": {
			"type": "gorm",
			"memory": { "exportPath": "/tmp/out.json", "compress": false },
			"sqlite": { "path": "/tmp/tracks.db", "dumpInterval": "10m" }
		}
	}`)))

	sc := GetStorageConfig()
	assert.Equal(t, "gorm", sc.Type)
	assert.Equal(t, database.DriverSQLite, sc.Database.Driver)
	assert.Equal(t, "/tmp/tracks.db", sc.Database.Path)
	assert.Equal(t, "/tmp/out.json", sc.Memory.ExportPath)
	assert.Equal(t, false, sc.Memory.Compress)
	assert.Equal(t, 10*time.Minute, sc.Database.DumpInterval)
}

func TestGetInfluxConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{"influx": {"enabled": true, "port": "9999"}}`)))

	ic := GetInfluxConfig()
	assert.True(t, ic.Enabled)
	assert.Equal(t, "http://localhost:9999", ic.URL())
	assert.Equal(t, "tracksynth", ic.Org)
}

func TestGetOTelConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"otel": {
			"enabled": true,
			"serviceName": "my-service",
			"batchTimeout": "30s",
			"endpoint": "localhost:4317",
			"insecure": false
		}
	}`)))

	oc := GetOTelConfig()
	assert.Equal(t, true, oc.Enabled)
	assert.Equal(t, "my-service", oc.ServiceName)
	assert.Equal(t, 30*time.Second, oc.BatchTimeout)
	assert.Equal(t, 30*time.Second, oc.MetricInterval)
	assert.Equal(t, "localhost:4317", oc.Endpoint)
	assert.Equal(t, false, oc.Insecure)
}
