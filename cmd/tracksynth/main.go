package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/tracksynth/tracksynth/internal/config"
	"github.com/tracksynth/tracksynth/internal/logging"
	intOtel "github.com/tracksynth/tracksynth/internal/otel"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.1.0"
	BuildDate      string = "unknown"

	AppName string = "tracksynth"
)

// global variables
var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager = logging.NewSlogManager()

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger = slog.Default()

	// ZLogger is handed to the zerolog based managers (storage, InfluxDB, ingest)
	ZLogger zerolog.Logger = zerolog.Nop()

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	SessionStartTime time.Time = time.Now()

	// LogFile is the session log file, nil when logging to the console
	LogFile *os.File
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, args []string, out io.Writer) error
}

var commands = []command{
	{"generate", "synthesize a telemetry dataset", runGenerate},
	{"replay", "send a dataset to a sink at its recorded pace", runReplay},
	{"ingest", "run the ingestion server", runIngest},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		usage(out)
		return errors.New("no command given")
	}
	name := strings.ToLower(args[0])
	switch name {
	case "help", "-h", "--help":
		usage(out)
		return nil
	case "version", "--version":
		fmt.Fprintf(out, "%s %s (built %s)\n", AppName, CurrentVersion, BuildDate)
		return nil
	}
	for _, c := range commands {
		if c.name == name {
			return c.run(ctx, args[1:], out)
		}
	}
	usage(out)
	return fmt.Errorf("unknown command %q", args[0])
}

func usage(out io.Writer) {
	fmt.Fprintf(out, "usage: %s <command> [flags]\n\ncommands:\n", AppName)
	for _, c := range commands {
		fmt.Fprintf(out, "  %-10s %s\n", c.name, c.summary)
	}
}

// commonFlags adds the flags every command accepts.
func commonFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (default ./"+config.FileName+")")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("logs-dir", "", "write the session log into this directory instead of stdout")
}

var commonBindings = map[string]string{
	"logLevel": "log-level",
	"logsDir":  "logs-dir",
}

// loadConfig reads defaults, the config file and the environment, then binds
// the command's flags on top.
func loadConfig(fs *pflag.FlagSet, bindings ...map[string]string) error {
	viper.Reset()

	var err error
	if path, _ := fs.GetString("config"); path != "" {
		err = config.LoadFile(path)
	} else {
		err = config.Load(".")
		if config.IsNotFound(err) {
			err = nil
		}
	}
	if err != nil {
		return err
	}

	all := make(map[string]string, len(commonBindings))
	for _, m := range append([]map[string]string{commonBindings}, bindings...) {
		for k, v := range m {
			all[k] = v
		}
	}
	return config.BindFlags(fs, all)
}

// initLogging opens the session log, starts the OTel provider if enabled and
// sets up the slog and zerolog loggers.
func initLogging(runID, mode string) error {
	SessionStartTime = time.Now()

	var out io.Writer
	if dir := config.GetString("logsDir"); dir != "" {
		f, err := logging.OpenLogFile(dir, AppName, SessionStartTime)
		if err != nil {
			return err
		}
		LogFile = f
		out = f
	}

	level := config.GetString("logLevel")
	if err := initOTel(out); err != nil {
		return err
	}

	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}

	gl := config.GetGraylogConfig()
	if gl.Enabled {
		if err := SlogManager.SetupGraylog(out, level, otelLogProvider, gl.Address); err != nil {
			SlogManager.Setup(out, level, otelLogProvider)
			SlogManager.Logger().Warn("Graylog disabled", "error", err)
		}
	} else {
		SlogManager.Setup(out, level, otelLogProvider)
	}

	session := logging.Session{RunID: runID, Mode: mode, Start: SessionStartTime}
	Logger = slog.New(logging.NewSessionHandler(SlogManager.Logger().Handler(), session))
	ZLogger = logging.NewZerolog(out, level)

	if LogFile != nil {
		fmt.Fprintln(os.Stderr, "logging to", LogFile.Name())
	}
	Logger.Info("Starting", "app", AppName, "version", CurrentVersion, "build", BuildDate)
	return nil
}

func initOTel(out io.Writer) error {
	otelCfg := config.GetOTelConfig()
	if !otelCfg.Enabled {
		return nil
	}
	if out == nil {
		out = os.Stdout
	}
	otelCfg.LogWriter = out
	otelCfg.MetricWriter = out

	p, err := intOtel.New(otelCfg)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	OTelProvider = p
	return nil
}

// shutdown flushes telemetry and closes the session log.
func shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if OTelProvider != nil {
		if err := OTelProvider.Shutdown(ctx); err != nil {
			Logger.Warn("OTel shutdown", "error", err)
		}
		OTelProvider = nil
	}
	if err := SlogManager.Close(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "closing log:", err)
	}
	if LogFile != nil {
		_ = LogFile.Close()
		LogFile = nil
	}
}
