package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/tracksynth/tracksynth/internal/config"
	"github.com/tracksynth/tracksynth/internal/influx"
	"github.com/tracksynth/tracksynth/internal/ingest"
	"github.com/tracksynth/tracksynth/internal/storage"
)

var ingestBindings = map[string]string{
	"ingest.udpAddress":    "udp",
	"ingest.httpAddress":   "http",
	"ingest.batchInterval": "batch-interval",
	"ingest.bufferSize":    "buffer-size",
	"ingest.historySize":   "history-size",
	"ingest.secret":        "secret",
	"storage.type":         "storage",
	"storage.sqlite.path":  "sqlite-path",
}

func ingestFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("ingest", pflag.ContinueOnError)
	commonFlags(fs)
	fs.String("udp", "0.0.0.0:5005", "UDP listen address")
	fs.String("http", ":8080", "HTTP listen address")
	fs.Duration("batch-interval", ingest.DefaultBatchInterval, "flush period")
	fs.Int("buffer-size", ingest.DefaultBufferSize, "records held between flushes")
	fs.Int("history-size", ingest.DefaultHistorySize, "records sent to a new viewer")
	fs.String("secret", "", "secret required from producers and uploaders")
	fs.String("storage", "memory", "storage backend: memory, sqlite, postgres")
	fs.String("sqlite-path", "", "sqlite database file; empty keeps it in memory")
	return fs
}

func runIngest(ctx context.Context, args []string, _ io.Writer) error {
	fs := ingestFlags()
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := loadConfig(fs, ingestBindings); err != nil {
		return err
	}
	if err := initLogging("", "ingest"); err != nil {
		return err
	}
	defer shutdown()

	storageCfg := config.GetStorageConfig()
	store, err := storage.NewBackend(storageCfg, ZLogger)
	if err != nil {
		return err
	}
	if err := store.Init(); err != nil {
		return fmt.Errorf("storage %s: %w", storageCfg.Type, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			Logger.Error("Failed to close storage", "error", err)
		}
	}()
	Logger.Info("Storage backend initialized", "type", storageCfg.Type)

	var opts []ingest.Option
	im := influx.NewManager(config.GetInfluxConfig(), ZLogger)
	if err := im.Connect(ctx); err != nil {
		if !errors.Is(err, influx.ErrDisabled) {
			Logger.Warn("InfluxDB unavailable, latency series disabled", "error", err)
		}
	} else {
		defer im.Close()
		opts = append(opts, ingest.WithInflux(im))
	}

	ic := config.GetIngestConfig()
	srv, err := ingest.New(ingest.Config{
		UDPAddress:    ic.UDPAddress,
		HTTPAddress:   ic.HTTPAddress,
		BatchInterval: ic.BatchInterval,
		BufferSize:    ic.BufferSize,
		HistorySize:   ic.HistorySize,
		Secret:        ic.Secret,
	}, store, ZLogger, opts...)
	if err != nil {
		return err
	}

	Logger.Info("Ingest server listening", "udp", ic.UDPAddress, "http", ic.HTTPAddress)
	return srv.Run(ctx)
}
