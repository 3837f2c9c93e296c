package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/tracksynth/tracksynth/internal/api"
	"github.com/tracksynth/tracksynth/internal/config"
	"github.com/tracksynth/tracksynth/internal/dataset"
	"github.com/tracksynth/tracksynth/internal/fleet"
	"github.com/tracksynth/tracksynth/internal/influx"
	"github.com/tracksynth/tracksynth/internal/scheduler"
	"github.com/tracksynth/tracksynth/internal/transport"
	"github.com/tracksynth/tracksynth/pkg/core"
)

// Generation modes.
const (
	ModeDuration = "duration"
	ModeQuota    = "quota"
)

const uploadTimeout = 5 * time.Minute

var generateBindings = map[string]string{
	"seed":                          "seed",
	"generator.mode":                "mode",
	"generator.durationSeconds":     "duration",
	"generator.targetCountPerClass": "count",
	"generator.fleetSize":           "fleet-size",
	"generator.jitterFraction":      "jitter",
	"generator.output":              "output",
	"generator.compress":            "compress",
	"generator.profiles":            "profiles",
	"generator.sink":                "sink",
	"generator.upload":              "upload",
	"api.serverUrl":                 "server",
}

func generateFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("generate", pflag.ContinueOnError)
	commonFlags(fs)
	fs.Uint64("seed", 0, "random seed; 0 picks one and logs it")
	fs.String("mode", ModeDuration, "generation mode: duration or quota")
	fs.Float64("duration", 10, "simulated seconds (duration mode)")
	fs.Int("count", 1000, "records per class (quota mode)")
	fs.Int("fleet-size", 0, "entities per class; 0 keeps the profile default")
	fs.Float64("jitter", scheduler.DefaultJitterFraction, "interval jitter fraction in [0,1)")
	fs.StringP("output", "o", "dataset.json", "dataset file; .gz compresses")
	fs.Bool("compress", false, "gzip the dataset")
	fs.String("profiles", "", "YAML file overriding the class profiles")
	fs.String("sink", transport.KindNone, "stream records while generating: none, udp, serial, pcap, websocket, stdout")
	sinkFlags(fs)
	fs.Bool("upload", false, "upload the dataset to the ingest server when done")
	fs.String("server", "http://localhost:8080", "ingest server URL for --upload")
	return fs
}

// generation is the outcome of one generator run.
type generation struct {
	RunID       string
	Mode        string
	Seed        uint64
	Records     []core.Record
	Failures    int
	Elapsed     time.Duration
	Interrupted bool
}

func runGenerate(ctx context.Context, args []string, out io.Writer) error {
	fs := generateFlags()
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := loadConfig(fs, generateBindings, sinkBindings); err != nil {
		return err
	}

	cfg := config.GetGeneratorConfig()
	runID := uuid.NewString()
	if err := initLogging(runID, cfg.Mode); err != nil {
		return err
	}
	defer shutdown()

	seed := config.GetUint64("seed")
	if seed == 0 {
		seed = rand.Uint64()
	}

	sink, err := transport.Open(config.GetSinkConfig(cfg.Sink), SlogManager.Component("sink"))
	if err != nil {
		return err
	}
	if sink != nil {
		defer sink.Close()
	}

	gen, err := generate(ctx, cfg, runID, seed, sink)
	if err != nil {
		return err
	}

	if err := dataset.Write(cfg.Output, gen.Records, cfg.Compress); err != nil {
		return fmt.Errorf("writing dataset: %w", err)
	}
	Logger.Info("Dataset written", "path", cfg.Output, "records", len(gen.Records))
	recordGeneration(ctx, gen)

	fmt.Fprintf(out, "run %s: %d records (%d encoding failures) in %s -> %s\n",
		gen.RunID, len(gen.Records), gen.Failures, gen.Elapsed.Round(time.Millisecond), cfg.Output)
	for _, line := range classCounts(gen.Records) {
		fmt.Fprintln(out, "  "+line)
	}
	if gen.Interrupted {
		fmt.Fprintln(out, "interrupted: dataset holds the records produced so far")
		return nil
	}

	if cfg.Upload {
		return upload(ctx, cfg.Output, gen, out)
	}
	return nil
}

// generate builds the fleet and runs the scheduler. An interrupted run is
// not an error; the partial records are returned.
func generate(ctx context.Context, cfg config.GeneratorConfig, runID string, seed uint64, sink transport.Sink) (generation, error) {
	gen := generation{RunID: runID, Mode: cfg.Mode, Seed: seed}

	strategy := fleet.Fixed
	switch cfg.Mode {
	case ModeDuration:
	case ModeQuota:
		strategy = fleet.Recycled
	default:
		return gen, fmt.Errorf("unknown generation mode %q", cfg.Mode)
	}

	profiles, err := fleet.ProfilesFor(strategy)
	if err != nil {
		return gen, err
	}
	if cfg.Profiles != "" {
		if profiles, err = fleet.LoadProfiles(cfg.Profiles, profiles); err != nil {
			return gen, err
		}
	}
	profiles = fleet.WithCount(profiles, cfg.FleetSize)

	rng := rand.New(rand.NewPCG(seed, seed^0x5eed))
	f, err := fleet.New(profiles, rng)
	if err != nil {
		return gen, err
	}

	opts := []scheduler.Option{
		scheduler.WithJitter(cfg.JitterFraction),
		scheduler.WithLogger(SlogManager.Component("scheduler")),
	}
	if sink != nil {
		opts = append(opts, scheduler.WithSink(sink))
	}
	s, err := scheduler.New(f, rng, opts...)
	if err != nil {
		return gen, err
	}

	Logger.Info("Generating", "seed", seed, "entities", f.Len(), "duration", cfg.Duration,
		"perClass", cfg.TargetCountPerClass)

	start := time.Now()
	if cfg.Mode == ModeQuota {
		gen.Records, err = s.RunQuota(ctx, cfg.TargetCountPerClass)
	} else {
		gen.Records, err = s.RunDuration(ctx, cfg.Duration)
	}
	gen.Elapsed = time.Since(start)
	gen.Failures = s.Failures()

	if err != nil {
		if !scheduler.IsInterrupted(err) {
			return gen, err
		}
		gen.Interrupted = true
		Logger.Warn("Generation interrupted, saving partial dataset", "records", len(gen.Records))
	}
	return gen, nil
}

func classCounts(records []core.Record) []string {
	counts := make(map[core.Class]int)
	for _, r := range records {
		counts[r.SourceType]++
	}
	lines := make([]string, 0, len(counts))
	for c, n := range counts {
		lines = append(lines, fmt.Sprintf("%s: %d", c, n))
	}
	sort.Strings(lines)
	return lines
}

// recordGeneration writes one generation point per class to InfluxDB when
// it is enabled.
func recordGeneration(ctx context.Context, gen generation) {
	m := influx.NewManager(config.GetInfluxConfig(), ZLogger)
	if err := m.Connect(ctx); err != nil {
		if !errors.Is(err, influx.ErrDisabled) {
			Logger.Warn("InfluxDB unavailable", "error", err)
		}
		return
	}
	defer m.Close()

	records := make(map[core.Class]int)
	failures := make(map[core.Class]int)
	for _, r := range gen.Records {
		records[r.SourceType]++
		if r.Failed() {
			failures[r.SourceType]++
		}
	}
	now := time.Now()
	for c, n := range records {
		p := influx.GenerationPoint(now, string(c), gen.Mode, n, failures[c], gen.Elapsed)
		if err := m.WritePoint(influx.BucketGenerator, p); err != nil {
			Logger.Warn("Failed to write generation point", "error", err)
		}
	}
}

func upload(ctx context.Context, path string, gen generation, out io.Writer) error {
	apiCfg := config.GetAPIConfig()
	client := api.New(apiCfg.ServerURL, apiCfg.APIKey)

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	if err := client.Healthcheck(ctx); err != nil {
		return fmt.Errorf("ingest server %s: %w", apiCfg.ServerURL, err)
	}
	res, err := client.Upload(ctx, path, api.UploadMetadata{
		RunID:   gen.RunID,
		Mode:    gen.Mode,
		Seed:    gen.Seed,
		Records: len(gen.Records),
	})
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	Logger.Info("Dataset uploaded", "server", apiCfg.ServerURL, "stored", res.Stored, "total", res.TotalCount)
	fmt.Fprintf(out, "uploaded %d records to %s (server total %d)\n", res.Stored, apiCfg.ServerURL, res.TotalCount)
	return nil
}
