package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"

	"github.com/tracksynth/tracksynth/internal/config"
	"github.com/tracksynth/tracksynth/internal/dataset"
	"github.com/tracksynth/tracksynth/internal/replay"
	"github.com/tracksynth/tracksynth/internal/transport"
)

var replayBindings = map[string]string{
	"replay.input":          "input",
	"replay.timestampField": "timestamp-field",
	"replay.speed":          "speed",
	"replay.sink":           "sink",
}

// sinkBindings are shared by the commands that can write to a sink.
var sinkBindings = map[string]string{
	"sink.udp.address":      "udp-address",
	"sink.serial.port":      "serial-port",
	"sink.serial.baud":      "serial-baud",
	"sink.pcap.path":        "pcap-path",
	"sink.websocket.url":    "ws-url",
	"sink.websocket.secret": "ws-secret",
}

func sinkFlags(fs *pflag.FlagSet) {
	fs.String("udp-address", transport.DefaultUDPAddr, "UDP destination")
	fs.String("serial-port", "", "serial device for the serial sink")
	fs.Int("serial-baud", 4800, "serial baud rate")
	fs.String("pcap-path", "capture.pcap", "capture file for the pcap sink")
	fs.String("ws-url", "ws://localhost:8080/ws/ingest", "ingest websocket URL")
	fs.String("ws-secret", "", "ingest secret for the websocket sink")
}

func replayFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("replay", pflag.ContinueOnError)
	commonFlags(fs)
	fs.StringP("input", "i", "dataset.json", "dataset file to replay (plain or gzip)")
	fs.String("timestamp-field", replay.DefaultTimestampField, "record field the pacing is derived from")
	fs.Float64("speed", 1, "playback speed factor")
	fs.String("sink", transport.KindUDP, "destination: udp, serial, pcap, websocket, stdout")
	sinkFlags(fs)
	return fs
}

func runReplay(ctx context.Context, args []string, out io.Writer) error {
	fs := replayFlags()
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := loadConfig(fs, replayBindings, sinkBindings); err != nil {
		return err
	}

	cfg := config.GetReplayConfig()
	if err := initLogging("", "replay"); err != nil {
		return err
	}
	defer shutdown()

	if cfg.Sink == "" || cfg.Sink == transport.KindNone {
		return fmt.Errorf("replay needs a sink")
	}

	records, err := dataset.Read(cfg.Input)
	if err != nil {
		return err
	}
	items, dropped := replay.Prepare(records, cfg.TimestampField, SlogManager.Component("replay"))
	Logger.Info("Dataset loaded", "path", cfg.Input, "records", len(records), "replayable", len(items), "dropped", dropped)

	sink, err := transport.Open(config.GetSinkConfig(cfg.Sink), SlogManager.Component("sink"))
	if err != nil {
		return err
	}
	defer sink.Close()

	r, err := replay.New(sink,
		replay.WithSpeed(cfg.Speed),
		replay.WithLogger(SlogManager.Component("replay")),
	)
	if err != nil {
		return err
	}

	summary, err := r.Run(ctx, items)
	printSummary(out, summary, dropped)
	if err != nil && !summary.Interrupted {
		return err
	}
	return nil
}

func printSummary(out io.Writer, s replay.Summary, dropped int) {
	fmt.Fprintf(out, "sent %d of %d records (%d failed, %d dropped) in %s\n",
		s.Sent, s.Total, s.Failed, dropped, s.Elapsed.Round(time.Millisecond))
	if s.Sent+s.Failed > 0 {
		fmt.Fprintf(out, "lateness: mean %s, stddev %s, max %s\n",
			s.MeanLateness.Round(time.Microsecond), s.StdLateness.Round(time.Microsecond), s.MaxLateness.Round(time.Microsecond))
	}
	if s.Interrupted {
		fmt.Fprintln(out, "interrupted")
	}
}
