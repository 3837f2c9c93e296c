package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// ErrUnknownSink is returned by Open for an unsupported sink kind.
var ErrUnknownSink = errors.New("unknown sink")

// Sink kinds accepted by Open.
const (
	KindNone      = "none"
	KindUDP       = "udp"
	KindSerial    = "serial"
	KindPcap      = "pcap"
	KindWebSocket = "websocket"
	KindStdout    = "stdout"
)

// Config selects and configures a sink.
type Config struct {
	Kind   string      `json:"kind" mapstructure:"kind"`
	Addr   string      `json:"addr" mapstructure:"addr"`
	Path   string      `json:"path" mapstructure:"path"`
	URL    string      `json:"url" mapstructure:"url"`
	Secret string      `json:"secret" mapstructure:"secret"`
	Serial PortOptions `json:"serial" mapstructure:"serial"`
}

// Open creates the sink described by cfg. Kind "none" (or empty) returns
// nil without error.
func Open(cfg Config, logger *slog.Logger) (Sink, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", KindNone:
		return nil, nil
	case KindUDP:
		s, err := DialUDP(cfg.Addr)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindSerial:
		if cfg.Path == "" {
			return nil, fmt.Errorf("serial sink needs a port path")
		}
		s, err := OpenSerial(cfg.Path, cfg.Serial)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindPcap:
		if cfg.Path == "" {
			return nil, fmt.Errorf("pcap sink needs an output path")
		}
		s, err := CreatePcap(cfg.Path, PcapOptions{})
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindWebSocket:
		if cfg.URL == "" {
			return nil, fmt.Errorf("websocket sink needs a URL")
		}
		s, err := DialWebSocket(cfg.URL, cfg.Secret, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindStdout:
		return NewLines(os.Stdout), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSink, cfg.Kind)
	}
}

// Lines writes one JSON object per line to w.
type Lines struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLines returns a Lines sink writing to w.
func NewLines(w io.Writer) *Lines {
	return &Lines{w: w}
}

func (l *Lines) Send(_ context.Context, v any) error {
	data, err := marshal(v)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.w.Write(append(data, '\n'))
	return err
}

func (l *Lines) Close() error { return nil }
