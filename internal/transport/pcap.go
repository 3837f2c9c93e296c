package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const pcapSnapLen = 65536

// PcapOptions sets the addressing of the synthesized frames.
type PcapOptions struct {
	SrcIP   net.IP
	DstIP   net.IP
	SrcPort uint16
	DstPort uint16
	// Now stamps the capture time of each frame; defaults to time.Now.
	Now func() time.Time
}

func (o PcapOptions) withDefaults() PcapOptions {
	if o.SrcIP == nil {
		o.SrcIP = net.IPv4(127, 0, 0, 1)
	}
	if o.DstIP == nil {
		o.DstIP = net.IPv4(127, 0, 0, 1)
	}
	if o.SrcPort == 0 {
		o.SrcPort = 50000
	}
	if o.DstPort == 0 {
		o.DstPort = 5005
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Pcap writes every record as the JSON payload of an Ethernet/IPv4/UDP frame
// into a pcap capture, so a replay can be inspected with packet tools.
type Pcap struct {
	mu   sync.Mutex
	f    *os.File
	w    *pcapgo.Writer
	opts PcapOptions
	seq  uint16
}

// CreatePcap creates (or truncates) the capture file at path.
func CreatePcap(path string, opts PcapOptions) (*Pcap, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create pcap file: %w", err)
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(pcapSnapLen, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &Pcap{f: f, w: w, opts: opts.withDefaults()}, nil
}

func (p *Pcap) Send(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := marshal(v)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	frame, err := p.frame(payload, p.seq)
	if err != nil {
		return err
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     p.opts.Now(),
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	if err := p.w.WritePacket(ci, frame); err != nil {
		return fmt.Errorf("write pcap packet: %w", err)
	}
	return nil
}

func (p *Pcap) frame(payload []byte, id uint16) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Id:       id,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    p.opts.SrcIP.To4(),
		DstIP:    p.opts.DstIP.To4(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(p.opts.SrcPort),
		DstPort: layers.UDPPort(p.opts.DstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("pcap checksum layer: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("serialize frame: %w", err)
	}
	return buf.Bytes(), nil
}

func (p *Pcap) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.f.Close()
}
