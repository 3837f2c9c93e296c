package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DefaultUDPAddr is where the ingest server listens by default.
const DefaultUDPAddr = "127.0.0.1:5005"

// UDP sends every record as one JSON datagram.
type UDP struct {
	conn         net.Conn
	writeTimeout time.Duration
}

// DialUDP connects a UDP sink to addr.
func DialUDP(addr string) (*UDP, error) {
	if addr == "" {
		addr = DefaultUDPAddr
	}
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udp dial %s: %w", addr, err)
	}
	return &UDP{conn: conn, writeTimeout: time.Second}, nil
}

func (u *UDP) Send(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := marshal(v)
	if err != nil {
		return err
	}
	if err := u.conn.SetWriteDeadline(time.Now().Add(u.writeTimeout)); err != nil {
		return fmt.Errorf("udp set deadline: %w", err)
	}
	if _, err := u.conn.Write(data); err != nil {
		return fmt.Errorf("udp write: %w", err)
	}
	return nil
}

// LocalAddr returns the local address of the socket.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

func (u *UDP) Close() error {
	return u.conn.Close()
}
