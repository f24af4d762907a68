package ness

import (
	"context"
	"io"
	"net"
	"time"

	"go.bug.st/serial"
)

// Connection is the full-duplex byte stream the client talks to the panel
// over. Tests inject their own implementation.
type Connection interface {
	io.ReadWriteCloser
}

// Dialer opens a Connection. The client redials through it on reconnect.
type Dialer interface {
	Dial(ctx context.Context) (Connection, error)
}

// TCPDialer connects to a panel reachable over an ethernet bridge, usually
// a serial-to-IP converter in front of the panel's ASCII bus.
type TCPDialer struct {
	Addr    string
	Timeout time.Duration
}

func (d TCPDialer) Dial(ctx context.Context) (Connection, error) {
	timeout := d.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	conn, err := net.DialTimeout("tcp", d.Addr, timeout)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// SerialDialer opens the panel's serial bus directly. The panel talks
// 9600 8-N-1; both are overridable for unusual wiring.
type SerialDialer struct {
	Port     string
	BaudRate int
}

func (d SerialDialer) Dial(_ context.Context) (Connection, error) {
	baud := d.BaudRate
	if baud == 0 {
		baud = 9600
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return serial.Open(d.Port, mode)
}
