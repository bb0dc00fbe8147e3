package analog

import (
	"errors"
	"fmt"
	"time"

	"github.com/goburrow/modbus"
)

// ErrShortResponse is returned when a device answers with fewer registers
// than asked for.
var ErrShortResponse = errors.New("analog: short modbus response")

// Registers reads a block of input registers.
type Registers interface {
	ReadInputRegisters(addr, qty uint16) ([]uint16, error)
	Close() error
}

// TCP reads input registers from a Modbus TCP device. It connects on first
// use and reconnects after a failed read.
type TCP struct {
	handler   *modbus.TCPClientHandler
	client    modbus.Client
	connected bool
}

// NewTCP creates a reader for the device at address (host:port).
func NewTCP(address string, slaveID uint8, timeout time.Duration) (*TCP, error) {
	if address == "" {
		return nil, errors.New("analog: modbus address required")
	}
	h := modbus.NewTCPClientHandler(address)
	h.Timeout = timeout
	h.SlaveId = slaveID
	return &TCP{handler: h, client: modbus.NewClient(h)}, nil
}

func (c *TCP) ReadInputRegisters(addr, qty uint16) ([]uint16, error) {
	if !c.connected {
		if err := c.handler.Connect(); err != nil {
			return nil, fmt.Errorf("connect %s: %w", c.handler.Address, err)
		}
		c.connected = true
	}

	raw, err := c.client.ReadInputRegisters(addr, qty)
	if err != nil {
		_ = c.handler.Close()
		c.connected = false
		return nil, fmt.Errorf("read %d@%d: %w", qty, addr, err)
	}
	return unpackRegisters(raw, int(qty))
}

func (c *TCP) Close() error {
	c.connected = false
	return c.handler.Close()
}

func unpackRegisters(raw []byte, qty int) ([]uint16, error) {
	if len(raw) < 2*qty {
		return nil, fmt.Errorf("%d bytes for %d registers: %w", len(raw), qty, ErrShortResponse)
	}
	out := make([]uint16, qty)
	for i := range out {
		out[i] = uint16(raw[2*i])<<8 | uint16(raw[2*i+1])
	}
	return out, nil
}

// Fake serves fixed register values.
type Fake struct {
	Values []uint16
	Err    error
	Reads  int
	Closed bool
}

func (f *Fake) ReadInputRegisters(addr, qty uint16) ([]uint16, error) {
	f.Reads++
	if f.Err != nil {
		return nil, f.Err
	}
	end := int(addr) + int(qty)
	if end > len(f.Values) {
		return nil, fmt.Errorf("%d@%d: %w", qty, addr, ErrShortResponse)
	}
	out := make([]uint16, qty)
	copy(out, f.Values[addr:end])
	return out, nil
}

func (f *Fake) Close() error {
	f.Closed = true
	return nil
}
