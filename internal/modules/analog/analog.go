// Package analog publishes analog input readings taken from Modbus input
// registers, one register per channel.
//
//	A0<ch><sum> - publish channel ch
//	A1<ch><sum> - publish every channel
package analog

import (
	"fmt"
	"strconv"
	"time"

	"github.com/sweeney/homectl/internal/cmnd"
	"github.com/sweeney/homectl/internal/codec"
	"github.com/sweeney/homectl/internal/modules"
	"go.uber.org/zap"
)

const (
	Letter = 'A'
	Name   = "ANALOG"
)

const (
	cmdRead = iota
	cmdReadAll
)

type Module struct {
	env      modules.Env
	regs     Registers
	base     uint16
	channels int
	interval time.Duration
	next     time.Time
}

// New creates the module. Channel i is input register base+i. interval is
// the periodic publish interval (0 disables).
func New(env modules.Env, regs Registers, base uint16, channels int, interval time.Duration) *Module {
	return &Module{
		env:      env.Named("analog"),
		regs:     regs,
		base:     base,
		channels: channels,
		interval: interval,
	}
}

func (m *Module) Descriptor() cmnd.Descriptor {
	return cmnd.Descriptor{
		Name:     Name,
		Letter:   Letter,
		Channels: m.channels,
		Init:     m.Init,
		Decode:   m.Decode,
		Execute:  m.Execute,
	}
}

// Init schedules the first periodic publish. The device is not contacted
// until then, so a missing device does not stop the module loading.
func (m *Module) Init() error {
	m.next = m.env.Now().Add(m.interval)
	return nil
}

func (m *Module) Decode(payload []byte) (cmnd.State, int, error) {
	r := codec.NewReader(payload)

	cmd, err := r.Digit()
	if err != nil {
		return cmnd.State{}, r.Pos(), err
	}
	if cmd > cmdReadAll {
		return cmnd.State{}, r.Pos(), fmt.Errorf("command %d: %w", cmd, codec.ErrOutOfRange)
	}
	ch, err := r.Channel()
	if err != nil {
		return cmnd.State{}, r.Pos(), err
	}
	if int(ch) >= m.channels {
		return cmnd.State{}, r.Pos(), fmt.Errorf("channel %d of %d: %w", ch, m.channels, codec.ErrOutOfRange)
	}
	sum, err := r.Sum(cmd, int(ch))
	if err != nil {
		return cmnd.State{}, r.Pos(), err
	}
	return cmnd.State{Command: uint8(cmd), Channel: ch, Sum: sum}, r.Pos(), nil
}

func (m *Module) Execute(s cmnd.State) error {
	switch s.Command {
	case cmdRead:
		vals, err := m.regs.ReadInputRegisters(m.base+uint16(s.Channel), 1)
		if err != nil {
			return fmt.Errorf("channel %d: %w: %v", s.Channel, modules.ErrHardware, err)
		}
		m.env.Publish(m.env.Topics.AnalogChannel(int(s.Channel)), strconv.Itoa(int(vals[0])))
		return nil
	case cmdReadAll:
		return m.publishAll()
	}
	return modules.UnknownCommand(s)
}

// Periodic publishes every channel once per interval.
func (m *Module) Periodic(now time.Time) {
	if m.interval <= 0 || now.Before(m.next) {
		return
	}
	m.next = now.Add(m.interval)
	if err := m.publishAll(); err != nil {
		m.env.Log.Warn("periodic read", zap.Error(err))
		m.env.Debugf("ANALOG: %v", err)
	}
}

// Close releases the device connection.
func (m *Module) Close() error {
	return m.regs.Close()
}

func (m *Module) publishAll() error {
	vals, err := m.regs.ReadInputRegisters(m.base, uint16(m.channels))
	if err != nil {
		return fmt.Errorf("%w: %v", modules.ErrHardware, err)
	}
	for i, v := range vals {
		m.env.Publish(m.env.Topics.AnalogChannel(i), strconv.Itoa(int(v)))
	}
	return nil
}
