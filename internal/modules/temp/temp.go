// Package temp publishes temperature probe readings.
//
// Commands have the form T<cmd><probe><sum>:
//
//	T0 - rescan the probes
//	T1 - start a conversion and publish every reading once it is done
//	T2 - publish the probe ids
//
// Readings are also published on a fixed interval.
package temp

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/sweeney/homectl/internal/cmnd"
	"github.com/sweeney/homectl/internal/codec"
	"github.com/sweeney/homectl/internal/modules"
	"github.com/sweeney/homectl/internal/timer"
	"go.uber.org/zap"
)

const (
	Letter = 'T'
	Name   = "TEMP"
)

const (
	cmdScan = iota
	cmdConvert
	cmdIDs
)

// Readings are clamped to the probe's range.
const (
	MinCelsius = -100
	MaxCelsius = 99
)

type Module struct {
	env        modules.Env
	sensors    Sensors
	probes     int
	conversion time.Duration
	interval   time.Duration
	next       time.Time
}

// New creates the module for probes probes. conversion is how long T1 waits
// before publishing; interval is the periodic publish interval (0 disables).
func New(env modules.Env, sensors Sensors, probes int, conversion, interval time.Duration) *Module {
	return &Module{
		env:        env.Named("temp"),
		sensors:    sensors,
		probes:     probes,
		conversion: conversion,
		interval:   interval,
	}
}

func (m *Module) Descriptor() cmnd.Descriptor {
	return cmnd.Descriptor{
		Name:     Name,
		Letter:   Letter,
		Channels: m.probes,
		Init:     m.Init,
		Decode:   m.Decode,
		Execute:  m.Execute,
	}
}

func (m *Module) Init() error {
	if err := m.sensors.Scan(); err != nil {
		return fmt.Errorf("scan probes: %w", err)
	}
	if found := len(m.sensors.IDs()); found < m.probes {
		m.env.Log.Warn("fewer probes than configured", zap.Int("found", found), zap.Int("configured", m.probes))
	}
	m.next = m.env.Now().Add(m.conversion)
	return nil
}

func (m *Module) Decode(payload []byte) (cmnd.State, int, error) {
	r := codec.NewReader(payload)

	cmd, err := r.Digit()
	if err != nil {
		return cmnd.State{}, r.Pos(), err
	}
	if cmd > cmdIDs {
		return cmnd.State{}, r.Pos(), fmt.Errorf("command %d: %w", cmd, codec.ErrOutOfRange)
	}
	ch, err := r.Channel()
	if err != nil {
		return cmnd.State{}, r.Pos(), err
	}
	if int(ch) >= m.probes {
		return cmnd.State{}, r.Pos(), fmt.Errorf("probe %d of %d: %w", ch, m.probes, codec.ErrOutOfRange)
	}
	sum, err := r.Sum(cmd, int(ch))
	if err != nil {
		return cmnd.State{}, r.Pos(), err
	}
	return cmnd.State{
		Command: uint8(cmd),
		Channel: ch,
		Count:   uint32(m.conversion / time.Second),
		Sum:     sum,
	}, r.Pos(), nil
}

func (m *Module) Execute(s cmnd.State) error {
	switch s.Command {
	case cmdScan:
		return m.sensors.Scan()
	case cmdConvert:
		ctx := timer.Context{Var1: uint16(s.Channel)}
		return m.env.Sched.ScheduleAction(s, timer.Actions{Start: m.startConversion, Stop: m.sendResults}, &ctx)
	case cmdIDs:
		for i, id := range m.sensors.IDs() {
			m.env.Publish(m.env.Topics.TempAddress(i), id)
		}
		return nil
	}
	return modules.UnknownCommand(s)
}

// Periodic publishes every reading once per interval.
func (m *Module) Periodic(now time.Time) {
	if m.interval <= 0 || now.Before(m.next) {
		return
	}
	m.next = now.Add(m.interval)
	m.publishAll()
}

// Celsius reads probe i now.
func (m *Module) Celsius(i int) (float64, error) {
	v, err := m.sensors.Read(i)
	if err != nil {
		return 0, err
	}
	return math.Max(MinCelsius, math.Min(MaxCelsius, v)), nil
}

func (m *Module) startConversion(ctx *timer.Context) {
	m.env.Log.Debug("conversion requested", zap.Uint16("probe", ctx.Var1))
}

func (m *Module) sendResults(*timer.Context) {
	m.publishAll()
}

func (m *Module) publishAll() {
	for i := 0; i < m.probes; i++ {
		v, err := m.Celsius(i)
		if err != nil {
			m.env.Log.Warn("read probe", zap.Int("probe", i), zap.Error(err))
			m.env.Debugf("TEMP: probe %d: %v", i, err)
			continue
		}
		m.env.Publish(m.env.Topics.TempProbe(i), strconv.FormatFloat(v, 'f', 2, 64))
	}
}
