package main

import (
	"fmt"
	"io"

	"github.com/sweeney/homectl/internal/cmnd"
	"github.com/sweeney/homectl/internal/config"
	"github.com/sweeney/homectl/internal/controller"
	"github.com/sweeney/homectl/internal/gpio"
	"github.com/sweeney/homectl/internal/modules"
	"github.com/sweeney/homectl/internal/modules/analog"
	"github.com/sweeney/homectl/internal/modules/binin"
	"github.com/sweeney/homectl/internal/modules/binout"
	"github.com/sweeney/homectl/internal/modules/hyst"
	"github.com/sweeney/homectl/internal/modules/pwm"
	"github.com/sweeney/homectl/internal/modules/qa"
	"github.com/sweeney/homectl/internal/modules/temp"
	"github.com/sweeney/homectl/internal/pins"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// devices holds the hardware of every enabled module. A nil field means the
// module is disabled.
type devices struct {
	binOut  gpio.Outputs
	binIn   gpio.Inputs
	pwm     pwm.Driver
	sensors temp.Sensors
	heaters gpio.Outputs
	analog  analog.Registers
	rules   qa.Store
}

func bank(b config.GPIOBank) gpio.Bank {
	return gpio.Bank{Chip: b.Chip, Lines: b.Lines, ActiveLow: b.ActiveLow}
}

// openDevices opens the hardware of every enabled module. On failure the
// devices opened so far are closed.
func openDevices(cfg *config.Config) (_ *devices, err error) {
	d := &devices{}
	defer func() {
		if err != nil {
			err = multierr.Append(err, d.Close())
		}
	}()

	if cfg.BinOut.Enabled {
		out, err := gpio.NewRealOutputs(bank(cfg.BinOut.GPIOBank))
		if err != nil {
			return d, fmt.Errorf("bin_out: %w", err)
		}
		d.binOut = out
	}
	if cfg.BinIn.Enabled {
		in, err := gpio.NewRealInputs(bank(cfg.BinIn.GPIOBank))
		if err != nil {
			return d, fmt.Errorf("bin_in: %w", err)
		}
		d.binIn = in
	}
	if cfg.PWM.Enabled {
		d.pwm = pwm.NewSysfs(cfg.PWM.Chip, cfg.PWM.Channels, cfg.PWM.Period)
	}
	if cfg.Temp.Enabled {
		d.sensors = temp.NewW1(cfg.Temp.Devices)
	}
	if cfg.Hyst.Enabled {
		out, err := gpio.NewRealOutputs(bank(cfg.Hyst.GPIOBank))
		if err != nil {
			return d, fmt.Errorf("hyst: %w", err)
		}
		d.heaters = out
	}
	if cfg.Analog.Enabled {
		regs, err := analog.NewTCP(cfg.Analog.Address, uint8(cfg.Analog.SlaveID), cfg.Analog.Timeout)
		if err != nil {
			return d, err
		}
		d.analog = regs
	}
	if cfg.QA.Enabled {
		d.rules = qa.NewFileStore(cfg.QA.Store)
	}
	return d, nil
}

// Close releases every opened device and returns all failures.
func (d *devices) Close() error {
	var errs error
	for _, c := range []io.Closer{d.binOut, d.binIn, d.pwm, d.heaters, d.analog} {
		if c == nil {
			continue
		}
		errs = multierr.Append(errs, c.Close())
	}
	return errs
}

// register builds the modules for the opened devices, registers them in
// letter order B I P T H A Q and returns the input module (nil when
// disabled or not registered). A module the controller refuses is logged and
// skipped, along with anything that depends on it. Only an inconsistent
// configuration is an error.
func register(ctrl *controller.Controller, env modules.Env, cfg *config.Config, d *devices, reg *pins.Registry) (*binin.Module, error) {
	if d.heaters != nil && d.sensors == nil {
		return nil, fmt.Errorf("hyst: %w: temperature module disabled", config.ErrInvalid)
	}
	if d.rules != nil && d.binIn == nil {
		return nil, fmt.Errorf("qa: %w: bin_in disabled", config.ErrInvalid)
	}

	add := func(desc cmnd.Descriptor) bool {
		if err := ctrl.Register(desc); err != nil {
			env.Log.Error("module skipped", zap.String("module", desc.Name), zap.Error(err))
			return false
		}
		return true
	}

	var (
		inputs  *binin.Module
		sensors *temp.Module
	)

	if d.binOut != nil {
		add(binout.New(env, d.binOut, reg, cfg.BinOut.Lines).Descriptor())
	}
	if d.binIn != nil {
		m := binin.New(env, d.binIn, reg, cfg.BinIn.Lines, cfg.BinIn.Debounce)
		if add(m.Descriptor()) {
			inputs = m
		}
	}
	if d.pwm != nil {
		add(pwm.New(env, d.pwm, cfg.PWM.FadeStep).Descriptor())
	}
	if d.sensors != nil {
		m := temp.New(env, d.sensors, cfg.Temp.Probes, cfg.Temp.Conversion, cfg.Temp.Interval)
		if add(m.Descriptor()) {
			sensors = m
			ctrl.AddPeriodic(m)
		}
	}
	if d.heaters != nil {
		if sensors == nil {
			env.Log.Error("module skipped", zap.String("module", hyst.Name), zap.String("reason", "temperature module not registered"))
		} else {
			add(hyst.New(env, d.heaters, sensors, cfg.Hyst.Probes, reg, cfg.Hyst.Lines, cfg.Hyst.SlotLength).Descriptor())
		}
	}
	if d.analog != nil {
		m := analog.New(env, d.analog, uint16(cfg.Analog.Register), cfg.Analog.Channels, cfg.Analog.Interval)
		if add(m.Descriptor()) {
			ctrl.AddPeriodic(m)
		}
	}
	if d.rules != nil {
		if inputs == nil {
			env.Log.Error("module skipped", zap.String("module", qa.Name), zap.String("reason", "bin_in not registered"))
		} else {
			m := qa.New(env, ctrl, d.rules, map[byte]int{binin.Letter: len(cfg.BinIn.Lines)}, cfg.QA.MaxRules)
			if add(m.Descriptor()) {
				inputs.SetTrigger(m)
			}
		}
	}
	return inputs, nil
}
