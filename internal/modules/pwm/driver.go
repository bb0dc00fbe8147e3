package pwm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/multierr"
)

// ErrChannel is returned for a channel the driver does not have.
var ErrChannel = errors.New("pwm: channel out of range")

// Driver sets duty cycles in percent.
type Driver interface {
	Open() error
	Channels() int
	Duty(ch int) int
	SetDuty(ch, percent int) error
	Close() error
}

// Sysfs drives the channels of one chip under /sys/class/pwm.
type Sysfs struct {
	chip   string
	period time.Duration
	duty   []int
}

func NewSysfs(chip string, channels int, period time.Duration) *Sysfs {
	return &Sysfs{chip: chip, period: period, duty: make([]int, channels)}
}

func (s *Sysfs) Open() error {
	for ch := range s.duty {
		dir := s.channelDir(ch)
		if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
			if err := s.write(filepath.Join(s.chip, "export"), ch); err != nil {
				return fmt.Errorf("export pwm%d: %w", ch, err)
			}
			if _, err := os.Stat(dir); err != nil {
				return fmt.Errorf("export pwm%d: %w", ch, err)
			}
		}
		if err := s.write(filepath.Join(dir, "period"), int(s.period.Nanoseconds())); err != nil {
			return fmt.Errorf("pwm%d period: %w", ch, err)
		}
		if err := s.SetDuty(ch, 0); err != nil {
			return err
		}
		if err := s.write(filepath.Join(dir, "enable"), 1); err != nil {
			return fmt.Errorf("pwm%d enable: %w", ch, err)
		}
	}
	return nil
}

func (s *Sysfs) Channels() int { return len(s.duty) }

func (s *Sysfs) Duty(ch int) int {
	if ch < 0 || ch >= len(s.duty) {
		return 0
	}
	return s.duty[ch]
}

func (s *Sysfs) SetDuty(ch, percent int) error {
	if ch < 0 || ch >= len(s.duty) {
		return fmt.Errorf("set %d: %w", ch, ErrChannel)
	}
	percent = clamp(percent)
	ns := s.period.Nanoseconds() * int64(percent) / 100
	if err := s.write(filepath.Join(s.channelDir(ch), "duty_cycle"), int(ns)); err != nil {
		return fmt.Errorf("pwm%d duty: %w", ch, err)
	}
	s.duty[ch] = percent
	return nil
}

// Close switches every channel off and releases it.
func (s *Sysfs) Close() error {
	var errs error
	for ch := range s.duty {
		errs = multierr.Append(errs, s.SetDuty(ch, 0))
		errs = multierr.Append(errs, s.write(filepath.Join(s.channelDir(ch), "enable"), 0))
		errs = multierr.Append(errs, s.write(filepath.Join(s.chip, "unexport"), ch))
	}
	return errs
}

func (s *Sysfs) channelDir(ch int) string {
	return filepath.Join(s.chip, "pwm"+strconv.Itoa(ch))
}

func (s *Sysfs) write(path string, v int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(v)), 0o644)
}

// Fake records duty cycles in memory.
type Fake struct {
	Duties  []int
	History [][2]int // channel, percent
	Err     error
	Opened  bool
	Closed  bool
}

func NewFake(channels int) *Fake {
	return &Fake{Duties: make([]int, channels)}
}

func (f *Fake) Open() error {
	f.Opened = true
	return f.Err
}

func (f *Fake) Channels() int { return len(f.Duties) }

func (f *Fake) Duty(ch int) int {
	if ch < 0 || ch >= len(f.Duties) {
		return 0
	}
	return f.Duties[ch]
}

func (f *Fake) SetDuty(ch, percent int) error {
	if f.Err != nil {
		return f.Err
	}
	if ch < 0 || ch >= len(f.Duties) {
		return fmt.Errorf("set %d: %w", ch, ErrChannel)
	}
	percent = clamp(percent)
	f.Duties[ch] = percent
	f.History = append(f.History, [2]int{ch, percent})
	return nil
}

func (f *Fake) Close() error {
	f.Closed = true
	return nil
}

func clamp(percent int) int {
	switch {
	case percent < 0:
		return 0
	case percent > 100:
		return 100
	}
	return percent
}
