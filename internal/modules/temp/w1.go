package temp

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Sensor errors.
var (
	ErrNoProbe = errors.New("temp: no such probe")
	ErrCRC     = errors.New("temp: crc check failed")
	ErrFormat  = errors.New("temp: unreadable sensor data")
)

// Sensors reads a set of temperature probes.
type Sensors interface {
	// Scan refreshes the list of probes.
	Scan() error
	// IDs lists the probe ids in probe order.
	IDs() []string
	// Read returns the temperature of probe i in °C.
	Read(i int) (float64, error)
}

// W1 reads DS18B20 probes through the Linux w1 sysfs interface. Probes are
// ordered by id.
type W1 struct {
	dir string
	ids []string
}

// NewW1 reads probes under dir, normally /sys/bus/w1/devices.
func NewW1(dir string) *W1 {
	return &W1{dir: dir}
}

func (w *W1) Scan() error {
	// 0x28 is the DS18B20 family code.
	matches, err := filepath.Glob(filepath.Join(w.dir, "28-*"))
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, filepath.Base(m))
	}
	sort.Strings(ids)
	w.ids = ids
	return nil
}

func (w *W1) IDs() []string {
	out := make([]string, len(w.ids))
	copy(out, w.ids)
	return out
}

func (w *W1) Read(i int) (float64, error) {
	if i < 0 || i >= len(w.ids) {
		return 0, fmt.Errorf("probe %d of %d: %w", i, len(w.ids), ErrNoProbe)
	}
	data, err := os.ReadFile(filepath.Join(w.dir, w.ids[i], "w1_slave"))
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", w.ids[i], err)
	}
	return parseW1(string(data))
}

// parseW1 decodes the two-line w1_slave format:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func parseW1(data string) (float64, error) {
	lines := strings.Split(strings.TrimSpace(data), "\n")
	if len(lines) < 2 {
		return 0, ErrFormat
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, ErrCRC
	}
	idx := strings.LastIndex(lines[1], "t=")
	if idx < 0 {
		return 0, ErrFormat
	}
	milli, err := strconv.Atoi(strings.TrimSpace(lines[1][idx+2:]))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return float64(milli) / 1000, nil
}

// Fake serves fixed readings.
type Fake struct {
	Probes   []string
	Readings []float64
	Errs     []error
	Scans    int
}

func (f *Fake) Scan() error {
	f.Scans++
	return nil
}

func (f *Fake) IDs() []string { return f.Probes }

func (f *Fake) Read(i int) (float64, error) {
	if i < 0 || i >= len(f.Readings) {
		return 0, ErrNoProbe
	}
	if i < len(f.Errs) && f.Errs[i] != nil {
		return 0, f.Errs[i]
	}
	return f.Readings[i], nil
}
