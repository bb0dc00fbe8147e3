package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fs := NewFlagSet("homectl")
	require.NoError(t, fs.Parse(args))
	return Load(fs)
}

func TestDefaults(t *testing.T) {
	cfg, err := load(t)
	require.NoError(t, err)

	assert.Equal(t, "homectl", cfg.Name)
	assert.Equal(t, "homectl", cfg.MQTT.ClientID)
	assert.Equal(t, "ard", cfg.MQTT.Prefix)
	assert.Equal(t, 100*time.Millisecond, cfg.Poll)
	assert.Equal(t, 15*time.Minute, cfg.Heartbeat)
	assert.Equal(t, 16, cfg.Scheduler.PoolSize)
	assert.Equal(t, 64, cfg.Scheduler.SlotTableSize)
	assert.Equal(t, 16, cfg.Scheduler.MaxModules)
	assert.False(t, cfg.Scheduler.OpenEndedRepeat)
	assert.Equal(t, []int{17, 18, 27, 22}, cfg.BinOut.Lines)
	assert.Equal(t, 250*time.Millisecond, cfg.BinIn.Debounce)
	assert.Equal(t, 20*time.Second, cfg.Hyst.SlotLength)
	assert.Equal(t, 5, cfg.QA.MaxRules)
}

func TestFlagsOverride(t *testing.T) {
	cfg, err := load(t, "--name", "garden", "--broker", "tcp://broker:1883", "--poll", "50ms", "--pool-size", "8")
	require.NoError(t, err)

	assert.Equal(t, "garden", cfg.Name)
	assert.Equal(t, "garden", cfg.MQTT.ClientID)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, 50*time.Millisecond, cfg.Poll)
	assert.Equal(t, 8, cfg.Scheduler.PoolSize)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("HOMECTL_MQTT_PREFIX", "home")
	t.Setenv("HOMECTL_SCHEDULER_OPEN_ENDED_REPEAT", "true")

	cfg, err := load(t)
	require.NoError(t, err)
	assert.Equal(t, "home", cfg.MQTT.Prefix)
	assert.True(t, cfg.Scheduler.OpenEndedRepeat)
}

func TestFileThenFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "homectl.yaml")
	data := `
name: cellar
mqtt:
  broker: tcp://10.0.0.2:1883
  client_id: cellar-1
bin_out:
  lines: [5, 6]
  active_low: false
temp:
  enabled: true
  probes: 3
hyst:
  enabled: true
  lines: [12, 13]
  probes: [0, 2]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := load(t, "--config", path, "--name", "attic")
	require.NoError(t, err)

	assert.Equal(t, "attic", cfg.Name)
	assert.Equal(t, "cellar-1", cfg.MQTT.ClientID)
	assert.Equal(t, "tcp://10.0.0.2:1883", cfg.MQTT.Broker)
	assert.Equal(t, []int{5, 6}, cfg.BinOut.Lines)
	assert.False(t, cfg.BinOut.ActiveLow)
	assert.Equal(t, []int{12, 13}, cfg.Hyst.Lines)
	assert.Equal(t, []int{0, 2}, cfg.Hyst.Probes)
	assert.Equal(t, "gpiochip0", cfg.Hyst.Chip)
}

func TestMissingFile(t *testing.T) {
	_, err := load(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg, err := load(t)
	require.NoError(t, err)

	cfg.Name = "a/b"
	cfg.Poll = 0
	cfg.BinOut.Lines = []int{4, 4}
	cfg.Hyst.Enabled = true

	err = cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "name")
	assert.Contains(t, err.Error(), "poll")
	assert.Contains(t, err.Error(), "bin_out line 4 listed twice")
	assert.Contains(t, err.Error(), "hyst requires temp")
}

func TestValidateChannelLimits(t *testing.T) {
	cfg, err := load(t)
	require.NoError(t, err)

	cfg.PWM.Enabled = true
	cfg.PWM.Channels = 37
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)

	cfg.PWM.Channels = 36
	assert.NoError(t, cfg.Validate())
}

func TestDumpOmitsPassword(t *testing.T) {
	cfg, err := load(t)
	require.NoError(t, err)
	cfg.MQTT.Password = "hunter2"

	out, err := cfg.Dump()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")
	assert.Contains(t, string(out), "poll: 100ms")

	var back map[string]any
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, "homectl", back["name"])
	assert.Contains(t, back, "bin_out")
}
