// Package config loads the daemon configuration from defaults, an optional
// YAML file, HOMECTL_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides, e.g. HOMECTL_MQTT_BROKER.
const EnvPrefix = "HOMECTL"

// MaxChannels is the number of channels a command can address (0-9, A-Z).
const MaxChannels = 36

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Name      string          `mapstructure:"name" yaml:"name"`
	Debug     bool            `mapstructure:"debug" yaml:"debug"`
	Poll      time.Duration   `mapstructure:"poll" yaml:"poll"`
	Heartbeat time.Duration   `mapstructure:"heartbeat" yaml:"heartbeat"`
	MQTT      MQTTConfig      `mapstructure:"mqtt" yaml:"mqtt"`
	HTTP      HTTPConfig      `mapstructure:"http" yaml:"http"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	BinOut    BinOutConfig    `mapstructure:"bin_out" yaml:"bin_out"`
	BinIn     BinInConfig     `mapstructure:"bin_in" yaml:"bin_in"`
	PWM       PWMConfig       `mapstructure:"pwm" yaml:"pwm"`
	Temp      TempConfig      `mapstructure:"temp" yaml:"temp"`
	Hyst      HystConfig      `mapstructure:"hyst" yaml:"hyst"`
	Analog    AnalogConfig    `mapstructure:"analog" yaml:"analog"`
	QA        QAConfig        `mapstructure:"qa" yaml:"qa"`
}

type MQTTConfig struct {
	Broker     string `mapstructure:"broker" yaml:"broker"`
	ClientID   string `mapstructure:"client_id" yaml:"client_id"`
	Username   string `mapstructure:"username" yaml:"username,omitempty"`
	Password   string `mapstructure:"password" yaml:"-"`
	Prefix     string `mapstructure:"prefix" yaml:"prefix"`
	BufferSize int    `mapstructure:"buffer_size" yaml:"buffer_size"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// SchedulerConfig sizes the timer pool, slot table and module table.
type SchedulerConfig struct {
	PoolSize        int  `mapstructure:"pool_size" yaml:"pool_size"`
	SlotTableSize   int  `mapstructure:"slot_table_size" yaml:"slot_table_size"`
	MaxModules      int  `mapstructure:"max_modules" yaml:"max_modules"`
	OpenEndedRepeat bool `mapstructure:"open_ended_repeat" yaml:"open_ended_repeat"`
}

// GPIOBank names the lines of a GPIO-backed module, one per channel.
type GPIOBank struct {
	Chip      string `mapstructure:"chip" yaml:"chip"`
	Lines     []int  `mapstructure:"lines" yaml:"lines"`
	ActiveLow bool   `mapstructure:"active_low" yaml:"active_low"`
}

type BinOutConfig struct {
	Enabled  bool `mapstructure:"enabled" yaml:"enabled"`
	GPIOBank `mapstructure:",squash" yaml:",inline"`
}

type BinInConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
	GPIOBank `mapstructure:",squash" yaml:",inline"`
}

type PWMConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Chip     string        `mapstructure:"chip" yaml:"chip"`
	Channels int           `mapstructure:"channels" yaml:"channels"`
	Period   time.Duration `mapstructure:"period" yaml:"period"`
	FadeStep int           `mapstructure:"fade_step" yaml:"fade_step"`
}

type TempConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	Devices    string        `mapstructure:"devices" yaml:"devices"`
	Probes     int           `mapstructure:"probes" yaml:"probes"`
	Interval   time.Duration `mapstructure:"interval" yaml:"interval"`
	Conversion time.Duration `mapstructure:"conversion" yaml:"conversion"`
}

type HystConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	SlotLength time.Duration `mapstructure:"slot_length" yaml:"slot_length"`
	// Probes maps each heater channel to the temperature probe it follows.
	Probes   []int `mapstructure:"probes" yaml:"probes"`
	GPIOBank `mapstructure:",squash" yaml:",inline"`
}

type AnalogConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Address  string        `mapstructure:"address" yaml:"address"`
	SlaveID  int           `mapstructure:"slave_id" yaml:"slave_id"`
	Register int           `mapstructure:"register" yaml:"register"`
	Channels int           `mapstructure:"channels" yaml:"channels"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

type QAConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Store    string `mapstructure:"store" yaml:"store"`
	MaxRules int    `mapstructure:"max_rules" yaml:"max_rules"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("name", "homectl")
	v.SetDefault("debug", false)
	v.SetDefault("poll", "100ms")
	v.SetDefault("heartbeat", "15m")

	v.SetDefault("mqtt.broker", "tcp://192.168.1.200:1883")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.prefix", "ard")
	v.SetDefault("mqtt.buffer_size", 100)

	v.SetDefault("http.addr", ":80")

	v.SetDefault("scheduler.pool_size", 16)
	v.SetDefault("scheduler.slot_table_size", 64)
	v.SetDefault("scheduler.max_modules", 16)
	v.SetDefault("scheduler.open_ended_repeat", false)

	v.SetDefault("bin_out.enabled", true)
	v.SetDefault("bin_out.chip", "gpiochip0")
	v.SetDefault("bin_out.lines", []int{17, 18, 27, 22})
	v.SetDefault("bin_out.active_low", true)

	v.SetDefault("bin_in.enabled", true)
	v.SetDefault("bin_in.chip", "gpiochip0")
	v.SetDefault("bin_in.lines", []int{26, 16})
	v.SetDefault("bin_in.active_low", false)
	v.SetDefault("bin_in.debounce", "250ms")

	v.SetDefault("pwm.enabled", false)
	v.SetDefault("pwm.chip", "/sys/class/pwm/pwmchip0")
	v.SetDefault("pwm.channels", 2)
	v.SetDefault("pwm.period", "1ms")
	v.SetDefault("pwm.fade_step", 10)

	v.SetDefault("temp.enabled", false)
	v.SetDefault("temp.devices", "/sys/bus/w1/devices")
	v.SetDefault("temp.probes", 2)
	v.SetDefault("temp.interval", "5m")
	v.SetDefault("temp.conversion", "5s")

	v.SetDefault("hyst.enabled", false)
	v.SetDefault("hyst.slot_length", "20s")
	v.SetDefault("hyst.chip", "gpiochip0")
	v.SetDefault("hyst.lines", []int{23})
	v.SetDefault("hyst.probes", []int{0})
	v.SetDefault("hyst.active_low", true)

	v.SetDefault("analog.enabled", false)
	v.SetDefault("analog.address", "localhost:502")
	v.SetDefault("analog.slave_id", 1)
	v.SetDefault("analog.register", 0)
	v.SetDefault("analog.channels", 4)
	v.SetDefault("analog.timeout", "1s")
	v.SetDefault("analog.interval", "1m")

	v.SetDefault("qa.enabled", true)
	v.SetDefault("qa.store", "/var/lib/homectl/rules.cbor")
	v.SetDefault("qa.max_rules", 5)
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"name":      "name",
	"debug":     "debug",
	"poll":      "poll",
	"heartbeat": "heartbeat",
	"broker":    "mqtt.broker",
	"prefix":    "mqtt.prefix",
	"http":      "http.addr",
	"pool-size": "scheduler.pool_size",
}

// NewFlagSet defines the daemon's command-line flags.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "YAML configuration file")
	fs.String("name", "homectl", "Controller name used in MQTT topics")
	fs.Bool("debug", false, "Development logging")
	fs.Duration("poll", 100*time.Millisecond, "Input polling interval")
	fs.Duration("heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	fs.String("broker", "tcp://192.168.1.200:1883", "MQTT broker address")
	fs.String("prefix", "ard", "MQTT topic prefix")
	fs.String("http", ":80", "HTTP status address (empty to disable)")
	fs.Int("pool-size", 16, "Number of timers")
	fs.Bool("print-state", false, "Print current input state and exit")
	fs.Bool("dump-config", false, "Print the effective configuration and exit")
	return fs
}

// Load builds the configuration. Only flags that were set on the command line
// override the file and environment.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
		if path, _ := fs.GetString("config"); path != "" {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = cfg.Name
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs error
	fail := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Name == "" || strings.ContainsAny(c.Name, "/+#") {
		fail("name %q must be a non-empty topic segment", c.Name)
	}
	if c.MQTT.Broker == "" {
		fail("mqtt.broker is required")
	}
	if c.Poll <= 0 {
		fail("poll must be positive")
	}
	if c.Heartbeat < 0 {
		fail("heartbeat must not be negative")
	}
	if c.Scheduler.PoolSize <= 0 {
		fail("scheduler.pool_size must be positive")
	}
	if c.Scheduler.SlotTableSize <= 0 {
		fail("scheduler.slot_table_size must be positive")
	}
	if c.Scheduler.MaxModules <= 0 {
		fail("scheduler.max_modules must be positive")
	}

	checkBank := func(name string, b GPIOBank) {
		if len(b.Lines) == 0 {
			fail("%s.lines must list at least one line", name)
		}
		if len(b.Lines) > MaxChannels {
			fail("%s has %d lines, at most %d", name, len(b.Lines), MaxChannels)
		}
		seen := make(map[int]bool)
		for _, l := range b.Lines {
			if l < 0 {
				fail("%s line %d is negative", name, l)
			}
			if seen[l] {
				fail("%s line %d listed twice", name, l)
			}
			seen[l] = true
		}
	}
	checkCount := func(name string, n int) {
		if n <= 0 || n > MaxChannels {
			fail("%s must be between 1 and %d", name, MaxChannels)
		}
	}

	if c.BinOut.Enabled {
		checkBank("bin_out", c.BinOut.GPIOBank)
	}
	if c.BinIn.Enabled {
		checkBank("bin_in", c.BinIn.GPIOBank)
		if c.BinIn.Debounce < 0 {
			fail("bin_in.debounce must not be negative")
		}
	}
	if c.PWM.Enabled {
		checkCount("pwm.channels", c.PWM.Channels)
		if c.PWM.Period <= 0 {
			fail("pwm.period must be positive")
		}
		if c.PWM.FadeStep <= 0 || c.PWM.FadeStep > 100 {
			fail("pwm.fade_step must be between 1 and 100")
		}
	}
	if c.Temp.Enabled {
		checkCount("temp.probes", c.Temp.Probes)
		if c.Temp.Devices == "" {
			fail("temp.devices is required")
		}
		if c.Temp.Conversion <= 0 {
			fail("temp.conversion must be positive")
		}
	}
	if c.Hyst.Enabled {
		checkBank("hyst", c.Hyst.GPIOBank)
		if !c.Temp.Enabled {
			fail("hyst requires temp to be enabled")
		}
		if len(c.Hyst.Probes) != len(c.Hyst.Lines) {
			fail("hyst.probes must name one probe per line")
		}
		for _, p := range c.Hyst.Probes {
			if p < 0 || p >= c.Temp.Probes {
				fail("hyst probe %d outside temp.probes", p)
			}
		}
		if c.Hyst.SlotLength <= 0 {
			fail("hyst.slot_length must be positive")
		}
	}
	if c.Analog.Enabled {
		checkCount("analog.channels", c.Analog.Channels)
		if c.Analog.Address == "" {
			fail("analog.address is required")
		}
		if c.Analog.SlaveID < 0 || c.Analog.SlaveID > 247 {
			fail("analog.slave_id must be between 0 and 247")
		}
		if c.Analog.Register < 0 || c.Analog.Register+c.Analog.Channels > 0x10000 {
			fail("analog.register range exceeds the register space")
		}
	}
	if c.QA.Enabled {
		if c.QA.MaxRules <= 0 {
			fail("qa.max_rules must be positive")
		}
		if !c.BinIn.Enabled {
			fail("qa requires bin_in to be enabled")
		}
	}

	return errs
}

// Dump renders the configuration as YAML. The MQTT password is never included.
func (c *Config) Dump() ([]byte, error) {
	return yaml.Marshal(c)
}
