package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hymnis/dsul-go/internal/light"
)

// Config represents the application configuration
type Config struct {
	Serial     SerialConfig      `yaml:"serial"`
	IPC        IPCConfig         `yaml:"ipc"`
	Brightness BrightnessConfig  `yaml:"brightness"`
	Colors     map[string]string `yaml:"colors"` // name -> "r,g,b"
	Modes      map[string]int    `yaml:"modes"`  // name -> firmware tag
	Defaults   DefaultsConfig    `yaml:"defaults"`
	Log        LogConfig         `yaml:"log"`
}

// SerialConfig contains serial port settings for the device link
type SerialConfig struct {
	Port         string   `yaml:"port"`
	Baudrate     int      `yaml:"baudrate"`
	Timeout      Duration `yaml:"timeout"`       // per-command ack timeout
	BootDelay    Duration `yaml:"boot_delay"`    // wait after open, until the MCU leaves its bootloader
	PingInterval Duration `yaml:"ping_interval"` // device keep-alive interval (0 = disabled)
	RateLimit    float64  `yaml:"rate_limit"`    // max device commands per second
	RateBurst    int      `yaml:"rate_burst"`
}

// IPCConfig contains IPC server/client endpoint settings.
// Socket and Host/Port are mutually exclusive; a socket path wins.
type IPCConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	Socket      string   `yaml:"socket"`
	IdleTimeout Duration `yaml:"idle_timeout"` // close idle client connections (0 = never)
	MaxFrame    int      `yaml:"max_frame"`    // max request frame size in bytes
}

// BrightnessConfig contains the allowed brightness bounds
type BrightnessConfig struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// DefaultsConfig contains the initial light state at daemon startup
type DefaultsConfig struct {
	Color string `yaml:"color"`
	// pointer so an explicit 0 (legal when brightness.min is 0) is
	// distinguishable from "not set"
	Brightness *int   `yaml:"brightness"`
	Mode       string `yaml:"mode"`
	Dim        bool   `yaml:"dim"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file. A missing file is not an
// error: the stock defaults describe a usable setup. Any value outside its
// domain is rejected here, so the daemon never discovers a bad color or
// mode name at request time.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Expand environment variables
		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// run on stock defaults
	default:
		return nil, err
	}

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Serial.Port == "" {
		c.Serial.Port = "/dev/ttyUSB0"
	}
	if c.Serial.Baudrate == 0 {
		c.Serial.Baudrate = 38400
	}
	if c.Serial.Timeout == 0 {
		c.Serial.Timeout = Duration(1 * time.Second)
	}
	if c.Serial.BootDelay == 0 {
		c.Serial.BootDelay = Duration(2 * time.Second)
	}
	if c.Serial.PingInterval == 0 {
		c.Serial.PingInterval = Duration(30 * time.Second)
	}
	if c.Serial.RateLimit == 0 {
		c.Serial.RateLimit = 20.0
	}
	if c.Serial.RateBurst == 0 {
		c.Serial.RateBurst = 5
	}

	if c.IPC.Host == "" {
		c.IPC.Host = "localhost"
	}
	if c.IPC.Port == 0 {
		c.IPC.Port = 5795
	}
	if c.IPC.IdleTimeout == 0 {
		c.IPC.IdleTimeout = Duration(2 * time.Minute)
	}
	if c.IPC.MaxFrame == 0 {
		c.IPC.MaxFrame = 4096
	}

	if c.Brightness.Max == 0 {
		c.Brightness.Max = 150
	}

	if len(c.Modes) == 0 {
		c.Modes = map[string]int{
			"solid": 1,
			"blink": 2,
			"flash": 3,
		}
	}
	if len(c.Colors) == 0 {
		c.Colors = map[string]string{
			"red":       "255,0,0",
			"green":     "0,255,0",
			"blue":      "0,0,255",
			"cyan":      "0,255,255",
			"white":     "255,255,200",
			"warmwhite": "255,230,200",
			"purple":    "255,0,200",
			"magenta":   "255,0,50",
			"yellow":    "255,90,0",
			"orange":    "255,20,0",
			"black":     "0,0,0",
		}
	}

	if c.Defaults.Color == "" {
		c.Defaults.Color = "black"
	}
	if c.Defaults.Brightness == nil {
		max := c.Brightness.Max
		c.Defaults.Brightness = &max
	}
	if c.Defaults.Mode == "" {
		c.Defaults.Mode = "solid"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) validate() error {
	if c.Serial.Baudrate < 0 {
		return fmt.Errorf("serial.baudrate must be positive, got %d", c.Serial.Baudrate)
	}
	if c.IPC.Port < 1 || c.IPC.Port > 65535 {
		return fmt.Errorf("ipc.port out of range: %d", c.IPC.Port)
	}
	if c.Brightness.Min < 0 || c.Brightness.Max > 255 || c.Brightness.Min > c.Brightness.Max {
		return fmt.Errorf("brightness bounds invalid: min=%d max=%d", c.Brightness.Min, c.Brightness.Max)
	}
	for name, value := range c.Colors {
		if _, err := ParseRGB(value); err != nil {
			return fmt.Errorf("color %q: %w", name, err)
		}
	}
	for name, tag := range c.Modes {
		if tag < 0 || tag > 999 {
			return fmt.Errorf("mode %q: tag %d outside 0-999", name, tag)
		}
	}
	if _, ok := c.Colors[c.Defaults.Color]; !ok {
		return fmt.Errorf("defaults.color %q is not a configured color", c.Defaults.Color)
	}
	if _, ok := c.Modes[c.Defaults.Mode]; !ok {
		return fmt.Errorf("defaults.mode %q is not a configured mode", c.Defaults.Mode)
	}
	if *c.Defaults.Brightness < c.Brightness.Min || *c.Defaults.Brightness > c.Brightness.Max {
		return fmt.Errorf("defaults.brightness %d outside [%d,%d]",
			*c.Defaults.Brightness, c.Brightness.Min, c.Brightness.Max)
	}
	return nil
}

// Limits builds the immutable value domain consumed by the core.
// Load has already validated every entry.
func (c *Config) Limits() light.Limits {
	colors := make(map[string]light.RGB, len(c.Colors))
	for name, value := range c.Colors {
		rgb, _ := ParseRGB(value)
		colors[name] = rgb
	}
	modes := make(map[string]int, len(c.Modes))
	for name, tag := range c.Modes {
		modes[name] = tag
	}
	return light.Limits{
		Colors:        colors,
		Modes:         modes,
		MinBrightness: c.Brightness.Min,
		MaxBrightness: c.Brightness.Max,
	}
}

// InitialState returns the light state the daemon starts with.
// The device itself is the durable state holder; nothing is persisted.
func (c *Config) InitialState() light.Snapshot {
	return light.Snapshot{
		Color:      c.Defaults.Color,
		Brightness: *c.Defaults.Brightness,
		Mode:       c.Defaults.Mode,
		Dim:        c.Defaults.Dim,
	}
}

// ParseRGB parses a "r,g,b" triple with each channel in 0-255.
func ParseRGB(s string) (light.RGB, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return light.RGB{}, fmt.Errorf("want three comma-separated channels, got %q", s)
	}
	var channels [3]uint8
	for i, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || v < 0 || v > 255 {
			return light.RGB{}, fmt.Errorf("channel %q outside 0-255", part)
		}
		channels[i] = uint8(v)
	}
	return light.RGB{R: channels[0], G: channels[1], B: channels[2]}, nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
