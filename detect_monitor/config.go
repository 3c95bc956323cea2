package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const defaultBaseURL = "ws://localhost:8000/api/v1/ws/"

// Duration wraps time.Duration so config files can use strings like "1s"
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)
	if s == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("negative duration %q not allowed", s)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	Socket    SocketConfig    `toml:"socket" yaml:"socket"`
	Serial    SerialConfig    `toml:"serial" yaml:"serial"`
	Reconnect ReconnectConfig `toml:"reconnect" yaml:"reconnect"`
	History   HistoryConfig   `toml:"history" yaml:"history"`
	UI        UIConfig        `toml:"ui" yaml:"ui"`
	GPS       GPSConfig       `toml:"gps" yaml:"gps"`
	Log       LogConfig       `toml:"log" yaml:"log"`
}

// SocketConfig addresses the device stream at <BaseURL><DeviceID>
type SocketConfig struct {
	BaseURL  string `toml:"base_url" yaml:"base_url" env:"DETECT_SOCKET_BASE_URL"`
	DeviceID string `toml:"device_id" yaml:"device_id" env:"DETECT_DEVICE_ID"`
}

// SerialConfig switches the transport to a USB-tethered device when Port is set
type SerialConfig struct {
	Port string `toml:"port" yaml:"port" env:"DETECT_SERIAL_PORT"`
	Baud int    `toml:"baud" yaml:"baud"`
}

type ReconnectConfig struct {
	InitialDelay Duration `toml:"initial_delay" yaml:"initial_delay"`
	MaxDelay     Duration `toml:"max_delay" yaml:"max_delay"`
	Multiplier   float64  `toml:"multiplier" yaml:"multiplier"`
	Jitter       float64  `toml:"jitter" yaml:"jitter"`
	MaxAttempts  int      `toml:"max_attempts" yaml:"max_attempts"`
}

type HistoryConfig struct {
	Capacity int `toml:"capacity" yaml:"capacity"`
}

type UIConfig struct {
	RefreshRate int  `toml:"refresh_rate" yaml:"refresh_rate"`
	Sound       bool `toml:"sound" yaml:"sound"`
	Notify      bool `toml:"notify" yaml:"notify"`
}

type GPSConfig struct {
	Port string `toml:"port" yaml:"port" env:"DETECT_GPS_PORT"`
}

type LogConfig struct {
	File  string `toml:"file" yaml:"file" env:"DETECT_LOG_FILE"`
	Level string `toml:"level" yaml:"level" env:"DETECT_LOG_LEVEL"`
}

func DefaultConfig() *Config {
	policy := DefaultReconnectPolicy()
	return &Config{
		Socket: SocketConfig{
			BaseURL:  defaultBaseURL,
			DeviceID: defaultDeviceID,
		},
		Serial: SerialConfig{
			Baud: 115200,
		},
		Reconnect: ReconnectConfig{
			InitialDelay: Duration{policy.InitialDelay},
			MaxDelay:     Duration{policy.MaxDelay},
			Multiplier:   policy.Multiplier,
			Jitter:       policy.Jitter,
			MaxAttempts:  policy.MaxAttempts,
		},
		History: HistoryConfig{
			Capacity: defaultHistoryCapacity,
		},
		UI: UIConfig{
			RefreshRate: 4,
			Sound:       true,
		},
		Log: LogConfig{
			File:  "detect_monitor.log",
			Level: "info",
		},
	}
}

// LoadConfig reads path as TOML, or YAML for .yaml/.yml files, on top of
// the defaults and then applies environment overrides. An empty path or a
// missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		f, err := os.Open(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			defer f.Close()
			if err := decodeConfig(f, configFormat(path), cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

func configFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "toml"
	}
}

func decodeConfig(r io.Reader, format string, cfg *Config) error {
	if format == "yaml" {
		err := yaml.NewDecoder(r).Decode(cfg)
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	_, err := toml.NewDecoder(r).Decode(cfg)
	return err
}

func (c *Config) Validate() error {
	var errs []error
	if c.Serial.Port == "" && c.Socket.BaseURL == "" {
		errs = append(errs, errors.New("socket.base_url is required without serial.port"))
	}
	if c.Serial.Port != "" && c.Serial.Baud <= 0 {
		errs = append(errs, errors.New("serial.baud must be positive"))
	}
	if c.Socket.DeviceID == "" {
		errs = append(errs, errors.New("socket.device_id must not be empty"))
	}
	if c.UI.RefreshRate <= 0 {
		errs = append(errs, errors.New("ui.refresh_rate must be positive"))
	}
	if c.History.Capacity < 1 {
		errs = append(errs, errors.New("history.capacity must be at least 1"))
	}
	if err := c.ReconnectPolicy().Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseLogLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) ReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay: c.Reconnect.InitialDelay.Duration,
		MaxDelay:     c.Reconnect.MaxDelay.Duration,
		Multiplier:   c.Reconnect.Multiplier,
		Jitter:       c.Reconnect.Jitter,
		MaxAttempts:  c.Reconnect.MaxAttempts,
	}
}

// Dialer returns the serial dialer when a serial port is configured,
// otherwise the websocket dialer.
func (c *Config) Dialer() Dialer {
	if c.Serial.Port != "" {
		return &SerialDialer{Port: c.Serial.Port, BaudRate: c.Serial.Baud}
	}
	return NewWebSocketDialer(c.Socket.BaseURL)
}

func (c *Config) RefreshInterval() time.Duration {
	return time.Second / time.Duration(c.UI.RefreshRate)
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
