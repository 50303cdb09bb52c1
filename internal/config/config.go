// Package config loads bootmon settings: the embedded defaults overlaid with
// an optional user YAML file.
package config

import (
	"bytes"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/ultisoc/bootmon/embedded"
	"github.com/ultisoc/bootmon/internal/memory"
	"github.com/ultisoc/bootmon/internal/protocol"
	"github.com/ultisoc/bootmon/internal/upload"
	"github.com/ultisoc/bootmon/internal/xmodem"
)

// Config is the complete tool configuration.
type Config struct {
	Serial  SerialConfig   `yaml:"serial"`
	XModem  XModemConfig   `yaml:"xmodem"`
	Monitor MonitorConfig  `yaml:"monitor"`
	Memory  []RegionConfig `yaml:"memory"`
	Log     LogConfig      `yaml:"log"`
}

type SerialConfig struct {
	Port          string        `yaml:"port"`
	Baud          int           `yaml:"baud"`
	DetectTimeout time.Duration `yaml:"detectTimeout"`
	Reset         bool          `yaml:"reset"`
}

type XModemConfig struct {
	Retries      int           `yaml:"retries"`
	SyncTimeout  time.Duration `yaml:"syncTimeout"`
	AckTimeout   time.Duration `yaml:"ackTimeout"`
	BlockTimeout time.Duration `yaml:"blockTimeout"`
	DrainTimeout time.Duration `yaml:"drainTimeout"`
	BlockSize    int           `yaml:"blockSize"`
}

type MonitorConfig struct {
	Prompt     string  `yaml:"prompt"`
	Scratch    Address `yaml:"scratch"`
	CPUID      Address `yaml:"cpuId"`
	SoCVersion int     `yaml:"socVersion"`
	SysFreqHz  uint32  `yaml:"sysFreqHz"`
}

type RegionConfig struct {
	Name     string  `yaml:"name"`
	Base     Address `yaml:"base"`
	Size     Address `yaml:"size"`
	ReadOnly bool    `yaml:"readOnly"`
}

type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
	Debug      bool   `yaml:"debug"`
}

// Address is a 32-bit value written in YAML as hex (0x), octal (0o),
// binary (0b) or decimal.
type Address uint32

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Address) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return errors.Errorf("line %d: address must be a scalar", node.Line)
	}
	v, err := strconv.ParseUint(node.Value, 0, 32)
	if err != nil {
		return errors.Wrapf(err, "line %d: invalid address %q", node.Line, node.Value)
	}
	*a = Address(v)
	return nil
}

// Default returns the embedded configuration.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := decode(embedded.DefaultConfig(), cfg); err != nil {
		return nil, errors.Wrap(err, "embedded config")
	}
	return cfg, nil
}

// Load reads path on top of the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config")
		}
		if err := decode(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

// Validate checks values the protocol and memory layers cannot work with.
func (c *Config) Validate() error {
	if c.Serial.Baud <= 0 {
		return errors.Errorf("serial.baud must be positive, got %d", c.Serial.Baud)
	}
	if c.XModem.Retries <= 0 {
		return errors.Errorf("xmodem.retries must be positive, got %d", c.XModem.Retries)
	}
	if c.XModem.BlockSize != protocol.BlockSize && c.XModem.BlockSize != protocol.BlockSize1K {
		return errors.Errorf("xmodem.blockSize must be %d or %d, got %d",
			protocol.BlockSize, protocol.BlockSize1K, c.XModem.BlockSize)
	}
	if len(c.Memory) == 0 {
		return errors.New("memory: at least one region is required")
	}
	if _, err := memory.New(c.Regions()...); err != nil {
		return errors.Wrap(err, "memory")
	}
	return nil
}

// Regions returns the memory map.
func (c *Config) Regions() []memory.Region {
	regions := make([]memory.Region, len(c.Memory))
	for i, r := range c.Memory {
		regions[i] = memory.Region{
			Name:     r.Name,
			Base:     uint32(r.Base),
			Size:     uint32(r.Size),
			ReadOnly: r.ReadOnly,
		}
	}
	return regions
}

// ReceiverOptions returns the receiver settings.
func (c *Config) ReceiverOptions() []xmodem.Option {
	return []xmodem.Option{
		xmodem.WithRetries(c.XModem.Retries),
		xmodem.WithSyncTimeout(c.XModem.SyncTimeout),
		xmodem.WithResyncTimeout(c.XModem.AckTimeout),
		xmodem.WithBlockTimeout(c.XModem.BlockTimeout),
		xmodem.WithDrainTimeout(c.XModem.DrainTimeout),
	}
}

// UploadOptions returns the sender settings.
func (c *Config) UploadOptions() []upload.Option {
	return []upload.Option{
		upload.WithRetries(c.XModem.Retries),
		upload.WithSyncTimeout(c.XModem.SyncTimeout),
		upload.WithAckTimeout(c.XModem.AckTimeout),
		upload.WithBlockSize(c.XModem.BlockSize),
	}
}
