// Package config loads the mainboard's thresholds, timeouts and bus
// identifiers from an INI file, the way gocanopen loads an EDS file
// with gopkg.in/ini.v1: sections keyed by domain, typed accessors on
// top of a thin wrapper around the parsed file.
package config

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// Config exposes the mainboard's static tuning parameters.
type Config struct {
	file *ini.File
}

// Load parses an INI file from a path, []byte or io.Reader, same
// polymorphic `source any` signature ini.Load itself accepts.
func Load(source any) (*Config, error) {
	f, err := ini.Load(source)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &Config{file: f}, nil
}

func (c *Config) section(name string) *ini.Section {
	return c.file.Section(name)
}

// Float64 reads a required floating point key, failing loudly if it
// is missing or malformed: a bad threshold must never silently fall
// back to zero.
func (c *Config) Float64(section, key string) (float64, error) {
	return c.section(section).Key(key).Float64()
}

// Int reads a required integer key.
func (c *Config) Int(section, key string) (int, error) {
	return c.section(section).Key(key).Int()
}

// MustFloat64 reads a key with a fallback default, for optional tuning
// knobs that have a sane factory value.
func (c *Config) MustFloat64(section, key string, fallback float64) float64 {
	return c.section(section).Key(key).MustFloat64(fallback)
}

// MustInt reads a key with a fallback default.
func (c *Config) MustInt(section, key string, fallback int) int {
	return c.section(section).Key(key).MustInt(fallback)
}
