package config

import (
	"fmt"
	"time"
)

// Duration is a time.Duration written as a string such as "30s" or "5m" in
// both YAML and TOML files.
type Duration time.Duration

// UnmarshalText parses a Go duration string. An empty string is zero.
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText writes the duration in time.Duration's string form.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}
