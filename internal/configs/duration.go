package configs

import (
	"fmt"
	"time"
)

// Duration is a time.Duration written as a Go duration string in TOML,
// such as "168h" or "90m".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration %q cannot be negative", text)
	}
	*d = Duration(parsed)
	return nil
}
