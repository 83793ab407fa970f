package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration is an interval written in Go syntax ("250ms", "1m30s") in YAML
// or a CHATINDEX_ variable. Debounce, export and shutdown intervals are
// never negative, so negative values fail to load.
type Duration time.Duration

// UnmarshalText parses s with time.ParseDuration after trimming spaces.
func (d *Duration) UnmarshalText(s []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(s)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: want a value such as 250ms", s)
	}
	if v < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", s)
	}
	*d = Duration(v)
	return nil
}

// MarshalText writes d back in the form UnmarshalText reads.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

const redacted = "[REDACTED]"

// Secret is a credential from configuration (the NATS token). Printing or
// encoding it only reveals whether it is set; broadcast.Connect reads the
// raw string through Value and logging.Secret logs its length.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString keeps %#v of a config struct from leaking the token.
func (s Secret) GoString() string {
	return "config.Secret(" + s.String() + ")"
}

// MarshalText covers both JSON and YAML dumps of the config.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s Secret) Value() string { return string(s) }

func (s Secret) IsSet() bool { return s != "" }
