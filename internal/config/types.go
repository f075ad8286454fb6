package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Duration is a non-negative time.Duration read from YAML or env text.
// It accepts Go duration strings ("90s", "1h30m") and bare integers, which
// are taken as seconds so LEARNING_INTERVAL=3600 and TRAINER_TIMEOUT=300 work
// as written.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)
	var parsed time.Duration
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		if secs > int64(maxSeconds) {
			return fmt.Errorf("duration too large: %s seconds", s)
		}
		parsed = time.Duration(secs) * time.Second
	} else {
		parsed, err = time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: use 90s, 15m, 1h or a number of seconds", s)
		}
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", s)
	}
	*d = Duration(parsed)
	return nil
}

const maxSeconds = time.Duration(1<<63-1) / time.Second

// MarshalJSON writes the duration in Go notation so config dumps stay readable.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Secret holds a credential such as the generator API key. Printing or
// encoding it yields [REDACTED]; only Value returns the raw text.
type Secret string

const redactedSecret = "[REDACTED]"

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redactedSecret
}

// GoString covers %#v.
func (s Secret) GoString() string { return "config.Secret(" + redactedSecret + ")" }

// Value returns the raw credential for the one client that needs it.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether a credential was configured.
func (s Secret) IsSet() bool { return s != "" }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// UnmarshalText stores the raw credential read from YAML or the environment.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}
