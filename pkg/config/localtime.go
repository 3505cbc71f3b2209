package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// localLayout is accepted for timestamps written without a zone; they are
// read in the local time zone.
const localLayout = "2006-01-02 15:04:05"

// LocalTime is a timestamp that accepts RFC 3339 or "2006-01-02 15:04:05"
// local time.
type LocalTime struct {
	time.Time
}

// ParseLocalTime parses either accepted layout.
func ParseLocalTime(s string) (LocalTime, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return LocalTime{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return LocalTime{t}, nil
	}
	t, err := time.ParseInLocation(localLayout, s, time.Local)
	if err != nil {
		return LocalTime{}, fmt.Errorf("invalid time %q: expected RFC 3339 or %q", s, localLayout)
	}
	return LocalTime{t}, nil
}

func (t LocalTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.Format(time.RFC3339))
}

func (t *LocalTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLocalTime(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t LocalTime) MarshalYAML() (any, error) {
	if t.IsZero() {
		return "", nil
	}
	return t.Format(time.RFC3339), nil
}

func (t *LocalTime) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseLocalTime(node.Value)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// IsZero reports whether the time is unset. It makes omitempty work for YAML.
func (t LocalTime) IsZero() bool {
	return t.Time.IsZero()
}
