package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ByteSize wraps a byte count to support human-readable YAML values such as
// "512MB" or "2GB". Units are 1024-based.
type ByteSize struct {
	Bytes uint64
}

// MarshalYAML emits the raw byte count.
func (b ByteSize) MarshalYAML() (any, error) {
	return b.Bytes, nil
}

// UnmarshalYAML accepts a plain integer (bytes) or a string with a unit
// suffix.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case int:
		if v < 0 {
			return fmt.Errorf("byte size must not be negative (got %d)", v)
		}
		b.Bytes = uint64(v)
		return nil
	case int64:
		if v < 0 {
			return fmt.Errorf("byte size must not be negative (got %d)", v)
		}
		b.Bytes = uint64(v)
		return nil
	case string:
		parsed, err := parseBytes(v)
		if err != nil {
			return err
		}
		b.Bytes = parsed
		return nil
	default:
		return fmt.Errorf("unsupported byte size type %T", raw)
	}
}

// IsZero reports whether no size is set.
func (b ByteSize) IsZero() bool {
	return b.Bytes == 0
}

func parseBytes(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	var multiplier uint64 = 1
	upper := strings.ToUpper(s)
	switch {
	case strings.HasSuffix(upper, "TB"):
		multiplier = 1 << 40
		s = s[:len(s)-2]
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1 << 30
		s = s[:len(s)-2]
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1 << 20
		s = s[:len(s)-2]
	case strings.HasSuffix(upper, "KB"), strings.HasSuffix(upper, "K"):
		multiplier = 1 << 10
		s = strings.TrimRight(s, "bBkK")
	case strings.HasSuffix(upper, "B"):
		s = s[:len(s)-1]
	}

	var value float64
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &value); err != nil {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}
	if value < 0 {
		return 0, fmt.Errorf("byte size must not be negative (got %v)", value)
	}
	return uint64(value * float64(multiplier)), nil
}
