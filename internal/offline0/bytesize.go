package offline0

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ByteSize is a size written in config as "512kb", "64mb", "1.5g" or a plain number.
type ByteSize int64

const (
	kib = 1024
	mib = 1024 * kib
	gib = 1024 * mib
)

func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	n, err := parseBytes(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) String() string {
	return formatBytes(uint64(b))
}

func parseBytes(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimSuffix(s, "b")
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := int64(1)
	switch s[len(s)-1] {
	case 'k':
		mult = kib
	case 'm':
		mult = mib
	case 'g':
		mult = gib
	}
	if mult != 1 {
		s = strings.TrimSpace(s[:len(s)-1])
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative size")
	}
	return int64(v * float64(mult)), nil
}

func formatBytes(b uint64) string {
	switch {
	case b < kib:
		return fmt.Sprintf("%db", b)
	case b < mib:
		return trimFloat(float64(b)/kib) + "kb"
	case b < gib:
		return trimFloat(float64(b)/mib) + "mb"
	default:
		return trimFloat(float64(b)/gib) + "gb"
	}
}

func trimFloat(f float64) string {
	return strings.TrimSuffix(fmt.Sprintf("%.1f", f), ".0")
}
