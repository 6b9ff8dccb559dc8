// Package types provides core data types shared across splitmerge packages.
package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Unit is a size unit. Its value is the number of bytes in one unit.
type Unit int64

const (
	Byte Unit = 1

	// Metric units; GB is 1e9 bytes.
	Kilobyte Unit = 1_000
	Megabyte Unit = 1_000_000
	Gigabyte Unit = 1_000_000_000
	Terabyte Unit = 1_000_000_000_000

	// Binary units
	Kibibyte Unit = 1 << 10
	Mebibyte Unit = 1 << 20
	Gibibyte Unit = 1 << 30
	Tebibyte Unit = 1 << 40
)

var unitNames = map[string]Unit{
	"":    Byte,
	"b":   Byte,
	"k":   Kilobyte,
	"kb":  Kilobyte,
	"m":   Megabyte,
	"mb":  Megabyte,
	"g":   Gigabyte,
	"gb":  Gigabyte,
	"t":   Terabyte,
	"tb":  Terabyte,
	"kib": Kibibyte,
	"mib": Mebibyte,
	"gib": Gibibyte,
	"tib": Tebibyte,
}

// ParseUnit parses a unit name such as "GB" or "MiB" (case-insensitive).
func ParseUnit(s string) (Unit, error) {
	u, ok := unitNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, s)
	}
	return u, nil
}

// String returns the canonical name of the unit.
func (u Unit) String() string {
	switch u {
	case Byte:
		return "B"
	case Kilobyte:
		return "KB"
	case Megabyte:
		return "MB"
	case Gigabyte:
		return "GB"
	case Terabyte:
		return "TB"
	case Kibibyte:
		return "KiB"
	case Mebibyte:
		return "MiB"
	case Gibibyte:
		return "GiB"
	case Tebibyte:
		return "TiB"
	default:
		return fmt.Sprintf("%dB", int64(u))
	}
}

// ByteSize is a size in bytes.
type ByteSize int64

// FromUnits converts value expressed in unit to a byte count, rounding to the
// nearest byte. Negative, NaN and infinite values are rejected.
func FromUnits(value float64, unit Unit) (ByteSize, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSize, value)
	}
	if unit <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrUnknownUnit, int64(unit))
	}
	bytes := math.Round(value * float64(unit))
	if bytes > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %v%s overflows", ErrInvalidSize, value, unit)
	}
	return ByteSize(bytes), nil
}

// ParseByteSize parses strings like "50GB", "1.5 GiB", "512mb" or "1024".
// A bare number is a byte count.
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidSize)
	}

	// Split at the first character that cannot be part of a number
	i := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	value, err := strconv.ParseFloat(s[:i], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	unit, err := ParseUnit(s[i:])
	if err != nil {
		return 0, err
	}
	return FromUnits(value, unit)
}

// Bytes returns the size as an int64 byte count.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}

// In returns the size expressed in unit.
func (b ByteSize) In(unit Unit) float64 {
	return float64(b) / float64(unit)
}

// String formats the size with metric suffixes, e.g. "49.73GB".
func (b ByteSize) String() string {
	n := int64(b)
	neg := ""
	if n < 0 {
		neg = "-"
		n = -n
	}

	var unit Unit
	switch {
	case n >= int64(Terabyte):
		unit = Terabyte
	case n >= int64(Gigabyte):
		unit = Gigabyte
	case n >= int64(Megabyte):
		unit = Megabyte
	case n >= int64(Kilobyte):
		unit = Kilobyte
	default:
		return fmt.Sprintf("%s%dB", neg, n)
	}

	v := strconv.FormatFloat(float64(n)/float64(unit), 'f', 2, 64)
	v = strings.TrimRight(strings.TrimRight(v, "0"), ".")
	return neg + v + unit.String()
}
