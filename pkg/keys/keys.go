// Package keys describes the key kinds a store can be ordered by and how
// keys of each kind are compared and written to disk.
package keys

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrUnknownType = errors.New("keys: unknown key type")

// Type names a key kind.
type Type string

const (
	String Type = "string"
	Number Type = "number"
)

// ParseType validates a key kind name.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case String, Number:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
}

// Codec bundles ordering and the textual form of one key kind. Keys are
// stored in index files, manifests and bloom filters in their formatted
// form.
type Codec[K any] struct {
	Type    Type
	Compare func(a, b K) int
	Parse   func(s string) (K, error)
	Format  func(k K) string
}

// ParseRange parses a [min, max] pair written by Format.
func (c Codec[K]) ParseRange(r [2]string) (lo, hi K, err error) {
	if lo, err = c.Parse(r[0]); err != nil {
		return lo, hi, err
	}
	hi, err = c.Parse(r[1])
	return lo, hi, err
}

var StringCodec = Codec[string]{
	Type:    String,
	Compare: strings.Compare,
	Parse:   func(s string) (string, error) { return s, nil },
	Format:  func(k string) string { return k },
}

var NumberCodec = Codec[float64]{
	Type:    Number,
	Compare: cmp.Compare[float64],
	Parse:   parseNumber,
	Format:  formatNumber,
}

// formatNumber writes -0 as 0: both compare equal and must share one
// textual form in indexes and bloom filters.
func formatNumber(k float64) string {
	if k == 0 {
		k = 0
	}
	return strconv.FormatFloat(k, 'g', -1, 64)
}

func parseNumber(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("parse number key %q: %w", s, err)
	}
	if math.IsNaN(f) {
		return 0, fmt.Errorf("parse number key %q: NaN is not ordered", s)
	}
	if f == 0 {
		f = 0
	}
	return f, nil
}
