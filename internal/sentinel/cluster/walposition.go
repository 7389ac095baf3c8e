package cluster

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrMalformedWalPosition is returned when a WAL position string does not
// match the <hex>/<hex> grammar.
var ErrMalformedWalPosition = errors.New("malformed wal position")

var walPositionPattern = regexp.MustCompile(`^([0-9A-Fa-f]+)/([0-9A-Fa-f]+)$`)

// WalPosition is an opaque, totally-ordered write-ahead-log location,
// printed as two hex segments separated by "/". The source this system is
// modeled on compares the printed form lexicographically, which is only
// safe if both segments are zero-padded to equal widths. PostgreSQL does
// not pad, so WalPosition always parses into a pair of integers and
// compares numerically instead.
type WalPosition struct {
	High uint64
	Low  uint64
}

// ParseWalPosition parses the <hex>/<hex> wire format used throughout the
// +SDOWN message grammar and the database probe responses.
func ParseWalPosition(s string) (WalPosition, error) {
	m := walPositionPattern.FindStringSubmatch(s)
	if m == nil {
		return WalPosition{}, fmt.Errorf("%w: %q", ErrMalformedWalPosition, s)
	}

	high, err := strconv.ParseUint(m[1], 16, 64)
	if err != nil {
		return WalPosition{}, fmt.Errorf("%w: %q", ErrMalformedWalPosition, s)
	}

	low, err := strconv.ParseUint(m[2], 16, 64)
	if err != nil {
		return WalPosition{}, fmt.Errorf("%w: %q", ErrMalformedWalPosition, s)
	}

	return WalPosition{High: high, Low: low}, nil
}

// String renders the position back into the <hex>/<hex> wire format.
func (w WalPosition) String() string {
	return fmt.Sprintf("%X/%X", w.High, w.Low)
}

// asUint64 treats the position as a single 64-bit LSN the way PostgreSQL
// does internally: the high segment is the upper 32 bits.
func (w WalPosition) asUint64() uint64 {
	return w.High<<32 | w.Low
}

// Compare returns -1, 0 or 1 as w is numerically less than, equal to, or
// greater than other.
func (w WalPosition) Compare(other WalPosition) int {
	a, b := w.asUint64(), other.asUint64()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Max returns the numerically greater of the two positions.
func Max(a, b WalPosition) WalPosition {
	if a.Compare(b) >= 0 {
		return a
	}
	return b
}

// Diff returns the non-negative byte distance between two WAL positions,
// i.e. abs(w - other).
func (w WalPosition) Diff(other WalPosition) uint64 {
	a, b := w.asUint64(), other.asUint64()
	if a >= b {
		return a - b
	}
	return b - a
}
