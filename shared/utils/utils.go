package utils

import (
	"crypto/rand"
	"math/big"
	"time"
)

// ISOLayout matches JavaScript's Date.toISOString output, which is the
// timestamp format carried on the wire.
const ISOLayout = "2006-01-02T15:04:05.000Z"

// GenerateID returns a random integer in [base, base+spread).
func GenerateID(base, spread int64) int {
	num, err := rand.Int(rand.Reader, big.NewInt(spread))
	if err != nil {
		return int(base)
	}
	return int(base + num.Int64())
}

// ISOTimestamp formats t in UTC with millisecond precision.
func ISOTimestamp(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

// Now is ISOTimestamp(time.Now()).
func Now() string {
	return ISOTimestamp(time.Now())
}

// ParseISOTimestamp accepts the wire layout and any RFC 3339 timestamp.
func ParseISOTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(ISOLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
