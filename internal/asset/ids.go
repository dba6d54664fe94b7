package asset

import (
	"math/rand/v2"
	"time"
)

// CustomEpochMillis offsets generated identifiers so they stay well inside
// the signed 64-bit range.
const CustomEpochMillis int64 = 1300000000000

// NewID returns a time-based identifier with 9 bits of random jitter.
func NewID() int64 {
	return IDAt(time.Now(), rand.IntN(512))
}

// IDAt builds the identifier for a timestamp and jitter value. Jitter is
// reduced modulo 512.
func IDAt(now time.Time, jitter int) int64 {
	ts := now.UnixMilli() - CustomEpochMillis
	return (ts<<6)*512 + int64(jitter%512)
}
