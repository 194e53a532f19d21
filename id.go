package majordomo

import (
	"time"

	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ShortID returns the first 8 characters of a fresh UUIDv7, used for
// branch-name suffixes and similar human-facing handles.
func ShortID() string {
	return NewID()[:8]
}

// NowUnix returns current time as Unix seconds.
func NowUnix() int64 {
	return time.Now().Unix()
}

// NowMillis returns current time as Unix milliseconds. Persisted timestamps
// use millisecond precision throughout.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
