// Package xid generates the prefixed identifiers used across the store
// ("prod", "ord", "po", "pay", "inv", "mv"). An id is the prefix, a base-36
// creation timestamp and a random suffix, so ids sort roughly by creation
// time and stay readable in logs.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// New returns "<prefix>-<stamp>-<random>". The random suffix makes collisions
// within the same nanosecond a non-issue.
func New(prefix string) string {
	stamp := strconv.FormatInt(time.Now().UTC().UnixNano(), 36)
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		// Fall back to the timestamp alone rather than aborting an otherwise
		// valid write.
		return prefix + "-" + stamp
	}
	return prefix + "-" + stamp + "-" + hex.EncodeToString(buf)
}
