package xid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New returns a prefixed, time-ordered identifier such as "dlv-0190f2c1-...".
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), uuid.NewString())
	}
	return prefix + "-" + id.String()
}

// Short returns the first eight hex characters of a fresh random id, used in
// human-facing references.
func Short() string {
	return uuid.NewString()[:8]
}
