// Package ids generates the message ids of bus children.
package ids

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// One entropy source for the process keeps ids from concurrent bus
// children ordered within a millisecond.
var (
	mu      sync.Mutex
	entropy io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a 26 character ULID. Ids created later by the same
// process sort after earlier ones.
func CreateULID() string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
