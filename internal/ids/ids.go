package ids

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
)

// New returns a lexicographically sortable identifier for database records.
// ULIDs keep index order roughly matching insertion order, which keeps the
// user and refresh-token tables append-friendly.
func New() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
