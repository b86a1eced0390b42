// Package ref generates unique, sortable references for orders and ledger
// entries.
package ref

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// New returns a prefixed ULID reference, e.g. "RCH-01J8ZQ...". ULIDs sort by
// creation time, which keeps ledger listings naturally ordered.
func New(prefix string) string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	return fmt.Sprintf("%s-%s", prefix, id.String())
}
