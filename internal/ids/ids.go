// Package ids defines the sortable, globally-unique 128-bit identifiers used
// for every entity the orchestrator tracks. Ids are ULIDs: a 48-bit
// millisecond timestamp prefix followed by 80 bits of monotonic entropy, so
// ids minted later in the same process sort after ids minted earlier even at
// sub-millisecond resolution, and externally they render as 26-character
// base32 strings.
package ids

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID is a 128-bit, lexicographically sortable identifier.
type ID ulid.ULID

// Nil is the zero value; it is never returned by New and is only useful as a
// caller-side sentinel for "unset".
var Nil ID

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New mints a fresh ID from the current wall clock time. Ids minted by
// concurrent callers within the same process are still totally ordered
// thanks to the monotonic entropy source.
func New() ID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	u := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return ID(u)
}

// Parse decodes a 26-character base32 ULID string into an ID.
func Parse(s string) (ID, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return Nil, fmt.Errorf("ids: parse %q: %w", s, err)
	}
	return ID(u), nil
}

// MustParse is Parse but panics on error; reserved for constants in tests.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String renders the canonical 26-character base32 form.
func (id ID) String() string {
	u := ulid.ULID(id)
	return u.String()
}

// Compare orders two ids; negative if id < other, 0 if equal, positive if
// id > other. Because the timestamp occupies the high-order bits, Compare
// is equivalent to comparing mint time, then tie-breaking on entropy.
func (id ID) Compare(other ID) int {
	return ulid.ULID(id).Compare(ulid.ULID(other))
}

// Before reports whether id was minted strictly before other.
func (id ID) Before(other ID) bool { return id.Compare(other) < 0 }

// IsNil reports whether id is the zero value.
func (id ID) IsNil() bool { return id == Nil }

// Time returns the millisecond-resolution mint time encoded in id.
func (id ID) Time() time.Time {
	return time.UnixMilli(int64(ulid.ULID(id).Time()))
}

// MarshalText implements encoding.TextMarshaler so ids serialize as their
// base32 string form in JSON and in the embedded KV key space.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
