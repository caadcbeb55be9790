package idgen

import (
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// New returns a UUIDv7 identifier string.
// If UUIDv7 generation fails, it falls back to a random UUIDv4.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Prefixed returns prefix_<ULID>. ULIDs from one process sort in creation
// order, even within the same millisecond.
func Prefixed(prefix string) string {
	id := ulid.Make().String()
	prefix = strings.TrimRight(prefix, "_")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
