package domain

import (
	"strings"

	"github.com/google/uuid"
)

// Provisional ids stand in for server-issued ids between an optimistic create
// and its commit. The reserved prefix guarantees no collision with server ids;
// only this file knows about it, callers go through the predicate.
const provisionalPrefix = "prov_"

// NewProvisionalID mints an id the server will never issue.
func NewProvisionalID() string {
	return provisionalPrefix + uuid.NewString()
}

// IsProvisionalID reports whether id was minted locally by NewProvisionalID.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, provisionalPrefix)
}
