package migrate

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateSource indicates a source identifier was mapped twice.
	ErrDuplicateSource = errors.New("source id already mapped")

	// ErrDuplicateDestination indicates a destination identifier was mapped twice.
	ErrDuplicateDestination = errors.New("destination id already mapped")
)

// IdentityMap maps source record identifiers to the identifiers the
// destination assigned when the records were re-created. It is scoped to
// one collection and one run, and is bijective.
type IdentityMap struct {
	collection string
	forward    map[string]string
	reverse    map[string]struct{}
}

// NewIdentityMap returns an empty map for collection.
func NewIdentityMap(collection string) *IdentityMap {
	return &IdentityMap{
		collection: collection,
		forward:    make(map[string]string),
		reverse:    make(map[string]struct{}),
	}
}

// Put records that source was re-created as destination.
func (m *IdentityMap) Put(source, destination string) error {
	if _, ok := m.forward[source]; ok {
		return fmt.Errorf("%s %s: %w", m.collection, source, ErrDuplicateSource)
	}
	if _, ok := m.reverse[destination]; ok {
		return fmt.Errorf("%s %s: %w", m.collection, destination, ErrDuplicateDestination)
	}
	m.forward[source] = destination
	m.reverse[destination] = struct{}{}
	return nil
}

// Lookup returns the destination identifier of source.
func (m *IdentityMap) Lookup(source string) (string, bool) {
	id, ok := m.forward[source]
	return id, ok
}

// Len returns the number of mapped records.
func (m *IdentityMap) Len() int {
	return len(m.forward)
}
