package model

import (
	"errors"
	"fmt"
	"time"
)

// KeySpec lists the fields whose combined values identify a row remotely.
// The common case is the single identity field; collections keyed by a
// business tuple (student_id + month) list every field of the tuple.
type KeySpec []string

// IdentityKey is the KeySpec for collections addressed by remote id.
var IdentityKey = KeySpec{IDField}

// IsIdentity reports whether the key is the remote id alone.
func (k KeySpec) IsIdentity() bool {
	return len(k) == 1 && k[0] == IDField
}

// Order is one ordering clause for remote selects.
type Order struct {
	Field      string
	Descending bool
}

// Query describes a remote select.
type Query struct {
	Filter Match
	Order  []Order
}

// Collection describes one named set of records and how they are addressed.
type Collection struct {
	Name string
	// Key is the lookup key used for remote update and delete.
	Key KeySpec
	// ClientRefField, when set, names a column holding the record's LocalID.
	// Creates are then sent as upserts on that column so a retried create
	// can never produce a second remote row.
	ClientRefField string
	// Scope restricts every select and is stamped on every write, e.g. the
	// owning user id.
	Scope Match
	Order []Order
}

// Validate checks that the collection is usable by a reconciler.
func (c Collection) Validate() error {
	if c.Name == "" {
		return errors.New("collection name is required")
	}
	if len(c.Key) == 0 {
		return fmt.Errorf("collection %s: key is required", c.Name)
	}
	for _, f := range c.Key {
		if f == "" {
			return fmt.Errorf("collection %s: empty key field", c.Name)
		}
	}
	return nil
}

// CacheKey is the local storage key holding the collection's snapshot.
func (c Collection) CacheKey() string {
	return "collection:" + c.Name
}

// Query returns the select used to fetch the whole collection.
func (c Collection) Query() Query {
	return Query{Filter: c.Scope, Order: c.Order}
}

// CacheEntry is the serialized snapshot of a collection in local storage.
type CacheEntry struct {
	Collection string    `json:"collection"`
	FetchedAt  time.Time `json:"fetched_at"`
	Records    []Record  `json:"records"`
}
