// Package storage persists the bridge's small JSON state documents.
//
// A Document is an opaque byte blob addressed by name. Stores above this
// layer own the encoding; the backends here only guarantee that a Save is
// all-or-nothing and that Load reports ErrNotFound for a document that was
// never written.
package storage

import (
	"errors"
)

// ErrNotFound is returned by Load when the document does not exist yet.
var ErrNotFound = errors.New("document not found")

type Document interface {
	Load() ([]byte, error)
	Save(data []byte) error
	// Name identifies the document in logs.
	Name() string
}
