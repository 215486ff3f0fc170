// Package store holds the bridge's durable state: per-chat watermarks,
// the catalog of known source chats and user subscriptions.
//
// Every store keeps its whole state in memory, guards it with a mutex and
// rewrites its backing document in full on each mutation. A document that
// cannot be read or decoded is logged and treated as empty so the bridge
// still starts.
package store

import (
	"encoding/json"
	"errors"

	apperrors "maxrelay/internal/errors"
	"maxrelay/internal/storage"
)

// loadDocument decodes doc into v. It reports false when the document is
// absent or unusable; in the latter case the corruption is logged and v is
// left for the caller to reset.
func loadDocument(doc storage.Document, v interface{}, logger *apperrors.Logger) bool {
	data, err := doc.Load()
	if errors.Is(err, storage.ErrNotFound) {
		return false
	}
	if err == nil {
		err = json.Unmarshal(data, v)
	}
	if err != nil {
		logger.LogWarn(apperrors.NewCorruptionError(doc.Name(), err), "State document unreadable, starting empty")
		return false
	}
	return true
}

func saveDocument(doc storage.Document, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return apperrors.NewPersistenceError(doc.Name(), err)
	}
	if err := doc.Save(data); err != nil {
		return apperrors.NewPersistenceError(doc.Name(), err)
	}
	return nil
}
