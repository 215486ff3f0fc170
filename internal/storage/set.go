package storage

import (
	"context"
	"fmt"

	"maxrelay/internal/constants"
	"maxrelay/internal/models"
)

const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Set bundles the three documents the bridge keeps.
type Set struct {
	Watermarks  Document
	Catalog     Document
	Subscribers Document

	sqlite *SQLiteBackend
}

// OpenSet builds the documents for the configured backend, wrapping each in
// EncryptedDocument when cfg.Encrypt is set.
func OpenSet(ctx context.Context, cfg models.StorageConfig) (*Set, error) {
	set := &Set{}

	switch cfg.Backend {
	case "", BackendJSON:
		var err error
		if set.Watermarks, err = NewFileDocument(cfg.StatePath); err != nil {
			return nil, err
		}
		if set.Catalog, err = NewFileDocument(cfg.CatalogPath); err != nil {
			return nil, err
		}
		if set.Subscribers, err = NewFileDocument(cfg.SubscribersPath); err != nil {
			return nil, err
		}
	case BackendSQLite:
		backend, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		set.sqlite = backend
		set.Watermarks = backend.Document(constants.DocumentWatermarks)
		set.Catalog = backend.Document(constants.DocumentCatalog)
		set.Subscribers = backend.Document(constants.DocumentSubscribers)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	if cfg.Encrypt {
		docs := map[string]*Document{
			constants.DocumentWatermarks:  &set.Watermarks,
			constants.DocumentCatalog:     &set.Catalog,
			constants.DocumentSubscribers: &set.Subscribers,
		}
		for name, doc := range docs {
			enc, err := NewEncryptedDocument(*doc, name)
			if err != nil {
				_ = set.Close()
				return nil, err
			}
			*doc = enc
		}
	}
	return set, nil
}

func (s *Set) Close() error {
	if s.sqlite == nil {
		return nil
	}
	return s.sqlite.Close()
}
