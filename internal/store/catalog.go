package store

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	apperrors "maxrelay/internal/errors"
	"maxrelay/internal/models"
	"maxrelay/internal/storage"
)

type catalogDocument struct {
	Groups []models.CatalogEntry `json:"groups"`
}

// CatalogStore is the ordered registry of known source chats.
type CatalogStore struct {
	mu      sync.Mutex
	doc     storage.Document
	logger  *apperrors.Logger
	entries []models.CatalogEntry
}

// NewCatalogStore loads the catalog and merges seedIDs into it. A missing
// document is seeded with the sorted unique ids; an existing one gets any
// absent id appended as visible. Either way the result is written back.
func NewCatalogStore(doc storage.Document, seedIDs []int64, logger *logrus.Logger) (*CatalogStore, error) {
	s := &CatalogStore{doc: doc, logger: apperrors.NewLogger(logger)}

	var stored catalogDocument
	if loadDocument(doc, &stored, s.logger) {
		seen := make(map[int64]bool, len(stored.Groups))
		for _, entry := range stored.Groups {
			if seen[entry.ID] {
				continue
			}
			seen[entry.ID] = true
			s.entries = append(s.entries, entry)
		}
	}

	s.merge(seedIDs)
	return s, s.save()
}

func (s *CatalogStore) merge(ids []int64) {
	unique := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i] < unique[j] })

	for _, id := range unique {
		if s.indexOf(id) < 0 {
			s.entries = append(s.entries, models.CatalogEntry{ID: id})
		}
	}
}

func (s *CatalogStore) indexOf(id int64) int {
	for i, entry := range s.entries {
		if entry.ID == id {
			return i
		}
	}
	return -1
}

func (s *CatalogStore) save() error {
	groups := s.entries
	if groups == nil {
		groups = []models.CatalogEntry{}
	}
	return saveDocument(s.doc, catalogDocument{Groups: groups})
}

// ListVisible returns the ids of non-hidden entries in catalog order.
func (s *CatalogStore) ListVisible() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.entries))
	for _, entry := range s.entries {
		if !entry.Hidden {
			ids = append(ids, entry.ID)
		}
	}
	return ids
}

func (s *CatalogStore) ListAll() []models.CatalogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.CatalogEntry(nil), s.entries...)
}

func (s *CatalogStore) Contains(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexOf(id) >= 0
}

func (s *CatalogStore) IsVisible(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	return i >= 0 && !s.entries[i].Hidden
}

// AddGroup inserts the chat, or makes it visible again if already known.
func (s *CatalogStore) AddGroup(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(id); i >= 0 {
		s.entries[i].Hidden = false
	} else {
		s.entries = append(s.entries, models.CatalogEntry{ID: id})
	}
	return s.save()
}

// HideGroup reports whether the chat was present.
func (s *CatalogStore) HideGroup(id int64) (bool, error) {
	return s.setHidden(id, true)
}

func (s *CatalogStore) UnhideGroup(id int64) (bool, error) {
	return s.setHidden(id, false)
}

func (s *CatalogStore) setHidden(id int64, hidden bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return false, nil
	}
	s.entries[i].Hidden = hidden
	return true, s.save()
}

// RemoveGroup deletes the entry; removing an unknown id is a no-op.
func (s *CatalogStore) RemoveGroup(id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return false, nil
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	return true, s.save()
}
