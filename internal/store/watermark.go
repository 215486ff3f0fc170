package store

import (
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	apperrors "maxrelay/internal/errors"
	"maxrelay/internal/storage"
)

// WatermarkStore remembers the highest forwarded message id per source chat.
type WatermarkStore struct {
	mu     sync.Mutex
	doc    storage.Document
	logger *apperrors.Logger
	last   map[int64]int64
}

func NewWatermarkStore(doc storage.Document, logger *logrus.Logger) *WatermarkStore {
	s := &WatermarkStore{
		doc:    doc,
		logger: apperrors.NewLogger(logger),
		last:   make(map[int64]int64),
	}

	var raw map[string]int64
	if loadDocument(doc, &raw, s.logger) {
		for key, id := range raw {
			chatID, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				s.logger.LogWarn(apperrors.NewCorruptionError(doc.Name(), err), "Skipping watermark with non-numeric chat id")
				continue
			}
			s.last[chatID] = id
		}
	}
	return s
}

// GetLast returns the stored watermark, 0 for an unseen chat.
func (s *WatermarkStore) GetLast(chatID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[chatID]
}

// SetLast overwrites the watermark and flushes the whole map. A lower id
// than the current one is accepted.
func (s *WatermarkStore) SetLast(chatID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.last[chatID] = id
	raw := make(map[string]int64, len(s.last))
	for k, v := range s.last {
		raw[strconv.FormatInt(k, 10)] = v
	}
	return saveDocument(s.doc, raw)
}
