package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
)

// TitleCache maps source chat ids to display titles. It is filled from the
// source client on Refresh and never queried implicitly.
type TitleCache struct {
	lister ChatLister
	logger *logrus.Logger

	mu     sync.RWMutex
	titles map[int64]string
}

func NewTitleCache(lister ChatLister, logger *logrus.Logger) *TitleCache {
	return &TitleCache{
		lister: lister,
		logger: logger,
		titles: make(map[int64]string),
	}
}

// Refresh replaces the cache with every chat the source account can see
func (c *TitleCache) Refresh(ctx context.Context) error {
	chats, err := c.lister.ListChats(ctx)
	if err != nil {
		return fmt.Errorf("failed to list source chats: %w", err)
	}

	titles := make(map[int64]string, len(chats))
	for _, chat := range chats {
		titles[chat.ID] = titleOrID(chat.ID, chat.Title)
	}

	c.mu.Lock()
	c.titles = titles
	c.mu.Unlock()

	c.logger.WithField(LogFieldCount, len(titles)).Debug("Chat titles refreshed")
	return nil
}

// RefreshChat updates a single entry. It reports whether the chat was found.
func (c *TitleCache) RefreshChat(ctx context.Context, chatID int64) (bool, error) {
	chats, err := c.lister.ListChats(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list source chats: %w", err)
	}
	for _, chat := range chats {
		if chat.ID == chatID {
			c.mu.Lock()
			c.titles[chatID] = titleOrID(chat.ID, chat.Title)
			c.mu.Unlock()
			return true, nil
		}
	}
	return false, nil
}

// Title returns the cached title or the decimal id when unknown
func (c *TitleCache) Title(chatID int64) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if title, ok := c.titles[chatID]; ok {
		return title
	}
	return strconv.FormatInt(chatID, 10)
}

// Snapshot copies the cache for logging
func (c *TitleCache) Snapshot() map[int64]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[int64]string, len(c.titles))
	for k, v := range c.titles {
		out[k] = v
	}
	return out
}

func titleOrID(id int64, title string) string {
	if title == "" {
		return strconv.FormatInt(id, 10)
	}
	return title
}
