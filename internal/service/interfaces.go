package service

import (
	"context"

	"maxrelay/internal/models"
	"maxrelay/pkg/media"
)

// SourceClient is the part of the MAX gateway the relay depends on
type SourceClient interface {
	ListChats(ctx context.Context) ([]models.Chat, error)
	GetUserName(ctx context.Context, userID int64) (string, error)
	ResolveVideoURL(ctx context.Context, chatID, messageID, videoID int64) (string, error)
	ResolveFileURL(ctx context.Context, chatID, messageID, fileID int64) (string, error)
	FetchHistory(ctx context.Context, chatID int64, backward int) ([]models.SourceMessage, error)
	Events(ctx context.Context) (<-chan models.SourceMessage, <-chan error)
}

// Sender delivers rendered content to a destination chat
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendPhoto(ctx context.Context, chatID int64, data []byte, filename string) error
	SendVideo(ctx context.Context, chatID int64, data []byte, filename string) error
	SendDocument(ctx context.Context, chatID int64, data []byte, filename string) error
}

type MediaFetcher interface {
	Fetch(ctx context.Context, url string) (*media.Download, error)
}

type WatermarkStore interface {
	GetLast(chatID int64) int64
	SetLast(chatID, id int64) error
}

type SubscriberIndex interface {
	GetSubscribersForChat(chatID int64) []int64
}

// ChatLister is satisfied by SourceClient; the title cache only needs this much
type ChatLister interface {
	ListChats(ctx context.Context) ([]models.Chat, error)
}

type CatalogReader interface {
	ListVisible() []int64
}

// CatalogManager is the catalog surface the admin commands drive
type CatalogManager interface {
	CatalogReader
	ListAll() []models.CatalogEntry
	Contains(id int64) bool
	IsVisible(id int64) bool
	AddGroup(id int64) error
	HideGroup(id int64) (bool, error)
	UnhideGroup(id int64) (bool, error)
	RemoveGroup(id int64) (bool, error)
}

// SubscriptionManager is the subscription surface the admin commands drive
type SubscriptionManager interface {
	SubscriberIndex
	EnsureUser(userID int64, username, name string) error
	Subscribe(userID, chatID int64) error
	Unsubscribe(userID, chatID int64) error
	GetUserChats(userID int64) []int64
	ListUsers() map[int64]models.UserProfile
	RemoveGroupFromAll(chatID int64) error
}
