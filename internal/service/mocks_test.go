package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"maxrelay/internal/models"
	"maxrelay/internal/storage"
	"maxrelay/internal/store"
	"maxrelay/pkg/media"
	"maxrelay/pkg/telegram"
)

type mockSourceClient struct {
	mock.Mock
	streams []func(ctx context.Context) (<-chan models.SourceMessage, <-chan error)
	mu      sync.Mutex
	dials   int
}

func (m *mockSourceClient) ListChats(ctx context.Context) ([]models.Chat, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Chat), args.Error(1)
}

func (m *mockSourceClient) GetUserName(ctx context.Context, userID int64) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func (m *mockSourceClient) ResolveVideoURL(ctx context.Context, chatID, messageID, videoID int64) (string, error) {
	args := m.Called(ctx, chatID, messageID, videoID)
	return args.String(0), args.Error(1)
}

func (m *mockSourceClient) ResolveFileURL(ctx context.Context, chatID, messageID, fileID int64) (string, error) {
	args := m.Called(ctx, chatID, messageID, fileID)
	return args.String(0), args.Error(1)
}

func (m *mockSourceClient) FetchHistory(ctx context.Context, chatID int64, backward int) ([]models.SourceMessage, error) {
	args := m.Called(ctx, chatID, backward)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.SourceMessage), args.Error(1)
}

// Events serves the configured streams in order; once exhausted it blocks
// until ctx ends.
func (m *mockSourceClient) Events(ctx context.Context) (<-chan models.SourceMessage, <-chan error) {
	m.mu.Lock()
	i := m.dials
	m.dials++
	m.mu.Unlock()

	if i < len(m.streams) {
		return m.streams[i](ctx)
	}
	messages := make(chan models.SourceMessage)
	errc := make(chan error, 1)
	go func() {
		<-ctx.Done()
		close(messages)
	}()
	return messages, errc
}

func (m *mockSourceClient) dialCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dials
}

// sentItem is one call made against recordingSender
type sentItem struct {
	Method   string
	ChatID   int64
	Text     string
	FileName string
	Data     string
}

type recordingSender struct {
	mu    sync.Mutex
	items []sentItem
	fail  map[string]error
}

func newRecordingSender() *recordingSender {
	return &recordingSender{fail: make(map[string]error)}
}

func (s *recordingSender) record(item sentItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
	return s.fail[item.Method]
}

func (s *recordingSender) SendText(ctx context.Context, chatID int64, text string) error {
	return s.record(sentItem{Method: "text", ChatID: chatID, Text: text})
}

func (s *recordingSender) SendPhoto(ctx context.Context, chatID int64, data []byte, filename string) error {
	return s.record(sentItem{Method: "photo", ChatID: chatID, FileName: filename, Data: string(data)})
}

func (s *recordingSender) SendVideo(ctx context.Context, chatID int64, data []byte, filename string) error {
	return s.record(sentItem{Method: "video", ChatID: chatID, FileName: filename, Data: string(data)})
}

func (s *recordingSender) SendDocument(ctx context.Context, chatID int64, data []byte, filename string) error {
	return s.record(sentItem{Method: "document", ChatID: chatID, FileName: filename, Data: string(data)})
}

func (s *recordingSender) sent() []sentItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentItem(nil), s.items...)
}

func (s *recordingSender) textsTo(chatID int64) []string {
	var out []string
	for _, item := range s.sent() {
		if item.Method == "text" && item.ChatID == chatID {
			out = append(out, item.Text)
		}
	}
	return out
}

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, url string) (*media.Download, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*media.Download), args.Error(1)
}

type mockUpdateSource struct {
	mock.Mock
}

func (m *mockUpdateSource) GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]telegram.Update, error) {
	args := m.Called(ctx, offset, timeoutSec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]telegram.Update), args.Error(1)
}

type mockCommandHandler struct {
	mock.Mock
}

func (m *mockCommandHandler) HandleCommand(ctx context.Context, msg BotMessage) error {
	return m.Called(ctx, msg).Error(0)
}

// testStores builds file-backed stores under a temp dir
type testStores struct {
	dir        string
	watermarks *store.WatermarkStore
	catalog    *store.CatalogStore
	subs       *store.SubscriptionStore
}

func newTestStores(t *testing.T, seed []int64) *testStores {
	t.Helper()
	dir := t.TempDir()
	logger := quietLogger()

	open := func(name string) storage.Document {
		doc, err := storage.NewFileDocument(filepath.Join(dir, name))
		require.NoError(t, err)
		return doc
	}

	catalog, err := store.NewCatalogStore(open("catalog.json"), seed, logger)
	require.NoError(t, err)

	return &testStores{
		dir:        dir,
		watermarks: store.NewWatermarkStore(open("state.json"), logger),
		catalog:    catalog,
		subs:       store.NewSubscriptionStore(open("subscribers.json"), logger),
	}
}

func int64Ptr(v int64) *int64 {
	return &v
}
