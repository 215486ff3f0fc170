package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"maxrelay/internal/models"
	"maxrelay/internal/retry"
)

type handledCall struct {
	ID       models.RawID
	Override *int64
}

type recordingHandler struct {
	mu    sync.Mutex
	calls []handledCall
	seen  chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{seen: make(chan struct{}, 100)}
}

func (h *recordingHandler) HandleMessage(ctx context.Context, msg models.SourceMessage, override *int64) (Outcome, error) {
	h.mu.Lock()
	h.calls = append(h.calls, handledCall{ID: msg.ID, Override: override})
	h.mu.Unlock()
	h.seen <- struct{}{}
	return OutcomeForwarded, nil
}

func (h *recordingHandler) waitFor(t *testing.T, n int) []handledCall {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-h.seen:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for message %d", i+1)
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]handledCall(nil), h.calls...)
}

func fastBackoff() *retry.Backoff {
	return retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	})
}

func streamOf(err error, msgs ...models.SourceMessage) func(ctx context.Context) (<-chan models.SourceMessage, <-chan error) {
	return func(ctx context.Context) (<-chan models.SourceMessage, <-chan error) {
		out := make(chan models.SourceMessage)
		errc := make(chan error, 1)
		go func() {
			defer close(out)
			for _, m := range msgs {
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			}
			errc <- err
		}()
		return out, errc
	}
}

func TestSourceListener_ReplaysThenStreamsAndReconnects(t *testing.T) {
	source := &mockSourceClient{}
	source.On("ListChats", mock.Anything).Return([]models.Chat{{ID: 100, Title: "News"}}, nil)
	source.On("FetchHistory", mock.Anything, int64(100), 3).Return([]models.SourceMessage{
		{ID: "12"}, {ID: "10"}, {ID: "bad"}, {ID: "11"},
	}, nil)
	source.On("FetchHistory", mock.Anything, int64(300), 3).Return(nil, errors.New("no access"))
	source.streams = append(source.streams,
		streamOf(errors.New("connection reset"), models.SourceMessage{ID: "13"}),
		streamOf(errors.New("connection reset"), models.SourceMessage{ID: "14"}),
	)

	stores := newTestStores(t, []int64{100, 300})
	handler := newRecordingHandler()
	routes := NewRouteTable([]models.Route{{MaxChatID: 100, TgChatID: int64Ptr(200)}, {MaxChatID: 300}})
	titles := NewTitleCache(source, quietLogger())

	listener := NewSourceListener(source, handler, routes, titles, stores.catalog, 3, fastBackoff(), quietLogger())
	require.NoError(t, listener.Start(context.Background()))
	assert.Error(t, listener.Start(context.Background()))

	calls := handler.waitFor(t, 6)
	listener.Stop()
	assert.False(t, listener.IsRunning())

	var ids []models.RawID
	for _, c := range calls {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []models.RawID{"bad", "10", "11", "12", "13", "14"}, ids)
	for _, c := range calls[:4] {
		require.NotNil(t, c.Override)
		assert.Equal(t, int64(100), *c.Override)
	}
	assert.Nil(t, calls[4].Override)
	assert.Equal(t, "News", titles.Title(100))
	assert.GreaterOrEqual(t, source.dialCount(), 2)
}

func TestSourceListener_NoReplayWhenHistoryDisabled(t *testing.T) {
	source := &mockSourceClient{}
	source.On("ListChats", mock.Anything).Return(nil, errors.New("offline"))
	source.streams = append(source.streams, streamOf(nil, models.SourceMessage{ID: "1"}))

	stores := newTestStores(t, nil)
	handler := newRecordingHandler()
	routes := NewRouteTable([]models.Route{{MaxChatID: 100, TgChatID: int64Ptr(200)}})

	listener := NewSourceListener(source, handler, routes, NewTitleCache(source, quietLogger()), stores.catalog, 0, fastBackoff(), quietLogger())
	require.NoError(t, listener.Start(context.Background()))
	calls := handler.waitFor(t, 1)
	listener.Stop()

	assert.Equal(t, models.RawID("1"), calls[0].ID)
	source.AssertNotCalled(t, "FetchHistory", mock.Anything, mock.Anything, mock.Anything)
}

func TestSortByID(t *testing.T) {
	msgs := []models.SourceMessage{{ID: "3"}, {ID: "x"}, {ID: "1"}, {ID: "y"}, {ID: "2"}}
	sortByID(msgs)

	var ids []models.RawID
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []models.RawID{"x", "y", "1", "2", "3"}, ids)
}
