package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"maxrelay/pkg/telegram"
)

func TestBotPoller_DropsPendingThenDispatches(t *testing.T) {
	updates := &mockUpdateSource{}
	handler := &mockCommandHandler{}

	updates.On("GetUpdates", mock.Anything, int64(-1), 0).Return([]telegram.Update{{UpdateID: 40}}, nil).Once()
	updates.On("GetUpdates", mock.Anything, int64(41), 25).Return(nil, errors.New("bad gateway")).Once()
	updates.On("GetUpdates", mock.Anything, int64(41), 25).Return([]telegram.Update{
		{UpdateID: 41, Message: &telegram.Message{
			From: &telegram.User{ID: 42, FirstName: "Ann", Username: "ann"},
			Chat: telegram.Chat{ID: 42, Type: "private"},
			Text: "/start",
		}},
		{UpdateID: 42},
		{UpdateID: 43, Message: &telegram.Message{
			From: &telegram.User{ID: 9, IsBot: true},
			Chat: telegram.Chat{ID: 9},
			Text: "/start",
		}},
	}, nil).Once()

	blocked := make(chan struct{})
	updates.On("GetUpdates", mock.Anything, int64(44), 25).Run(func(args mock.Arguments) {
		close(blocked)
		<-args.Get(0).(context.Context).Done()
	}).Return(nil, context.Canceled).Once()

	handler.On("HandleCommand", mock.Anything, BotMessage{
		ChatID:   42,
		UserID:   42,
		Username: "ann",
		FullName: "Ann",
		Text:     "/start",
	}).Return(nil).Once()

	poller := NewBotPoller(updates, handler, 25, fastBackoff(), quietLogger())
	require.NoError(t, poller.Start(context.Background()))
	assert.True(t, poller.IsRunning())

	select {
	case <-blocked:
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not reach the next long poll")
	}
	poller.Stop()
	assert.False(t, poller.IsRunning())

	updates.AssertExpectations(t)
	handler.AssertExpectations(t)
}

func TestBotPoller_HandlerErrorDoesNotStopPolling(t *testing.T) {
	updates := &mockUpdateSource{}
	handler := &mockCommandHandler{}

	updates.On("GetUpdates", mock.Anything, int64(-1), 0).Return(nil, errors.New("offline")).Once()
	updates.On("GetUpdates", mock.Anything, int64(0), 5).Return([]telegram.Update{
		{UpdateID: 1, Message: &telegram.Message{From: &telegram.User{ID: 2}, Chat: telegram.Chat{ID: 2}, Text: "hi"}},
	}, nil).Once()

	blocked := make(chan struct{})
	updates.On("GetUpdates", mock.Anything, int64(2), 5).Run(func(args mock.Arguments) {
		close(blocked)
		<-args.Get(0).(context.Context).Done()
	}).Return(nil, context.Canceled).Once()
	handler.On("HandleCommand", mock.Anything, mock.Anything).Return(errors.New("reply failed")).Once()

	poller := NewBotPoller(updates, handler, 5, fastBackoff(), quietLogger())
	require.NoError(t, poller.Start(context.Background()))

	select {
	case <-blocked:
	case <-time.After(5 * time.Second):
		t.Fatal("poller stopped after a handler error")
	}
	poller.Stop()
	handler.AssertExpectations(t)
}
