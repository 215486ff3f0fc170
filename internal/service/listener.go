package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"maxrelay/internal/metrics"
	"maxrelay/internal/models"
	"maxrelay/internal/retry"
)

// MessageHandler is implemented by Engine
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg models.SourceMessage, overrideChatID *int64) (Outcome, error)
}

// SourceListener replays recent history for every routed chat and then
// pumps live events into the handler, reconnecting with backoff.
type SourceListener struct {
	source         SourceClient
	handler        MessageHandler
	routes         *RouteTable
	titles         *TitleCache
	catalog        CatalogReader
	startupHistory int
	backoff        *retry.Backoff
	logger         *logrus.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

func NewSourceListener(source SourceClient, handler MessageHandler, routes *RouteTable, titles *TitleCache,
	catalog CatalogReader, startupHistory int, backoff *retry.Backoff, logger *logrus.Logger) *SourceListener {
	return &SourceListener{
		source:         source,
		handler:        handler,
		routes:         routes,
		titles:         titles,
		catalog:        catalog,
		startupHistory: startupHistory,
		backoff:        backoff,
		logger:         logger,
	}
}

// Start launches the listener goroutine
func (l *SourceListener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return fmt.Errorf("source listener is already running")
	}

	l.ctx, l.cancel = context.WithCancel(ctx)
	l.running = true

	l.wg.Add(1)
	go l.run()
	return nil
}

// Stop cancels the listener and waits for the goroutine to exit
func (l *SourceListener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return
	}
	l.logger.Info("Stopping source listener...")
	l.cancel()
	l.wg.Wait()
	l.running = false
	l.logger.Info("Source listener stopped")
}

func (l *SourceListener) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *SourceListener) run() {
	defer l.wg.Done()

	if err := l.titles.Refresh(l.ctx); err != nil {
		l.logger.WithError(err).Warn("Could not load chat titles, numeric ids will be shown")
	}
	l.logger.WithFields(logrus.Fields{
		"catalog": l.catalog.ListVisible(),
		"routes":  l.routes.Pairs(),
		"titles":  l.titles.Snapshot(),
	}).Info("Source listener starting")

	l.replay(l.ctx)
	l.pump()
}

// replay forwards the most recent messages of each routed chat, oldest first.
// Anything already forwarded is dropped by the watermark check.
func (l *SourceListener) replay(ctx context.Context) {
	if l.startupHistory <= 0 {
		return
	}
	for _, chatID := range l.routes.SourceIDs() {
		if ctx.Err() != nil {
			return
		}
		history, err := l.source.FetchHistory(ctx, chatID, l.startupHistory)
		if err != nil {
			l.logger.WithError(err).WithField(LogFieldSourceChat, chatID).Warn("Failed to fetch startup history")
			continue
		}
		l.logger.WithFields(logrus.Fields{
			LogFieldSourceChat: chatID,
			LogFieldCount:      len(history),
		}).Info("Startup history fetched")

		sortByID(history)
		override := chatID
		for _, msg := range history {
			l.dispatch(ctx, msg, &override)
		}
	}
}

func (l *SourceListener) pump() {
	attempt := 0
	for {
		messages, errc := l.source.Events(l.ctx)
		received := false
		for msg := range messages {
			received = true
			l.dispatch(l.ctx, msg, nil)
		}
		if l.ctx.Err() != nil {
			return
		}

		var err error
		select {
		case err = <-errc:
		default:
		}
		if received {
			attempt = 0
		}
		metrics.IncrementCounter("source_stream_disconnects_total", nil, "Live event stream disconnects")
		l.logger.WithError(err).WithField(LogFieldAttempt, attempt+1).Warn("Source event stream ended, reconnecting")

		if err := l.backoff.Wait(l.ctx, attempt); err != nil {
			return
		}
		attempt++
	}
}

func (l *SourceListener) dispatch(ctx context.Context, msg models.SourceMessage, override *int64) {
	if _, err := l.handler.HandleMessage(ctx, msg, override); err != nil {
		l.logger.WithError(err).WithField(LogFieldMessageID, string(msg.ID)).Debug("Message handling returned an error")
	}
}

// sortByID orders messages by numeric id; ids that do not parse keep their
// relative position at the front and are rejected later by the engine.
func sortByID(msgs []models.SourceMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		a, errA := msgs[i].ID.Int64()
		b, errB := msgs[j].ID.Int64()
		switch {
		case errA != nil:
			return errB == nil
		case errB != nil:
			return false
		default:
			return a < b
		}
	})
}
