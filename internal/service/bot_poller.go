package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"maxrelay/internal/retry"
	"maxrelay/pkg/telegram"
)

type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]telegram.Update, error)
}

type CommandHandler interface {
	HandleCommand(ctx context.Context, msg BotMessage) error
}

// BotPoller long-polls the bot API and feeds text messages to the command handler
type BotPoller struct {
	updates    UpdateSource
	handler    CommandHandler
	timeoutSec int
	backoff    *retry.Backoff
	logger     *logrus.Logger

	offset  int64
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

func NewBotPoller(updates UpdateSource, handler CommandHandler, timeoutSec int, backoff *retry.Backoff, logger *logrus.Logger) *BotPoller {
	return &BotPoller{
		updates:    updates,
		handler:    handler,
		timeoutSec: timeoutSec,
		backoff:    backoff,
		logger:     logger,
	}
}

// Start skips updates queued while the bot was offline and begins polling
func (p *BotPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("bot poller is already running")
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.dropPending(p.ctx)
	p.running = true

	p.wg.Add(1)
	go p.pollLoop()

	p.logger.WithField("timeout_sec", p.timeoutSec).Info("Telegram polling started")
	return nil
}

func (p *BotPoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.logger.Info("Stopping bot poller...")
	p.cancel()
	p.wg.Wait()
	p.running = false
	p.logger.Info("Bot poller stopped")
}

func (p *BotPoller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// dropPending acknowledges everything up to the newest queued update
func (p *BotPoller) dropPending(ctx context.Context) {
	updates, err := p.updates.GetUpdates(ctx, -1, 0)
	if err != nil {
		p.logger.WithError(err).Warn("Could not drop pending updates")
		return
	}
	if n := len(updates); n > 0 {
		p.offset = updates[n-1].UpdateID + 1
		p.logger.WithField(LogFieldCount, n).Debug("Dropped pending updates")
	}
}

func (p *BotPoller) pollLoop() {
	defer p.wg.Done()

	attempt := 0
	for {
		if p.ctx.Err() != nil {
			return
		}

		updates, err := p.updates.GetUpdates(p.ctx, p.offset, p.timeoutSec)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			p.logger.WithError(err).WithField(LogFieldAttempt, attempt+1).Warn("Telegram polling failed, retrying")
			if err := p.backoff.Wait(p.ctx, attempt); err != nil {
				return
			}
			attempt++
			continue
		}
		attempt = 0

		for _, update := range updates {
			p.offset = update.UpdateID + 1
			p.dispatch(update)
		}
	}
}

func (p *BotPoller) dispatch(update telegram.Update) {
	m := update.Message
	if m == nil || m.From == nil || m.From.IsBot || m.Text == "" {
		return
	}
	msg := BotMessage{
		ChatID:   m.Chat.ID,
		UserID:   m.From.ID,
		Username: m.From.Username,
		FullName: m.From.FullName(),
		Text:     m.Text,
	}
	if err := p.handler.HandleCommand(p.ctx, msg); err != nil {
		p.logger.WithError(err).WithField(LogFieldUserID, msg.UserID).Warn("Failed to answer bot command")
	}
}
