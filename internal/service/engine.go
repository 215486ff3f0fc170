package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	apperrors "maxrelay/internal/errors"
	"maxrelay/internal/format"
	"maxrelay/internal/metrics"
	"maxrelay/internal/models"
	"maxrelay/internal/tracing"
)

// Outcome describes what HandleMessage did with a message
type Outcome int

const (
	OutcomeNoChat Outcome = iota
	OutcomeMalformed
	OutcomeDuplicate
	OutcomeUnrouted
	OutcomeCancelled
	OutcomeForwarded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoChat:
		return "no_chat"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeUnrouted:
		return "unrouted"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeForwarded:
		return "forwarded"
	default:
		return "unknown"
	}
}

// Fallback file names used when a download carries none
const (
	defaultPhotoName = "photo.jpg"
	defaultVideoName = "video.mp4"
	defaultFileName  = "file"
)

type EngineConfig struct {
	Source     SourceClient
	Sender     Sender
	Fetcher    MediaFetcher
	Routes     *RouteTable
	Subs       SubscriberIndex
	Watermarks WatermarkStore
	Titles     *TitleCache

	AttachmentDelay time.Duration
	Location        *time.Location
	Logger          *logrus.Logger
}

// Engine forwards source messages to every interested destination exactly
// once per source chat. Calls to HandleMessage are serialised.
type Engine struct {
	source     SourceClient
	sender     Sender
	fetcher    MediaFetcher
	routes     *RouteTable
	subs       SubscriberIndex
	watermarks WatermarkStore
	titles     *TitleCache

	attachmentDelay time.Duration
	location        *time.Location
	logger          *logrus.Logger
	errLogger       *apperrors.Logger
	wait            func(ctx context.Context, d time.Duration) error

	mu sync.Mutex
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Titles == nil {
		cfg.Titles = NewTitleCache(cfg.Source, cfg.Logger)
	}
	return &Engine{
		source:          cfg.Source,
		sender:          cfg.Sender,
		fetcher:         cfg.Fetcher,
		routes:          cfg.Routes,
		subs:            cfg.Subs,
		watermarks:      cfg.Watermarks,
		titles:          cfg.Titles,
		attachmentDelay: cfg.AttachmentDelay,
		location:        cfg.Location,
		logger:          cfg.Logger,
		errLogger:       apperrors.NewLogger(cfg.Logger),
		wait:            sleepContext,
	}
}

// HandleMessage runs one message through dedup, routing, delivery and
// commit. overrideChatID, when non-nil, replaces the message's own chat id.
// Only a malformed id or a failed watermark write produce an error; delivery
// failures are logged per item and never abort the fan-out.
func (e *Engine) HandleMessage(ctx context.Context, msg models.SourceMessage, overrideChatID *int64) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	ctx = tracing.WithRelayID(ctx, tracing.GenerateRelayID())
	ctx, span := tracing.StartSpan(ctx, "relay.handle_message",
		attribute.String("message.id", string(msg.ID)),
	)
	defer span.End()

	outcome, err := e.handle(ctx, msg, overrideChatID)

	span.SetAttributes(attribute.String("relay.outcome", outcome.String()))
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	labels := map[string]string{"outcome": outcome.String()}
	metrics.IncrementCounter("relay_messages_total", labels, "Source messages processed by outcome")
	metrics.RecordTimer("relay_handle_duration", time.Since(start), labels, "Time spent handling one source message")
	return outcome, err
}

func (e *Engine) handle(ctx context.Context, msg models.SourceMessage, overrideChatID *int64) (Outcome, error) {
	log := LogWithContext(ctx, e.logger).WithField(LogFieldMessageID, string(msg.ID))

	var chatID int64
	switch {
	case overrideChatID != nil:
		chatID = *overrideChatID
	case msg.ChatID != nil:
		chatID = *msg.ChatID
	default:
		log.Debug("Message has no chat id, discarding")
		return OutcomeNoChat, nil
	}
	log = log.WithField(LogFieldSourceChat, chatID)
	tracing.AddSpanAttributes(ctx, attribute.Int64("relay.source_chat_id", chatID))

	msgID, err := msg.ID.Int64()
	if err != nil {
		appErr := apperrors.NewMalformedMessageError(string(msg.ID), err).WithContext(LogFieldSourceChat, chatID)
		e.errLogger.LogError(appErr, "Invalid message id, discarding")
		return OutcomeMalformed, appErr
	}

	if last := e.watermarks.GetLast(chatID); msgID <= last {
		log.WithField("watermark", last).Debug("Message already forwarded, skipping")
		return OutcomeDuplicate, nil
	}

	destinations := e.destinations(chatID)
	if len(destinations) == 0 {
		log.Debug("No destinations for source chat")
		return OutcomeUnrouted, nil
	}

	if ctx.Err() != nil {
		return OutcomeCancelled, nil
	}

	// Once delivery starts every destination gets its attempt and the
	// watermark is committed; cancelling ctx only drops the pacing waits.
	sendCtx := context.WithoutCancel(ctx)
	text := format.Message(e.titles.Title(chatID), msg.Time, e.resolveAuthor(sendCtx, msg.Sender), msg.Text, e.location)

	for _, dst := range destinations {
		e.deliver(ctx, sendCtx, log.WithField(LogFieldDestination, dst), chatID, msgID, dst, text, msg.Attachments)
	}

	if err := e.watermarks.SetLast(chatID, msgID); err != nil {
		e.errLogger.LogRetryableError(err, "Failed to persist watermark", logrus.Fields{
			LogFieldSourceChat: chatID,
			LogFieldMessageID:  msgID,
		})
		return OutcomeForwarded, err
	}

	log.WithFields(logrus.Fields{
		LogFieldCount: len(destinations),
		"attachments": len(msg.Attachments),
	}).Info("Message relayed")
	return OutcomeForwarded, nil
}

// destinations is the ascending union of static routes and subscribers
func (e *Engine) destinations(chatID int64) []int64 {
	set := make(map[int64]struct{})
	for _, id := range e.routes.Destinations(chatID) {
		set[id] = struct{}{}
	}
	for _, id := range e.subs.GetSubscribersForChat(chatID) {
		set[id] = struct{}{}
	}
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (e *Engine) resolveAuthor(ctx context.Context, sender *int64) string {
	if sender == nil || *sender == 0 {
		return ""
	}
	name, err := e.source.GetUserName(ctx, *sender)
	if err != nil {
		e.errLogger.LogWarn(apperrors.NewResolutionError("author", err), "Failed to resolve author",
			logrus.Fields{LogFieldUserID: *sender})
		return ""
	}
	return name
}

// deliver sends the text and then each attachment to one destination on
// sendCtx. The pause between attachments is skipped once ctx is done.
func (e *Engine) deliver(ctx, sendCtx context.Context, log *logrus.Entry, chatID, msgID, dst int64, text string, attachments models.Attachments) {
	if err := e.sender.SendText(sendCtx, dst, text); err != nil {
		e.recordFailure("text", apperrors.NewDeliveryError("text", dst, err), log)
	} else {
		e.recordSuccess("text")
	}

	for _, att := range attachments {
		if err := e.relayAttachment(sendCtx, log, chatID, msgID, dst, att); err != nil {
			e.recordFailure(string(att.Kind()), err, log)
		}
		if ctx.Err() == nil {
			_ = e.wait(ctx, e.attachmentDelay)
		}
	}
}

func (e *Engine) relayAttachment(ctx context.Context, log *logrus.Entry, chatID, msgID, dst int64, att models.Attachment) error {
	kind := string(att.Kind())

	var (
		url      string
		fallback string
		send     func(ctx context.Context, chatID int64, data []byte, filename string) error
		err      error
	)
	switch a := att.(type) {
	case models.PhotoAttachment:
		url, fallback, send = a.BaseURL, defaultPhotoName, e.sender.SendPhoto
	case models.VideoAttachment:
		url, err = e.source.ResolveVideoURL(ctx, chatID, msgID, a.VideoID)
		fallback, send = defaultVideoName, e.sender.SendVideo
	case models.FileAttachment:
		url, err = e.source.ResolveFileURL(ctx, chatID, msgID, a.FileID)
		fallback, send = a.Name, e.sender.SendDocument
		if fallback == "" {
			fallback = defaultFileName
		}
	case models.UnsupportedAttachment:
		log.WithField(LogFieldKind, a.Type).Info("Skipping unsupported attachment")
		metrics.IncrementCounter("relay_attachments_skipped_total", map[string]string{"kind": a.Type}, "Attachments of kinds the relay does not forward")
		return nil
	default:
		return fmt.Errorf("unhandled attachment type %T", att)
	}
	if err != nil {
		return apperrors.NewResolutionError(kind, err).WithContext(LogFieldDestination, dst)
	}
	if url == "" {
		return apperrors.NewResolutionError(kind, errors.New("empty attachment url")).WithContext(LogFieldDestination, dst)
	}

	dl, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		return apperrors.NewResolutionError(kind, fmt.Errorf("download failed: %w", err)).WithContext(LogFieldDestination, dst)
	}
	name := dl.FileName
	if name == "" {
		name = fallback
	}

	if err := send(ctx, dst, dl.Data, name); err != nil {
		return apperrors.NewDeliveryError(kind, dst, err)
	}

	log.WithFields(logrus.Fields{
		LogFieldKind: kind,
		LogFieldSize: len(dl.Data),
	}).Debug("Attachment relayed")
	e.recordSuccess(kind)
	return nil
}

func (e *Engine) recordSuccess(kind string) {
	metrics.IncrementCounter("relay_deliveries_total", map[string]string{"kind": kind, "status": "ok"}, "Destination sends by kind and status")
}

func (e *Engine) recordFailure(kind string, err error, log *logrus.Entry) {
	metrics.IncrementCounter("relay_deliveries_total", map[string]string{"kind": kind, "status": "failed"}, "Destination sends by kind and status")
	e.errLogger.LogError(err, "Relay step failed", log.Data)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
