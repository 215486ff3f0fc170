// Package telegram is a minimal Bot API client covering the calls the relay
// and its control surface make.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"maxrelay/internal/constants"
	"maxrelay/internal/metrics"
	"maxrelay/internal/models"
	"maxrelay/internal/privacy"
	"maxrelay/pkg/circuitbreaker"
)

const parseModeHTML = "HTML"

type Client struct {
	baseURL    string
	httpClient *http.Client
	pollClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *logrus.Logger
}

func NewClient(cfg models.TelegramConfig, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Duration(constants.DefaultTelegramTimeoutMs) * time.Millisecond
	}
	pollTimeout := time.Duration(cfg.PollTimeoutSec) * time.Second
	if pollTimeout <= 0 {
		pollTimeout = time.Duration(constants.DefaultTelegramPollTimeoutSec) * time.Second
	}

	apiBase := strings.TrimSuffix(cfg.APIBaseURL, "/")
	if apiBase == "" {
		apiBase = constants.DefaultTelegramAPIBaseURL
	}

	return &Client{
		baseURL:    apiBase + "/bot" + cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		// long polls are held open by the server for up to pollTimeout
		pollClient: &http.Client{Timeout: pollTimeout + timeout},
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:        "telegram",
			MaxFailures: constants.DefaultBreakerMaxFailures,
			Timeout:     time.Duration(constants.DefaultBreakerTimeoutSec) * time.Second,
			IsFailure:   isBreakerFailure,
		}, logger),
		logger: logger,
	}
}

// isBreakerFailure ignores client-side rejections such as a user who blocked
// the bot; only transport errors and server faults open the breaker.
func isBreakerFailure(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

// Breaker exposes the breaker state for health reporting
func (c *Client) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:    chatID,
		Text:      text,
		ParseMode: parseModeHTML,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.call(ctx, c.httpClient, "sendMessage", "application/json", bytes.NewReader(body), nil)
	})
}

func (c *Client) SendPhoto(ctx context.Context, chatID int64, data []byte, filename string) error {
	return c.upload(ctx, "sendPhoto", "photo", chatID, data, filename)
}

func (c *Client) SendVideo(ctx context.Context, chatID int64, data []byte, filename string) error {
	return c.upload(ctx, "sendVideo", "video", chatID, data, filename)
}

func (c *Client) SendDocument(ctx context.Context, chatID int64, data []byte, filename string) error {
	return c.upload(ctx, "sendDocument", "document", chatID, data, filename)
}

// GetUpdates long-polls for new updates after offset. It bypasses the breaker
// so that a delivery outage does not silence the control surface.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]Update, error) {
	body, err := json.Marshal(getUpdatesRequest{
		Offset:         offset,
		Timeout:        timeoutSec,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var updates []Update
	if err := c.call(ctx, c.pollClient, "getUpdates", "application/json", bytes.NewReader(body), &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func (c *Client) upload(ctx context.Context, method, field string, chatID int64, data []byte, filename string) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return fmt.Errorf("failed to write chat_id field: %w", err)
	}
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to write file data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	metrics.AddToCounter("telegram_upload_bytes_total", float64(len(data)), map[string]string{"method": method}, "Bytes uploaded to Telegram")

	payload := buf.Bytes()
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.call(ctx, c.httpClient, method, writer.FormDataContentType(), bytes.NewReader(payload), nil)
	})
}

func (c *Client) call(ctx context.Context, client *http.Client, method, contentType string, body io.Reader, result interface{}) error {
	endpoint := c.baseURL + "/" + method
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := client.Do(req)
	if err != nil {
		// url.Error embeds the full URL, token included
		c.logger.WithFields(logrus.Fields{
			"method":   method,
			"endpoint": privacy.MaskURLToken(endpoint),
		}).Warn("Telegram request failed")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("telegram %s: %w", method, ctxErr)
		}
		return fmt.Errorf("telegram %s request failed: %s", method, privacy.MaskURLToken(err.Error()))
	}
	defer resp.Body.Close()

	metrics.RecordTimer("telegram_request_duration", time.Since(start), map[string]string{"method": method}, "Telegram Bot API latency")

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("telegram %s: unexpected response (status %d): %w", method, resp.StatusCode, err)
	}
	if !envelope.OK {
		apiErr := &APIError{Method: method, Code: envelope.ErrorCode, Description: envelope.Description}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode
		}
		c.logger.WithFields(logrus.Fields{
			"method":      method,
			"status_code": apiErr.Code,
			"description": apiErr.Description,
		}).Error("Telegram API returned an error")
		metrics.IncrementCounter("telegram_api_errors_total", map[string]string{"method": method}, "Telegram replies with ok=false")
		return apiErr
	}

	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}
