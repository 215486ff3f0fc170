// Package max talks to the HTTP gateway fronting a MAX user session.
package max

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"maxrelay/internal/constants"
	"maxrelay/internal/models"
	"maxrelay/internal/privacy"
)

// ErrNotFound is returned when the gateway answers 404
var ErrNotFound = errors.New("not found on gateway")

type Client struct {
	baseURL    string
	token      string
	phone      string
	userAgent  string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewClient(cfg models.MaxConfig, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Duration(constants.DefaultMaxTimeoutMs) * time.Millisecond
	}
	version := cfg.AppVersion
	if version == "" {
		version = constants.DefaultMaxAppVersion
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.GatewayURL, "/"),
		token:      cfg.Token,
		phone:      cfg.Phone,
		userAgent:  fmt.Sprintf("maxrelay (device_type=WEB; app_version=%s)", version),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *Client) ListChats(ctx context.Context) ([]models.Chat, error) {
	var resp chatsResponse
	if err := c.getJSON(ctx, "/v1/chats", &resp); err != nil {
		return nil, err
	}
	return resp.Chats, nil
}

// GetUserName returns the first display name of a user, or "" when the
// profile has none.
func (c *Client) GetUserName(ctx context.Context, userID int64) (string, error) {
	var resp userResponse
	if err := c.getJSON(ctx, "/v1/users/"+strconv.FormatInt(userID, 10), &resp); err != nil {
		return "", err
	}
	for _, name := range resp.Names {
		if name = strings.TrimSpace(name); name != "" {
			return name, nil
		}
	}
	return "", nil
}

func (c *Client) ResolveVideoURL(ctx context.Context, chatID, messageID, videoID int64) (string, error) {
	return c.resolve(ctx, fmt.Sprintf("/v1/chats/%d/messages/%d/videos/%d", chatID, messageID, videoID))
}

func (c *Client) ResolveFileURL(ctx context.Context, chatID, messageID, fileID int64) (string, error) {
	return c.resolve(ctx, fmt.Sprintf("/v1/chats/%d/messages/%d/files/%d", chatID, messageID, fileID))
}

// FetchHistory returns up to backward most recent messages of a chat, in
// the order the gateway lists them.
func (c *Client) FetchHistory(ctx context.Context, chatID int64, backward int) ([]models.SourceMessage, error) {
	path := fmt.Sprintf("/v1/chats/%d/history?backward=%d", chatID, backward)
	var resp historyResponse
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Events connects to the gateway's live event stream. The message channel is
// closed when the stream ends; the error channel then carries the reason,
// or nothing when ctx was cancelled.
func (c *Client) Events(ctx context.Context) (<-chan models.SourceMessage, <-chan error) {
	messages := make(chan models.SourceMessage)
	errc := make(chan error, 1)

	conn, _, err := websocket.Dial(ctx, c.wsURL("/v1/events"), &websocket.DialOptions{
		HTTPHeader: c.headers(),
	})
	if err != nil {
		errc <- fmt.Errorf("failed to connect to event stream: %w", err)
		close(messages)
		return messages, errc
	}
	conn.SetReadLimit(constants.MaxWebhookBodyBytes)
	c.logger.WithField("gateway", c.baseURL).Info("Connected to MAX event stream")

	go func() {
		defer close(messages)
		defer conn.CloseNow()

		for {
			_, frame, err := conn.Read(ctx)
			if err != nil {
				if ctx.Err() == nil {
					errc <- fmt.Errorf("event stream read failed: %w", err)
				}
				return
			}
			var ev Event
			if err := json.Unmarshal(frame, &ev); err != nil {
				c.logger.WithError(err).WithField("size_bytes", len(frame)).Warn("Skipping undecodable gateway event")
				continue
			}
			if ev.Type != EventTypeMessage || ev.Message == nil {
				c.logger.WithField("type", ev.Type).Debug("Ignoring gateway event")
				continue
			}
			select {
			case messages <- *ev.Message:
			case <-ctx.Done():
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}()

	return messages, errc
}

func (c *Client) resolve(ctx context.Context, path string) (string, error) {
	var resp urlResponse
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", fmt.Errorf("gateway returned no url for %s: %w", path, ErrNotFound)
	}
	return resp.URL, nil
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	if c.phone != "" {
		h.Set("X-Max-Phone", c.phone)
	}
	h.Set("User-Agent", c.userAgent)
	return h
}

func (c *Client) wsURL(path string) string {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return c.baseURL + path
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	return u.String()
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = c.headers()
	req.Header.Set("Accept", "application/json")

	c.logger.WithFields(logrus.Fields{
		"path":  path,
		"phone": privacy.MaskPhoneNumber(c.phone),
	}).Debug("MAX gateway request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("gateway %s: %w", path, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway error: status %d, body: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
