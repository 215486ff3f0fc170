// Package media downloads attachment bytes from URLs handed out by the source platform.
package media

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"maxrelay/internal/constants"
	"maxrelay/internal/models"
)

// Download is a fetched attachment held in memory.
type Download struct {
	Data        []byte
	FileName    string
	ContentType string
}

type Fetcher struct {
	httpClient *http.Client
	maxBytes   int64
	headers    http.Header
}

func NewFetcher(cfg models.MediaConfig) *Fetcher {
	timeout := time.Duration(cfg.DownloadTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(constants.DefaultMediaDownloadTimeoutSec) * time.Second
	}
	maxMB := cfg.MaxSizeMB
	if maxMB <= 0 {
		maxMB = constants.DefaultMaxMediaSizeMB
	}
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   int64(maxMB) * constants.BytesPerMegabyte,
		headers:    http.Header{},
	}
}

// WithHeader adds a header sent with every download, e.g. a gateway token.
func (f *Fetcher) WithHeader(key, value string) *Fetcher {
	f.headers.Set(key, value)
	return f
}

// Fetch downloads rawURL. The file name comes from X-File-Name, then the
// Content-Disposition filename, then the last URL path segment; it is empty
// when none of those yield anything and the caller picks a fallback.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Download, error) {
	u, err := validateURL(rawURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range f.headers {
		req.Header[k] = v
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("attachment too large: %d bytes (max %d)", resp.ContentLength, f.maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("attachment exceeds %d bytes", f.maxBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	return &Download{
		Data:        data,
		FileName:    fileName(resp.Header, u, contentType),
		ContentType: contentType,
	}, nil
}

func validateURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid media URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("unsupported URL scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("media URL has no host")
	}
	return u, nil
}

func fileName(h http.Header, u *url.URL, contentType string) string {
	name := strings.TrimSpace(h.Get("X-File-Name"))
	if name == "" {
		if _, params, err := mime.ParseMediaType(h.Get("Content-Disposition")); err == nil {
			name = params["filename"]
		}
	}
	if name == "" {
		if base := path.Base(u.Path); base != "/" && base != "." {
			name = base
		}
	}
	name = sanitize(name)
	if name == "" {
		return ""
	}

	if filepath.Ext(name) == "" && contentType != "" {
		if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
			if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
				name += exts[0]
			}
		}
	}
	return name
}

// sanitize strips directory components and control characters.
func sanitize(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
}
