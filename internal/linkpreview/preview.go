// Package linkpreview fetches page metadata for URLs found in messages.
// Every fetch is a detached, time-bounded task: failure or delay never
// blocks or fails the message send it is attached to.
package linkpreview

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teamloop/backend/internal/models"
)

var (
	urlRegex   = regexp.MustCompile(`https?://[^\s<>"']+`)
	titleRegex = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	ogImgRegex = regexp.MustCompile(`(?is)<meta[^>]+property=["']og:image["'][^>]+content=["']([^"']+)["']`)
	ogTtlRegex = regexp.MustCompile(`(?is)<meta[^>]+property=["']og:title["'][^>]+content=["']([^"']+)["']`)
)

// Saver persists a fetched preview. Implemented by Repository.
type Saver interface {
	Save(ctx context.Context, p *models.LinkPreview) error
}

// Service scrapes and stores link previews.
type Service struct {
	saver    Saver
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
	logger   *zap.Logger
}

// NewService creates a link preview service.
func NewService(saver Saver, timeout time.Duration, maxBytes int64, logger *zap.Logger) *Service {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = 64 * 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		saver:    saver,
		client:   &http.Client{Timeout: timeout},
		timeout:  timeout,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// FirstURL returns the first http(s) URL in the text, or empty.
func FirstURL(text string) string {
	return urlRegex.FindString(text)
}

// Capture fetches metadata for the first URL in the message content and
// stores it. Runs in the caller's goroutine; callers detach with go Capture.
func (s *Service) Capture(msg *models.Message) {
	url := FirstURL(msg.Content)
	if url == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	title, image, err := s.fetch(ctx, url)
	if err != nil {
		s.logger.Debug("link preview fetch failed", zap.String("url", url), zap.Error(err))
		return
	}
	p := &models.LinkPreview{
		MessageID: msg.ID,
		ChannelID: msg.ChannelID,
		URL:       url,
		Title:     title,
		ImageURL:  image,
	}
	saveCtx, saveCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer saveCancel()
	if err := s.saver.Save(saveCtx, p); err != nil {
		s.logger.Warn("link preview save failed", zap.String("url", url), zap.Error(err))
	}
}

func (s *Service) fetch(ctx context.Context, url string) (title, image string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/html")
	resp, err := s.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("fetch status: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "text/html") {
		return "", "", fmt.Errorf("not html: %s", ct)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes))
	if err != nil {
		return "", "", fmt.Errorf("read body: %w", err)
	}
	return extractMeta(string(body))
}

func extractMeta(html string) (title, image string, err error) {
	if m := ogTtlRegex.FindStringSubmatch(html); len(m) > 1 {
		title = strings.TrimSpace(m[1])
	}
	if title == "" {
		if m := titleRegex.FindStringSubmatch(html); len(m) > 1 {
			title = strings.TrimSpace(m[1])
		}
	}
	if m := ogImgRegex.FindStringSubmatch(html); len(m) > 1 {
		image = strings.TrimSpace(m[1])
	}
	if title == "" && image == "" {
		return "", "", fmt.Errorf("no metadata found")
	}
	return title, image, nil
}
