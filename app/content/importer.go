package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
)

const maxPageBytes = 5 << 20

var ErrInvalidURL = errors.New("invalid URL")

// Importer builds a manual post from the readable part of a web page.
type Importer struct {
	httpClient *http.Client
	formatter  *Formatter
	userAgent  string
	timeout    time.Duration
}

func NewImporter(httpClient *http.Client, formatter *Formatter, userAgent string, timeout time.Duration) *Importer {
	return &Importer{
		httpClient: httpClient,
		formatter:  formatter,
		userAgent:  userAgent,
		timeout:    timeout,
	}
}

func (i *Importer) Import(ctx context.Context, rawURL string) (Draft, error) {
	pageURL, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (pageURL.Scheme != "http" && pageURL.Scheme != "https") || pageURL.Host == "" {
		return Draft{}, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	data, err := i.fetch(ctx, pageURL.String())
	if err != nil {
		return Draft{}, fmt.Errorf("failed to fetch page: %w", err)
	}

	article, err := readability.FromReader(bytes.NewReader(data), pageURL)
	if err != nil {
		return Draft{}, fmt.Errorf("failed to extract content: %w", err)
	}
	if strings.TrimSpace(article.Content) == "" {
		return Draft{}, fmt.Errorf("%w: no content extracted from %s", ErrMalformedContent, pageURL)
	}

	draft, err := i.formatter.FormatManual(article.Title, article.Excerpt, article.Content)
	if err != nil {
		return Draft{}, err
	}

	slog.Debug("Content extracted successfully",
		"url", pageURL.String(),
		"title", draft.Title,
		"content_length", len(draft.Body))

	return draft, nil
}

func (i *Importer) fetch(ctx context.Context, pageURL string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", i.userAgent)

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "text/html") {
		return nil, fmt.Errorf("content type is not HTML: %s", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}
