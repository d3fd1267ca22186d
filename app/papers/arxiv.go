package papers

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/lysyi3m/research-digest/app/retry"
)

const maxFeedBytes = 10 << 20

var errMalformedFeed = errors.New("malformed feed")

// StatusError is returned when the index answers with a non-200 status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// IsRetryable reports whether a failed index query is worth another attempt:
// rate limiting, server errors, network failures and unparseable responses.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}

	if errors.Is(err, errMalformedFeed) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

type ArxivSource struct {
	httpClient *http.Client
	parser     *gofeed.Parser
	filterer   *Filterer
	endpoint   string
	categories []string
	userAgent  string
	timeout    time.Duration
	policy     retry.Policy
}

func NewArxivSource(httpClient *http.Client, endpoint string, categories []string, filterer *Filterer,
	policy retry.Policy, userAgent string, timeout time.Duration) *ArxivSource {
	return &ArxivSource{
		httpClient: httpClient,
		parser:     gofeed.NewParser(),
		filterer:   filterer,
		endpoint:   endpoint,
		categories: categories,
		userAgent:  userAgent,
		timeout:    timeout,
		policy:     policy,
	}
}

// Fetch queries every configured category by recency, merges the results
// newest first, drops duplicate identifiers and irrelevant papers, and keeps
// at most maxResults. An empty result is not an error.
func (s *ArxivSource) Fetch(ctx context.Context, maxResults int) ([]Paper, error) {
	if maxResults <= 0 {
		return nil, fmt.Errorf("max results must be positive, got %d", maxResults)
	}
	if len(s.categories) == 0 {
		return nil, fmt.Errorf("%w: no categories configured", ErrSourceUnavailable)
	}

	var merged []Paper
	var lastErr error
	failures := 0

	for _, category := range s.categories {
		papers, err := retry.Do(ctx, s.policy, func(ctx context.Context) ([]Paper, error) {
			return s.fetchCategory(ctx, category, maxResults)
		})
		if err != nil {
			slog.Warn("Category query failed", "category", category, "error", err)
			failures++
			lastErr = err
			continue
		}

		slog.Debug("Category query completed", "category", category, "papers", len(papers))
		merged = append(merged, papers...)
	}

	if failures == len(s.categories) {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, lastErr)
	}

	unique := dedupe(merged)
	sortByRecency(unique)

	relevant := s.filterer.Run(unique)
	if len(relevant) > maxResults {
		relevant = relevant[:maxResults]
	}

	slog.Info("Papers fetched",
		"candidates", len(merged),
		"unique", len(unique),
		"relevant", len(relevant),
		"failed_categories", failures)

	return relevant, nil
}

func (s *ArxivSource) fetchCategory(ctx context.Context, category string, maxResults int) ([]Paper, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := url.Values{}
	params.Set("search_query", "cat:"+category)
	params.Set("sortBy", "submittedDate")
	params.Set("sortOrder", "descending")
	params.Set("start", "0")
	params.Set("max_results", strconv.Itoa(maxResults))

	req, err := http.NewRequestWithContext(queryCtx, http.MethodGet, s.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "application/atom+xml")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return s.parse(data)
}

func (s *ArxivSource) parse(data []byte) ([]Paper, error) {
	feed, err := s.parser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformedFeed, err)
	}

	papers := make([]Paper, 0, len(feed.Items))
	for _, item := range feed.Items {
		paper, ok := normalizeItem(item)
		if !ok {
			slog.Debug("Skipping entry without identifier or title", "guid", item.GUID)
			continue
		}
		papers = append(papers, paper)
	}

	return papers, nil
}

func normalizeItem(item *gofeed.Item) (Paper, bool) {
	id := paperID(cmp.Or(item.GUID, item.Link))
	title := collapseSpace(item.Title)
	if id == "" || title == "" {
		return Paper{}, false
	}

	paper := Paper{
		ID:         id,
		Title:      title,
		Abstract:   collapseSpace(cmp.Or(item.Description, item.Content)),
		Categories: append([]string(nil), item.Categories...),
		URL:        item.Link,
	}

	for _, author := range item.Authors {
		if author != nil && author.Name != "" {
			paper.Authors = append(paper.Authors, author.Name)
		}
	}

	paper.PDFURL = pdfURL(item.Links, cmp.Or(item.Link, item.GUID))

	if item.PublishedParsed != nil {
		paper.PublishedAt = item.PublishedParsed.UTC()
	} else if item.UpdatedParsed != nil {
		paper.PublishedAt = item.UpdatedParsed.UTC()
	}

	return paper, true
}

// pdfURL prefers an explicit PDF link. arXiv marks it rel="related", which
// the Atom translator drops, so it is usually derived from the abstract URL.
func pdfURL(links []string, absURL string) string {
	for _, link := range links {
		if strings.Contains(link, "/pdf/") {
			return link
		}
	}
	if strings.Contains(absURL, "/abs/") {
		return strings.Replace(absURL, "/abs/", "/pdf/", 1)
	}
	return ""
}

// paperID reduces "http://arxiv.org/abs/2401.01234v2" to "2401.01234" so the
// same paper listed under several categories or versions collapses to one.
func paperID(raw string) string {
	id := strings.TrimSpace(raw)
	if i := strings.Index(id, "/abs/"); i >= 0 {
		id = id[i+len("/abs/"):]
	}
	if i := strings.LastIndex(id, "v"); i > 0 {
		if _, err := strconv.Atoi(id[i+1:]); err == nil {
			id = id[:i]
		}
	}
	return id
}

func dedupe(papers []Paper) []Paper {
	seen := make(map[string]bool, len(papers))
	unique := make([]Paper, 0, len(papers))
	for _, paper := range papers {
		if seen[paper.ID] {
			continue
		}
		seen[paper.ID] = true
		unique = append(unique, paper)
	}
	return unique
}

func sortByRecency(papers []Paper) {
	sort.SliceStable(papers, func(i, j int) bool {
		return papers[i].PublishedAt.After(papers[j].PublishedAt)
	})
}

func collapseSpace(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
