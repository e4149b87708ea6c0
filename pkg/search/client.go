package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"harvester/pkg/config"
	errs "harvester/pkg/errors"
	"harvester/pkg/fetch"
	"harvester/pkg/logger"
)

// maxStart is the highest start offset the API accepts
const maxStart = 1000

// Doer performs a classified fetch
type Doer interface {
	Do(ctx context.Context, req fetch.Request) fetch.Outcome
}

// Quota hands out daily request allowance
type Quota interface {
	Acquire() error
}

// Client calls the search API
type Client struct {
	fetcher Doer
	quota   Quota
	cfg     config.SearchConfig
	logger  logger.Logger
}

// NewClient creates a search client
func NewClient(fetcher Doer, quota Quota, cfg config.SearchConfig, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	if cfg.Display <= 0 {
		cfg.Display = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	return &Client{
		fetcher: fetcher,
		quota:   quota,
		cfg:     cfg,
		logger:  log.WithField("component", "search"),
	}
}

// Search fetches one page of results for keyword starting at start (1-based)
func (c *Client) Search(ctx context.Context, keyword string, start int) (*Page, error) {
	if start < 1 {
		start = 1
	}
	if c.quota != nil {
		if err := c.quota.Acquire(); err != nil {
			return nil, err
		}
	}

	target := c.searchURL(keyword, start)
	c.logger.DebugWithFields("searching", map[string]interface{}{
		"keyword": keyword,
		"start":   start,
	})

	out := c.fetcher.Do(ctx, fetch.Request{
		URL: target,
		Header: http.Header{
			"X-Naver-Client-Id":     []string{c.cfg.ClientID},
			"X-Naver-Client-Secret": []string{c.cfg.ClientSecret},
		},
	})

	switch {
	case out.OK():
	case out.Kind == fetch.KindClientError && out.StatusCode == http.StatusBadRequest:
		c.logger.WarnWithFields("search rejected the query, treating as empty", map[string]interface{}{
			"keyword": keyword,
		})
		return &Page{Start: start, Display: c.cfg.Display}, nil
	default:
		err := out.Error()
		if e, ok := err.(*errs.Error); ok {
			e.Unit = keyword
		}
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(out.Content, &resp); err != nil {
		preview := string(out.Content)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		c.logger.ErrorWithFields("failed to parse search response", map[string]interface{}{
			"keyword":      keyword,
			"error":        err.Error(),
			"body_preview": preview,
		})
		return nil, &errs.Error{
			Type:    errs.ErrorTypeInvalid,
			Message: fmt.Sprintf("failed to parse search response: %v", err),
			Unit:    keyword,
		}
	}

	page := &Page{
		Total:   resp.Total,
		Start:   resp.Start,
		Display: resp.Display,
		Items:   make([]Item, 0, len(resp.Items)),
	}
	for _, item := range resp.Items {
		page.Items = append(page.Items, item.clean())
	}
	return page, nil
}

// SearchAll pages through results up to the configured page count.
// It returns the items gathered so far and the number of API calls made, even on error.
func (c *Client) SearchAll(ctx context.Context, keyword string) ([]Item, int, error) {
	var (
		items []Item
		calls int
	)
	start := 1
	for page := 0; page < c.cfg.MaxPages; page++ {
		if ctx.Err() != nil {
			return items, calls, ctx.Err()
		}
		result, err := c.Search(ctx, keyword, start)
		if err != nil {
			if errs.TypeOf(err) != errs.ErrorTypeQuotaExceeded {
				calls++
			}
			return items, calls, err
		}
		calls++
		items = append(items, result.Items...)

		start += c.cfg.Display
		if len(result.Items) < c.cfg.Display || start > maxStart || (result.Total > 0 && start > result.Total) {
			break
		}
	}
	return items, calls, nil
}

func (c *Client) searchURL(keyword string, start int) string {
	query := strings.TrimSpace(keyword)
	if c.cfg.QuerySuffix != "" {
		query += " " + c.cfg.QuerySuffix
	}
	params := url.Values{}
	params.Set("query", query)
	params.Set("display", strconv.Itoa(c.cfg.Display))
	params.Set("start", strconv.Itoa(start))
	return c.cfg.Endpoint + "?" + params.Encode()
}

// Filter keeps items that belong to the configured category: either the
// category names it, or the description mentions a hint word and the link
// carries every link marker.
func Filter(items []Item, cfg config.SearchConfig) []Item {
	var kept []Item
	for _, item := range items {
		if cfg.CategoryMarker != "" && strings.Contains(item.Category, cfg.CategoryMarker) {
			kept = append(kept, item)
			continue
		}
		if containsAny(item.Description, cfg.DescriptionHints) && containsAll(item.Link, cfg.LinkMarkers) {
			kept = append(kept, item)
		}
	}
	return kept
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func containsAll(s string, markers []string) bool {
	if len(markers) == 0 {
		return true
	}
	for _, m := range markers {
		if !strings.Contains(s, m) {
			return false
		}
	}
	return true
}
