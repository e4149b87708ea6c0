package search

import (
	"html"
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// Response is the JSON body of the search endpoint
type Response struct {
	LastBuildDate string `json:"lastBuildDate"`
	Total         int    `json:"total"`
	Start         int    `json:"start"`
	Display       int    `json:"display"`
	Items         []Item `json:"items"`
}

// Item is a single search hit
type Item struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`
}

// Page is one page of cleaned results
type Page struct {
	Total   int
	Start   int
	Display int
	Items   []Item
}

// Hints exposes the item as extractor hints
func (i Item) Hints() map[string]string {
	return map[string]string{
		"title":       i.Title,
		"link":        i.Link,
		"description": i.Description,
		"category":    i.Category,
	}
}

// clean strips markup the API wraps around matched terms
func (i Item) clean() Item {
	i.Title = stripTags(i.Title)
	i.Description = stripTags(i.Description)
	return i
}

func stripTags(s string) string {
	return strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(s, "")))
}
