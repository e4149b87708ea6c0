package extract

import (
	"time"

	errs "harvester/pkg/errors"
	"harvester/pkg/models"
)

// SearchItemExtractor builds a record from search result hints alone.
// It is used when result pages are not fetched.
type SearchItemExtractor struct {
	IDParam string
	now     func() time.Time
}

// NewSearchItemExtractor creates a SearchItemExtractor
func NewSearchItemExtractor(idParam string) *SearchItemExtractor {
	return &SearchItemExtractor{IDParam: idParam, now: time.Now}
}

// Extract implements Extractor
func (e *SearchItemExtractor) Extract(page Page) (*models.Record, error) {
	title := page.Hints["title"]
	if title == "" {
		return nil, errs.Rejected("search item without title")
	}
	link := page.Hints["link"]
	if link == "" {
		link = page.URL
	}

	fields := make(map[string]string, len(page.Hints)+1)
	for key, value := range page.Hints {
		if value != "" {
			fields[key] = value
		}
	}
	if link != "" {
		fields["url"] = link
	}

	return &models.Record{
		SourceID:    sourceID(link, e.IDParam),
		Name:        title,
		Origin:      page.Hints["category"],
		Unit:        page.Unit.String(),
		Fields:      fields,
		ExtractedAt: e.now(),
	}, nil
}
