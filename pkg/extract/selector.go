package extract

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"harvester/pkg/config"
	errs "harvester/pkg/errors"
	"harvester/pkg/models"
)

var titleSuffix = regexp.MustCompile(`[\s-]+네이버.*$`)

// SelectorExtractor extracts records from HTML with CSS selectors
type SelectorExtractor struct {
	nameSelector  string
	validSelector string
	fields        map[string]string
	profileLabels map[string]string
	originField   string
	idParam       string
	now           func() time.Time
}

// NewSelectorExtractor builds an extractor from the extract config.
// idParam names the URL query parameter holding the source document ID.
func NewSelectorExtractor(cfg config.ExtractConfig, idParam string) *SelectorExtractor {
	return &SelectorExtractor{
		nameSelector:  cfg.NameSelector,
		validSelector: cfg.ValidSelector,
		fields:        cfg.Fields,
		profileLabels: cfg.ProfileLabels,
		originField:   cfg.OriginField,
		idParam:       idParam,
		now:           time.Now,
	}
}

// Extract implements Extractor
func (e *SelectorExtractor) Extract(page Page) (*models.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Content))
	if err != nil {
		return nil, errs.Rejected("unparseable document")
	}

	if e.validSelector != "" && doc.Find(e.validSelector).Length() == 0 {
		return nil, errs.Rejected("page is outside the expected category")
	}

	name := ""
	if e.nameSelector != "" {
		name = firstText(doc.Find(e.nameSelector))
	}
	if name == "" {
		name = strings.TrimSpace(titleSuffix.ReplaceAllString(strings.TrimSpace(doc.Find("title").First().Text()), ""))
	}
	if name == "" {
		name = page.Hints["title"]
	}
	if name == "" {
		return nil, errs.Rejected("no record name on page")
	}

	fields := make(map[string]string)
	for key, value := range page.Hints {
		if value != "" {
			fields[key] = value
		}
	}
	for field, selector := range e.fields {
		if value := firstText(doc.Find(selector)); value != "" {
			fields[field] = value
		}
	}
	profile := e.profile(doc)
	for label, value := range profile {
		if field, ok := e.lookupLabel(label); ok {
			if _, set := fields[field]; !set {
				fields[field] = value
			}
		}
	}
	if page.URL != "" {
		fields["url"] = page.URL
	}

	rec := &models.Record{
		SourceID:    sourceID(page.URL, e.idParam),
		Name:        name,
		Origin:      fields[e.originField],
		Unit:        page.Unit.String(),
		Fields:      fields,
		ExtractedAt: e.now(),
	}
	if len(profile) > 0 {
		rec.Extra = map[string]interface{}{"profile": profile}
	}
	return rec, nil
}

// profile collects label/value pairs from definition lists and two-column tables
func (e *SelectorExtractor) profile(doc *goquery.Document) map[string]string {
	pairs := make(map[string]string)
	doc.Find("dl").Each(func(_ int, dl *goquery.Selection) {
		dds := dl.Find("dd")
		dl.Find("dt").Each(func(i int, dt *goquery.Selection) {
			if i >= dds.Length() {
				return
			}
			label := collapse(dt.Text())
			if _, ok := pairs[label]; label != "" && !ok {
				pairs[label] = collapse(dds.Eq(i).Text())
			}
		})
	})
	doc.Find("table tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("th, td")
		if cells.Length() < 2 {
			return
		}
		label := collapse(cells.Eq(0).Text())
		if _, ok := pairs[label]; label != "" && !ok {
			pairs[label] = collapse(cells.Eq(1).Text())
		}
	})
	return pairs
}

func (e *SelectorExtractor) lookupLabel(label string) (string, bool) {
	if field, ok := e.profileLabels[label]; ok {
		return field, true
	}
	for key, field := range e.profileLabels {
		if strings.Contains(label, key) {
			return field, true
		}
	}
	return "", false
}

func firstText(sel *goquery.Selection) string {
	var text string
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text = collapse(s.Text())
		return text == ""
	})
	return text
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func sourceID(rawURL, param string) string {
	if rawURL == "" || param == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Query().Get(param)
}
