// Package extract is the boundary between fetched content and records.
//
// Extractors are pure: they never perform I/O and return either a record or a
// rejection (errors.ErrRejected) meaning the content legitimately holds no
// record. Callers run them through Safe, which turns a panic into a soft
// failure of the unit instead of a crashed worker.
package extract

import (
	"fmt"

	errs "harvester/pkg/errors"
	"harvester/pkg/models"
)

// Page is the input of an extractor
type Page struct {
	Unit models.Unit
	// URL is the final location the content was served from
	URL     string
	Content []byte
	// Hints carries fields known before the fetch, such as a search result title
	Hints map[string]string
}

// Extractor turns a page into a record
type Extractor interface {
	Extract(page Page) (*models.Record, error)
}

// Func adapts a function to Extractor
type Func func(page Page) (*models.Record, error)

// Extract calls f
func (f Func) Extract(page Page) (*models.Record, error) {
	return f(page)
}

// Safe runs ex and converts a panic into an extraction_failed error
func Safe(ex Extractor, page Page) (rec *models.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = &errs.Error{
				Type:    errs.ErrorTypeExtractionFailed,
				Message: fmt.Sprintf("extractor panic: %v", r),
				Unit:    page.Unit.String(),
			}
		}
	}()
	return ex.Extract(page)
}

// IsRejected reports a legitimate "no record here" result
func IsRejected(err error) bool {
	return errs.TypeOf(err) == errs.ErrorTypeExtractionRejected
}
