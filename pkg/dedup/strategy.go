package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"

	"harvester/pkg/models"
)

// Strategy derives a RecordID from a record. ok is false when the strategy does not apply.
type Strategy interface {
	Name() string
	Derive(rec *models.Record) (id string, ok bool)
}

// SourceIDStrategy uses the canonical identifier of the source document, taken
// from Record.SourceID or, failing that, from a query parameter of the record URL.
type SourceIDStrategy struct {
	Prefix   string
	Param    string
	URLField string
}

func (s SourceIDStrategy) Name() string { return "source_id" }

func (s SourceIDStrategy) Derive(rec *models.Record) (string, bool) {
	if rec == nil {
		return "", false
	}
	if id := strings.TrimSpace(rec.SourceID); id != "" {
		return s.Prefix + id, true
	}
	if s.Param == "" || s.URLField == "" {
		return "", false
	}
	raw := rec.Field(s.URLField)
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if id := strings.TrimSpace(u.Query().Get(s.Param)); id != "" {
		return s.Prefix + id, true
	}
	return "", false
}

// NameOriginHashStrategy hashes the record name together with its origin.
// It is the fallback for records without a source identifier.
type NameOriginHashStrategy struct {
	Prefix string
}

func (s NameOriginHashStrategy) Name() string { return "name_origin_hash" }

func (s NameOriginHashStrategy) Derive(rec *models.Record) (string, bool) {
	if rec == nil {
		return "", false
	}
	name := normalize(rec.Name)
	if name == "" {
		return "", false
	}
	sum := sha256.Sum256([]byte(name + "_" + normalize(rec.Origin)))
	return s.Prefix + hex.EncodeToString(sum[:])[:16], true
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// DefaultStrategies prefers the source document ID and falls back to a name hash
func DefaultStrategies(idParam string) []Strategy {
	return []Strategy{
		SourceIDStrategy{Prefix: "M", Param: idParam, URLField: "url"},
		NameOriginHashStrategy{Prefix: "MC"},
	}
}
