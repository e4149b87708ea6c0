package models

import (
	"strconv"
	"time"
)

// UnitKind distinguishes the two unit spaces
type UnitKind string

const (
	UnitKeyword UnitKind = "keyword"
	UnitID      UnitKind = "id"
)

// Origin tells where a unit came from
type Origin string

const (
	OriginExplicit  Origin = "explicit"
	OriginGenerated Origin = "generated"
	OriginRange     Origin = "range"
)

// Unit is one item of crawl work. Units are values and never change after creation.
type Unit struct {
	Kind   UnitKind `json:"kind"`
	Value  string   `json:"value"`
	Origin Origin   `json:"origin"`
}

// KeywordUnit creates a keyword unit
func KeywordUnit(keyword string, origin Origin) Unit {
	return Unit{Kind: UnitKeyword, Value: keyword, Origin: origin}
}

// IDUnit creates a numeric identifier unit
func IDUnit(id int64) Unit {
	return Unit{Kind: UnitID, Value: strconv.FormatInt(id, 10), Origin: OriginRange}
}

// ID returns the numeric identifier of an ID unit
func (u Unit) ID() (int64, bool) {
	if u.Kind != UnitID {
		return 0, false
	}
	id, err := strconv.ParseInt(u.Value, 10, 64)
	return id, err == nil
}

func (u Unit) String() string {
	return u.Value
}

// Record is an extracted record: a fixed core schema plus extractor-specific fields
type Record struct {
	ID          string                 `json:"id" bson:"_id"`
	SourceID    string                 `json:"source_id,omitempty" bson:"source_id,omitempty"`
	Name        string                 `json:"name" bson:"name"`
	Origin      string                 `json:"origin" bson:"origin"`
	Unit        string                 `json:"unit,omitempty" bson:"unit,omitempty"`
	Fields      map[string]string      `json:"fields,omitempty" bson:"fields,omitempty"`
	Extra       map[string]interface{} `json:"extra,omitempty" bson:"extra,omitempty"`
	ExtractedAt time.Time              `json:"extracted_at" bson:"extracted_at"`
}

// Field returns a core or extension field by name
func (r *Record) Field(name string) string {
	switch name {
	case "name":
		return r.Name
	case "origin":
		return r.Origin
	case "source_id":
		return r.SourceID
	}
	return r.Fields[name]
}

// Counters are the cumulative run counters reported to the user
type Counters struct {
	Searched int `json:"total_searches"`
	Found    int `json:"total_found"`
	Saved    int `json:"total_saved"`
	Failed   int `json:"failed_items"`
}

// Add accumulates another set of counters
func (c *Counters) Add(other Counters) {
	c.Searched += other.Searched
	c.Found += other.Found
	c.Saved += other.Saved
	c.Failed += other.Failed
}
