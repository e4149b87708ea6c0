package unitsource

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"harvester/pkg/config"
	"harvester/pkg/models"
)

// Generator proposes new keywords. known reports keywords already in either ledger.
type Generator interface {
	Name() string
	Generate(known func(string) bool) ([]string, error)
}

// RecordSource iterates stored records
type RecordSource interface {
	Records(fn func(*models.Record) error) error
}

var (
	parenRe   = regexp.MustCompile(`\([^)]*\)`)
	aliasRe   = regexp.MustCompile(`\(([^)]+)\)`)
	bracketRe = regexp.MustCompile(`\[[^\]]*\]`)
	dosageRe  = regexp.MustCompile(`\d+(\.\d+)?(mg|ml|g|mcg|μg|%|/\w+)`)
	punctRe   = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	classSep  = regexp.MustCompile(`[/,>]`)
)

// Normalize strips parenthesised text, dosage units and punctuation from a keyword
func Normalize(keyword string) string {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return ""
	}
	keyword = parenRe.ReplaceAllString(keyword, "")
	keyword = dosageRe.ReplaceAllString(keyword, "")
	keyword = punctRe.ReplaceAllString(keyword, "")
	return strings.Join(strings.Fields(keyword), " ")
}

// IsGenericName reports whether keyword looks like a general search term
// rather than a specific product listing
func IsGenericName(keyword string, companyTokens []string) bool {
	n := utf8.RuneCountInString(keyword)
	if n < 2 || n > 15 {
		return false
	}

	special := 0
	for _, r := range keyword {
		if unicode.IsDigit(r) {
			return false
		}
		if !unicode.IsLetter(r) && r != ' ' && r != '-' {
			special++
		}
	}
	if float64(special) > float64(n)*0.1 {
		return false
	}

	words := strings.Fields(keyword)
	if len(words) > 2 {
		return false
	}
	short := true
	for _, w := range words {
		if utf8.RuneCountInString(w) > 1 {
			short = false
			break
		}
	}
	if short {
		return false
	}

	for _, token := range companyTokens {
		if token != "" && strings.Contains(keyword, token) {
			return false
		}
	}
	return true
}

// Similar reports whether two keywords would return largely the same search results
func Similar(a, b string, threshold float64) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}

	k1 := strings.ToLower(Normalize(a))
	k2 := strings.ToLower(Normalize(b))
	if k1 == "" || k2 == "" {
		return false
	}
	if k1 == k2 {
		return true
	}

	if strings.Contains(k1, k2) || strings.Contains(k2, k1) {
		l1, l2 := utf8.RuneCountInString(k1), utf8.RuneCountInString(k2)
		short, long := min(l1, l2), max(l1, l2)
		if float64(short)/float64(long) > 0.9 {
			return true
		}
	}

	w1 := wordSet(k1)
	w2 := wordSet(k2)
	if len(w1) == 1 && subset(w1, w2) || len(w2) == 1 && subset(w2, w1) {
		return true
	}

	common := 0
	for w := range w1 {
		if _, ok := w2[w]; ok {
			common++
		}
	}
	all := len(w1) + len(w2) - common
	return common > 0 && float64(common)/float64(all) > threshold
}

// FrequencyGenerator proposes the most frequent generic names found in stored records
type FrequencyGenerator struct {
	records RecordSource
	cfg     config.KeywordConfig
}

// NewFrequencyGenerator creates a generator over stored records
func NewFrequencyGenerator(records RecordSource, cfg config.KeywordConfig) *FrequencyGenerator {
	return &FrequencyGenerator{records: records, cfg: cfg}
}

func (g *FrequencyGenerator) Name() string {
	return "frequency"
}

// Generate ranks candidates by how many records mention them
func (g *FrequencyGenerator) Generate(known func(string) bool) ([]string, error) {
	counts := make(map[string]int)
	var order []string

	err := g.records.Records(func(rec *models.Record) error {
		for _, c := range g.candidates(rec) {
			if !IsGenericName(c, g.cfg.CompanyTokens) {
				continue
			}
			if _, ok := counts[c]; !ok {
				order = append(order, c)
			}
			counts[c]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	var picked []string
	for _, c := range order {
		if len(picked) >= g.cfg.MaxNew {
			break
		}
		if known(c) {
			continue
		}
		dup := false
		for _, p := range picked {
			if Similar(c, p, 0.6) {
				dup = true
				break
			}
		}
		if !dup {
			picked = append(picked, c)
		}
	}
	return picked, nil
}

// candidates collects names, parenthesised aliases and classification terms of one record
func (g *FrequencyGenerator) candidates(rec *models.Record) []string {
	var out []string
	add := func(s string) {
		if s = Normalize(s); s != "" {
			out = append(out, s)
		}
	}

	names := []string{rec.Name}
	for _, field := range g.cfg.NameFields {
		names = append(names, rec.Field(field))
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		add(name)
		for _, m := range aliasRe.FindAllStringSubmatch(name, -1) {
			add(m[1])
		}
	}

	for _, field := range g.cfg.ClassFields {
		value := bracketRe.ReplaceAllString(rec.Field(field), "")
		for _, part := range classSep.Split(value, -1) {
			add(part)
		}
	}
	return out
}

// SweepGenerator proposes configured terms in a fixed order.
// Terms already in a ledger are skipped, so each call continues where the last stopped.
type SweepGenerator struct {
	terms  []string
	maxNew int
}

// NewSweepGenerator creates a sweep over terms
func NewSweepGenerator(terms []string, maxNew int) *SweepGenerator {
	return &SweepGenerator{terms: terms, maxNew: maxNew}
}

func (g *SweepGenerator) Name() string {
	return "sweep"
}

func (g *SweepGenerator) Generate(known func(string) bool) ([]string, error) {
	var out []string
	for _, term := range g.terms {
		if g.maxNew > 0 && len(out) >= g.maxNew {
			break
		}
		term = cleanKeyword(term)
		if term == "" || known(term) {
			continue
		}
		out = append(out, term)
	}
	return out, nil
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}

func subset(a, b map[string]struct{}) bool {
	for w := range a {
		if _, ok := b[w]; !ok {
			return false
		}
	}
	return true
}
