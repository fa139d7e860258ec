// Package query filters, sorts, paginates and searches an in-memory record set.
// None of the functions mutate their input slice.
package query

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"safepost/internal/models"
)

// DateLayout is the calendar-date format used by date filters and trend buckets
const DateLayout = "2006-01-02"

// DefaultSuggestionLimit caps Suggest when no limit is given
const DefaultSuggestionLimit = 10

// SortKey selects the ordering used by Sort
type SortKey string

const (
	SortTimestamp      SortKey = "timestamp"
	SortTextLength     SortKey = "text_length"
	SortClassification SortKey = "classification"
)

var ErrInvalidSortKey = errors.New("invalid sort key")

// ParseSortKey accepts the canonical keys and the labels shown in the UI
func ParseSortKey(s string) (SortKey, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "timestamp":
		return SortTimestamp, nil
	case "text_length", "text length", "length":
		return SortTextLength, nil
	case "classification":
		return SortClassification, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSortKey, s)
}

// Filter holds optional criteria; zero values are no-ops and all criteria are ANDed
type Filter struct {
	Text            string
	Classifications []models.Classification
	Date            string // YYYY-MM-DD
	From            string // YYYY-MM-DD, inclusive
	To              string // YYYY-MM-DD, inclusive
	MinConfidence   float64
}

// ParseClassifications turns request values into a label filter. "All" and
// empty values select every label.
func ParseClassifications(values []string) ([]models.Classification, error) {
	var out []models.Classification
	for _, v := range values {
		if strings.TrimSpace(v) == "" || strings.EqualFold(strings.TrimSpace(v), "all") {
			return nil, nil
		}
		c, ok := models.ParseClassification(v)
		if !ok {
			return nil, fmt.Errorf("unknown classification %q", v)
		}
		out = append(out, c)
	}
	return out, nil
}

// DateOf returns the record's calendar date, or "" when its timestamp is unparsable
func DateOf(rec models.Record) string {
	if !rec.HasTimestamp() {
		return ""
	}
	return rec.Timestamp.Format(DateLayout)
}

// Apply returns the records matching every criterion, in their original order
func Apply(records []models.Record, f Filter) []models.Record {
	needle := strings.ToLower(f.Text)

	labels := make(map[models.Classification]struct{}, len(f.Classifications))
	for _, c := range f.Classifications {
		labels[c] = struct{}{}
	}

	out := make([]models.Record, 0, len(records))
	for _, rec := range records {
		if needle != "" && !strings.Contains(strings.ToLower(rec.InputText), needle) {
			continue
		}
		if len(labels) > 0 {
			if _, ok := labels[rec.Classification]; !ok {
				continue
			}
		}
		if f.Date != "" || f.From != "" || f.To != "" {
			day := DateOf(rec)
			if day == "" {
				continue
			}
			if f.Date != "" && day != f.Date {
				continue
			}
			// YYYY-MM-DD compares correctly as a string
			if f.From != "" && day < f.From {
				continue
			}
			if f.To != "" && day > f.To {
				continue
			}
		}
		if f.MinConfidence > 0 && (rec.Confidence == nil || *rec.Confidence < f.MinConfidence) {
			continue
		}
		out = append(out, rec)
	}

	return out
}

// Sort returns a stably sorted copy; ties keep their original order in both directions
func Sort(records []models.Record, key SortKey, ascending bool) ([]models.Record, error) {
	var less func(a, b models.Record) bool

	switch key {
	case SortTimestamp:
		less = func(a, b models.Record) bool { return a.Timestamp.Before(b.Timestamp) }
	case SortTextLength:
		less = func(a, b models.Record) bool {
			return utf8.RuneCountInString(a.InputText) < utf8.RuneCountInString(b.InputText)
		}
	case SortClassification:
		less = func(a, b models.Record) bool { return a.Classification < b.Classification }
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidSortKey, key)
	}

	out := make([]models.Record, len(records))
	copy(out, records)

	sort.SliceStable(out, func(i, j int) bool {
		if ascending {
			return less(out[i], out[j])
		}
		return less(out[j], out[i])
	})

	return out, nil
}

// Suggest returns distinct whitespace tokens starting with prefix (case-insensitive),
// in first-seen order, at most limit of them
func Suggest(records []models.Record, prefix string, limit int) []string {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return nil
	}
	if limit <= 0 {
		limit = DefaultSuggestionLimit
	}

	seen := make(map[string]struct{})
	var out []string
	for _, rec := range records {
		for _, token := range strings.Fields(rec.InputText) {
			if _, dup := seen[token]; dup {
				continue
			}
			seen[token] = struct{}{}

			if !strings.HasPrefix(strings.ToLower(token), prefix) {
				continue
			}
			out = append(out, token)
			if len(out) == limit {
				return out
			}
		}
	}

	return out
}
