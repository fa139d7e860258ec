// Package analytics computes summaries over a record set for the dashboard.
package analytics

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"safepost/internal/models"
	"safepost/internal/query"
	"safepost/internal/repository"
)

// Overview holds the headline counts
type Overview struct {
	Total  int                           `json:"total"`
	Counts map[models.Classification]int `json:"counts"`
}

// DayBucket is one point of the trend series
type DayBucket struct {
	Date   string                        `json:"date"`
	Counts map[models.Classification]int `json:"counts"`
}

// KeywordCount is one word-cloud entry
type KeywordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// Report is the analytics view payload
type Report struct {
	Overview Overview                                 `json:"overview"`
	Trend    []DayBucket                              `json:"trend"`
	Keywords map[models.Classification][]KeywordCount `json:"keywords"`
}

// OverviewCounts counts records per label; only labels present appear in Counts
func OverviewCounts(records []models.Record) Overview {
	counts := make(map[models.Classification]int)
	for _, rec := range records {
		counts[rec.Classification]++
	}
	return Overview{Total: len(records), Counts: counts}
}

// TrendByDate buckets records by calendar date. Every label present in the
// input appears in every bucket, zero-filled. Unparsable timestamps are skipped.
func TrendByDate(records []models.Record) []DayBucket {
	labels := make(map[models.Classification]struct{})
	byDay := make(map[string]map[models.Classification]int)

	for _, rec := range records {
		labels[rec.Classification] = struct{}{}

		date := query.DateOf(rec)
		if date == "" {
			continue
		}
		if byDay[date] == nil {
			byDay[date] = make(map[models.Classification]int)
		}
		byDay[date][rec.Classification]++
	}

	buckets := make([]DayBucket, 0, len(byDay))
	for date, counts := range byDay {
		for label := range labels {
			if _, ok := counts[label]; !ok {
				counts[label] = 0
			}
		}
		buckets = append(buckets, DayBucket{Date: date, Counts: counts})
	}

	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Date < buckets[j].Date
	})

	return buckets
}

// KeywordFrequencies counts whitespace tokens across the texts carrying label
func KeywordFrequencies(records []models.Record, label models.Classification) map[string]int {
	freq := make(map[string]int)
	for _, rec := range records {
		if rec.Classification != label {
			continue
		}
		for _, word := range strings.Fields(rec.InputText) {
			freq[word]++
		}
	}
	return freq
}

// TopKeywords orders by count descending, then word; n <= 0 returns every word
func TopKeywords(freq map[string]int, n int) []KeywordCount {
	out := make([]KeywordCount, 0, len(freq))
	for word, count := range freq {
		out = append(out, KeywordCount{Word: word, Count: count})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Word < out[j].Word
	})

	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// ExportCSV serialises records in the store's flat schema
func ExportCSV(records []models.Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := repository.WriteCSV(&buf, records); err != nil {
		return nil, fmt.Errorf("failed to export records: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildReport assembles overview, trend and top keywords per present label
func BuildReport(records []models.Record, topN int) Report {
	overview := OverviewCounts(records)

	keywords := make(map[models.Classification][]KeywordCount, len(overview.Counts))
	for label := range overview.Counts {
		keywords[label] = TopKeywords(KeywordFrequencies(records, label), topN)
	}

	return Report{
		Overview: overview,
		Trend:    TrendByDate(records),
		Keywords: keywords,
	}
}
