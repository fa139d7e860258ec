package query

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"safepost/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d, hour int) time.Time {
	return time.Date(y, m, d, hour, 0, 0, 0, time.Local)
}

func conf(v float64) *float64 { return &v }

func sampleRecords() []models.Record {
	return []models.Record{
		{ID: 0, InputText: "A Cat on the mat", Classification: models.Safe, Timestamp: day(2024, 1, 15, 8), Confidence: conf(0.9)},
		{ID: 1, InputText: "dog barking loudly", Classification: models.Inappropriate, Timestamp: day(2024, 1, 15, 23), Confidence: conf(0.4)},
		{ID: 2, InputText: "concatenate strings", Classification: models.Safe, Timestamp: day(2024, 1, 16, 9)},
		{ID: 3, InputText: "no date here cat", Classification: models.Inappropriate},
		{ID: 4, InputText: "birds", Classification: models.Safe, Timestamp: day(2024, 1, 18, 12), Confidence: conf(0.75)},
	}
}

func ids(records []models.Record) []int64 {
	out := make([]int64, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.ID)
	}
	return out
}

func TestApply_TextIsCaseInsensitiveSubstring(t *testing.T) {
	t.Parallel()

	records := sampleRecords()

	got := Apply(records, Filter{Text: "cat"})
	assert.Equal(t, []int64{0, 2, 3}, ids(got))

	got = Apply(records, Filter{Text: "CAT"})
	assert.Equal(t, []int64{0, 2, 3}, ids(got))

	got = Apply(records, Filter{})
	assert.Equal(t, ids(records), ids(got))
}

func TestApply_Classification(t *testing.T) {
	t.Parallel()

	records := sampleRecords()

	got := Apply(records, Filter{Classifications: []models.Classification{models.Inappropriate}})
	assert.Equal(t, []int64{1, 3}, ids(got))

	got = Apply(records, Filter{Classifications: models.AllClassifications})
	assert.Len(t, got, len(records))
}

func TestApply_DateDropsUnparsableTimestamps(t *testing.T) {
	t.Parallel()

	records := sampleRecords()

	got := Apply(records, Filter{Date: "2024-01-15"})
	assert.Equal(t, []int64{0, 1}, ids(got))

	got = Apply(records, Filter{From: "2024-01-16", To: "2024-01-18"})
	assert.Equal(t, []int64{2, 4}, ids(got))

	got = Apply(records, Filter{From: "2000-01-01"})
	assert.NotContains(t, ids(got), int64(3))
}

func TestApply_MinConfidence(t *testing.T) {
	t.Parallel()

	got := Apply(sampleRecords(), Filter{MinConfidence: 0.5})
	assert.Equal(t, []int64{0, 4}, ids(got))
}

func TestApply_FiltersCompose(t *testing.T) {
	t.Parallel()

	got := Apply(sampleRecords(), Filter{
		Text:            "cat",
		Classifications: []models.Classification{models.Safe},
		Date:            "2024-01-16",
	})
	assert.Equal(t, []int64{2}, ids(got))
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	records := sampleRecords()
	_ = Apply(records, Filter{Text: "dog"})
	assert.Len(t, records, 5)
	assert.Equal(t, int64(0), records[0].ID)
}

func TestParseClassifications(t *testing.T) {
	t.Parallel()

	got, err := ParseClassifications([]string{"All"})
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = ParseClassifications(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = ParseClassifications([]string{"Safe to post", "inappropriate"})
	require.NoError(t, err)
	assert.Equal(t, []models.Classification{models.Safe, models.Inappropriate}, got)

	_, err = ParseClassifications([]string{"spam"})
	require.Error(t, err)
}

func TestSort_ClassificationIsStable(t *testing.T) {
	t.Parallel()

	records := sampleRecords()

	asc, err := Sort(records, SortClassification, true)
	require.NoError(t, err)
	// "Inappropriate content" < "Safe to post"; ties keep original order
	assert.Equal(t, []int64{1, 3, 0, 2, 4}, ids(asc))

	desc, err := Sort(records, SortClassification, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 2, 4, 1, 3}, ids(desc))

	assert.Equal(t, []int64{0, 1, 2, 3, 4}, ids(records), "input must not be reordered")
}

func TestSort_TextLengthCountsRunes(t *testing.T) {
	t.Parallel()

	records := []models.Record{
		{ID: 0, InputText: "ééé", Classification: models.Safe},
		{ID: 1, InputText: "abcd", Classification: models.Safe},
		{ID: 2, InputText: "xy", Classification: models.Safe},
		{ID: 3, InputText: "abc", Classification: models.Safe},
	}

	got, err := Sort(records, SortTextLength, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 0, 3, 1}, ids(got))
}

func TestSort_Timestamp(t *testing.T) {
	t.Parallel()

	got, err := Sort(sampleRecords(), SortTimestamp, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 2, 1, 0, 3}, ids(got))
}

func TestSort_UnknownKey(t *testing.T) {
	t.Parallel()

	_, err := Sort(sampleRecords(), SortKey("votes"), true)
	require.ErrorIs(t, err, ErrInvalidSortKey)

	_, err = ParseSortKey("votes")
	require.ErrorIs(t, err, ErrInvalidSortKey)

	key, err := ParseSortKey("Text Length")
	require.NoError(t, err)
	assert.Equal(t, SortTextLength, key)
}

func makeRecords(n int) []models.Record {
	records := make([]models.Record, n)
	for i := range records {
		records[i] = models.Record{ID: int64(i), InputText: fmt.Sprintf("r%d", i), Classification: models.Safe}
	}
	return records
}

func TestPaginate_Bounds(t *testing.T) {
	t.Parallel()

	records := makeRecords(25)
	assert.Equal(t, 3, TotalPages(len(records), 10))

	first, err := Paginate(records, 10, 1)
	require.NoError(t, err)
	assert.Len(t, first.Records, 10)
	assert.Equal(t, int64(0), first.Records[0].ID)
	assert.Equal(t, 3, first.TotalPages)
	assert.Equal(t, 25, first.TotalRecords)

	last, err := Paginate(records, 10, 3)
	require.NoError(t, err)
	assert.Len(t, last.Records, 5)
	assert.Equal(t, int64(20), last.Records[0].ID)

	_, err = Paginate(records, 10, 4)
	var pageErr *InvalidPageError
	require.True(t, errors.As(err, &pageErr))
	assert.Equal(t, 4, pageErr.Page)
	assert.Equal(t, 3, pageErr.TotalPages)

	_, err = Paginate(records, 10, 0)
	require.ErrorAs(t, err, &pageErr)

	_, err = Paginate(records, 0, 1)
	require.ErrorAs(t, err, &pageErr)
}

func TestPaginate_EmptySetIsNoOp(t *testing.T) {
	t.Parallel()

	page, err := Paginate(nil, 10, 1)
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.Zero(t, page.TotalPages)

	page, err = Paginate([]models.Record{}, 10, 7)
	require.NoError(t, err)
	assert.Empty(t, page.Records)
}

func TestSuggest(t *testing.T) {
	t.Parallel()

	records := []models.Record{
		{InputText: "Cat catalog dog", Classification: models.Safe},
		{InputText: "category cat Cat", Classification: models.Safe},
	}

	assert.Equal(t, []string{"Cat", "catalog", "category", "cat"}, Suggest(records, "ca", 10))
	assert.Equal(t, []string{"Cat", "catalog"}, Suggest(records, "CA", 2))
	assert.Nil(t, Suggest(records, "", 10))
	assert.Nil(t, Suggest(records, "zebra", 10))
}

func TestSuggest_DefaultLimit(t *testing.T) {
	t.Parallel()

	var records []models.Record
	for i := 0; i < 15; i++ {
		records = append(records, models.Record{InputText: fmt.Sprintf("word%d", i), Classification: models.Safe})
	}

	assert.Len(t, Suggest(records, "word", 0), DefaultSuggestionLimit)
}
