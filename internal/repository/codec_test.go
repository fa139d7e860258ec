package repository

import (
	"bytes"
	"testing"
	"time"

	"safepost/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	want := time.Date(2024, 1, 15, 8, 30, 0, 0, time.Local)

	for _, input := range []string{
		"2024-01-15T08:30:00",
		"2024-01-15 08:30:00",
		"2024-01-15 08:30:00.654321",
		want.Format(time.RFC3339),
	} {
		got := ParseTimestamp(input)
		assert.True(t, want.Equal(got), "%q parsed to %v", input, got)
	}

	for _, input := range []string{"", "   ", "yesterday", "15/01/2024"} {
		assert.True(t, ParseTimestamp(input).IsZero(), "%q should be unparsable", input)
	}
}

func TestFormatTimestamp(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", FormatTimestamp(time.Time{}))
	assert.Equal(t, "2024-02-29T23:59:59", FormatTimestamp(time.Date(2024, 2, 29, 23, 59, 59, 0, time.Local)))
}

func TestWriteReadCSV(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 6, 1, 9, 0, 0, 0, time.Local)
	records := []models.Record{
		{ID: 4, InputText: `comma, "quote" and` + "\nnewline", Classification: models.Safe, Timestamp: ts},
		{ID: 6, InputText: "plain", Classification: models.Inappropriate, Timestamp: ts},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, records))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("Input,Classification,Timestamp\n")))

	parsed, err := ReadCSV(&buf)
	require.NoError(t, err)
	require.Len(t, parsed, 2)

	// The flat schema carries no ids, so parsed ids are positional
	assert.Equal(t, int64(0), parsed[0].ID)
	assert.Equal(t, int64(1), parsed[1].ID)
	assert.Equal(t, records[0].InputText, parsed[0].InputText)
	assert.Equal(t, models.Inappropriate, parsed[1].Classification)
	assert.True(t, ts.Equal(parsed[1].Timestamp))
}

func TestWriteReadCSV_LineEndings(t *testing.T) {
	t.Parallel()

	records := []models.Record{
		{InputText: "line one\r\nline two", Classification: models.Safe},
		{InputText: "old mac\rbreak", Classification: models.Safe},
		{InputText: "mixed\r\n\r\nblank\n", Classification: models.Inappropriate},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, records))
	parsed, err := ReadCSV(&buf)
	require.NoError(t, err)
	require.Len(t, parsed, 3)

	assert.Equal(t, "line one\nline two", parsed[0].InputText)
	assert.Equal(t, "old mac\nbreak", parsed[1].InputText)
	assert.Equal(t, "mixed\n\nblank\n", parsed[2].InputText)

	// Normalized text is a fixed point
	var again bytes.Buffer
	require.NoError(t, WriteCSV(&again, parsed))
	reparsed, err := ReadCSV(&again)
	require.NoError(t, err)
	for i := range parsed {
		assert.Equal(t, parsed[i].InputText, reparsed[i].InputText)
	}
}

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "plain", NormalizeText("plain"))
	assert.Equal(t, "a\nb", NormalizeText("a\r\nb"))
	assert.Equal(t, "a\nb", NormalizeText("a\rb"))
	assert.Equal(t, "a\n\nb", NormalizeText("a\r\rb"))
	assert.Equal(t, "a\n\nb", NormalizeText("a\n\r\nb"))
}

func TestReadCSV_EmptyInput(t *testing.T) {
	t.Parallel()

	records, err := ReadCSV(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestReadCSV_AcceptsShortLabels(t *testing.T) {
	t.Parallel()

	input := "Input,Classification,Timestamp\nhi,Safe,\nbye,inappropriate,\n"
	records, err := ReadCSV(bytes.NewReader([]byte(input)))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.Safe, records[0].Classification)
	assert.Equal(t, models.Inappropriate, records[1].Classification)
}
