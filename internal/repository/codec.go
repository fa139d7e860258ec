package repository

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"safepost/internal/models"
)

// TimestampLayout is the on-disk timestamp format (local time, second precision)
const TimestampLayout = "2006-01-02T15:04:05"

// Header is the fixed first row of the backing file
var Header = []string{"Input", "Classification", "Timestamp"}

// Legacy and interchange layouts accepted when reading
var timestampLayouts = []string{
	TimestampLayout,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// FormatTimestamp renders t in the storage layout; the zero time becomes ""
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(TimestampLayout)
}

// ParseTimestamp never fails: unparsable values yield the zero time
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.Local().Truncate(time.Second)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t.Truncate(time.Second)
		}
	}
	return time.Time{}
}

// WriteCSV writes the header and one row per record. Text is written with LF
// line endings so that ReadCSV returns it unchanged.
func WriteCSV(w io.Writer, records []models.Record) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, rec := range records {
		row := []string{
			NormalizeText(rec.InputText),
			string(rec.Classification),
			FormatTimestamp(rec.Timestamp),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write record %d: %w", rec.ID, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// ReadCSV parses the flat schema. IDs are positional, starting at 0.
// An entirely empty input is an empty store; anything else must start with Header.
func ReadCSV(r io.Reader) ([]models.Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(Header)

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return []models.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i, name := range Header {
		if header[i] != name {
			return nil, fmt.Errorf("unexpected header %q", strings.Join(header, ","))
		}
	}

	records := []models.Record{}
	for line := 1; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", line, err)
		}

		label, ok := models.ParseClassification(row[1])
		if !ok {
			return nil, fmt.Errorf("row %d: %w: unknown classification %q", line, ErrInvalidRecord, row[1])
		}
		if strings.TrimSpace(row[0]) == "" {
			return nil, fmt.Errorf("row %d: %w: empty input", line, ErrInvalidRecord)
		}

		records = append(records, models.Record{
			ID:             int64(len(records)),
			InputText:      row[0],
			Classification: label,
			Timestamp:      ParseTimestamp(row[2]),
		})
	}

	return records, nil
}
