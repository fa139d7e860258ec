package repository

import (
	"errors"
	"fmt"
	"strings"

	"safepost/internal/models"

	"go.uber.org/zap"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrInvalidRecord  = errors.New("invalid record")
)

// StoreReadError means the backing medium is missing, corrupt or unreadable
type StoreReadError struct {
	Path string
	Err  error
}

func (e *StoreReadError) Error() string {
	return fmt.Sprintf("store read %s: %v", e.Path, e.Err)
}

func (e *StoreReadError) Unwrap() error { return e.Err }

// StoreWriteError means the backing medium could not be written
type StoreWriteError struct {
	Path string
	Err  error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write %s: %v", e.Path, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// Store persists the full record set. Every mutating call is durable when it returns.
type Store interface {
	Initialize() error
	Append(text string, classification models.Classification, confidence *float64) (*models.Record, error)
	LoadAll() ([]models.Record, error)
	ReplaceAll(records []models.Record) error
	Delete(ids []int64) (int, error)
	Edit(id int64, text string, classification models.Classification) (*models.Record, error)
	Close() error
}

// NewStore opens the backend selected by kind ("csv" or "sqlite")
func NewStore(kind, path string, logger *zap.Logger) (Store, error) {
	switch strings.ToLower(kind) {
	case "", "csv":
		return NewCSVStore(path, logger), nil
	case "sqlite":
		return NewSQLiteStore(path, logger)
	}
	return nil, fmt.Errorf("unknown database type %q", kind)
}

// NormalizeText rewrites CRLF and lone CR line endings as LF. The CSV reader
// folds CRLF inside quoted fields, so only LF text survives a reload unchanged.
func NormalizeText(text string) string {
	if !strings.Contains(text, "\r") {
		return text
	}
	return strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(text)
}

func validateEntry(text string, classification models.Classification) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty input text", ErrInvalidRecord)
	}
	if !classification.Valid() {
		return fmt.Errorf("%w: unknown classification %q", ErrInvalidRecord, classification)
	}
	return nil
}

// validateRecords checks entries and id uniqueness. It returns a copy with
// normalized text and the next free id.
func validateRecords(records []models.Record) ([]models.Record, int64, error) {
	out := make([]models.Record, len(records))
	seen := make(map[int64]struct{}, len(records))
	var next int64
	for i, rec := range records {
		rec.InputText = NormalizeText(rec.InputText)
		if err := validateEntry(rec.InputText, rec.Classification); err != nil {
			return nil, 0, fmt.Errorf("record %d: %w", rec.ID, err)
		}
		if rec.ID < 0 {
			return nil, 0, fmt.Errorf("%w: negative id %d", ErrInvalidRecord, rec.ID)
		}
		if _, dup := seen[rec.ID]; dup {
			return nil, 0, fmt.Errorf("%w: duplicate id %d", ErrInvalidRecord, rec.ID)
		}
		seen[rec.ID] = struct{}{}
		if rec.ID >= next {
			next = rec.ID + 1
		}
		out[i] = rec
	}
	return out, next, nil
}

// idSet builds a lookup set from a list of ids
func idSet(ids []int64) map[int64]struct{} {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}
