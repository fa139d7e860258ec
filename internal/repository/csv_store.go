package repository

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"safepost/internal/models"

	"go.uber.org/zap"
)

const metaFileVersion = 1

// CSVStore keeps records in a flat CSV file plus a JSON sidecar holding
// the schema version, durable ids and confidences. The whole file is
// rewritten on every mutation.
type CSVStore struct {
	path   string
	logger *zap.Logger
	now    func() time.Time

	mu sync.Mutex
}

type metaFile struct {
	Version int       `json:"version"`
	NextID  int64     `json:"next_id"`
	Rows    []metaRow `json:"rows"`
}

type metaRow struct {
	ID         int64    `json:"id"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// NewCSVStore creates a store backed by path; nothing is touched until first use
func NewCSVStore(path string, logger *zap.Logger) *CSVStore {
	if path == "" {
		path = "data.csv"
	}
	return &CSVStore{
		path:   filepath.Clean(path),
		logger: logger,
		now:    time.Now,
	}
}

// Path returns the data file location
func (s *CSVStore) Path() string {
	return s.path
}

func (s *CSVStore) metaPath() string {
	return s.path + ".meta.json"
}

// Initialize creates an empty store with the fixed schema when absent
func (s *CSVStore) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := os.Stat(s.path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return &StoreReadError{Path: s.path, Err: err}
	}

	if err := s.saveLocked([]models.Record{}, 0); err != nil {
		return err
	}

	s.logger.Info("Record store created", zap.String("path", s.path))
	return nil
}

// Append stores a new record stamped with the current time
func (s *CSVStore) Append(text string, classification models.Classification, confidence *float64) (*models.Record, error) {
	text = NormalizeText(text)
	if err := validateEntry(text, classification); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, next, err := s.loadLocked()
	if err != nil {
		return nil, err
	}

	rec := models.Record{
		ID:             next,
		InputText:      text,
		Classification: classification,
		Timestamp:      s.now().Truncate(time.Second),
		Confidence:     confidence,
	}
	records = append(records, rec)

	if err := s.saveLocked(records, next+1); err != nil {
		return nil, err
	}

	return &rec, nil
}

// LoadAll returns every record in insertion order
func (s *CSVStore) LoadAll() ([]models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, _, err := s.loadLocked()
	return records, err
}

// ReplaceAll overwrites the store with records, keeping their ids
func (s *CSVStore) ReplaceAll(records []models.Record) error {
	records, next, err := validateRecords(records)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok, err := s.readMetaLocked()
	if err != nil {
		return err
	}
	if ok && meta.NextID > next {
		next = meta.NextID
	}

	return s.saveLocked(records, next)
}

// Delete removes records whose id is listed; unknown ids are ignored
func (s *CSVStore) Delete(ids []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, next, err := s.loadLocked()
	if err != nil {
		return 0, err
	}

	drop := idSet(ids)
	kept := make([]models.Record, 0, len(records))
	for _, rec := range records {
		if _, ok := drop[rec.ID]; ok {
			continue
		}
		kept = append(kept, rec)
	}

	removed := len(records) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	if err := s.saveLocked(kept, next); err != nil {
		return 0, err
	}

	s.logger.Info("Records deleted", zap.Int("count", removed))
	return removed, nil
}

// Edit replaces the text and label of one record. The confidence is cleared
// because it no longer describes the stored label.
func (s *CSVStore) Edit(id int64, text string, classification models.Classification) (*models.Record, error) {
	text = NormalizeText(text)
	if err := validateEntry(text, classification); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, next, err := s.loadLocked()
	if err != nil {
		return nil, err
	}

	idx := -1
	for i := range records {
		if records[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("record %d: %w", id, ErrRecordNotFound)
	}

	records[idx].InputText = text
	records[idx].Classification = classification
	records[idx].Confidence = nil

	if err := s.saveLocked(records, next); err != nil {
		return nil, err
	}

	edited := records[idx]
	return &edited, nil
}

// Close is a no-op; every mutation is already on disk
func (s *CSVStore) Close() error {
	return nil
}

// loadLocked reads the data file and merges sidecar ids. A missing data file is an empty store.
func (s *CSVStore) loadLocked() ([]models.Record, int64, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []models.Record{}, 0, nil
	}
	if err != nil {
		return nil, 0, &StoreReadError{Path: s.path, Err: err}
	}

	records, err := ReadCSV(bytes.NewReader(data))
	if err != nil {
		return nil, 0, &StoreReadError{Path: s.path, Err: err}
	}

	meta, ok, err := s.readMetaLocked()
	if err != nil {
		return nil, 0, err
	}

	next := int64(len(records))
	if !ok {
		return records, next, nil
	}
	if meta.NextID > next {
		next = meta.NextID
	}

	if len(meta.Rows) != len(records) {
		s.logger.Warn("Sidecar does not match data file, using positional ids",
			zap.String("path", s.metaPath()),
			zap.Int("sidecar_rows", len(meta.Rows)),
			zap.Int("data_rows", len(records)))
		return records, next, nil
	}

	seen := make(map[int64]struct{}, len(meta.Rows))
	for _, row := range meta.Rows {
		if _, dup := seen[row.ID]; dup || row.ID < 0 {
			s.logger.Warn("Sidecar has invalid ids, using positional ids",
				zap.String("path", s.metaPath()),
				zap.Int64("id", row.ID))
			return records, next, nil
		}
		seen[row.ID] = struct{}{}
	}

	for i, row := range meta.Rows {
		records[i].ID = row.ID
		records[i].Confidence = row.Confidence
		if row.ID >= next {
			next = row.ID + 1
		}
	}

	return records, next, nil
}

func (s *CSVStore) readMetaLocked() (metaFile, bool, error) {
	var meta metaFile

	data, err := os.ReadFile(s.metaPath())
	if isMissing(err) {
		return meta, false, nil
	}
	if err != nil {
		return meta, false, &StoreReadError{Path: s.metaPath(), Err: err}
	}

	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, false, &StoreReadError{Path: s.metaPath(), Err: fmt.Errorf("decode sidecar: %w", err)}
	}
	if meta.Version != metaFileVersion {
		return meta, false, &StoreReadError{Path: s.metaPath(), Err: fmt.Errorf("unsupported schema version %d", meta.Version)}
	}

	return meta, true, nil
}

// saveLocked stages both files as temp files before renaming either. The
// sidecar goes first; if the data file rename then fails the previous sidecar
// is put back, so a failed save leaves the store as it was.
func (s *CSVStore) saveLocked(records []models.Record, next int64) error {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, records); err != nil {
		return &StoreWriteError{Path: s.path, Err: err}
	}

	meta := metaFile{
		Version: metaFileVersion,
		NextID:  next,
		Rows:    make([]metaRow, len(records)),
	}
	for i, rec := range records {
		meta.Rows[i] = metaRow{ID: rec.ID, Confidence: rec.Confidence}
	}
	metaData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return &StoreWriteError{Path: s.metaPath(), Err: fmt.Errorf("marshal sidecar: %w", err)}
	}
	metaData = append(metaData, '\n')

	prevMeta, err := os.ReadFile(s.metaPath())
	hadMeta := err == nil
	if err != nil && !isMissing(err) {
		return &StoreWriteError{Path: s.metaPath(), Err: err}
	}

	dataTmp, err := stageFile(s.path, buf.Bytes(), 0o644)
	if err != nil {
		return &StoreWriteError{Path: s.path, Err: err}
	}
	defer os.Remove(dataTmp)

	metaTmp, err := stageFile(s.metaPath(), metaData, 0o644)
	if err != nil {
		return &StoreWriteError{Path: s.metaPath(), Err: err}
	}
	defer os.Remove(metaTmp)

	if err := os.Rename(metaTmp, s.metaPath()); err != nil {
		return &StoreWriteError{Path: s.metaPath(), Err: fmt.Errorf("rename temp file: %w", err)}
	}
	if err := os.Rename(dataTmp, s.path); err != nil {
		s.restoreMeta(prevMeta, hadMeta)
		return &StoreWriteError{Path: s.path, Err: fmt.Errorf("rename temp file: %w", err)}
	}

	return nil
}

func (s *CSVStore) restoreMeta(prev []byte, existed bool) {
	var err error
	if existed {
		err = writeFileAtomic(s.metaPath(), prev, 0o644)
	} else {
		err = os.Remove(s.metaPath())
	}
	if err != nil {
		s.logger.Error("Failed to restore sidecar", zap.String("path", s.metaPath()), zap.Error(err))
	}
}

// isMissing also covers a path whose parent is not a directory
func isMissing(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmpPath, err := stageFile(path, data, perm)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file to %s: %w", path, err)
	}
	return nil
}

// stageFile writes data to a synced temp file next to path and returns its name
func stageFile(path string, data []byte, perm os.FileMode) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create parent dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return "", fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	fail := func(err error) (string, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", err
	}

	if _, err := tmp.Write(data); err != nil {
		return fail(fmt.Errorf("write temp file %s: %w", tmpPath, err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("sync temp file %s: %w", tmpPath, err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close temp file %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("chmod temp file %s: %w", tmpPath, err)
	}
	return tmpPath, nil
}
