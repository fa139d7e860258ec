package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"safepost/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteSchemaVersion = 1

// SQLiteStore keeps records in an embedded SQLite database
type SQLiteStore struct {
	db     *sqlx.DB
	path   string
	logger *zap.Logger
	now    func() time.Time

	mu sync.Mutex
}

type recordRow struct {
	ID             int64           `db:"id"`
	InputText      string          `db:"input_text"`
	Classification string          `db:"classification"`
	Timestamp      string          `db:"timestamp"`
	Confidence     sql.NullFloat64 `db:"confidence"`
}

// NewSQLiteStore opens the database and creates the schema if needed
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "data.db"
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, &StoreReadError{Path: dbPath, Err: fmt.Errorf("failed to open database: %w", err)}
	}
	// One connection keeps ":memory:" databases and write ordering consistent
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		db:     db,
		path:   dbPath,
		logger: logger,
		now:    time.Now,
	}

	if err := store.Initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Record store initialized", zap.String("db_path", dbPath))

	return store, nil
}

// Initialize creates tables and meta rows; safe to call repeatedly
func (s *SQLiteStore) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY,
		position INTEGER NOT NULL,
		input_text TEXT NOT NULL,
		classification TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		confidence REAL
	);

	CREATE INDEX IF NOT EXISTS idx_records_position ON records(position);

	CREATE TABLE IF NOT EXISTS store_meta (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);

	INSERT OR IGNORE INTO store_meta (key, value) VALUES ('schema_version', 1);
	INSERT OR IGNORE INTO store_meta (key, value) VALUES ('next_id', 0);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return &StoreWriteError{Path: s.path, Err: fmt.Errorf("failed to migrate database: %w", err)}
	}

	var version int
	if err := s.db.Get(&version, `SELECT value FROM store_meta WHERE key = 'schema_version'`); err != nil {
		return &StoreReadError{Path: s.path, Err: fmt.Errorf("failed to read schema version: %w", err)}
	}
	if version != sqliteSchemaVersion {
		return &StoreReadError{Path: s.path, Err: fmt.Errorf("unsupported schema version %d", version)}
	}

	return nil
}

// Append inserts a record with the next durable id
func (s *SQLiteStore) Append(text string, classification models.Classification, confidence *float64) (*models.Record, error) {
	text = NormalizeText(text)
	if err := validateEntry(text, classification); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := models.Record{
		InputText:      text,
		Classification: classification,
		Timestamp:      s.now().Truncate(time.Second),
		Confidence:     confidence,
	}

	err := s.withTx(func(tx *sqlx.Tx) error {
		next, err := nextID(tx)
		if err != nil {
			return err
		}
		rec.ID = next

		query := `
			INSERT INTO records (id, position, input_text, classification, timestamp, confidence)
			VALUES (?, (SELECT COALESCE(MAX(position) + 1, 0) FROM records), ?, ?, ?, ?)
		`
		if _, err := tx.Exec(query, rec.ID, rec.InputText, string(rec.Classification),
			FormatTimestamp(rec.Timestamp), nullFloat(rec.Confidence)); err != nil {
			return fmt.Errorf("failed to insert record: %w", err)
		}

		return setNextID(tx, next+1)
	})
	if err != nil {
		return nil, &StoreWriteError{Path: s.path, Err: err}
	}

	return &rec, nil
}

// LoadAll returns every record in storage order
func (s *SQLiteStore) LoadAll() ([]models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []recordRow
	query := `
		SELECT id, input_text, classification, timestamp, confidence
		FROM records
		ORDER BY position ASC
	`
	if err := s.db.Select(&rows, query); err != nil {
		return nil, &StoreReadError{Path: s.path, Err: fmt.Errorf("failed to query records: %w", err)}
	}

	records := make([]models.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, &StoreReadError{Path: s.path, Err: err}
		}
		records = append(records, rec)
	}

	return records, nil
}

// ReplaceAll swaps the table contents in one transaction
func (s *SQLiteStore) ReplaceAll(records []models.Record) error {
	records, next, err := validateRecords(records)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.withTx(func(tx *sqlx.Tx) error {
		current, err := nextID(tx)
		if err != nil {
			return err
		}
		if current > next {
			next = current
		}

		if _, err := tx.Exec(`DELETE FROM records`); err != nil {
			return fmt.Errorf("failed to clear records: %w", err)
		}

		query := `
			INSERT INTO records (id, position, input_text, classification, timestamp, confidence)
			VALUES (?, ?, ?, ?, ?, ?)
		`
		for i, rec := range records {
			if _, err := tx.Exec(query, rec.ID, i, rec.InputText, string(rec.Classification),
				FormatTimestamp(rec.Timestamp), nullFloat(rec.Confidence)); err != nil {
				return fmt.Errorf("failed to insert record %d: %w", rec.ID, err)
			}
		}

		return setNextID(tx, next)
	})
	if err != nil {
		return &StoreWriteError{Path: s.path, Err: err}
	}

	return nil
}

// Delete removes the listed ids and reports how many were removed
func (s *SQLiteStore) Delete(ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query, args, err := sqlx.In(`DELETE FROM records WHERE id IN (?)`, ids)
	if err != nil {
		return 0, &StoreWriteError{Path: s.path, Err: fmt.Errorf("failed to build delete: %w", err)}
	}

	result, err := s.db.Exec(s.db.Rebind(query), args...)
	if err != nil {
		return 0, &StoreWriteError{Path: s.path, Err: fmt.Errorf("failed to delete records: %w", err)}
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, &StoreWriteError{Path: s.path, Err: fmt.Errorf("failed to get affected rows: %w", err)}
	}

	if removed > 0 {
		s.logger.Info("Records deleted", zap.Int64("count", removed))
	}
	return int(removed), nil
}

// Edit replaces text and label of one record and clears its confidence
func (s *SQLiteStore) Edit(id int64, text string, classification models.Classification) (*models.Record, error) {
	text = NormalizeText(text)
	if err := validateEntry(text, classification); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var rec models.Record
	err := s.withTx(func(tx *sqlx.Tx) error {
		result, err := tx.Exec(`
			UPDATE records SET input_text = ?, classification = ?, confidence = NULL
			WHERE id = ?
		`, text, string(classification), id)
		if err != nil {
			return fmt.Errorf("failed to update record: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("record %d: %w", id, ErrRecordNotFound)
		}

		var row recordRow
		err = tx.Get(&row, `
			SELECT id, input_text, classification, timestamp, confidence
			FROM records
			WHERE id = ?
		`, id)
		if err != nil {
			return fmt.Errorf("failed to reload record: %w", err)
		}

		rec, err = row.toRecord()
		return err
	})
	if errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, &StoreWriteError{Path: s.path, Err: err}
	}

	return &rec, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) withTx(fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func nextID(tx *sqlx.Tx) (int64, error) {
	var next int64
	if err := tx.Get(&next, `SELECT value FROM store_meta WHERE key = 'next_id'`); err != nil {
		return 0, fmt.Errorf("failed to read next id: %w", err)
	}
	return next, nil
}

func setNextID(tx *sqlx.Tx, next int64) error {
	if _, err := tx.Exec(`UPDATE store_meta SET value = ? WHERE key = 'next_id'`, next); err != nil {
		return fmt.Errorf("failed to update next id: %w", err)
	}
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func (row recordRow) toRecord() (models.Record, error) {
	label, ok := models.ParseClassification(row.Classification)
	if !ok {
		return models.Record{}, fmt.Errorf("record %d: %w: unknown classification %q", row.ID, ErrInvalidRecord, row.Classification)
	}
	if strings.TrimSpace(row.InputText) == "" {
		return models.Record{}, fmt.Errorf("record %d: %w: empty input", row.ID, ErrInvalidRecord)
	}

	rec := models.Record{
		ID:             row.ID,
		InputText:      row.InputText,
		Classification: label,
		Timestamp:      ParseTimestamp(row.Timestamp),
	}
	if row.Confidence.Valid {
		conf := row.Confidence.Float64
		rec.Confidence = &conf
	}
	return rec, nil
}
