package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"safepost/internal/analytics"
	"safepost/internal/metrics"
	"safepost/internal/models"
	"safepost/internal/query"
	"safepost/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Captioner describes an uploaded image
type Captioner interface {
	Caption(ctx context.Context, image []byte) (string, error)
}

// Classifier labels the combined text
type Classifier interface {
	Classify(ctx context.Context, text string) (*models.ClassificationResult, error)
}

// Options tunes the views served by the Moderator
type Options struct {
	UploadDir       string // empty disables keeping uploaded images
	DefaultPageSize int
	MaxPageSize     int
	SuggestionLimit int
	TopKeywords     int
}

// Moderator handles submission, browsing and analytics over the record store
type Moderator struct {
	store      repository.Store
	captioner  Captioner
	classifier Classifier
	metrics    *metrics.Metrics
	logger     *zap.Logger
	opts       Options
}

// NewModerator creates a new moderation service
func NewModerator(
	store repository.Store,
	captioner Captioner,
	classifier Classifier,
	m *metrics.Metrics,
	logger *zap.Logger,
	opts Options,
) *Moderator {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 10
	}
	if opts.MaxPageSize < opts.DefaultPageSize {
		opts.MaxPageSize = opts.DefaultPageSize
	}
	if opts.SuggestionLimit <= 0 {
		opts.SuggestionLimit = query.DefaultSuggestionLimit
	}
	if opts.TopKeywords <= 0 {
		opts.TopKeywords = 50
	}

	return &Moderator{
		store:      store,
		captioner:  captioner,
		classifier: classifier,
		metrics:    m,
		logger:     logger,
		opts:       opts,
	}
}

// SubmitInput is one user submission; either field may be empty but not both
type SubmitInput struct {
	Text  string
	Image []byte
}

// Submit captions the image if any, classifies the combined text and appends a record.
// No record is created when any step fails.
func (m *Moderator) Submit(ctx context.Context, in SubmitInput) (*models.SubmitResponse, error) {
	text := strings.TrimSpace(repository.NormalizeText(in.Text))

	var caption, uploadPath string
	if len(in.Image) > 0 {
		var err error
		if uploadPath, err = m.saveUpload(in.Image); err != nil {
			return nil, err
		}

		start := time.Now()
		caption, err = m.captioner.Caption(ctx, in.Image)
		took := time.Since(start)
		if err == nil && strings.TrimSpace(caption) == "" {
			err = errors.New("empty caption")
		}
		m.metrics.ObserveCollaborator(StepCaption, took, err)
		if err != nil {
			m.discardUpload(uploadPath)
			m.logger.Error("Captioning failed", zap.Error(err))
			return nil, &CollaboratorError{Step: StepCaption, Err: err}
		}
		caption = strings.TrimSpace(repository.NormalizeText(caption))
	}

	combined := CombineText(text, caption)
	if combined == "" {
		return nil, ErrClassificationInput
	}

	start := time.Now()
	result, err := m.classifier.Classify(ctx, combined)
	took := time.Since(start)
	if err == nil && !result.Label.Valid() {
		err = fmt.Errorf("classifier returned unknown label %q", result.Label)
	}
	m.metrics.ObserveCollaborator(StepClassify, took, err)
	if err != nil {
		m.discardUpload(uploadPath)
		m.logger.Error("Classification failed", zap.Error(err))
		return nil, &CollaboratorError{Step: StepClassify, Err: err}
	}

	confidence := result.Confidence
	record, err := m.store.Append(combined, result.Label, &confidence)
	m.metrics.ObserveStore("append", err)
	if err != nil {
		m.discardUpload(uploadPath)
		return nil, fmt.Errorf("failed to save record: %w", err)
	}

	m.metrics.ObserveSubmission(result.Label.Short())
	m.logger.Info("Submission classified",
		zap.Int64("id", record.ID),
		zap.String("classification", result.Label.Short()),
		zap.Float64("confidence", confidence),
		zap.String("provider", result.Provider),
		zap.Bool("has_image", len(in.Image) > 0))

	return &models.SubmitResponse{
		Record:     record,
		Caption:    caption,
		Confidence: &confidence,
	}, nil
}

// CombineText joins the typed text and the caption with a single space
func CombineText(text, caption string) string {
	return strings.TrimSpace(strings.TrimSpace(text) + " " + strings.TrimSpace(caption))
}

// ListParams selects one page of the browse view
type ListParams struct {
	Filter    query.Filter
	SortKey   query.SortKey
	Ascending bool
	Page      int // 1-based
	PageSize  int // 0 selects the default
}

// ListView filters, sorts and paginates the full record set
func (m *Moderator) ListView(p ListParams) (*query.Page, error) {
	records, err := m.loadAll()
	if err != nil {
		return nil, err
	}

	filtered := query.Apply(records, p.Filter)

	if p.SortKey == "" {
		p.SortKey = query.SortTimestamp
	}
	sorted, err := query.Sort(filtered, p.SortKey, p.Ascending)
	if err != nil {
		return nil, err
	}

	pageSize := p.PageSize
	if pageSize == 0 {
		pageSize = m.opts.DefaultPageSize
	}
	if pageSize > m.opts.MaxPageSize {
		pageSize = m.opts.MaxPageSize
	}
	return query.Paginate(sorted, pageSize, p.Page)
}

// Suggest returns search-as-you-type tokens drawn from every stored text
func (m *Moderator) Suggest(prefix string) ([]string, error) {
	records, err := m.loadAll()
	if err != nil {
		return nil, err
	}
	return query.Suggest(records, prefix, m.opts.SuggestionLimit), nil
}

// AnalyticsView summarises the records matching filter
func (m *Moderator) AnalyticsView(filter query.Filter) (*analytics.Report, error) {
	records, err := m.loadAll()
	if err != nil {
		return nil, err
	}

	report := analytics.BuildReport(query.Apply(records, filter), m.opts.TopKeywords)
	return &report, nil
}

// Export serialises the records matching filter as CSV
func (m *Moderator) Export(filter query.Filter) ([]byte, error) {
	records, err := m.loadAll()
	if err != nil {
		return nil, err
	}
	return analytics.ExportCSV(query.Apply(records, filter))
}

// Delete removes the given ids and reports how many existed
func (m *Moderator) Delete(ids []int64) (int, error) {
	removed, err := m.store.Delete(ids)
	m.metrics.ObserveStore("delete", err)
	if err != nil {
		return 0, fmt.Errorf("failed to delete records: %w", err)
	}

	m.logger.Info("Records deleted",
		zap.Int("requested", len(ids)),
		zap.Int("removed", removed))

	return removed, nil
}

// Edit replaces a record's text and label
func (m *Moderator) Edit(id int64, text string, classification models.Classification) (*models.Record, error) {
	record, err := m.store.Edit(id, strings.TrimSpace(repository.NormalizeText(text)), classification)
	m.metrics.ObserveStore("edit", err)
	if err != nil {
		return nil, fmt.Errorf("failed to edit record %d: %w", id, err)
	}

	m.logger.Info("Record edited",
		zap.Int64("id", id),
		zap.String("classification", classification.Short()))

	return record, nil
}

func (m *Moderator) loadAll() ([]models.Record, error) {
	records, err := m.store.LoadAll()
	m.metrics.ObserveStore("load", err)
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	m.metrics.SetRecords(len(records))
	return records, nil
}

var uploadExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
}

// saveUpload keeps the image under a random name; it returns "" when uploads are disabled
func (m *Moderator) saveUpload(image []byte) (string, error) {
	ext, ok := uploadExtensions[http.DetectContentType(image)]
	if !ok {
		return "", ErrUnsupportedImage
	}

	if m.opts.UploadDir == "" {
		return "", nil
	}

	if err := os.MkdirAll(m.opts.UploadDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	path := filepath.Join(m.opts.UploadDir, uuid.New().String()+ext)
	if err := os.WriteFile(path, image, 0644); err != nil {
		return "", fmt.Errorf("failed to save upload: %w", err)
	}

	m.logger.Debug("Upload saved", zap.String("path", path), zap.Int("bytes", len(image)))
	return path, nil
}

func (m *Moderator) discardUpload(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("Failed to remove upload", zap.String("path", path), zap.Error(err))
	}
}
