package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"safepost/internal/metrics"
	"safepost/internal/models"
	"safepost/internal/query"
	"safepost/internal/repository"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var pngImage = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR fake png body")

type stubCaptioner struct {
	caption string
	err     error
	calls   int
}

func (s *stubCaptioner) Caption(_ context.Context, _ []byte) (string, error) {
	s.calls++
	return s.caption, s.err
}

type stubClassifier struct {
	label models.Classification
	err   error
	texts []string
}

func (s *stubClassifier) Classify(_ context.Context, text string) (*models.ClassificationResult, error) {
	s.texts = append(s.texts, text)
	if s.err != nil {
		return nil, s.err
	}
	return &models.ClassificationResult{Label: s.label, Confidence: 0.88, Provider: "stub"}, nil
}

type fixture struct {
	moderator  *Moderator
	store      *repository.CSVStore
	captioner  *stubCaptioner
	classifier *stubClassifier
	metrics    *metrics.Metrics
	uploadDir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	store := repository.NewCSVStore(filepath.Join(dir, "results.csv"), zap.NewNop())
	require.NoError(t, store.Initialize())

	m, err := metrics.New()
	require.NoError(t, err)

	f := &fixture{
		store:      store,
		captioner:  &stubCaptioner{caption: "a cat on a sofa"},
		classifier: &stubClassifier{label: models.Safe},
		metrics:    m,
		uploadDir:  filepath.Join(dir, "uploads"),
	}
	f.moderator = NewModerator(store, f.captioner, f.classifier, m, zap.NewNop(), Options{
		UploadDir:       f.uploadDir,
		DefaultPageSize: 10,
		MaxPageSize:     50,
	})

	return f
}

func (f *fixture) uploads(t *testing.T) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(f.uploadDir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return entries
}

func TestSubmit_TextOnly(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp, err := f.moderator.Submit(context.Background(), SubmitInput{Text: "  hello world  "})
	require.NoError(t, err)

	assert.Equal(t, "hello world", resp.Record.InputText)
	assert.Equal(t, models.Safe, resp.Record.Classification)
	assert.Empty(t, resp.Caption)
	require.NotNil(t, resp.Confidence)
	assert.InDelta(t, 0.88, *resp.Confidence, 0.0001)
	assert.Zero(t, f.captioner.calls)

	records, err := f.store.LoadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "hello world", records[0].InputText)
}

func TestSubmit_TextAndImageCombined(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp, err := f.moderator.Submit(context.Background(), SubmitInput{Text: "look", Image: pngImage})
	require.NoError(t, err)

	assert.Equal(t, "look a cat on a sofa", resp.Record.InputText)
	assert.Equal(t, "a cat on a sofa", resp.Caption)
	assert.Equal(t, []string{"look a cat on a sofa"}, f.classifier.texts)

	uploads := f.uploads(t)
	require.Len(t, uploads, 1)
	assert.Equal(t, ".png", filepath.Ext(uploads[0].Name()))
}

func TestSubmit_ImageOnlyUsesCaption(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp, err := f.moderator.Submit(context.Background(), SubmitInput{Image: pngImage})
	require.NoError(t, err)
	assert.Equal(t, "a cat on a sofa", resp.Record.InputText)
}

func TestSubmit_EmptyInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.moderator.Submit(context.Background(), SubmitInput{Text: "   "})
	require.ErrorIs(t, err, ErrClassificationInput)
	assert.Empty(t, f.classifier.texts)

	records, err := f.store.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSubmit_CollaboratorFailuresPersistNothing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		setup    func(f *fixture)
		wantStep string
	}{
		{
			name:     "caption error",
			setup:    func(f *fixture) { f.captioner.err = errors.New("corrupt image") },
			wantStep: StepCaption,
		},
		{
			name:     "empty caption",
			setup:    func(f *fixture) { f.captioner.caption = "  " },
			wantStep: StepCaption,
		},
		{
			name:     "classifier error",
			setup:    func(f *fixture) { f.classifier.err = errors.New("model unavailable") },
			wantStep: StepClassify,
		},
		{
			name:     "classifier unknown label",
			setup:    func(f *fixture) { f.classifier.label = "Spam" },
			wantStep: StepClassify,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			tt.setup(f)

			_, err := f.moderator.Submit(context.Background(), SubmitInput{Text: "hi", Image: pngImage})
			require.Error(t, err)

			var collabErr *CollaboratorError
			require.ErrorAs(t, err, &collabErr)
			assert.Equal(t, tt.wantStep, collabErr.Step)

			records, err := f.store.LoadAll()
			require.NoError(t, err)
			assert.Empty(t, records)
			assert.Empty(t, f.uploads(t), "failed submissions must not leave uploads behind")
		})
	}
}

func TestSubmit_InvalidCollaboratorOutputIsCounted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.captioner.caption = "   "

	_, err := f.moderator.Submit(context.Background(), SubmitInput{Image: pngImage})
	require.Error(t, err)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.CollaboratorErrors.WithLabelValues(StepCaption)), 0)

	f.classifier.label = models.Classification("maybe")
	_, err = f.moderator.Submit(context.Background(), SubmitInput{Text: "hello"})
	var collabErr *CollaboratorError
	require.ErrorAs(t, err, &collabErr)
	assert.Equal(t, StepClassify, collabErr.Step)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.CollaboratorErrors.WithLabelValues(StepClassify)), 0)
}

func TestSubmit_NormalizesLineEndings(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp, err := f.moderator.Submit(context.Background(), SubmitInput{Text: "first line\r\nsecond line\r\n"})
	require.NoError(t, err)
	assert.Equal(t, "first line\nsecond line", resp.Record.InputText)
	assert.Equal(t, []string{"first line\nsecond line"}, f.classifier.texts)

	edited, err := f.moderator.Edit(resp.Record.ID, "edited\r\ntext", models.Inappropriate)
	require.NoError(t, err)
	assert.Equal(t, "edited\ntext", edited.InputText)

	records, err := f.store.LoadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "edited\ntext", records[0].InputText)
}

func TestSubmit_RejectsUnsupportedImage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.moderator.Submit(context.Background(), SubmitInput{Image: []byte("GIF89a not allowed")})
	require.ErrorIs(t, err, ErrUnsupportedImage)
	assert.Zero(t, f.captioner.calls)
}

func TestCombineText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "text caption", CombineText(" text ", " caption "))
	assert.Equal(t, "text", CombineText("text", ""))
	assert.Equal(t, "caption", CombineText("", "caption"))
	assert.Empty(t, CombineText(" ", " "))
}

func seed(t *testing.T, f *fixture, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		label := models.Safe
		if i%2 == 1 {
			label = models.Inappropriate
		}
		_, err := f.store.Append(fmt.Sprintf("post number %d", i), label, nil)
		require.NoError(t, err)
	}
}

func TestListView(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	seed(t, f, 25)

	page, err := f.moderator.ListView(ListParams{SortKey: query.SortTimestamp, Ascending: true, Page: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 10, page.PageSize)
	assert.Equal(t, 3, page.TotalPages)
	assert.Len(t, page.Records, 10)

	page, err = f.moderator.ListView(ListParams{
		Filter:    query.Filter{Classifications: []models.Classification{models.Inappropriate}},
		Ascending: true,
		Page:      1,
		PageSize:  500,
	})
	require.NoError(t, err)
	assert.Equal(t, 50, page.PageSize)
	assert.Equal(t, 12, page.TotalRecords)

	_, err = f.moderator.ListView(ListParams{Page: 4})
	var pageErr *query.InvalidPageError
	require.ErrorAs(t, err, &pageErr)

	_, err = f.moderator.ListView(ListParams{SortKey: "votes", Page: 1})
	require.ErrorIs(t, err, query.ErrInvalidSortKey)
}

func TestListView_EmptyStore(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	page, err := f.moderator.ListView(ListParams{Page: 3})
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.Zero(t, page.TotalPages)
}

func TestSuggestAnalyticsAndExport(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	seed(t, f, 4)

	suggestions, err := f.moderator.Suggest("num")
	require.NoError(t, err)
	assert.Equal(t, []string{"number"}, suggestions)

	report, err := f.moderator.AnalyticsView(query.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 4, report.Overview.Total)
	assert.Equal(t, 2, report.Overview.Counts[models.Safe])

	filtered, err := f.moderator.AnalyticsView(query.Filter{Text: "number 3"})
	require.NoError(t, err)
	assert.Equal(t, 1, filtered.Overview.Total)

	data, err := f.moderator.Export(query.Filter{Classifications: []models.Classification{models.Safe}})
	require.NoError(t, err)

	exported, err := repository.ReadCSV(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, exported, 2)
	assert.Equal(t, "post number 0", exported[0].InputText)
	assert.Equal(t, "post number 2", exported[1].InputText)
}

func TestDeleteAndEdit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	seed(t, f, 3)

	removed, err := f.moderator.Delete([]int64{1, 99})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	edited, err := f.moderator.Edit(2, " revised text ", models.Inappropriate)
	require.NoError(t, err)
	assert.Equal(t, "revised text", edited.InputText)
	assert.Equal(t, models.Inappropriate, edited.Classification)

	_, err = f.moderator.Edit(1, "gone", models.Safe)
	require.ErrorIs(t, err, repository.ErrRecordNotFound)

	_, err = f.moderator.Edit(0, "  ", models.Safe)
	require.ErrorIs(t, err, repository.ErrInvalidRecord)
}
