package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"safepost/internal/models"
	"safepost/internal/query"
	"safepost/internal/repository"
	"safepost/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler handles HTTP requests
type Handler struct {
	moderator      *service.Moderator
	logger         *zap.Logger
	maxUploadBytes int64
}

// NewHandler creates a new API handler; maxUploadBytes <= 0 selects 10 MiB
func NewHandler(moderator *service.Moderator, maxUploadBytes int64, logger *zap.Logger) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &Handler{
		moderator:      moderator,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/submit", h.Submit)

		api.GET("/records", h.ListRecords)
		api.GET("/records/suggest", h.Suggest)
		api.PUT("/records/:id", h.EditRecord)
		api.DELETE("/records", h.DeleteRecords)

		api.GET("/analytics", h.Analytics)
		api.GET("/export/csv", h.ExportCSV)
	}

	r.GET("/health", h.HealthCheck)
}

// Submit handles a multipart submission with optional text and image fields
func (h *Handler) Submit(c *gin.Context) {
	var image []byte
	file, err := c.FormFile("image")
	switch {
	case err == nil:
		if file.Size > h.maxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return
		}
		f, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read image"})
			return
		}
		image, err = io.ReadAll(io.LimitReader(f, h.maxUploadBytes))
		f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read image"})
			return
		}
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.moderator.Submit(c.Request.Context(), service.SubmitInput{
		Text:  c.PostForm("text"),
		Image: image,
	})
	if err != nil {
		h.respondError(c, "submit", err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// ListRecords returns one filtered, sorted page of records
func (h *Handler) ListRecords(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sortKey, err := query.ParseSortKey(c.Query("sort"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ascending := true
	switch strings.ToLower(c.DefaultQuery("order", "asc")) {
	case "asc":
	case "desc":
		ascending = false
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "order must be asc or desc"})
		return
	}

	page, err := intQuery(c, "page", 1)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pageSize, err := intQuery(c, "page_size", 0)
	if err == nil && c.Query("page_size") != "" && pageSize < 1 {
		err = fmt.Errorf("page_size must be at least 1")
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.moderator.ListView(service.ListParams{
		Filter:    filter,
		SortKey:   sortKey,
		Ascending: ascending,
		Page:      page,
		PageSize:  pageSize,
	})
	if err != nil {
		h.respondError(c, "list records", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Suggest returns search tokens for the prefix
func (h *Handler) Suggest(c *gin.Context) {
	suggestions, err := h.moderator.Suggest(c.Query("prefix"))
	if err != nil {
		h.respondError(c, "suggest", err)
		return
	}

	if suggestions == nil {
		suggestions = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}

// EditRecord replaces a record's text and classification
func (h *Handler) EditRecord(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record ID"})
		return
	}

	var req models.EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	classification, ok := models.ParseClassification(req.Classification)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown classification %q", req.Classification)})
		return
	}

	record, err := h.moderator.Edit(id, req.InputText, classification)
	if err != nil {
		h.respondError(c, "edit record", err)
		return
	}

	c.JSON(http.StatusOK, record)
}

// DeleteRecords removes several records at once
func (h *Handler) DeleteRecords(c *gin.Context) {
	var req models.DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	deleted, err := h.moderator.Delete(req.IDs)
	if err != nil {
		h.respondError(c, "delete records", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// Analytics returns overview, trend and keyword data for the filtered records
func (h *Handler) Analytics(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := h.moderator.AnalyticsView(filter)
	if err != nil {
		h.respondError(c, "analytics", err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// ExportCSV exports the filtered records in the store's CSV schema
func (h *Handler) ExportCSV(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	data, err := h.moderator.Export(filter)
	if err != nil {
		h.respondError(c, "export", err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename=filtered_results.csv")
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

// HealthCheck returns service health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "safepost",
		"time":    time.Now().Format(time.RFC3339),
	})
}

// respondError maps domain errors to HTTP statuses
func (h *Handler) respondError(c *gin.Context, op string, err error) {
	var (
		pageErr   *query.InvalidPageError
		collabErr *service.CollaboratorError
	)

	switch {
	case errors.Is(err, service.ErrClassificationInput),
		errors.Is(err, service.ErrUnsupportedImage),
		errors.Is(err, repository.ErrInvalidRecord),
		errors.Is(err, query.ErrInvalidSortKey),
		errors.As(err, &pageErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &collabErr):
		h.logger.Warn("Collaborator failed", zap.String("op", op), zap.String("step", collabErr.Step), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "step": collabErr.Step})
	default:
		h.logger.Error("Request failed", zap.String("op", op), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
	}
}

// parseFilter reads the shared filter parameters of the browse, analytics and export views
func parseFilter(c *gin.Context) (query.Filter, error) {
	labels, err := query.ParseClassifications(c.QueryArray("classification"))
	if err != nil {
		return query.Filter{}, err
	}

	filter := query.Filter{
		Text:            c.Query("q"),
		Classifications: labels,
		Date:            c.Query("date"),
		From:            c.Query("from"),
		To:              c.Query("to"),
	}

	for name, value := range map[string]string{"date": filter.Date, "from": filter.From, "to": filter.To} {
		if value == "" {
			continue
		}
		if _, err := time.Parse(query.DateLayout, value); err != nil {
			return query.Filter{}, fmt.Errorf("%s must be YYYY-MM-DD", name)
		}
	}

	if raw := c.Query("min_confidence"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			return query.Filter{}, fmt.Errorf("min_confidence must be a number between 0 and 1")
		}
		filter.MinConfidence = v
	}

	return filter, nil
}

func intQuery(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}
