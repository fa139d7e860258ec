package query

import (
	"fmt"

	"safepost/internal/models"
)

// InvalidPageError reports a page request outside the available range
type InvalidPageError struct {
	Page       int
	PageSize   int
	TotalPages int
}

func (e *InvalidPageError) Error() string {
	if e.PageSize < 1 {
		return fmt.Sprintf("invalid page size %d", e.PageSize)
	}
	return fmt.Sprintf("page %d out of range (1-%d)", e.Page, e.TotalPages)
}

// Page is one slice of a filtered and sorted record set
type Page struct {
	Records      []models.Record `json:"records"`
	Page         int             `json:"page"`
	PageSize     int             `json:"page_size"`
	TotalPages   int             `json:"total_pages"`
	TotalRecords int             `json:"total_records"`
}

// TotalPages is ceil(n/pageSize); an empty set has zero pages
func TotalPages(n, pageSize int) int {
	if n <= 0 || pageSize <= 0 {
		return 0
	}
	return (n-1)/pageSize + 1
}

// Paginate returns records [(page-1)*size, page*size) clipped to bounds.
// Any request against an empty set is a no-op returning an empty page.
func Paginate(records []models.Record, pageSize, pageNumber int) (*Page, error) {
	if pageSize < 1 {
		return nil, &InvalidPageError{Page: pageNumber, PageSize: pageSize}
	}

	total := TotalPages(len(records), pageSize)
	page := &Page{
		Records:      []models.Record{},
		Page:         pageNumber,
		PageSize:     pageSize,
		TotalPages:   total,
		TotalRecords: len(records),
	}

	if total == 0 {
		return page, nil
	}
	if pageNumber < 1 || pageNumber > total {
		return nil, &InvalidPageError{Page: pageNumber, PageSize: pageSize, TotalPages: total}
	}

	start := (pageNumber - 1) * pageSize
	end := start + pageSize
	if end > len(records) {
		end = len(records)
	}

	page.Records = make([]models.Record, end-start)
	copy(page.Records, records[start:end])

	return page, nil
}
