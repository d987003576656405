package handlers

import (
	"math"
	"net/http"
	"strconv"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PagedData is the standard shape for paginated listings.
type PagedData struct {
	Records    any `json:"records"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

// NewPagedData wraps one page of records with its pagination metadata.
func NewPagedData(records any, total, page, limit int) PagedData {
	totalPages := 0
	if limit > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(limit)))
	}
	return PagedData{
		Records:    records,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}
}

// pageParams reads "page" and "limit" query parameters with defaults.
func pageParams(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}

	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	switch {
	case limit > maxPageSize:
		limit = maxPageSize
	case limit <= 0:
		limit = defaultPageSize
	}
	return page, limit
}
