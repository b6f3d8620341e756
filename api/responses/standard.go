// Package responses wraps successful gateway responses in one envelope.
// Errors are written as RFC 7807 problem details by common/apiutil.
package responses

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Aidin1998/tickex/common/apiutil"
	"github.com/Aidin1998/tickex/common/dbutil"
)

// StandardResponse represents a standard API response format
type StandardResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	StandardResponse
	Pagination *PaginationMeta `json:"pagination,omitempty"`
}

// PaginationMeta contains pagination metadata
type PaginationMeta struct {
	CurrentPage  int   `json:"current_page"`
	PerPage      int   `json:"per_page"`
	TotalPages   int   `json:"total_pages"`
	TotalRecords int64 `json:"total_records"`
	HasNext      bool  `json:"has_next"`
	HasPrev      bool  `json:"has_prev"`
}

// NewPaginationMeta describes page out of total records.
func NewPaginationMeta(page dbutil.Page, total int64) *PaginationMeta {
	page = page.Normalize()
	pages := int((total + int64(page.PageSize) - 1) / int64(page.PageSize))
	return &PaginationMeta{
		CurrentPage:  page.Page,
		PerPage:      page.PageSize,
		TotalPages:   pages,
		TotalRecords: total,
		HasNext:      page.Page < pages,
		HasPrev:      page.Page > 1,
	}
}

func write(c *gin.Context, status int, data interface{}, message string) {
	c.JSON(status, StandardResponse{
		Success:   true,
		Data:      data,
		Message:   message,
		Timestamp: time.Now().UTC(),
		TraceID:   apiutil.GetTraceID(c),
	})
}

// Success sends a 200 response
func Success(c *gin.Context, data interface{}) {
	write(c, http.StatusOK, data, "")
}

// Created sends a 201 Created response
func Created(c *gin.Context, data interface{}) {
	write(c, http.StatusCreated, data, "")
}

// Accepted sends a 202 Accepted response. The gateway uses it for orders whose
// engine outcome is still being reconciled.
func Accepted(c *gin.Context, data interface{}, message string) {
	write(c, http.StatusAccepted, data, message)
}

// Paginated sends a page of records with its metadata
func Paginated(c *gin.Context, data interface{}, page dbutil.Page, total int64) {
	c.JSON(http.StatusOK, PaginatedResponse{
		StandardResponse: StandardResponse{
			Success:   true,
			Data:      data,
			Timestamp: time.Now().UTC(),
			TraceID:   apiutil.GetTraceID(c),
		},
		Pagination: NewPaginationMeta(page, total),
	})
}
