// internal/utils/pagination.go
package utils

import (
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PaginationParams carries the list query string shared by every admin listing.
// Status and Search are interpreted by each service.
type PaginationParams struct {
	Page   int    `json:"page"`
	Limit  int    `json:"limit"`
	Sort   string `json:"sort"`
	Order  string `json:"order"`
	Search string `json:"search"`
	Status string `json:"status"`
}

func (p PaginationParams) offset() int {
	return (p.Page - 1) * p.Limit
}

func (p PaginationParams) descending() bool {
	return p.Order != "asc"
}

type PaginationResult struct {
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	Total      int64       `json:"total"`
	TotalPages int         `json:"total_pages"`
	Data       interface{} `json:"data"`
}

func GetPaginationParams(c *gin.Context) PaginationParams {
	page, err := strconv.Atoi(c.Query("page"))
	if err != nil || page < 1 {
		page = 1
	}

	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit < 1 || limit > maxPageSize {
		limit = defaultPageSize
	}

	order := strings.ToLower(c.Query("order"))
	if order != "asc" {
		order = "desc"
	}

	return PaginationParams{
		Page:   page,
		Limit:  limit,
		Sort:   strings.TrimSpace(c.Query("sort")),
		Order:  order,
		Search: strings.TrimSpace(c.Query("search")),
		Status: strings.TrimSpace(c.Query("status")),
	}
}

// DefaultPagination is used by service callers that are not HTTP requests.
func DefaultPagination() PaginationParams {
	return PaginationParams{Page: 1, Limit: defaultPageSize, Order: "desc"}
}

func ApplyPagination(db *gorm.DB, params PaginationParams) *gorm.DB {
	if params.Limit < 1 {
		params.Limit = defaultPageSize
	}
	if params.Page < 1 {
		params.Page = 1
	}
	return db.Offset(params.offset()).Limit(params.Limit)
}

// ApplySort orders by params.Sort when it is in allowed, otherwise by the first allowed column.
func ApplySort(db *gorm.DB, params PaginationParams, allowed []string) *gorm.DB {
	if len(allowed) == 0 {
		return db
	}

	column := allowed[0]
	for _, field := range allowed {
		if field == params.Sort {
			column = field
			break
		}
	}

	return db.Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: params.descending()})
}

func CreatePaginationResult(data interface{}, total int64, params PaginationParams) PaginationResult {
	totalPages := 0
	if params.Limit > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(params.Limit)))
	}

	return PaginationResult{
		Page:       params.Page,
		Limit:      params.Limit,
		Total:      total,
		TotalPages: totalPages,
		Data:       data,
	}
}

func SetPaginationHeaders(c *gin.Context, result PaginationResult) {
	c.Header("X-Total-Count", strconv.FormatInt(result.Total, 10))
	c.Header("X-Page", strconv.Itoa(result.Page))
	c.Header("X-Per-Page", strconv.Itoa(result.Limit))
	c.Header("X-Total-Pages", strconv.Itoa(result.TotalPages))
}
