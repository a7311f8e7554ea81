package pagination

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	// MaxPage keeps GetOffset from overflowing at any page size.
	MaxPage = math.MaxInt / MaxPageSize
)

type Pagination struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}

func GetPage(c *gin.Context) int {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		return 1
	}
	if page > MaxPage {
		return MaxPage
	}
	return page
}

func GetPageSize(c *gin.Context) int {
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(DefaultPageSize)))
	if err != nil || pageSize < 1 {
		return DefaultPageSize
	}
	if pageSize > MaxPageSize {
		return MaxPageSize
	}
	return pageSize
}

func GetOffset(page, pageSize int) int {
	return (page - 1) * pageSize
}

// Window returns the [start, end) bounds of page within total items, clamped
// so that slicing never panics.
func Window(total, page, pageSize int) (start, end int) {
	start = GetOffset(page, pageSize)
	if start < 0 || start > total {
		start = total
	}
	end = start + pageSize
	if end < start || end > total {
		end = total
	}
	return start, end
}
