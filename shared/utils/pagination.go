package utils

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// ParsePage reads ?limit= and ?offset=, clamping limit to MaxPageLimit.
// Malformed values fall back to the defaults.
func ParsePage(c *gin.Context) (limit, offset int) {
	limit = DefaultPageLimit
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
