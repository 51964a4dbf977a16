package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func ErrNotFound(c *gin.Context, err error) {
	Err(c, http.StatusNotFound, err)
}

func ErrBadRequest(c *gin.Context, err error) {
	Err(c, http.StatusBadRequest, err)
}

func ErrInternalServerError(c *gin.Context, err error) {
	Err(c, http.StatusInternalServerError, err)
}

func Err(c *gin.Context, code int, err error) {
	c.JSON(code, gin.H{"error": err.Error()})
}

// ErrFromService maps a service-layer error onto a response status by its
// message. The queue and backfill layers return plain errors rather than
// sentinels, so the admin endpoints share this single mapping.
func ErrFromService(c *gin.Context, err error) {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "invalid range"):
		ErrBadRequest(c, err)
	case strings.Contains(msg, "not found"):
		ErrNotFound(c, err)
	default:
		ErrInternalServerError(c, err)
	}
}
