package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	pkgerrors "github.com/whiskertales/backend/internal/pkg/errors"
)

// respondError maps domain sentinel errors onto HTTP status codes so every
// handler answers failures the same way.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pkgerrors.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, pkgerrors.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, pkgerrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, pkgerrors.ErrRateLimited):
		status = http.StatusTooManyRequests
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
