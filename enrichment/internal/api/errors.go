package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/enrichment/internal/domain"
	infralogger "github.com/jonesrussell/north-cloud/infrastructure/logger"
)

// writeError maps domain errors to status codes. Anything unrecognised is a
// 500 and is logged; its text is not returned.
func (h *Handler) writeError(c *gin.Context, op string, err error) {
	var (
		validation *domain.ValidationError
		notFound   *domain.NotFoundError
		transition *domain.InvalidTransitionError
	)
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error(), "field": validation.Field})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
	case errors.As(err, &transition):
		c.JSON(http.StatusConflict, gin.H{"error": transition.Error()})
	default:
		h.log(c).Error("Request failed",
			infralogger.String("op", op),
			infralogger.String("path", c.FullPath()),
			infralogger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// log returns the request-scoped logger installed by the request-id
// middleware, or the handler's own.
func (h *Handler) log(c *gin.Context) infralogger.Logger {
	return infralogger.FromContextOr(c.Request.Context(), h.logger)
}
