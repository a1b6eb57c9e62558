package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rongwang/fundchain-server/internal/models"
	"github.com/rongwang/fundchain-server/internal/service"
)

// statusForKind maps a service error kind onto an HTTP status
func statusForKind(kind service.Kind) int {
	switch kind {
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindConflict:
		return http.StatusConflict
	case service.KindValidationRejected:
		return http.StatusUnprocessableEntity
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindInvalid:
		return http.StatusBadRequest
	case service.KindGatewayFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondError(c *gin.Context, err error) {
	kind := service.KindOf(err)
	message := err.Error()
	if kind == service.KindInternal {
		h.log.WithError(err).WithField("request_id", c.GetString(contextRequestID)).Error("unhandled error")
		message = "Internal server error"
	}

	c.JSON(statusForKind(kind), models.ErrorResponse{
		Status:  "error",
		Code:    string(service.CodeOf(err)),
		Message: message,
	})
}

func (h *Handler) badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Status:  "error",
		Code:    string(service.CodeInvalidRequest),
		Message: message,
	})
}
