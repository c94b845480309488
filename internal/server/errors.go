package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	eventdomain "github.com/smallbiznis/tally/internal/event/domain"
)

type errorPayload struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrInternal       = errors.New("internal_error")
)

// ErrorHandlingMiddleware renders the last collected error after the
// handler chain ran, unless the handler already wrote a response.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, eventdomain.ErrDuplicateTransactionID):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    eventdomain.ErrDuplicateTransactionID.Error(),
			Message: "transaction_id already received",
		}
	case errors.Is(err, eventdomain.ErrInvalidOrganization),
		errors.Is(err, eventdomain.ErrInvalidCode),
		errors.Is(err, eventdomain.ErrInvalidTransactionID),
		errors.Is(err, eventdomain.ErrInvalidTimestamp),
		errors.Is(err, eventdomain.ErrMalformedProperties),
		errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Code:    err.Error(),
			Message: "validation error",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Code:    ErrInternal.Error(),
			Message: "internal server error",
		}
	}
}
