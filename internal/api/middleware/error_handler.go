// Package middleware holds the gin middleware shared by every route.
package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mdcatalog/internal/logger"
	"mdcatalog/internal/model"
)

// RequestError is a malformed request that never reached the engine.
type RequestError struct {
	Code    string
	Message string
}

func (e *RequestError) Error() string { return e.Code + ": " + e.Message }

// InvalidJSON reports an unreadable request body.
func InvalidJSON(err error) error {
	return &RequestError{Code: model.CodeInvalidJSON, Message: err.Error()}
}

// Body is the JSON error envelope for everything except validation failures.
type Body struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// Render maps err to its HTTP status and JSON body.
func Render(err error) (int, any) {
	var (
		verr  *model.ValidationError
		nf    *model.NotFoundError
		qerr  *model.QueryError
		rerr  *RequestError
		unavl *model.UnavailableError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, gin.H{"errors": verr.Errors}
	case errors.As(err, &nf):
		return http.StatusNotFound, Body{Code: model.CodeNotFound, Message: nf.Error()}
	case errors.As(err, &qerr):
		return http.StatusBadRequest, Body{Code: model.CodeInvalidQuery, Message: qerr.Reason, Param: qerr.Param}
	case errors.As(err, &rerr):
		return http.StatusBadRequest, Body{Code: rerr.Code, Message: rerr.Message}
	case errors.As(err, &unavl), errors.Is(err, model.ErrUnavailable):
		return http.StatusServiceUnavailable, Body{Code: model.CodeEngineUnavailable, Message: "catalog store is unavailable"}
	}
	return http.StatusInternalServerError, Body{Code: "InternalError", Message: "An internal error occurred"}
}

// ErrorHandler renders the last error handlers pushed with c.Error.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		status, body := Render(err)

		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("request_id", GetRequestID(c.Request.Context())),
			zap.Error(err),
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", fields...)
		} else {
			logger.Debug("request rejected", fields...)
		}
		c.JSON(status, body)
	}
}
