package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"mdcatalog/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, method, path string, header http.Header) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	r.ServeHTTP(w, req)
	return w
}

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", model.NotFound("SalesRegion", "x"), http.StatusNotFound, model.CodeNotFound},
		{"wrapped not found", fmt.Errorf("lookup: %w", model.NotFound("Nope", "")), http.StatusNotFound, model.CodeNotFound},
		{"query", &model.QueryError{Param: "sort", Reason: "unknown field"}, http.StatusBadRequest, model.CodeInvalidQuery},
		{"json", InvalidJSON(errors.New("unexpected EOF")), http.StatusBadRequest, model.CodeInvalidJSON},
		{"unavailable", model.Unavailable("list", errors.New("dial tcp")), http.StatusServiceUnavailable, model.CodeEngineUnavailable},
		{"generic", errors.New("boom"), http.StatusInternalServerError, "InternalError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(ErrorHandler())
			r.GET("/fail", func(c *gin.Context) { _ = c.Error(tt.err) })

			w := serve(r, http.MethodGet, "/fail", nil)
			assert.Equal(t, tt.status, w.Code)
			var body Body
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)
		})
	}
}

func TestErrorHandler_Validation(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler())
	r.POST("/x", func(c *gin.Context) {
		_ = c.Error(model.NewValidationError("SalesArea", []model.FieldError{
			model.NewFieldError(model.CodeMissingField, "SalesArea", "name", "field is required"),
			model.NewFieldError(model.CodeDanglingReference, "SalesArea", "salesRegionId", "missing"),
		}))
	})

	w := serve(r, http.MethodPost, "/x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body struct {
		Errors []model.FieldError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Errors, 2)
	assert.Equal(t, model.CodeMissingField, body.Errors[0].Code)
	assert.Equal(t, "SalesArea", body.Errors[0].Kind)
	assert.Equal(t, "salesRegionId", body.Errors[1].Field)
}

func TestErrorHandler_NoErrors(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/ok", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/ok", nil).Code)
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/id", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c.Request.Context())) })

	w := serve(r, http.MethodGet, "/id", nil)
	generated := w.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, w.Body.String())

	w = serve(r, http.MethodGet, "/id", http.Header{RequestIDHeader: {"abc-123"}})
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "abc-123", w.Body.String())

	assert.Empty(t, GetRequestID(context.Background()))
}

func TestAccessLog(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := gin.New()
	r.Use(RequestID(), AccessLog(zap.New(core)))
	r.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/broken", func(c *gin.Context) { c.Status(http.StatusServiceUnavailable) })

	serve(r, http.MethodGet, "/items/7", nil)
	serve(r, http.MethodGet, "/broken", nil)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "/items/:id", entries[0].ContextMap()["route"])
	assert.EqualValues(t, http.StatusNoContent, entries[0].ContextMap()["status"])
	assert.NotEmpty(t, entries[0].ContextMap()["request_id"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}

func TestTimeout(t *testing.T) {
	r := gin.New()
	r.Use(Timeout(time.Minute))
	r.GET("/t", func(c *gin.Context) {
		_, ok := c.Request.Context().Deadline()
		c.JSON(http.StatusOK, gin.H{"deadline": ok})
	})
	assert.JSONEq(t, `{"deadline":true}`, serve(r, http.MethodGet, "/t", nil).Body.String())
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"http://localhost:3000"}))
	r.GET("/c", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodGet, "/c", http.Header{"Origin": {"http://localhost:3000"}})
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(r, http.MethodGet, "/c", http.Header{"Origin": {"http://evil.example"}})
	assert.Equal(t, http.StatusForbidden, w.Code)
}
