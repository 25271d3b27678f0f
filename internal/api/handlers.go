package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mdcatalog/internal/api/middleware"
	"mdcatalog/internal/blocking"
	"mdcatalog/internal/catalog"
	"mdcatalog/internal/model"
)

const (
	maxBulkItems          = 1000
	defaultDependentLimit = 100
	maxDependentLimit     = 1000
)

// POST /catalog/:kind
func CreateHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		k, ok := s.kind(c)
		if !ok {
			return
		}
		strict, err := s.strict(c)
		if err != nil {
			_ = c.Error(err)
			return
		}
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			_ = c.Error(middleware.InvalidJSON(err))
			return
		}

		ent, err := s.Catalog.Create(c.Request.Context(), k.Name, body, strict)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.Header("Location", "/catalog/"+ent.Kind+"/"+ent.ID)
		c.JSON(http.StatusCreated, ent)
	}
}

// GET /catalog/:kind
func ListHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		k, ok := s.kind(c)
		if !ok {
			return
		}
		f, err := parseListParams(c.Request.URL.Query())
		if err != nil {
			_ = c.Error(err)
			return
		}
		page, f, err := s.Catalog.List(c.Request.Context(), k.Name, f)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.Header("X-Total-Count", strconv.Itoa(page.Total))
		c.JSON(http.StatusOK, gin.H{
			"items":  page.Items,
			"total":  page.Total,
			"limit":  f.Limit,
			"offset": f.Offset,
		})
	}
}

// GET /catalog/:kind/:id
func GetOneHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		k, ok := s.kind(c)
		if !ok {
			return
		}
		ent, err := s.Catalog.Get(c.Request.Context(), k.Name, c.Param("id"))
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, ent)
	}
}

// PUT /catalog/:kind/:id takes a partial field map. Omitted keys keep their
// value, null clears an optional field.
func UpdateHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		k, ok := s.kind(c)
		if !ok {
			return
		}
		strict, err := s.strict(c)
		if err != nil {
			_ = c.Error(err)
			return
		}
		var patch map[string]any
		if err := c.ShouldBindJSON(&patch); err != nil {
			_ = c.Error(middleware.InvalidJSON(err))
			return
		}

		ent, err := s.Catalog.Update(c.Request.Context(), k.Name, c.Param("id"), patch, strict)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, ent)
	}
}

type blockRequest struct {
	Blocked *bool `json:"blocked"`
}

// PATCH /catalog/:kind/:id/block
func BlockHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		k, ok := s.kind(c)
		if !ok {
			return
		}
		var req blockRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(middleware.InvalidJSON(err))
			return
		}
		if req.Blocked == nil {
			_ = c.Error(middleware.InvalidJSON(errors.New(`body must carry "blocked": true|false`)))
			return
		}

		res, err := s.Catalog.SetBlocked(c.Request.Context(), k.Name, c.Param("id"), *req.Blocked)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// GET /catalog/:kind/:id/dependents?limit=
func DependentsHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		k, ok := s.kind(c)
		if !ok {
			return
		}
		limit := defaultDependentLimit
		if lv := c.Query("limit"); lv != "" {
			n, err := strconv.Atoi(lv)
			if err != nil || n <= 0 {
				_ = c.Error(&model.QueryError{Param: "limit", Reason: "expected a positive integer"})
				return
			}
			limit = min(n, maxDependentLimit)
		}

		deps, err := s.Catalog.Dependents(c.Request.Context(), k.Name, c.Param("id"), limit)
		if err != nil {
			_ = c.Error(err)
			return
		}
		if deps == nil {
			deps = []blocking.Dependent{}
		}
		c.JSON(http.StatusOK, gin.H{"items": deps, "count": len(deps)})
	}
}

type bulkItem struct {
	Index  int                `json:"index"`
	Status int                `json:"status"`
	Entity *model.Entity      `json:"entity,omitempty"`
	Errors []model.FieldError `json:"errors,omitempty"`
	Error  *middleware.Body   `json:"error,omitempty"`
}

func toBulkItem(r catalog.BulkResult) bulkItem {
	if r.Err == nil {
		return bulkItem{Index: r.Index, Status: http.StatusCreated, Entity: r.Entity}
	}
	status, body := middleware.Render(r.Err)
	if verr, ok := model.AsValidation(r.Err); ok {
		return bulkItem{Index: r.Index, Status: status, Errors: verr.Errors}
	}
	item := bulkItem{Index: r.Index, Status: status}
	if b, ok := body.(middleware.Body); ok {
		item.Error = &b
	}
	return item
}

// POST /catalog/:kind/_bulk takes a JSON array of field maps. Items are
// independent; the 207 body reports each one in input order.
func BulkCreateHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		k, ok := s.kind(c)
		if !ok {
			return
		}
		strict, err := s.strict(c)
		if err != nil {
			_ = c.Error(err)
			return
		}
		var items []map[string]any
		if err := c.ShouldBindJSON(&items); err != nil {
			_ = c.Error(middleware.InvalidJSON(err))
			return
		}
		if len(items) == 0 || len(items) > maxBulkItems {
			_ = c.Error(middleware.InvalidJSON(errors.New("expected an array of 1 to 1000 objects")))
			return
		}

		results, err := s.Catalog.BulkCreate(c.Request.Context(), k.Name, items, strict)
		if err != nil {
			_ = c.Error(err)
			return
		}
		out := make([]bulkItem, len(results))
		for i, r := range results {
			out[i] = toBulkItem(r)
		}
		created, failed := catalog.BulkSummary(results)
		c.JSON(http.StatusMultiStatus, gin.H{"items": out, "created": created, "failed": failed})
	}
}
