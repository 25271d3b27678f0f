package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"mdcatalog/internal/model"
	"mdcatalog/internal/schema"
	"mdcatalog/internal/store"
)

// GET /lookup/:kind/:code
func LookupByCodeHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		k, ok := s.kind(c)
		if !ok {
			return
		}
		ent, err := s.Catalog.FindByCode(c.Request.Context(), k.Name, c.Param("code"))
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, ent)
	}
}

type lookupRow struct {
	ID    string `json:"id"`
	Code  string `json:"code,omitempty"`
	Label string `json:"label"`
}

// GET /lookup/:kind?q=iva&limit=10 feeds reference pickers. Blocked
// entities are left out unless blocked= says otherwise.
func LookupHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		k, ok := s.kind(c)
		if !ok {
			return
		}
		limit := 10
		if lv := c.Query("limit"); lv != "" {
			n, err := strconv.Atoi(lv)
			if err != nil || n <= 0 || n > 100 {
				_ = c.Error(&model.QueryError{Param: "limit", Reason: "expected 1 to 100"})
				return
			}
			limit = n
		}
		active := false
		f := store.Filter{Q: strings.TrimSpace(c.Query("q")), Blocked: &active, Limit: limit}
		if bv := c.Query("blocked"); bv != "" {
			b, err := strconv.ParseBool(bv)
			if err != nil {
				_ = c.Error(&model.QueryError{Param: "blocked", Reason: "expected true or false"})
				return
			}
			f.Blocked = &b
		}
		display := pickDisplayField(k)
		if display != "" {
			f.Sort = []store.SortKey{{Field: display}}
		}

		page, _, err := s.Catalog.List(c.Request.Context(), k.Name, f)
		if err != nil {
			_ = c.Error(err)
			return
		}
		out := make([]lookupRow, 0, len(page.Items))
		for _, e := range page.Items {
			label, _ := e.Fields[display].(string)
			if label == "" {
				label = e.ID
			}
			out = append(out, lookupRow{ID: e.ID, Code: e.Code(), Label: label})
		}
		c.JSON(http.StatusOK, out)
	}
}

// pickDisplayField prefers name, then code, then the first string field.
func pickDisplayField(k *schema.EntityKind) string {
	for _, name := range []string{"name", "code"} {
		if f, ok := k.Field(name); ok && f.Type == schema.TypeString {
			return name
		}
	}
	for _, f := range k.Fields {
		if f.Type == schema.TypeString {
			return f.Name
		}
	}
	return ""
}
