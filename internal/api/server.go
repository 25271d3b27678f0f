// Package api exposes the catalog engine over HTTP with gin.
package api

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"mdcatalog/internal/catalog"
	"mdcatalog/internal/model"
	"mdcatalog/internal/reference"
	"mdcatalog/internal/schema"
)

// Server carries what the handlers need.
type Server struct {
	Catalog *catalog.Engine
	Enums   map[string]reference.EnumDirectory
	// StrictDefault applies when a write carries no strict query parameter.
	StrictDefault bool
	// Health reports backing services; nil means always healthy.
	Health func(ctx context.Context) error
	// Stats adds extra entries to the health body, e.g. worker pool counters.
	Stats func() map[string]any
}

// kind resolves the :kind path parameter. Unknown kinds are pushed as
// NotFound and ok is false.
func (s *Server) kind(c *gin.Context) (*schema.EntityKind, bool) {
	k, err := s.Catalog.Describe(c.Param("kind"))
	if err != nil {
		_ = c.Error(err)
		return nil, false
	}
	return k, true
}

// strict reads ?strict=, falling back to StrictDefault.
func (s *Server) strict(c *gin.Context) (bool, error) {
	raw, ok := c.GetQuery("strict")
	if !ok || raw == "" {
		return s.StrictDefault, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, &model.QueryError{Param: "strict", Reason: "expected true or false"}
	}
	return v, nil
}
