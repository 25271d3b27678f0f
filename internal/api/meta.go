package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mdcatalog/internal/model"
	"mdcatalog/internal/schema"
)

type metaKindItem struct {
	Name   string `json:"name"`
	Module string `json:"module"`
}

// GET /meta/kinds lists kinds in dependency order.
func MetaListHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		names := s.Catalog.Kinds()
		out := make([]metaKindItem, 0, len(names))
		for _, name := range names {
			k, err := s.Catalog.Describe(name)
			if err != nil {
				continue
			}
			out = append(out, metaKindItem{Name: k.Name, Module: k.Module})
		}
		c.JSON(http.StatusOK, out)
	}
}

type metaKind struct {
	*schema.EntityKind
	// Dependents are the reverse edges: fields of other kinds pointing here.
	Dependents []schema.Edge `json:"dependents"`
}

// GET /meta/kinds/:kind
func MetaKindHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		k, ok := s.kind(c)
		if !ok {
			return
		}
		deps := s.Catalog.Registry().Dependents(k.Name)
		if deps == nil {
			deps = []schema.Edge{}
		}
		c.JSON(http.StatusOK, metaKind{EntityKind: k, Dependents: deps})
	}
}

// GET /meta/enums/:name
func MetaEnumHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		dir, ok := s.Enums[name]
		if !ok {
			_ = c.Error(model.NotFound("enum "+name, ""))
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"name":  dir.Name,
			"codes": dir.Codes(),
			"items": dir.Items,
		})
	}
}

// GET /meta/lint reports non-fatal schema issues.
func MetaLintHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		issues := s.Catalog.Registry().Lint()
		if issues == nil {
			issues = []schema.Issue{}
		}
		c.JSON(http.StatusOK, gin.H{"issues": issues})
	}
}

// GET /healthz
func HealthHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"status": "ok", "kinds": s.Catalog.Registry().Len()}
		if s.Stats != nil {
			for k, v := range s.Stats() {
				body[k] = v
			}
		}
		if s.Health != nil {
			if err := s.Health(c.Request.Context()); err != nil {
				body["status"] = "unavailable"
				body["error"] = err.Error()
				c.JSON(http.StatusServiceUnavailable, body)
				return
			}
		}
		c.JSON(http.StatusOK, body)
	}
}
