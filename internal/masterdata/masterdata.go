// Package masterdata carries the built-in entity declarations and enum
// catalogs and turns them into a sealed schema registry.
package masterdata

import (
	"embed"
	"fmt"
	"io/fs"
	"os"

	"mdcatalog/internal/dsl"
	"mdcatalog/internal/reference"
	"mdcatalog/internal/schema"
)

//go:embed dsl/*.dsl
var dslFS embed.FS

//go:embed enums/*.yaml
var enumsFS embed.FS

// Catalog is the loaded schema plus the enum catalogs it was built from.
type Catalog struct {
	Registry *schema.Registry
	Enums    map[string]reference.EnumDirectory
}

// Load builds the catalog from the embedded declarations.
func Load() (*Catalog, error) {
	return load(dslFS, "dsl", enumsFS, "enums")
}

// LoadDir builds the catalog from directories on disk. An empty directory
// argument keeps the embedded set for that part.
func LoadDir(dslDir, enumsDir string) (*Catalog, error) {
	var dfs, efs fs.FS = dslFS, enumsFS
	droot, eroot := "dsl", "enums"
	if dslDir != "" {
		dfs, droot = os.DirFS(dslDir), "."
	}
	if enumsDir != "" {
		efs, eroot = os.DirFS(enumsDir), "."
	}
	return load(dfs, droot, efs, eroot)
}

func load(dfs fs.FS, droot string, efs fs.FS, eroot string) (*Catalog, error) {
	enums, err := reference.LoadFS(efs, eroot)
	if err != nil {
		return nil, fmt.Errorf("load enum catalogs: %w", err)
	}
	entities, err := dsl.LoadFS(dfs, droot)
	if err != nil {
		return nil, fmt.Errorf("load entity declarations: %w", err)
	}
	reg, err := schema.FromDSL(entities, enums)
	if err != nil {
		return nil, fmt.Errorf("build schema registry: %w", err)
	}
	return &Catalog{Registry: reg, Enums: enums}, nil
}
