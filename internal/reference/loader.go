package reference

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadEnumCatalog reads every *.yaml / *.yml enum directory in dir.
func LoadEnumCatalog(dir string) (map[string]EnumDirectory, error) {
	return LoadFS(os.DirFS(dir), ".")
}

// LoadFS reads enum directories from fsys. The directory name comes from the
// `name` key or, when absent, from the file name.
func LoadFS(fsys fs.FS, dir string) (map[string]EnumDirectory, error) {
	result := make(map[string]EnumDirectory)
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		ext := strings.ToLower(path.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		p := path.Join(dir, entry.Name())
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, err
		}
		var enumDir EnumDirectory
		if err := yaml.Unmarshal(data, &enumDir); err != nil {
			return nil, fmt.Errorf("parse %s: %w", p, err)
		}
		if enumDir.Name == "" {
			enumDir.Name = strings.TrimSuffix(entry.Name(), path.Ext(entry.Name()))
		}
		if _, dup := result[enumDir.Name]; dup {
			return nil, fmt.Errorf("duplicate enum directory %q in %s", enumDir.Name, p)
		}
		seen := make(map[string]struct{}, len(enumDir.Items))
		for _, it := range enumDir.Items {
			if strings.TrimSpace(it.Code) == "" {
				return nil, fmt.Errorf("%s: item with empty code", p)
			}
			if _, dup := seen[it.Code]; dup {
				return nil, fmt.Errorf("%s: duplicate code %q", p, it.Code)
			}
			seen[it.Code] = struct{}{}
		}
		result[enumDir.Name] = enumDir
	}
	return result, nil
}

func sortItems(items []EnumItem) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Order < items[j].Order })
}
