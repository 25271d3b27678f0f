package dsl

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"regexp"
	"strings"
)

var (
	entityRe           = regexp.MustCompile(`^entity\s+(\w+):`)
	fieldRe            = regexp.MustCompile(`^\s*([\w_]+):\s*([^\s#]+)(.*)$`)
	enumRe             = regexp.MustCompile(`^enum\[(.*)\]$`)
	refRe              = regexp.MustCompile(`^ref\[([A-Za-z0-9_.]+)\]$`)
	arrayRe            = regexp.MustCompile(`^array\[(.+)\]$`)
	moduleRe           = regexp.MustCompile(`^\s*module\s+([A-Za-z0-9_.-]+)\s*$`)
	reConstraintsStart = regexp.MustCompile(`^\s*constraints\s*:\s*$`)
	reUniqueLine       = regexp.MustCompile(`^\s*unique\s*\(\s*([^)]+)\s*\)\s*$`)
)

// splitOptionTokens splits "k=v k2='v 2' pattern=^[A-Z0-9 _-]+$" into tokens.
// Spaces inside quotes or [...] do not split.
func splitOptionTokens(s string) []string {
	var out []string
	var buf []rune
	inSingle, inDouble := false, false
	bracketDepth := 0

	flush := func() {
		if len(buf) > 0 {
			out = append(out, string(buf))
			buf = buf[:0]
		}
	}

	for _, r := range s {
		switch r {
		case '\'':
			if !inDouble && bracketDepth == 0 {
				inSingle = !inSingle
			}
			buf = append(buf, r)
		case '"':
			if !inSingle && bracketDepth == 0 {
				inDouble = !inDouble
			}
			buf = append(buf, r)
		case '[':
			if !inSingle && !inDouble {
				bracketDepth++
			}
			buf = append(buf, r)
		case ']':
			if !inSingle && !inDouble && bracketDepth > 0 {
				bracketDepth--
			}
			buf = append(buf, r)
		default:
			if (r == ' ' || r == '\t') && !inSingle && !inDouble && bracketDepth == 0 {
				flush()
				continue
			}
			buf = append(buf, r)
		}
	}
	flush()
	return out
}

// LoadEntities parses a single .dsl file from disk.
func LoadEntities(p string) ([]*Entity, error) {
	file, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Parse(file, p)
}

// Parse reads entity blocks from r. Blocks are returned in file order.
func Parse(r io.Reader, source string) ([]*Entity, error) {
	var entities []*Entity
	var current *Entity
	currentModule := ""
	inConstraints := false
	lineNo := 0

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if m := moduleRe.FindStringSubmatch(line); m != nil {
			currentModule = m[1]
			inConstraints = false
			continue
		}

		if m := entityRe.FindStringSubmatch(line); m != nil {
			if current != nil {
				entities = append(entities, current)
			}
			current = &Entity{Name: m[1], Module: currentModule, Source: source}
			inConstraints = false
			continue
		}
		if current == nil {
			// anything before the first entity is ignored
			continue
		}

		if reConstraintsStart.MatchString(line) {
			inConstraints = true
			continue
		}
		if inConstraints {
			if m := reUniqueLine.FindStringSubmatch(line); m != nil {
				var set []string
				for _, p := range strings.Split(m[1], ",") {
					if p = strings.TrimSpace(p); p != "" {
						set = append(set, p)
					}
				}
				if len(set) > 0 {
					current.Constraints.Unique = append(current.Constraints.Unique, set)
				}
				continue
			}
			inConstraints = false
		}

		m := fieldRe.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("%s:%d: cannot parse %q", source, lineNo, line)
		}
		f, err := parseField(m[1], m[2], m[3])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", source, lineNo, err)
		}
		current.Fields = append(current.Fields, f)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if current != nil {
		entities = append(entities, current)
	}
	return entities, nil
}

func parseField(name, rawType, tail string) (Field, error) {
	// glue bracketed types that were split on whitespace: enum[A, B]
	for _, prefix := range []string{"enum[", "array["} {
		if strings.HasPrefix(rawType, prefix) && strings.Count(rawType, "[") > strings.Count(rawType, "]") {
			if idx := strings.LastIndex(tail, "]"); idx >= 0 {
				rawType += tail[:idx+1]
				tail = tail[idx+1:]
			}
		}
	}

	optsRaw := strings.TrimSpace(tail)
	if i := strings.IndexByte(optsRaw, '#'); i >= 0 {
		optsRaw = strings.TrimSpace(optsRaw[:i])
	}
	if strings.HasPrefix(strings.ToLower(optsRaw), "options:") {
		optsRaw = strings.TrimSpace(optsRaw[len("options:"):])
	}
	optsRaw = strings.ReplaceAll(optsRaw, ",", " ")

	f := Field{
		Name:    name,
		Type:    strings.ToLower(rawType),
		Options: map[string]string{},
	}

	switch {
	case enumRe.MatchString(rawType):
		f.Type = "enum"
		f.Enum = splitEnum(enumRe.FindStringSubmatch(rawType)[1])
	case refRe.MatchString(rawType):
		f.Type = "ref"
		f.RefTarget = strings.TrimSpace(refRe.FindStringSubmatch(rawType)[1])
	case arrayRe.MatchString(rawType):
		f.Type = "array"
		elem := strings.TrimSpace(arrayRe.FindStringSubmatch(rawType)[1])
		f.ElemType = strings.ToLower(elem)
		if em := enumRe.FindStringSubmatch(elem); em != nil {
			f.ElemType = "enum"
			f.Enum = splitEnum(em[1])
		}
		if rm := refRe.FindStringSubmatch(elem); rm != nil {
			f.ElemType = "ref"
			f.RefTarget = strings.TrimSpace(rm[1])
		}
	case strings.Contains(rawType, "["):
		return f, fmt.Errorf("field %s: malformed type %q", name, rawType)
	}

	for _, tok := range splitOptionTokens(optsRaw) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if !strings.Contains(tok, "=") {
			f.Options[strings.ToLower(tok)] = "true"
			continue
		}
		kv := strings.SplitN(tok, "=", 2)
		k := strings.ToLower(strings.TrimSpace(kv[0]))
		v := strings.TrimSpace(kv[1])
		if len(v) >= 2 {
			if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
				v = v[1 : len(v)-1]
			}
		}
		if k != "" {
			f.Options[k] = v
		}
	}
	return f, nil
}

func splitEnum(inside string) []string {
	var out []string
	for _, p := range strings.Split(inside, ",") {
		if s := strings.Trim(strings.TrimSpace(p), `"'`); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// LoadAllEntities walks root on disk for *.dsl files.
func LoadAllEntities(root string) ([]*Entity, error) {
	return LoadFS(os.DirFS(root), ".")
}

// LoadFS walks fsys from root and parses every *.dsl file. Files are visited
// in lexical order and blocks keep their file order, so the result is the
// registration order. Every entity must belong to a module.
func LoadFS(fsys fs.FS, root string) ([]*Entity, error) {
	var result []*Entity
	seen := make(map[string]string)

	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.EqualFold(path.Ext(d.Name()), ".dsl") {
			return nil
		}
		f, err := fsys.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()

		ents, err := Parse(f, p)
		if err != nil {
			return fmt.Errorf("parse %s: %w", p, err)
		}
		for _, e := range ents {
			if e.Module == "" {
				return fmt.Errorf("entity %q in %s has no module, add `module <name>` at the top", e.Name, p)
			}
			if prev, dup := seen[e.Name]; dup {
				return fmt.Errorf("duplicate entity %q in %s (first declared in %s)", e.Name, p, prev)
			}
			seen[e.Name] = p
			result = append(result, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
