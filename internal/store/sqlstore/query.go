package sqlstore

import (
	"fmt"
	"strconv"
	"strings"

	"mdcatalog/internal/schema"
	"mdcatalog/internal/store"
)

// where renders the filter as a WHERE clause, appending bind values to args.
func (s *Store) where(t *tableInfo, f store.Filter, args *[]any) (string, error) {
	next := func(v any) string {
		*args = append(*args, v)
		return s.d.Placeholder(len(*args))
	}

	var conds []string
	if f.Blocked != nil {
		conds = append(conds, fmt.Sprintf("%s = %s", sqlIdent(colBlocked), next(*f.Blocked)))
	}
	for _, c := range f.Conds {
		fd, ok := t.kind.Field(c.Field)
		if !ok {
			return "", fmt.Errorf("%s has no field %q", t.kind.Name, c.Field)
		}
		col := sqlIdent(column(fd))
		switch c.Op {
		case store.OpEq, store.OpIn:
			if fd.Many {
				var ors []string
				for _, v := range c.Values {
					ors = append(ors, s.d.ListContains(column(fd), next(v)))
				}
				conds = append(conds, "("+strings.Join(ors, " or ")+")")
				continue
			}
			var phs []string
			for _, v := range c.Values {
				arg, err := bindValue(fd, v)
				if err != nil {
					return "", err
				}
				phs = append(phs, next(arg))
			}
			conds = append(conds, fmt.Sprintf("%s in (%s)", col, strings.Join(phs, ", ")))
		case store.OpGt, store.OpGte, store.OpLt, store.OpLte:
			arg, err := bindValue(fd, c.Values[0])
			if err != nil {
				return "", err
			}
			conds = append(conds, fmt.Sprintf("%s %s %s", col, rangeOps[c.Op], next(arg)))
		default:
			return "", fmt.Errorf("unknown operator %q", c.Op)
		}
	}
	if needle := strings.ToLower(strings.TrimSpace(f.Q)); needle != "" {
		pattern := "%" + likeEscaper.Replace(needle) + "%"
		var ors []string
		for _, fd := range t.kind.Fields {
			if fd.Type == schema.TypeString {
				ors = append(ors, fmt.Sprintf(`lower(%s) like %s escape '\'`, sqlIdent(column(fd)), next(pattern)))
			}
		}
		if len(ors) == 0 {
			conds = append(conds, "1 = 0")
		} else {
			conds = append(conds, "("+strings.Join(ors, " or ")+")")
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " where " + strings.Join(conds, " and "), nil
}

var rangeOps = map[string]string{store.OpGt: ">", store.OpGte: ">=", store.OpLt: "<", store.OpLte: "<="}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func bindValue(fd schema.FieldDescriptor, v string) (any, error) {
	switch fd.Type {
	case schema.TypeNumber:
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a number", fd.Name, v)
		}
		return n, nil
	case schema.TypeBoolean:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a boolean", fd.Name, v)
		}
		return b, nil
	}
	return v, nil
}

// orderBy renders sort keys; id breaks ties so the default order is creation order.
func (s *Store) orderBy(t *tableInfo, keys []store.SortKey) string {
	var parts []string
	for _, k := range keys {
		col, ok := systemColumns[k.Field]
		if !ok {
			fd, found := t.kind.Field(k.Field)
			if !found {
				continue
			}
			col = column(fd)
		}
		dir := "asc"
		if k.Desc {
			dir = "desc"
		}
		parts = append(parts, fmt.Sprintf("%s %s nulls last", sqlIdent(col), dir))
	}
	parts = append(parts, sqlIdent(colID)+" asc")
	return strings.Join(parts, ", ")
}
