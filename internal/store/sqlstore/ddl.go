package sqlstore

import (
	"fmt"
	"strings"

	"mdcatalog/internal/schema"
)

// tableInfo is the storage layout of one kind.
type tableInfo struct {
	kind *schema.EntityKind
	// name is quoted and qualified; raw is the bare table name drivers report.
	name string
	raw  string
	// constraints maps constraint names and table.column pairs to fields.
	constraints map[string]string
}

func (t *tableInfo) fieldFor(name string) string {
	if f, ok := t.constraints[strings.ToLower(name)]; ok {
		return f
	}
	return ""
}

func uniqueName(k *schema.EntityKind, field string) string {
	return strings.ToLower(k.Name + "_" + field + "_uq")
}

func foreignKeyName(k *schema.EntityKind, field string) string {
	return strings.ToLower(k.Name + "_" + field + "_fk")
}

func buildTables(reg *schema.Registry, d Dialect) (map[string]*tableInfo, error) {
	out := make(map[string]*tableInfo, reg.Len())
	for _, name := range reg.ListKinds() {
		k, err := reg.Describe(name)
		if err != nil {
			return nil, err
		}
		t := &tableInfo{kind: k, name: d.Table(k), raw: strings.Trim(d.Table(k), `"`), constraints: map[string]string{}}
		if i := strings.LastIndex(t.raw, `"."`); i >= 0 {
			t.raw = t.raw[i+3:]
		}
		seen := map[string]string{colID: "", colBlocked: "", colCreatedAt: "", colUpdatedAt: ""}
		for _, f := range k.Fields {
			col := column(f)
			if prev, dup := seen[col]; dup {
				return nil, fmt.Errorf("%s: field %q maps to column %q already used by %q", k.Name, f.Name, col, prev)
			}
			seen[col] = f.Name
			t.constraints[t.raw+"."+col] = f.Name
		}
		for _, u := range k.UniqueFields {
			t.constraints[uniqueName(k, u)] = u
		}
		for _, fk := range k.ForeignKeys {
			t.constraints[foreignKeyName(k, fk.Field)] = fk.Field
		}
		out[name] = t
	}
	return out, nil
}

// GenerateDDL returns the statements that create every kind's table in
// execution order: schemas, tables, added columns, unique indexes, foreign
// keys. Every statement is safe to re-run.
func GenerateDDL(reg *schema.Registry, d Dialect) ([]string, error) {
	tables, err := buildTables(reg, d)
	if err != nil {
		return nil, err
	}

	var schemas, creates, columns, indexes, fks []string
	seenSchemas := map[string]struct{}{}

	for _, name := range reg.ListKinds() {
		t := tables[name]
		k := t.kind

		if stmt := d.CreateSchema(k.Module); stmt != "" {
			if _, ok := seenSchemas[k.Module]; !ok {
				seenSchemas[k.Module] = struct{}{}
				schemas = append(schemas, stmt)
			}
		}

		cols := []string{
			fmt.Sprintf("%s text primary key", sqlIdent(colID)),
			fmt.Sprintf("%s %s not null default %s", sqlIdent(colBlocked), d.ColumnType(schema.FieldDescriptor{Type: schema.TypeBoolean}), d.BoolLiteral(false)),
			fmt.Sprintf("%s %s not null", sqlIdent(colCreatedAt), d.TimestampType()),
			fmt.Sprintf("%s %s not null", sqlIdent(colUpdatedAt), d.TimestampType()),
		}
		for _, f := range k.Fields {
			typ := d.ColumnType(f)
			null := "null"
			if f.Required && !f.Derived {
				null = "not null"
			}
			def := ""
			if lit := defaultLiteral(d, f); lit != "" && f.Type != schema.TypeJSON {
				def = " default " + lit
			}
			cols = append(cols, fmt.Sprintf("%s %s %s%s", sqlIdent(column(f)), typ, null, def))
			// columns added later stay nullable so existing rows survive
			columns = append(columns, d.AddColumn(t.name, column(f), typ+def))
		}
		creates = append(creates, fmt.Sprintf("create table if not exists %s (\n  %s\n)", t.name, strings.Join(cols, ",\n  ")))

		for _, u := range k.UniqueFields {
			f, _ := k.Field(u)
			indexes = append(indexes, fmt.Sprintf("create unique index if not exists %s on %s(%s)",
				sqlIdent(uniqueName(k, u)), t.name, sqlIdent(column(f))))
		}

		if !d.ForeignKeys() {
			continue
		}
		for _, fk := range k.ForeignKeys {
			if fk.Many {
				continue
			}
			target := tables[fk.TargetKind]
			f, _ := k.Field(fk.Field)
			fks = append(fks, fmt.Sprintf("alter table %s add constraint %s foreign key (%s) references %s(%s) on delete restrict",
				t.name, sqlIdent(foreignKeyName(k, fk.Field)), sqlIdent(column(f)), target.name, sqlIdent(colID)))
		}
	}

	out := make([]string, 0, len(schemas)+len(creates)+len(columns)+len(indexes)+len(fks))
	for _, group := range [][]string{schemas, creates, columns, indexes, fks} {
		out = append(out, group...)
	}
	return out, nil
}

// Script renders statements as one SQL file.
func Script(stmts []string) string {
	var sb strings.Builder
	for _, s := range stmts {
		sb.WriteString(s)
		sb.WriteString(";\n")
	}
	return sb.String()
}
