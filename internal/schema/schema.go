package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type Kind string

const (
	KindInteger Kind = "integer"
	KindFloat   Kind = "float"
	KindText    Kind = "text"
)

type Column struct {
	Name       string `json:"name"`
	NativeType string `json:"native_type"`
	Kind       Kind   `json:"kind"`
}

type Schema struct {
	Table    string        `json:"table"`
	Columns  []Column      `json:"columns"`
	Warnings []SchemaError `json:"warnings,omitempty"`
}

// SchemaError records a column whose storage type matched no known family
// and was treated as text.
type SchemaError struct {
	Column     string `json:"column"`
	NativeType string `json:"native_type"`
}

func (e SchemaError) Error() string {
	return fmt.Sprintf("column %q has unrecognized type %q, treating as text", e.Column, e.NativeType)
}

type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Classify maps a storage type name to its semantic kind. Anything that is
// not an integer or floating-point family is text.
func Classify(nativeType string) Kind {
	upper := strings.ToUpper(nativeType)
	switch {
	case strings.Contains(upper, "INT"):
		return KindInteger
	case strings.Contains(upper, "DOUBLE"), strings.Contains(upper, "FLOAT"):
		return KindFloat
	default:
		return KindText
	}
}

// recognizedText lists storage types that are text on purpose and should
// not be reported as warnings.
func recognizedText(nativeType string) bool {
	upper := strings.ToUpper(strings.TrimSpace(nativeType))
	switch {
	case upper == "VARCHAR", upper == "TEXT", upper == "STRING", upper == "CHAR",
		strings.HasPrefix(upper, "VARCHAR("), strings.HasPrefix(upper, "CHAR("):
		return true
	default:
		return false
	}
}

func Introspect(ctx context.Context, db Querier, table string) (Schema, error) {
	if strings.TrimSpace(table) == "" {
		return Schema{}, fmt.Errorf("table is required")
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info('%s')", strings.ReplaceAll(table, "'", "''")))
	if err != nil {
		return Schema{}, fmt.Errorf("read table info for %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	out := Schema{Table: table}
	for rows.Next() {
		var (
			cid        int64
			name       string
			nativeType string
			notNull    any
			defaultVal any
			primaryKey any
		)
		if err := rows.Scan(&cid, &name, &nativeType, &notNull, &defaultVal, &primaryKey); err != nil {
			return Schema{}, fmt.Errorf("scan table info: %w", err)
		}
		kind := Classify(nativeType)
		if kind == KindText && !recognizedText(nativeType) {
			out.Warnings = append(out.Warnings, SchemaError{Column: name, NativeType: nativeType})
		}
		out.Columns = append(out.Columns, Column{Name: name, NativeType: nativeType, Kind: kind})
	}
	if err := rows.Err(); err != nil {
		return Schema{}, fmt.Errorf("iterate table info: %w", err)
	}
	if len(out.Columns) == 0 {
		return Schema{}, fmt.Errorf("table %q has no columns", table)
	}
	return out, nil
}

func (s Schema) Has(column string) bool {
	_, ok := s.Column(column)
	return ok
}

func (s Schema) Column(name string) (Column, bool) {
	for _, column := range s.Columns {
		if strings.EqualFold(column.Name, name) {
			return column, true
		}
	}
	return Column{}, false
}

func (s Schema) ColumnNames() []string {
	names := make([]string, 0, len(s.Columns))
	for _, column := range s.Columns {
		names = append(names, column.Name)
	}
	return names
}

// Describe renders one line per column, with an optional meaning supplied by
// notes.
func (s Schema) Describe(notes map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table %s (\n", s.Table)
	for _, column := range s.Columns {
		fmt.Fprintf(&b, "  %s %s", column.Name, column.Kind)
		if note := notes[column.Name]; note != "" {
			fmt.Fprintf(&b, " -- %s", note)
		}
		b.WriteString("\n")
	}
	b.WriteString(")")
	return b.String()
}
