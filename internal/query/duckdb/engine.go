package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/aquamitra/aquamitra/internal/query"
)

type Engine struct {
	DB *sql.DB
}

func NewEngine(db *sql.DB) *Engine {
	return &Engine{DB: db}
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	if e.DB == nil {
		return query.Result{}, fmt.Errorf("database is required")
	}
	statement, trailer := splitTrailingComments(request.SQL)
	statement = stripTrailingSemicolons(statement)
	if statement == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	if request.RowLimit > 0 {
		statement = fmt.Sprintf("SELECT * FROM (\n%s\n) AS q LIMIT %d", statement, request.RowLimit)
	}
	if trailer != "" {
		statement += "\n" + trailer + "\n"
	}

	start := time.Now()
	rows, err := e.DB.QueryContext(ctx, statement)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, fmt.Errorf("iterate rows: %w", err)
	}

	return query.Result{
		Columns:  columns,
		Rows:     resultRows,
		Duration: time.Since(start),
	}, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case *big.Int:
			if typed.IsInt64() {
				normalized[i] = typed.Int64()
			} else {
				normalized[i] = typed.String()
			}
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

// splitTrailingComments separates trailing "--" comments, whole lines or
// the tail of the last statement line, so the row-limit wrapper does not
// swallow them.
func splitTrailingComments(sqlText string) (string, string) {
	lines := strings.Split(strings.TrimSpace(sqlText), "\n")
	end := len(lines)
	for end > 0 {
		line := strings.TrimSpace(lines[end-1])
		if line != "" && !strings.HasPrefix(line, "--") {
			break
		}
		end--
	}
	trailer := make([]string, 0, len(lines)-end+1)
	if end > 0 {
		code, comment := cutLineComment(lines[end-1])
		lines[end-1] = code
		if comment != "" {
			trailer = append(trailer, comment)
		}
	}
	for _, line := range lines[end:] {
		if line = strings.TrimSpace(line); line != "" {
			trailer = append(trailer, line)
		}
	}
	return strings.TrimSpace(strings.Join(lines[:end], "\n")), strings.Join(trailer, "\n")
}

// cutLineComment splits a line at the first "--" outside quotes.
func cutLineComment(line string) (string, string) {
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '-' && i+1 < len(line) && line[i+1] == '-':
			return strings.TrimRight(line[:i], " \t"), strings.TrimSpace(line[i:])
		}
	}
	return line, ""
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
