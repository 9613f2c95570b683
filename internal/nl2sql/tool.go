package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aquamitra/aquamitra/internal/llm"
	"github.com/aquamitra/aquamitra/internal/observability"
	"github.com/aquamitra/aquamitra/internal/query"
	"github.com/aquamitra/aquamitra/internal/schema"
	"github.com/aquamitra/aquamitra/internal/tool"
)

const (
	ToolName = "sql"

	// ConstraintSuffix is appended to every generated statement before it
	// is executed.
	ConstraintSuffix = "\n-- Use ONLY assessments table. No JOINs.\n"

	maxSynthesisRows = 50
)

const toolDescription = "Answers quantitative questions about groundwater assessments by running SQL over the assessments table: " +
	"counts, sums, averages, rankings, percentages, comparisons and filters by place, state, status or year."

type Executor interface {
	Query(ctx context.Context, sql string, rowLimit int) (query.Result, error)
}

type SchemaSource interface {
	Schema(ctx context.Context) (schema.Schema, error)
}

// QueryExecutionError wraps a database failure for validated SQL. The
// statement is not repaired or retried.
type QueryExecutionError struct {
	SQL string
	Err error
}

func (e *QueryExecutionError) Error() string {
	return fmt.Sprintf("execute generated sql: %v", e.Err)
}

func (e *QueryExecutionError) Unwrap() error {
	return e.Err
}

type Tool struct {
	Translator Translator
	Executor   Executor
	Schemas    SchemaSource
	// Parser, when set, checks the statement on DuckDB's parse tree after
	// the token-level checks pass.
	Parser     Parser
	Summarizer llm.Completer
	RowLimit   int
	Logger     *slog.Logger
}

func NewTool(translator Translator, executor Executor, schemas SchemaSource, summarizer llm.Completer, rowLimit int, logger *slog.Logger) *Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tool{
		Translator: translator,
		Executor:   executor,
		Schemas:    schemas,
		Summarizer: summarizer,
		RowLimit:   rowLimit,
		Logger:     logger,
	}
}

func (t *Tool) Name() string { return ToolName }

func (t *Tool) Description() string { return toolDescription }

func (t *Tool) Answer(ctx context.Context, question string) (tool.Result, error) {
	if t.Translator == nil || t.Executor == nil || t.Schemas == nil {
		return tool.Result{}, fmt.Errorf("sql tool is not configured")
	}
	s, err := t.Schemas.Schema(ctx)
	if err != nil {
		return tool.Result{}, fmt.Errorf("load schema: %w", err)
	}
	translated, err := t.Translator.Translate(ctx, Request{Question: question, Schema: s})
	if err != nil {
		return tool.Result{}, err
	}
	if err := t.validate(ctx, translated.SQL, s); err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			observability.IncrementSQLValidationRejection(validationErr.Rule)
		}
		t.Logger.WarnContext(ctx, "generated sql rejected", append(observability.RequestAttrs(ctx), "sql", translated.SQL, "error", err)...)
		return tool.Result{SQL: translated.SQL, Tool: ToolName}, err
	}

	result, err := t.Executor.Query(ctx, translated.SQL+ConstraintSuffix, t.RowLimit)
	observability.ObserveSQLExecution(err)
	if err != nil {
		return tool.Result{SQL: translated.SQL, Tool: ToolName}, &QueryExecutionError{SQL: translated.SQL, Err: err}
	}
	t.Logger.DebugContext(ctx, "generated sql executed", append(observability.RequestAttrs(ctx),
		"sql", translated.SQL,
		"rows", len(result.Rows),
		"duration_ms", result.Duration.Milliseconds(),
	)...)

	answer, err := t.synthesize(ctx, question, translated.SQL, result)
	if err != nil {
		return tool.Result{SQL: translated.SQL, Tool: ToolName}, err
	}
	return tool.Result{Response: answer, SQL: translated.SQL, Tool: ToolName}, nil
}

func (t *Tool) validate(ctx context.Context, sql string, s schema.Schema) error {
	if err := Validate(sql, s); err != nil {
		return err
	}
	if t.Parser == nil {
		return nil
	}
	return CheckParseTree(ctx, t.Parser, sql, s.Table)
}

func (t *Tool) synthesize(ctx context.Context, question, sql string, result query.Result) (string, error) {
	rendered := RenderResult(result, maxSynthesisRows)
	if t.Summarizer == nil {
		return rendered, nil
	}
	answer, err := t.Summarizer.Complete(ctx, llm.Prompt{
		System: synthesisSystem,
		User:   synthesisPrompt(question, sql, rendered),
	})
	if err != nil {
		return "", fmt.Errorf("synthesize answer: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

// RenderResult formats rows as a pipe-separated table with a header line.
// Rows past maxRows are summarized by count.
func RenderResult(result query.Result, maxRows int) string {
	if len(result.Rows) == 0 {
		return "(no rows)"
	}
	var b strings.Builder
	b.WriteString(strings.Join(result.Columns, " | "))
	for i, row := range result.Rows {
		if maxRows > 0 && i >= maxRows {
			fmt.Fprintf(&b, "\n... %d more rows", len(result.Rows)-maxRows)
			break
		}
		cells := make([]string, len(row))
		for j, value := range row {
			if value == nil {
				cells[j] = "NULL"
				continue
			}
			cells[j] = fmt.Sprint(value)
		}
		b.WriteString("\n")
		b.WriteString(strings.Join(cells, " | "))
	}
	return b.String()
}
