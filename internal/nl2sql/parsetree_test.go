package nl2sql

import (
	"context"
	"database/sql"
	"errors"
	"testing"
)

func TestCheckParseTreeAcceptsSingleTableQueries(t *testing.T) {
	parser := sqlParser{db: scenarioDB(t)}
	accepted := []string{
		"SELECT COUNT(*) FROM assessments WHERE state = 'Bihar' AND groundwater_status = 'safe'",
		"SELECT place FROM main.assessments WHERE groundwater_status IN ('critical', 'over_exploited')",
		"WITH ranked AS (SELECT place, rainfall FROM assessments) SELECT place FROM ranked ORDER BY rainfall DESC LIMIT 5",
		"SELECT COUNT(*) FROM assessments WHERE LOWER(groundwater_status) = 'semi_critical'",
		"SELECT 100.0 * SUM(rainfall) / NULLIF(COUNT(*), 0) AS avg_rain FROM assessments",
		"SELECT place FROM assessments WHERE place IN (SELECT place FROM assessments WHERE groundwater_status = 'safe')",
		"SELECT COUNT(*) FROM assessments WHERE groundwater_status = (SELECT MIN(groundwater_status) FROM assessments WHERE state = 'Bihar')",
	}
	for _, sqlText := range accepted {
		if err := CheckParseTree(context.Background(), parser, sqlText, "assessments"); err != nil {
			t.Fatalf("CheckParseTree(%q) error = %v", sqlText, err)
		}
	}
}

func TestCheckParseTreeRejections(t *testing.T) {
	parser := sqlParser{db: scenarioDB(t)}
	tests := []struct {
		name string
		sql  string
		rule string
	}{
		{"join", "SELECT a.place FROM assessments a JOIN assessments b ON a.place = b.place", RuleJoin},
		{"comma join", "SELECT a.place FROM assessments a, assessments b", RuleJoin},
		{"other table", "SELECT * FROM rainfall_stations", RuleSingleTable},
		{"catalog qualified", "SELECT COUNT(*) FROM other_db.main.assessments", RuleSingleTable},
		{"schema qualified", "SELECT COUNT(*) FROM staging.assessments", RuleSingleTable},
		{"table function", "SELECT * FROM read_csv('/etc/passwd')", RuleSingleTable},
		{"truncating division", "SELECT SUM(rainfall) // COUNT(*) FROM assessments", RuleUnguardedDivision},
		{"status wrapped in upper", "SELECT COUNT(*) FROM assessments WHERE UPPER(groundwater_status) = 'SAFE'", RuleStatusLiteral},
		{"status in simple case", "SELECT SUM(CASE groundwater_status WHEN 'Safe' THEN 1 ELSE 0 END) FROM assessments", RuleStatusLiteral},
		{"status in list", "SELECT COUNT(*) FROM assessments WHERE groundwater_status IN ('safe', 'Critical')", RuleStatusLiteral},
		{"status like", "SELECT COUNT(*) FROM assessments WHERE groundwater_status LIKE '%Critical%'", RuleStatusLiteral},
		{"two statements", "SELECT 1 FROM assessments; SELECT 2 FROM assessments", RuleMultipleStatements},
		{"not a select", "DELETE FROM assessments", RuleParse},
	}
	for _, tt := range tests {
		err := CheckParseTree(context.Background(), parser, tt.sql, "assessments")
		var validationErr *ValidationError
		if !errors.As(err, &validationErr) {
			t.Fatalf("%s: CheckParseTree() error = %v, want *ValidationError", tt.name, err)
		}
		if validationErr.Rule != tt.rule {
			t.Fatalf("%s: rule = %q, want %q (%s)", tt.name, validationErr.Rule, tt.rule, validationErr.Detail)
		}
	}
}

func TestCheckParseTreeCannedTrees(t *testing.T) {
	tests := []struct {
		name string
		tree string
		rule string
	}{
		{"parser error", `{"error":true,"error_type":"parser","error_message":"syntax error at or near \"SELEC\"","statements":[]}`, RuleParse},
		{"empty", `{"error":false,"statements":[]}`, RuleEmpty},
		{"two statements", `{"error":false,"statements":[{"node":{}},{"node":{}}]}`, RuleMultipleStatements},
		{"join node", `{"error":false,"statements":[{"node":{"type":"SELECT_NODE","from_table":{"type":"JOIN","left":{},"right":{}}}}]}`, RuleJoin},
		{"integer division", `{"error":false,"statements":[{"node":{"type":"SELECT_NODE","select_list":[{"type":"FUNCTION","function_name":"//","children":[]}],"from_table":{"type":"BASE_TABLE","table_name":"assessments"}}}]}`, RuleUnguardedDivision},
	}
	for _, tt := range tests {
		err := CheckParseTree(context.Background(), cannedParser(tt.tree), "SELECT 1", "assessments")
		var validationErr *ValidationError
		if !errors.As(err, &validationErr) || validationErr.Rule != tt.rule {
			t.Fatalf("%s: CheckParseTree() error = %v, want rule %q", tt.name, err, tt.rule)
		}
	}

	ok := `{"error":false,"statements":[{"node":{"type":"SELECT_NODE","from_table":{"type":"BASE_TABLE","schema_name":"main","table_name":"Assessments"},` +
		`"where_clause":{"type":"COMPARE_EQUAL","left":{"type":"COLUMN_REF","column_names":["groundwater_status"]},` +
		`"right":{"type":"VALUE_CONSTANT","value":{"is_null":false,"value":"critical"}}}}}]}`
	if err := CheckParseTree(context.Background(), cannedParser(ok), "SELECT 1", "assessments"); err != nil {
		t.Fatalf("CheckParseTree() error = %v", err)
	}
}

func TestCheckParseTreeSurfacesParserFailure(t *testing.T) {
	parser := failingParser{err: errors.New("connection closed")}
	err := CheckParseTree(context.Background(), parser, "SELECT 1", "assessments")
	var validationErr *ValidationError
	if err == nil || errors.As(err, &validationErr) {
		t.Fatalf("CheckParseTree() error = %v, want plain parser error", err)
	}
}

type sqlParser struct {
	db *sql.DB
}

func (p sqlParser) SerializeSQL(ctx context.Context, sqlText string) (string, error) {
	var tree string
	err := p.db.QueryRowContext(ctx, "SELECT CAST(json_serialize_sql(?) AS VARCHAR)", sqlText).Scan(&tree)
	return tree, err
}

type cannedParser string

func (p cannedParser) SerializeSQL(context.Context, string) (string, error) {
	return string(p), nil
}

type failingParser struct {
	err error
}

func (p failingParser) SerializeSQL(context.Context, string) (string, error) {
	return "", p.err
}
