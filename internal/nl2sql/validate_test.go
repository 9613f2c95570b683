package nl2sql

import (
	"errors"
	"testing"

	"github.com/aquamitra/aquamitra/internal/schema"
)

var assessmentsSchema = schema.Schema{Table: "assessments"}

func TestValidateAcceptsWorkedExamples(t *testing.T) {
	for _, ex := range examples {
		if err := Validate(ex.sql, assessmentsSchema); err != nil {
			t.Fatalf("Validate(%q) error = %v", ex.sql, err)
		}
	}
}

func TestValidateAcceptsCTEsSubqueriesAndSuffix(t *testing.T) {
	accepted := []string{
		"WITH by_state AS (SELECT state, COUNT(*) AS n FROM assessments GROUP BY state) SELECT state FROM by_state ORDER BY n DESC, state ASC LIMIT 3",
		"SELECT place FROM (SELECT place, rainfall FROM assessments WHERE year = 2023) AS recent ORDER BY rainfall DESC, place ASC LIMIT 1",
		"SELECT COUNT(*) FROM assessments WHERE groundwater_status = 'safe';" + ConstraintSuffix,
		"SELECT COUNT(*) FILTER (WHERE groundwater_status = 'critical') * 100.0 / COUNT(*) FROM assessments",
		"SELECT SUM(land_irrigated)::DOUBLE / SUM(land_total) FROM assessments",
		"SELECT CAST(SUM(land_irrigated) AS DOUBLE) / SUM(land_total) FROM assessments",
		"SELECT place FROM \"assessments\" WHERE 'safe' = groundwater_status",
		"SELECT place FROM assessments a WHERE a.groundwater_status NOT IN ('critical', 'over_exploited')",
		"SELECT place FROM main.assessments WHERE groundwater_status LIKE '%critical%'",
		"SELECT 'JOIN me' AS label FROM assessments -- JOIN in a comment",
		"SELECT COUNT(*) FROM assessments WHERE LOWER(TRIM(groundwater_status)) = 'safe'",
		"SELECT CASE groundwater_status WHEN 'safe' THEN 'Safe zone' ELSE 'Other' END AS label FROM assessments",
		"SELECT SUM(CASE WHEN groundwater_status = 'critical' THEN 1 ELSE 0 END) AS n FROM assessments WHERE state = 'Bihar'",
		"SELECT COUNT(*) FROM assessments WHERE groundwater_status::VARCHAR = 'critical'",
	}
	for _, sql := range accepted {
		if err := Validate(sql, assessmentsSchema); err != nil {
			t.Fatalf("Validate(%q) error = %v", sql, err)
		}
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		rule string
	}{
		{"empty", "  -- nothing\n", RuleEmpty},
		{"two statements", "SELECT 1 FROM assessments; SELECT 2 FROM assessments", RuleMultipleStatements},
		{"delete", "DELETE FROM assessments", RuleReadOnly},
		{"drop inside cte", "WITH x AS (SELECT 1) DROP TABLE assessments", RuleReadOnly},
		{"explicit join", "SELECT a.place FROM assessments a JOIN assessments b ON a.place = b.place", RuleJoin},
		{"natural join", "SELECT place FROM assessments NATURAL JOIN other", RuleJoin},
		{"comma join", "SELECT a.place FROM assessments a, assessments b", RuleJoin},
		{"other table", "SELECT * FROM chat_logs", RuleSingleTable},
		{"table function", "SELECT * FROM read_csv_auto('/etc/passwd')", RuleSingleTable},
		{"uppercase status", "SELECT COUNT(*) FROM assessments WHERE groundwater_status = 'Safe'", RuleStatusLiteral},
		{"hyphenated status", "SELECT COUNT(*) FROM assessments WHERE groundwater_status = 'over-exploited'", RuleStatusLiteral},
		{"status in list", "SELECT COUNT(*) FROM assessments WHERE groundwater_status IN ('safe', 'CRITICAL')", RuleStatusLiteral},
		{"reversed comparison", "SELECT COUNT(*) FROM assessments WHERE 'Critical' <> groundwater_status", RuleStatusLiteral},
		{"uppercase like", "SELECT COUNT(*) FROM assessments WHERE groundwater_status LIKE '%Critical%'", RuleStatusLiteral},
		{"integer division", "SELECT SUM(land_irrigated) / SUM(land_total) FROM assessments", RuleUnguardedDivision},
		{"integer percent", "SELECT 100 * SUM(land_irrigated) / SUM(land_total) FROM assessments", RuleUnguardedDivision},
		{"truncating division operator", "SELECT 100 * SUM(land_irrigated) // SUM(land_total) AS pct FROM assessments", RuleUnguardedDivision},
		{"truncating division with float", "SELECT 100.0 * SUM(land_irrigated) // NULLIF(SUM(land_total), 0) FROM assessments", RuleUnguardedDivision},
		{"status wrapped in upper", "SELECT COUNT(*) FROM assessments WHERE UPPER(groundwater_status) = 'SAFE'", RuleStatusLiteral},
		{"status wrapped in trim", "SELECT COUNT(*) FROM assessments WHERE TRIM(groundwater_status) = 'Safe'", RuleStatusLiteral},
		{"status nested calls", "SELECT COUNT(*) FROM assessments WHERE UPPER(TRIM(a.groundwater_status)) IN ('SAFE')", RuleStatusLiteral},
		{"status cast", "SELECT COUNT(*) FROM assessments WHERE CAST(groundwater_status AS VARCHAR) = 'Critical'", RuleStatusLiteral},
		{"status double colon cast", "SELECT COUNT(*) FROM assessments WHERE groundwater_status::VARCHAR = 'Critical'", RuleStatusLiteral},
		{"status in simple case", "SELECT SUM(CASE groundwater_status WHEN 'Safe' THEN 1 ELSE 0 END) FROM assessments", RuleStatusLiteral},
		{"three part name", "SELECT COUNT(*) FROM other_db.main.assessments", RuleSingleTable},
		{"foreign schema", "SELECT COUNT(*) FROM staging.assessments", RuleSingleTable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.sql, assessmentsSchema)
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			if validationErr.Rule != tt.rule {
				t.Fatalf("Rule = %q, want %q (%v)", validationErr.Rule, tt.rule, err)
			}
			if validationErr.SQL != tt.sql {
				t.Fatalf("SQL = %q", validationErr.SQL)
			}
		})
	}
}

func TestLexKeepsQuotedTextIntact(t *testing.T) {
	tokens := lex("SELECT 'it''s' AS \"a \"\"b\"\" c\", 1.5e3 /* x */ FROM t::x")
	var kinds []tokenKind
	for _, tok := range tokens {
		kinds = append(kinds, tok.kind)
	}
	if tokens[1].literal() != "it's" {
		t.Fatalf("literal = %q", tokens[1].literal())
	}
	if tokens[3].ident() != `a "b" c` {
		t.Fatalf("ident = %q", tokens[3].ident())
	}
	if tokens[5].text != "1.5e3" || !tokens[5].isFloatMarker() {
		t.Fatalf("number = %#v", tokens[5])
	}
	if !tokens[8].is("::") {
		t.Fatalf("tokens = %#v", tokens)
	}
	if len(kinds) != 10 {
		t.Fatalf("token count = %d (%#v)", len(kinds), tokens)
	}
}
