package nl2sql

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Parser returns DuckDB's parse tree for a statement, as produced by
// json_serialize_sql.
type Parser interface {
	SerializeSQL(ctx context.Context, sql string) (string, error)
}

type parseTree struct {
	Error        bool              `json:"error"`
	ErrorType    string            `json:"error_type"`
	ErrorMessage string            `json:"error_message"`
	Statements   []json.RawMessage `json:"statements"`
}

// CheckParseTree repeats the structural rules on the database's own parser
// output: exactly one SELECT, table references limited to table (or its CTEs)
// with no joins or table functions, status comparisons against the closed
// vocabulary, and no truncating "//" division. Rule violations are returned
// as *ValidationError; other errors come from the parser call itself.
func CheckParseTree(ctx context.Context, parser Parser, sql, table string) error {
	if table == "" {
		table = "assessments"
	}
	raw, err := parser.SerializeSQL(ctx, sql)
	if err != nil {
		return fmt.Errorf("parse generated sql: %w", err)
	}
	reject := func(rule, format string, args ...any) error {
		return &ValidationError{Rule: rule, Detail: fmt.Sprintf(format, args...), SQL: sql}
	}

	var tree parseTree
	if err := json.Unmarshal([]byte(raw), &tree); err != nil {
		return fmt.Errorf("decode parse tree: %w", err)
	}
	if tree.Error {
		return reject(RuleParse, "%s: %s", tree.ErrorType, strings.TrimSpace(tree.ErrorMessage))
	}
	switch len(tree.Statements) {
	case 0:
		return reject(RuleEmpty, "no statement")
	case 1:
	default:
		return reject(RuleMultipleStatements, "more than one statement")
	}

	var root any
	if err := json.Unmarshal(tree.Statements[0], &root); err != nil {
		return fmt.Errorf("decode parse tree: %w", err)
	}
	check := treeCheck{table: table, ctes: cteNamesInTree(root)}
	if rule, detail := check.walk(root); rule != "" {
		return reject(rule, "%s", detail)
	}
	return nil
}

type treeCheck struct {
	table string
	ctes  map[string]bool
}

func (c treeCheck) walk(node any) (string, string) {
	switch typed := node.(type) {
	case []any:
		for _, child := range typed {
			if rule, detail := c.walk(child); rule != "" {
				return rule, detail
			}
		}
	case map[string]any:
		if rule, detail := c.node(typed); rule != "" {
			return rule, detail
		}
		for _, child := range typed {
			if rule, detail := c.walk(child); rule != "" {
				return rule, detail
			}
		}
	}
	return "", ""
}

func (c treeCheck) node(n map[string]any) (string, string) {
	kind, _ := n["type"].(string)
	switch kind {
	case "JOIN":
		return RuleJoin, "join in FROM clause"
	case "TABLE_FUNCTION":
		return RuleSingleTable, "table functions are not allowed"
	case "BASE_TABLE":
		return c.baseTable(n)
	case "FUNCTION":
		return c.function(n)
	}
	if !strings.HasPrefix(kind, "COMPARE_") {
		return "", ""
	}
	if left, ok := n["left"]; ok {
		right := n["right"]
		switch {
		case refersToStatus(left):
			return statusViolation(checkTreeLiterals(right, false))
		case refersToStatus(right):
			return statusViolation(checkTreeLiterals(left, false))
		}
		return "", ""
	}
	// IN and NOT IN keep the tested expression first among children.
	children, _ := n["children"].([]any)
	if len(children) > 1 && refersToStatus(children[0]) {
		return statusViolation(checkTreeLiterals(children[1:], false))
	}
	return "", ""
}

func (c treeCheck) baseTable(n map[string]any) (string, string) {
	name, _ := n["table_name"].(string)
	schemaName, _ := n["schema_name"].(string)
	catalog, _ := n["catalog_name"].(string)
	if catalog != "" || (schemaName != "" && !strings.EqualFold(schemaName, "main")) {
		qualified := strings.Trim(strings.Join([]string{catalog, schemaName, name}, "."), ".")
		return RuleSingleTable, fmt.Sprintf("qualified table %s is not allowed, only %s", qualified, c.table)
	}
	if schemaName == "" && c.ctes[strings.ToLower(name)] {
		return "", ""
	}
	if !strings.EqualFold(name, c.table) {
		return RuleSingleTable, fmt.Sprintf("table %s is not allowed, only %s", name, c.table)
	}
	return "", ""
}

func (c treeCheck) function(n map[string]any) (string, string) {
	name, _ := n["function_name"].(string)
	children, _ := n["children"].([]any)
	switch strings.ToLower(name) {
	case "//":
		return RuleUnguardedDivision, "integer division operator // truncates; use / with NULLIF(denominator, 0)"
	case "~~", "!~~", "like", "not_like", "like_escape", "not_like_escape":
		if len(children) > 1 && refersToStatus(children[0]) {
			return statusViolation(checkTreeLiterals(children[1], true))
		}
	}
	return "", ""
}

func statusViolation(detail string) (string, string) {
	if detail == "" {
		return "", ""
	}
	return RuleStatusLiteral, detail
}

// checkTreeLiterals returns an empty detail when every string constant under
// node is an allowed status value, or a lowercase pattern when like is set.
// Subqueries are checked on their own when the walk reaches them.
func checkTreeLiterals(node any, like bool) string {
	for _, value := range stringConstants(node) {
		if detail := checkStatusValue(value, like); detail != "" {
			return detail
		}
	}
	return ""
}

func refersToStatus(node any) bool {
	switch typed := node.(type) {
	case []any:
		for _, child := range typed {
			if refersToStatus(child) {
				return true
			}
		}
	case map[string]any:
		kind, _ := typed["type"].(string)
		if kind == "SUBQUERY" {
			return false
		}
		if kind == "COLUMN_REF" {
			names, _ := typed["column_names"].([]any)
			if len(names) > 0 {
				last, _ := names[len(names)-1].(string)
				return strings.EqualFold(last, statusColumn)
			}
			return false
		}
		for _, child := range typed {
			if refersToStatus(child) {
				return true
			}
		}
	}
	return false
}

func stringConstants(node any) []string {
	var out []string
	switch typed := node.(type) {
	case []any:
		for _, child := range typed {
			out = append(out, stringConstants(child)...)
		}
	case map[string]any:
		kind, _ := typed["type"].(string)
		if kind == "SUBQUERY" {
			return nil
		}
		if kind == "VALUE_CONSTANT" {
			if value, ok := typed["value"].(map[string]any); ok {
				if isNull, _ := value["is_null"].(bool); !isNull {
					if text, ok := value["value"].(string); ok {
						out = append(out, text)
					}
				}
			}
			return out
		}
		for _, child := range typed {
			out = append(out, stringConstants(child)...)
		}
	}
	return out
}

// cteNamesInTree collects every CTE name declared anywhere in the tree.
func cteNamesInTree(node any) map[string]bool {
	names := map[string]bool{}
	var visit func(any)
	visit = func(n any) {
		switch typed := n.(type) {
		case []any:
			for _, child := range typed {
				visit(child)
			}
		case map[string]any:
			if cteMap, ok := typed["cte_map"].(map[string]any); ok {
				entries, _ := cteMap["map"].([]any)
				for _, entry := range entries {
					if kv, ok := entry.(map[string]any); ok {
						if key, ok := kv["key"].(string); ok {
							names[strings.ToLower(key)] = true
						}
					}
				}
			}
			for _, child := range typed {
				visit(child)
			}
		}
	}
	visit(node)
	return names
}
