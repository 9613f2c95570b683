package nl2sql

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/aquamitra/aquamitra/internal/schema"
)

const (
	RuleEmpty              = "empty"
	RuleMultipleStatements = "multiple_statements"
	RuleReadOnly           = "read_only"
	RuleJoin               = "join"
	RuleSingleTable        = "single_table"
	RuleStatusLiteral      = "status_literal"
	RuleUnguardedDivision  = "unguarded_division"
	RuleParse              = "parse"

	statusColumn = "groundwater_status"
)

// ValidationError reports generated SQL that breaks a structural rule. It is
// returned before anything reaches the database.
type ValidationError struct {
	Rule   string
	Detail string
	SQL    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("generated sql rejected (%s): %s", e.Rule, e.Detail)
}

var writeKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "DROP": true, "CREATE": true, "ALTER": true,
	"ATTACH": true, "DETACH": true, "COPY": true, "PRAGMA": true, "INSTALL": true, "LOAD": true,
	"EXPORT": true, "IMPORT": true, "CALL": true, "TRUNCATE": true, "MERGE": true, "VACUUM": true,
	"CHECKPOINT": true, "GRANT": true, "REVOKE": true,
}

var joinKeywords = map[string]bool{
	"JOIN": true, "NATURAL": true, "LATERAL": true, "POSITIONAL": true, "ASOF": true,
}

var floatTypes = map[string]bool{
	"DOUBLE": true, "FLOAT": true, "REAL": true, "DECIMAL": true, "NUMERIC": true, "FLOAT4": true, "FLOAT8": true,
}

// Validate checks generated SQL against the single-table contract: one
// read-only statement over the schema's table, no joins, lowercase status
// literals from the closed vocabulary, and zero-safe or floating-point
// division. It works on tokens only; CheckParseTree repeats the structural
// rules on DuckDB's own parse tree.
func Validate(sql string, s schema.Schema) error {
	table := s.Table
	if table == "" {
		table = "assessments"
	}
	tokens := lex(sql)
	reject := func(rule, format string, args ...any) error {
		return &ValidationError{Rule: rule, Detail: fmt.Sprintf(format, args...), SQL: sql}
	}
	if len(tokens) == 0 {
		return reject(RuleEmpty, "no statement")
	}
	for i, tok := range tokens {
		if tok.is(";") {
			for _, rest := range tokens[i+1:] {
				if !rest.is(";") {
					return reject(RuleMultipleStatements, "more than one statement")
				}
			}
			tokens = tokens[:i]
			break
		}
	}
	if first := tokens[0].upper(); first != "SELECT" && first != "WITH" {
		return reject(RuleReadOnly, "statement starts with %s", tokens[0].text)
	}

	ctes := cteNames(tokens)
	for i, tok := range tokens {
		if tok.kind != tokenWord {
			continue
		}
		word := tok.upper()
		if writeKeywords[word] {
			return reject(RuleReadOnly, "%s is not allowed", word)
		}
		if joinKeywords[word] {
			return reject(RuleJoin, "%s is not allowed", word)
		}
		if word == "FROM" {
			if err := checkFromClause(tokens, i+1, table, ctes); err != "" {
				rule := RuleSingleTable
				if strings.HasPrefix(err, "implicit join") {
					rule = RuleJoin
				}
				return reject(rule, "%s", err)
			}
		}
	}
	if detail := checkStatusLiterals(tokens); detail != "" {
		return reject(RuleStatusLiteral, "%s", detail)
	}
	if detail := checkDivisions(tokens); detail != "" {
		return reject(RuleUnguardedDivision, "%s", detail)
	}
	return nil
}

// checkFromClause inspects the relation after FROM. It returns an empty
// string when the reference is allowed.
func checkFromClause(tokens []token, i int, table string, ctes map[string]bool) string {
	if i >= len(tokens) {
		return "missing relation after FROM"
	}
	if tokens[i].is("(") {
		return ""
	}
	if tokens[i].kind != tokenWord && tokens[i].kind != tokenQuoted {
		return fmt.Sprintf("unexpected %q after FROM", tokens[i].text)
	}
	parts := []string{tokens[i].ident()}
	i++
	for i+1 < len(tokens) && tokens[i].is(".") && (tokens[i+1].kind == tokenWord || tokens[i+1].kind == tokenQuoted) {
		parts = append(parts, tokens[i+1].ident())
		i += 2
	}
	name := parts[len(parts)-1]
	if i < len(tokens) && tokens[i].is("(") {
		return fmt.Sprintf("table function %s is not allowed", name)
	}
	switch {
	case len(parts) > 2, len(parts) == 2 && !strings.EqualFold(parts[0], "main"):
		return fmt.Sprintf("qualified table %s is not allowed, only %s", strings.Join(parts, "."), table)
	case len(parts) == 1 && ctes[strings.ToLower(name)]:
	case !strings.EqualFold(name, table):
		return fmt.Sprintf("table %s is not allowed, only %s", name, table)
	}
	if i < len(tokens) && tokens[i].upper() == "AS" {
		i++
	}
	if i < len(tokens) && (tokens[i].kind == tokenQuoted || (tokens[i].kind == tokenWord && !isClauseKeyword(tokens[i].upper()))) {
		i++
	}
	if i < len(tokens) && tokens[i].is(",") {
		return "implicit join through a comma-separated FROM list"
	}
	return ""
}

func cteNames(tokens []token) map[string]bool {
	names := map[string]bool{}
	if len(tokens) == 0 || tokens[0].upper() != "WITH" {
		return names
	}
	for i := 0; i+2 < len(tokens); i++ {
		if (tokens[i].kind == tokenWord || tokens[i].kind == tokenQuoted) && tokens[i+1].upper() == "AS" && tokens[i+2].is("(") {
			names[strings.ToLower(tokens[i].ident())] = true
		}
	}
	return names
}

func checkStatusLiterals(tokens []token) string {
	for i, tok := range tokens {
		if (tok.kind != tokenWord && tok.kind != tokenQuoted) || !strings.EqualFold(tok.ident(), statusColumn) {
			continue
		}
		start, end := i, i+1
		for start >= 2 && tokens[start-1].is(".") {
			start -= 2
		}
		// Walk out of wrapping calls such as UPPER(TRIM(groundwater_status))
		// and check the comparison around each level.
		for {
			end = skipCasts(tokens, end)
			if detail := checkStatusOperand(tokens, start, end); detail != "" {
				return detail
			}
			open := enclosingParen(tokens, start)
			if open < 0 {
				break
			}
			start, end = open, matchParen(tokens, open)+1
			if start > 0 && isFunctionName(tokens[start-1]) {
				start--
			}
		}
	}
	return ""
}

// checkStatusOperand checks the literals compared against the status
// expression spanning tokens[start:end].
func checkStatusOperand(tokens []token, start, end int) string {
	j := end
	if j < len(tokens) && tokens[j].upper() == "NOT" {
		j++
	}
	if j < len(tokens) {
		op := tokens[j]
		switch {
		case op.isComparison():
			if j+1 < len(tokens) && tokens[j+1].kind == tokenString {
				return checkStatusLiteral(tokens[j+1], false)
			}
		case op.upper() == "LIKE" || op.upper() == "ILIKE":
			if j+1 < len(tokens) && tokens[j+1].kind == tokenString {
				return checkStatusLiteral(tokens[j+1], op.upper() == "LIKE")
			}
		case op.upper() == "IN" && j+1 < len(tokens) && tokens[j+1].is("("):
			for k := j + 2; k < len(tokens) && !tokens[k].is(")"); k++ {
				if tokens[k].kind == tokenString {
					if detail := checkStatusLiteral(tokens[k], false); detail != "" {
						return detail
					}
				}
			}
		}
	}
	if start >= 2 && tokens[start-1].isComparison() && tokens[start-2].kind == tokenString {
		if detail := checkStatusLiteral(tokens[start-2], false); detail != "" {
			return detail
		}
	}
	if start >= 1 && tokens[start-1].upper() == "CASE" {
		return checkCaseLiterals(tokens, end)
	}
	return ""
}

// checkCaseLiterals checks the WHEN values of a simple CASE over the status
// column, up to its END.
func checkCaseLiterals(tokens []token, from int) string {
	nested, depth := 0, 0
	for k := from; k < len(tokens); k++ {
		switch {
		case tokens[k].is("("):
			depth++
		case tokens[k].is(")"):
			if depth == 0 {
				return ""
			}
			depth--
		case tokens[k].upper() == "CASE":
			nested++
		case tokens[k].upper() == "END":
			if nested == 0 {
				return ""
			}
			nested--
		case nested == 0 && depth == 0 && tokens[k].upper() == "WHEN":
			if k+1 < len(tokens) && tokens[k+1].kind == tokenString {
				if detail := checkStatusLiteral(tokens[k+1], false); detail != "" {
					return detail
				}
			}
		}
	}
	return ""
}

func checkStatusLiteral(lit token, like bool) string {
	return checkStatusValue(lit.literal(), like)
}

func checkStatusValue(value string, like bool) string {
	if like {
		if value != strings.ToLower(value) {
			return fmt.Sprintf("status pattern %q must be lowercase", value)
		}
		return ""
	}
	for _, valid := range StatusValues {
		if value == valid {
			return ""
		}
	}
	return fmt.Sprintf("status value %q is not one of %s", value, quotedList(StatusValues))
}

// enclosingParen returns the index of the parenthesis that wraps tokens[i]
// as part of a scalar expression, or -1. Subqueries, IN lists and window or
// filter clauses end the walk.
func enclosingParen(tokens []token, i int) int {
	depth := 0
	for k := i - 1; k >= 0; k-- {
		switch {
		case tokens[k].is(")"):
			depth++
		case tokens[k].is("("):
			if depth > 0 {
				depth--
				continue
			}
			if k+1 < len(tokens) {
				switch tokens[k+1].upper() {
				case "SELECT", "WITH", "WHERE", "PARTITION", "ORDER":
					return -1
				}
			}
			if k > 0 {
				switch tokens[k-1].upper() {
				case "IN", "FILTER", "OVER", "EXISTS", "ANY", "ALL", "SOME", "VALUES":
					return -1
				}
			}
			return k
		}
	}
	return -1
}

func isFunctionName(tok token) bool {
	if tok.kind != tokenWord {
		return false
	}
	word := tok.upper()
	switch word {
	case "CASE", "IN", "LIKE", "ILIKE", "IS", "BETWEEN", "EXISTS", "DISTINCT", "INTERVAL", "END":
		return false
	}
	return !isExpressionBoundary(word) && !isClauseKeyword(word)
}

func skipCasts(tokens []token, i int) int {
	for i+1 < len(tokens) && tokens[i].is("::") && tokens[i+1].kind == tokenWord {
		i += 2
	}
	return i
}

func checkDivisions(tokens []token) string {
	for i, tok := range tokens {
		if tok.is("//") {
			return "integer division operator // truncates; use / with NULLIF(denominator, 0)"
		}
		if !tok.is("/") {
			continue
		}
		if operandIsFloatOrGuarded(tokens, i+1) || leftTermHasFloat(tokens, i) {
			continue
		}
		return "division must use NULLIF(denominator, 0) or a non-integer literal"
	}
	return ""
}

// operandIsFloatOrGuarded looks at the right-hand operand starting at i.
func operandIsFloatOrGuarded(tokens []token, i int) bool {
	if i >= len(tokens) {
		return false
	}
	end := i + 1
	switch {
	case tokens[i].is("("):
		end = matchParen(tokens, i) + 1
	case tokens[i].kind == tokenWord && i+1 < len(tokens) && tokens[i+1].is("("):
		end = matchParen(tokens, i+1) + 1
	}
	if end > len(tokens) {
		end = len(tokens)
	}
	for _, tok := range tokens[i:end] {
		if tok.isFloatMarker() {
			return true
		}
	}
	return end+1 < len(tokens) && tokens[end].is("::") && floatTypes[tokens[end+1].upper()]
}

// leftTermHasFloat scans left from the division operator within the current
// expression for a floating-point literal or cast.
func leftTermHasFloat(tokens []token, i int) bool {
	depth := 0
	for k := i - 1; k >= 0; k-- {
		tok := tokens[k]
		switch {
		case tok.is(")"):
			depth++
		case tok.is("("):
			if depth == 0 {
				return false
			}
			depth--
		case depth == 0 && (tok.is(",") || isExpressionBoundary(tok.upper())):
			return false
		}
		if tok.isFloatMarker() {
			return true
		}
		if tok.is("::") && k+1 < len(tokens) && floatTypes[tokens[k+1].upper()] {
			return true
		}
	}
	return false
}

func matchParen(tokens []token, open int) int {
	depth := 0
	for k := open; k < len(tokens); k++ {
		switch {
		case tokens[k].is("("):
			depth++
		case tokens[k].is(")"):
			depth--
			if depth == 0 {
				return k
			}
		}
	}
	return len(tokens) - 1
}

func isExpressionBoundary(word string) bool {
	switch word {
	case "SELECT", "WHERE", "AND", "OR", "WHEN", "THEN", "ELSE", "ON", "HAVING", "BY", "AS", "FROM", "NOT":
		return true
	default:
		return false
	}
}

func isClauseKeyword(word string) bool {
	switch word {
	case "WHERE", "GROUP", "ORDER", "HAVING", "LIMIT", "OFFSET", "UNION", "EXCEPT", "INTERSECT",
		"QUALIFY", "WINDOW", "USING", "SAMPLE", "TABLESAMPLE":
		return true
	default:
		return joinKeywords[word] || word == "LEFT" || word == "RIGHT" || word == "INNER" ||
			word == "OUTER" || word == "FULL" || word == "CROSS" || word == "ANTI" || word == "SEMI"
	}
}

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenQuoted
	tokenString
	tokenNumber
	tokenSymbol
)

type token struct {
	kind tokenKind
	text string
}

func (t token) is(symbol string) bool {
	return t.kind == tokenSymbol && t.text == symbol
}

func (t token) upper() string {
	if t.kind != tokenWord {
		return ""
	}
	return strings.ToUpper(t.text)
}

func (t token) ident() string {
	if t.kind == tokenQuoted {
		return strings.ReplaceAll(t.text[1:len(t.text)-1], `""`, `"`)
	}
	return t.text
}

func (t token) literal() string {
	if t.kind != tokenString || len(t.text) < 2 {
		return t.text
	}
	return strings.ReplaceAll(t.text[1:len(t.text)-1], "''", "'")
}

func (t token) isComparison() bool {
	if t.kind != tokenSymbol {
		return false
	}
	switch t.text {
	case "=", "==", "!=", "<>":
		return true
	default:
		return false
	}
}

func (t token) isFloatMarker() bool {
	switch {
	case t.kind == tokenNumber:
		return strings.ContainsAny(t.text, ".eE")
	case t.kind == tokenWord:
		word := t.upper()
		return word == "NULLIF" || word == "CAST" || word == "TRY_CAST"
	default:
		return false
	}
}

// lex splits SQL into words, quoted identifiers, string literals, numbers and
// symbols. Comments are dropped.
func lex(sql string) []token {
	var tokens []token
	runes := []rune(sql)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i += 2
		case r == '\'' || r == '"':
			start := i
			i++
			for i < len(runes) {
				if runes[i] == r {
					if i+1 < len(runes) && runes[i+1] == r {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
			kind := tokenString
			if r == '"' {
				kind = tokenQuoted
			}
			tokens = append(tokens, token{kind: kind, text: string(runes[start:min(i, len(runes))])})
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.' || runes[i] == '_') {
				i++
			}
			if i < len(runes) && (runes[i] == 'e' || runes[i] == 'E') {
				i++
				if i < len(runes) && (runes[i] == '+' || runes[i] == '-') {
					i++
				}
				for i < len(runes) && unicode.IsDigit(runes[i]) {
					i++
				}
			}
			tokens = append(tokens, token{kind: tokenNumber, text: string(runes[start:i])})
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_' || runes[i] == '$') {
				i++
			}
			tokens = append(tokens, token{kind: tokenWord, text: string(runes[start:i])})
		default:
			symbol := string(r)
			if i+1 < len(runes) {
				switch pair := string(runes[i : i+2]); pair {
				case "::", "<>", "!=", ">=", "<=", "==", "||", "//":
					symbol = pair
				}
			}
			i += len([]rune(symbol))
			tokens = append(tokens, token{kind: tokenSymbol, text: symbol})
		}
	}
	return tokens
}
