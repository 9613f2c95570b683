package nl2sql

import (
	"fmt"
	"strings"

	"github.com/aquamitra/aquamitra/internal/schema"
)

// StatusValues is the closed vocabulary of groundwater_status.
var StatusValues = []string{"safe", "semi_critical", "critical", "over_exploited"}

// ColumnNotes describes the columns of the assessments corpus. Columns that
// appear in the live schema without a note are still listed.
var ColumnNotes = map[string]string{
	"place":                      "district, block or city name; not unique across states",
	"state":                      "Indian state name in title case, e.g. 'Bihar', 'Madhya Pradesh'",
	"rainfall":                   "annual rainfall in millimeters",
	"groundwater_refilled_total": "total groundwater recharge (volume)",
	"groundwater_used_total":     "total groundwater extraction (volume)",
	"groundwater_status":         "one of 'safe', 'semi_critical', 'critical', 'over_exploited' (always lowercase)",
	"land_total":                 "total land area",
	"land_nonirrigated":          "non-irrigated land area",
	"land_irrigated":             "irrigated land area",
	"year":                       "assessment year, 2021 to 2024",
}

type example struct {
	question string
	sql      string
}

var examples = []example{
	{"How many safe areas are there in Bihar?",
		"SELECT COUNT(*) AS safe_areas FROM assessments WHERE state = 'Bihar' AND groundwater_status = 'safe'"},
	{"List critical or over-exploited places in Rajasthan",
		"SELECT place, groundwater_status FROM assessments WHERE state = 'Rajasthan' AND groundwater_status IN ('critical', 'over_exploited') ORDER BY place ASC"},
	{"What is the average rainfall in Madhya Pradesh in 2023?",
		"SELECT AVG(rainfall) AS avg_rainfall FROM assessments WHERE state = 'Madhya Pradesh' AND year = 2023"},
	{"What is the total groundwater used in Bihar?",
		"SELECT SUM(groundwater_used_total) AS total_used FROM assessments WHERE state = 'Bihar'"},
	{"Which area has the lowest rainfall?",
		"SELECT place, state, rainfall FROM assessments WHERE rainfall IS NOT NULL ORDER BY rainfall ASC, place ASC LIMIT 1"},
	{"Show me top 5 districts with highest groundwater usage",
		"SELECT place, state, groundwater_used_total FROM assessments WHERE groundwater_used_total IS NOT NULL ORDER BY groundwater_used_total DESC, place ASC LIMIT 5"},
	{"What percentage of land is irrigated in Bihar?",
		"SELECT 100.0 * SUM(land_irrigated) / NULLIF(SUM(land_total), 0) AS irrigated_pct FROM assessments WHERE state = 'Bihar'"},
	{"Show areas where usage is more than 80% of refill",
		"SELECT place, state, groundwater_used_total, groundwater_refilled_total FROM assessments WHERE groundwater_used_total > 0.8 * groundwater_refilled_total ORDER BY place ASC"},
	{"Which areas use more groundwater than they refill?",
		"SELECT place, state, groundwater_used_total, groundwater_refilled_total FROM assessments WHERE groundwater_used_total > groundwater_refilled_total ORDER BY groundwater_used_total DESC, place ASC"},
	{"Count how many areas are over-exploited in each state",
		"SELECT state, COUNT(*) AS over_exploited_areas FROM assessments WHERE groundwater_status = 'over_exploited' GROUP BY state ORDER BY over_exploited_areas DESC, state ASC"},
	{"Count safe areas for each year",
		"SELECT year, COUNT(*) AS safe_areas FROM assessments WHERE groundwater_status = 'safe' GROUP BY year ORDER BY year ASC"},
}

func SystemPrompt(s schema.Schema) string {
	table := s.Table
	if table == "" {
		table = "assessments"
	}
	var b strings.Builder
	b.WriteString("You translate questions about Indian groundwater assessments into one DuckDB SQL query.\n\n")
	b.WriteString(s.Describe(ColumnNotes))
	b.WriteString("\n\nRules:\n")
	fmt.Fprintf(&b, "- Query ONLY the %s table. Never use JOIN, never list more than one table, never call table functions.\n", table)
	b.WriteString("- Use only the columns listed above.\n")
	fmt.Fprintf(&b, "- groundwater_status values are exactly %s, lowercase with underscores. Map phrases such as \"over-exploited\" or \"sustainably managed\" onto these values.\n", quotedList(StatusValues))
	b.WriteString("- State names are title case; compare them with = and the exact spelling.\n")
	b.WriteString("- For ranking questions use ORDER BY with an explicit direction, a tie-break column, and LIMIT.\n")
	b.WriteString("- For percentages or ratios multiply by 100.0 and divide by NULLIF(denominator, 0).\n")
	b.WriteString("- Filter by year with year = <number> when a year is mentioned.\n")
	b.WriteString("- Only SELECT statements. Return the SQL alone: no markdown, no explanation, no trailing text.\n")
	b.WriteString("\nExamples:\n")
	for _, ex := range examples {
		fmt.Fprintf(&b, "Question: %s\nSQLQuery: %s\n\n", ex.question, ex.sql)
	}
	return strings.TrimRight(b.String(), "\n")
}

func UserPrompt(question string) string {
	return fmt.Sprintf("Question: %s\nSQLQuery:", question)
}

const synthesisSystem = "You answer questions about Indian groundwater assessments using only the SQL result provided. " +
	"Be concise, include the numbers from the result, and say plainly when the result is empty."

func synthesisPrompt(question, sql, table string) string {
	return fmt.Sprintf("Question: %s\nSQL: %s\nSQL Result:\n%s\nAnswer:", question, sql, table)
}

func quotedList(values []string) string {
	quoted := make([]string, len(values))
	for i, value := range values {
		quoted[i] = "'" + value + "'"
	}
	return strings.Join(quoted, ", ")
}
