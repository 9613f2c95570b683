package eval

type Category struct {
	Name      string   `json:"name"`
	Questions []string `json:"questions"`
}

// DefaultCategories is the regression question set run against a live server.
var DefaultCategories = []Category{
	{Name: "1. Basic State & Status Filtering", Questions: []string{
		"Show me areas in Madhya Pradesh where groundwater is being sustainably managed",
		"How many safe areas are there?",
		"Which districts in Rajasthan have over-exploited groundwater?",
		"List all safe areas in Bihar",
	}},
	{Name: "2. Numerical Aggregations", Questions: []string{
		"What is the average rainfall in Madhya Pradesh?",
		"What is the total groundwater used in Bihar?",
		"How many total records are in the database?",
		"Which area has the highest rainfall?",
		"Which area has the lowest rainfall?",
	}},
	{Name: "3. Comparisons & Filtering", Questions: []string{
		"Which areas use more groundwater than they refill?",
		"Which areas have rainfall above 1500mm?",
		"Show me districts with groundwater usage above 5000",
	}},
	{Name: "4. Top/Bottom Queries", Questions: []string{
		"Show me top 5 districts with highest groundwater usage",
		"List top 10 areas with highest rainfall",
		"Show me bottom 5 districts with lowest rainfall",
	}},
	{Name: "5. Percentage & Ratio Calculations", Questions: []string{
		"What percentage of land is irrigated in Bihar?",
		"Show areas where usage is more than 80% of refill",
	}},
	{Name: "6. Year-Based Queries", Questions: []string{
		"What is the average rainfall in Madhya Pradesh in 2023?",
		"Show me all safe areas in 2024",
		"Count safe areas for each year",
	}},
	{Name: "7. Grouped Aggregations", Questions: []string{
		"Count how many areas are over-exploited in each state",
		"Show average rainfall for each state",
		"Count areas by groundwater status",
	}},
	{Name: "8. Complex Multi-Condition", Questions: []string{
		"Show safe areas in Madhya Pradesh with rainfall above 1000mm",
		"Which critical areas in Rajasthan have low rainfall?",
	}},
}
