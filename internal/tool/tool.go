package tool

import "context"

// Result is what every answering tool returns. SQL is empty for tools that
// never touch the table.
type Result struct {
	Response string
	SQL      string
	Tool     string
}

// Tool is one answer path. Description is part of the routing contract and
// must stay in sync with what Answer can actually do.
type Tool interface {
	Name() string
	Description() string
	Answer(ctx context.Context, question string) (Result, error)
}
