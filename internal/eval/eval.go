// Package eval replays a fixed question set against a running chat server
// and reports which questions were answered.
package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aquamitra/aquamitra/internal/gateway"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
)

type Result struct {
	Category  string `json:"category"`
	Question  string `json:"question"`
	Status    string `json:"status"`
	Response  string `json:"response"`
	SQLQuery  string `json:"sql_query"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

type Report struct {
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Total       int       `json:"total"`
	Passed      int       `json:"passed"`
	Failed      int       `json:"failed"`
	SuccessRate float64   `json:"success_rate"`
	Results     []Result  `json:"results"`
}

type Runner struct {
	Client     Client
	Categories []Category
	Language   string
	SessionID  string
	// Delay is slept after every question by the worker that asked it.
	Delay       time.Duration
	Concurrency int
	Logger      *slog.Logger
}

type job struct {
	category string
	question string
}

// Run asks every question and collects the results in question order. A
// failed question does not stop the run; only context cancellation does.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	if r.Client == nil {
		return Report{}, fmt.Errorf("eval client is required")
	}
	categories := r.Categories
	if len(categories) == 0 {
		categories = DefaultCategories
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var jobs []job
	for _, category := range categories {
		for _, question := range category.Questions {
			jobs = append(jobs, job{category: category.Name, question: question})
		}
	}

	report := Report{StartedAt: time.Now().UTC(), Total: len(jobs), Results: make([]Result, len(jobs))}
	group, groupCtx := errgroup.WithContext(ctx)
	limit := r.Concurrency
	if limit <= 0 {
		limit = 1
	}
	group.SetLimit(limit)
	for i, j := range jobs {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			report.Results[i] = r.ask(groupCtx, j)
			logger.InfoContext(groupCtx, "eval question",
				"category", j.category,
				"status", report.Results[i].Status,
				"latency_ms", report.Results[i].LatencyMS,
			)
			if r.Delay > 0 {
				timer := time.NewTimer(r.Delay)
				defer timer.Stop()
				select {
				case <-groupCtx.Done():
					return groupCtx.Err()
				case <-timer.C:
				}
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return report, fmt.Errorf("run eval: %w", err)
	}

	for _, result := range report.Results {
		if result.Status == StatusPass {
			report.Passed++
		} else {
			report.Failed++
		}
	}
	if report.Total > 0 {
		report.SuccessRate = float64(report.Passed) / float64(report.Total) * 100
	}
	report.FinishedAt = time.Now().UTC()
	return report, nil
}

func (r *Runner) ask(ctx context.Context, j job) Result {
	language := r.Language
	if language == "" {
		language = "en"
	}
	start := time.Now()
	resp, err := r.Client.Chat(ctx, gateway.Request{
		Messages:  []gateway.Message{{Role: "user", Content: j.question}},
		SessionID: r.SessionID,
		Language:  language,
	})
	result := Result{Category: j.category, Question: j.question, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		result.Status = StatusFail
		result.Error = err.Error()
		return result
	}
	result.Status = StatusPass
	result.Response = resp.Response
	if resp.SQLQuery != nil {
		result.SQLQuery = *resp.SQLQuery
	}
	return result
}

func (r Report) WriteJSON(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(r); err != nil {
		return fmt.Errorf("encode eval report: %w", err)
	}
	return nil
}

// WriteSummary prints one line per question followed by the totals.
func (r Report) WriteSummary(w io.Writer) {
	category := ""
	for _, result := range r.Results {
		if result.Category != category {
			category = result.Category
			_, _ = fmt.Fprintf(w, "\n%s\n", category)
		}
		_, _ = fmt.Fprintf(w, "  [%s] %s\n", result.Status, result.Question)
		if result.Error != "" {
			_, _ = fmt.Fprintf(w, "         error: %s\n", result.Error)
		} else if result.SQLQuery != "" {
			_, _ = fmt.Fprintf(w, "         sql: %s\n", strings.Join(strings.Fields(result.SQLQuery), " "))
		}
	}
	_, _ = fmt.Fprintf(w, "\ntotal=%d passed=%d failed=%d success_rate=%.1f%%\n", r.Total, r.Passed, r.Failed, r.SuccessRate)
}
