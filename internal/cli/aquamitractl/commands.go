package aquamitractl

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aquamitra/aquamitra/internal/chatlog"
	"github.com/aquamitra/aquamitra/internal/corpus"
	"github.com/aquamitra/aquamitra/internal/demo"
	"github.com/aquamitra/aquamitra/internal/eval"
	"github.com/aquamitra/aquamitra/internal/gateway"
	"github.com/aquamitra/aquamitra/internal/placemap"
	"github.com/aquamitra/aquamitra/internal/provision"
)

func (e *env) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}

func runReprovision(ctx context.Context, e *env, _ []string) error {
	body, err := e.do(ctx, http.MethodPost, "/api/admin/reprovision", nil)
	if err != nil {
		return err
	}
	e.printJSON(body)
	return nil
}

func runChat(ctx context.Context, e *env, args []string) error {
	fs := e.flags("chat")
	lang := fs.String("lang", "en", "language code, or auto")
	session := fs.String("session", "", "session id for the transcript")
	if err := fs.Parse(args); err != nil {
		return err
	}
	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		return usageError{msg: "a question is required"}
	}

	body, err := e.do(ctx, http.MethodPost, "/api/chat", gateway.Request{
		Messages:  []gateway.Message{{Role: "user", Content: question}},
		SessionID: *session,
		Language:  *lang,
	})
	if err != nil {
		return err
	}
	var resp gateway.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode chat response: %w", err)
	}
	_, _ = fmt.Fprintln(e.stdout, resp.Response)
	if resp.TranslatedQuery != nil {
		_, _ = fmt.Fprintf(e.stdout, "\ntranslated: %s\n", *resp.TranslatedQuery)
	}
	if resp.SQLQuery != nil {
		_, _ = fmt.Fprintf(e.stdout, "\nsql: %s\n", *resp.SQLQuery)
	}
	_, _ = fmt.Fprintf(e.stdout, "latency: %dms\n", resp.LatencyMS)
	return nil
}

func runHistory(ctx context.Context, e *env, args []string) error {
	fs := e.flags("history")
	session := fs.String("session", chatlog.DefaultSessionID, "session id")
	limit := fs.Int("limit", chatlog.DefaultHistoryLimit, "number of entries (1-500)")
	format := fs.String("format", "json", "output format: json or parquet")
	out := fs.String("out", "", "output file (required for parquet)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *format != "json" && *format != "parquet" {
		return usageError{msg: fmt.Sprintf("unknown format %q", *format)}
	}
	if *format == "parquet" && *out == "" {
		return usageError{msg: "-out is required for parquet output"}
	}

	query := url.Values{}
	query.Set("session_id", *session)
	query.Set("limit", strconv.Itoa(*limit))
	body, err := e.do(ctx, http.MethodGet, "/api/history?"+query.Encode(), nil)
	if err != nil {
		return err
	}

	if *format == "json" {
		if *out == "" {
			e.printJSON(body)
			return nil
		}
		pretty, ok := prettyJSON(body)
		if !ok {
			pretty = string(body)
		}
		return writeFile(*out, []byte(pretty+"\n"))
	}

	var decoded struct {
		Messages []chatlog.Entry `json:"messages"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("decode history: %w", err)
	}
	data, err := chatlog.EncodeParquet(decoded.Messages)
	if err != nil {
		return err
	}
	if err := writeFile(*out, data); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(e.stdout, "wrote %d entries to %s\n", len(decoded.Messages), *out)
	return nil
}

func runEval(ctx context.Context, e *env, args []string) error {
	fs := e.flags("eval")
	out := fs.String("out", "test_results.json", "report file")
	delay := fs.Duration("delay", 2*time.Second, "pause after each question")
	concurrency := fs.Int("concurrency", 1, "questions in flight")
	lang := fs.String("lang", "en", "language code sent with every question")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client := &eval.HTTPClient{BaseURL: e.baseURL, APIKey: e.apiKey, HTTP: e.client}
	runner := &eval.Runner{Client: client, Delay: *delay, Concurrency: *concurrency, Language: *lang}
	report, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	report.WriteSummary(e.stdout)

	file, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("create %s: %w", *out, err)
	}
	if err := report.WriteJSON(file); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", *out, err)
	}
	_, _ = fmt.Fprintf(e.stdout, "report written to %s\n", *out)
	return nil
}

func runAddState(_ context.Context, e *env, args []string) error {
	fs := e.flags("add-state")
	dir := fs.String("dir", "data/ingres", "directory with assessment CSV files")
	pattern := fs.String("pattern", "groundwater_*.csv", "file glob")
	if err := fs.Parse(args); err != nil {
		return err
	}

	mapper, err := placemap.Default()
	if err != nil {
		return err
	}
	results, err := mapper.EnrichDir(*dir, *pattern)
	if err != nil {
		return err
	}
	unknown := map[string]struct{}{}
	for _, stats := range results {
		_, _ = fmt.Fprintf(e.stdout, "%s -> %s rows=%d states=%d unknown=%d\n",
			stats.File, stats.Output, stats.Rows, stats.KnownStates(), len(stats.Unknown))
		for _, place := range stats.Unknown {
			unknown[place] = struct{}{}
		}
	}
	if len(unknown) > 0 {
		_, _ = fmt.Fprintf(e.stdout, "unmapped places: %d\n", len(unknown))
	}
	return nil
}

func runDemoCorpus(_ context.Context, e *env, args []string) error {
	fs := e.flags("demo-corpus")
	dir := fs.String("dir", "data/ingres", "output directory")
	years := fs.String("years", "2021,2022,2023,2024", "comma separated assessment years")
	rows := fs.Int("rows", 200, "rows per year")
	seed := fs.Int64("seed", 1, "random seed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *rows <= 0 {
		return usageError{msg: "rows must be positive"}
	}
	var yearList []int
	for _, raw := range strings.Split(*years, ",") {
		year, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return usageError{msg: fmt.Sprintf("invalid year %q", raw)}
		}
		yearList = append(yearList, year)
	}

	mapper, err := placemap.Default()
	if err != nil {
		return err
	}
	generator, err := demo.NewGenerator(*seed, mapper.Places())
	if err != nil {
		return err
	}
	paths, err := generator.WriteCorpus(*dir, yearList, *rows)
	if err != nil {
		return err
	}
	for _, path := range paths {
		_, _ = fmt.Fprintf(e.stdout, "wrote %s\n", path)
	}
	return nil
}

func runCorpusPush(ctx context.Context, e *env, args []string) error {
	fs := e.flags("corpus-push")
	dir := fs.String("dir", "data/ingres", "directory with assessment CSV files")
	pattern := fs.String("pattern", provision.DefaultPattern, "file glob")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if e.opts.OpenStore == nil {
		return fmt.Errorf("object store is not configured")
	}
	store, err := e.opts.OpenStore(ctx)
	if err != nil {
		return fmt.Errorf("open object store: %w", err)
	}
	result, err := corpus.Publish(ctx, store, *dir, *pattern)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(e.stdout, "uploaded %d files (%d bytes): %s\n", len(result.Files), result.Bytes, strings.Join(result.Files, ", "))
	return nil
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
