// Package aquamitractl implements the operator command line: HTTP calls
// against a running server plus a few local data tools.
package aquamitractl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aquamitra/aquamitra/internal/storage"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
	// OpenStore returns the corpus object store for corpus-push.
	OpenStore func(ctx context.Context) (storage.ObjectStore, error)
}

type env struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
	stdout  io.Writer
	stderr  io.Writer
	opts    Options
}

type command struct {
	usage string
	run   func(ctx context.Context, e *env, args []string) error
}

var commands = map[string]command{
	"health":      {"GET /api/health", runGet("/api/health")},
	"languages":   {"GET /api/languages", runGet("/api/languages")},
	"schema":      {"GET /api/schema", runGet("/api/schema")},
	"reprovision": {"POST /api/admin/reprovision", runReprovision},
	"chat":        {"[-lang en] [-session id] <question>", runChat},
	"history":     {"[-session id] [-limit 50] [-format json|parquet] [-out file]", runHistory},
	"eval":        {"[-out test_results.json] [-delay 2s] [-concurrency 1] [-lang en]", runEval},
	"add-state":   {"[-dir data/ingres] [-pattern groundwater_*.csv]", runAddState},
	"corpus-push": {"[-dir data/ingres] [-pattern *.csv]", runCorpusPush},
	"demo-corpus": {"[-dir data/ingres] [-years 2021,2022,2023,2024] [-rows 200] [-seed 1]", runDemoCorpus},
}

// usageError marks failures that should print usage and exit 2.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

// httpError is a non-2xx reply from the server.
type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string { return fmt.Sprintf("http %d: %s", e.status, e.body) }

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("aquamitractl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8000"), "Aquamitra API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for admin requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 60s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}
	name := strings.TrimSpace(fs.Arg(0))
	cmd, ok := commands[name]
	if !ok {
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		writeUsage(stderr)
		return 2
	}

	e := &env{
		baseURL: strings.TrimRight(*baseURL, "/"),
		apiKey:  strings.TrimSpace(*apiKey),
		timeout: *timeout,
		client:  client,
		stdout:  stdout,
		stderr:  stderr,
		opts:    defaults,
	}
	if err := cmd.run(ctx, e, fs.Args()[1:]); err != nil {
		var uerr usageError
		if errors.As(err, &uerr) {
			_, _ = fmt.Fprintf(stderr, "%s\nusage: aquamitractl %s %s\n", uerr.msg, name, cmd.usage)
			return 2
		}
		if errors.Is(err, flag.ErrHelp) {
			return 2
		}
		_, _ = fmt.Fprintf(stderr, "%s failed: %v\n", name, err)
		return 1
	}
	return 0
}

func runGet(path string) func(ctx context.Context, e *env, args []string) error {
	return func(ctx context.Context, e *env, _ []string) error {
		body, err := e.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		e.printJSON(body)
		return nil
	}
}

func (e *env) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.apiKey != "" {
		req.Header.Set("X-API-Key", e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, &httpError{status: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

func (e *env) printJSON(body []byte) {
	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(e.stdout, pretty)
		return
	}
	if len(body) > 0 {
		_, _ = fmt.Fprintln(e.stdout, string(body))
	}
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: aquamitractl [flags] <command> [command flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	for _, name := range []string{"health", "languages", "schema", "reprovision", "chat", "history", "eval", "add-state", "corpus-push", "demo-corpus"} {
		_, _ = fmt.Fprintf(w, "  %-12s %s\n", name, commands[name].usage)
	}
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
