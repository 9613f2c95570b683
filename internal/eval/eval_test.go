package eval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aquamitra/aquamitra/internal/gateway"
)

func TestDefaultCategoriesCoverTheQuestionSet(t *testing.T) {
	total := 0
	for _, category := range DefaultCategories {
		if len(category.Questions) == 0 {
			t.Fatalf("category %q has no questions", category.Name)
		}
		total += len(category.Questions)
	}
	if len(DefaultCategories) != 8 || total != 25 {
		t.Fatalf("categories=%d questions=%d", len(DefaultCategories), total)
	}
}

func TestRunnerAgainstHTTPServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" || r.Header.Get("X-API-Key") != "k1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req gateway.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(req.Messages[0].Content, "broken") {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"detail":"RAG Pipeline Error","code":"PIPELINE_ERROR"}`))
			return
		}
		sql := "SELECT 1"
		_ = json.NewEncoder(w).Encode(gateway.Response{Response: "answer to " + req.Messages[0].Content, SQLQuery: &sql})
	}))
	defer server.Close()

	runner := &Runner{
		Client: NewHTTPClient(server.URL+"/", "k1", time.Second),
		Categories: []Category{
			{Name: "ok", Questions: []string{"How many safe areas are there?", "Count areas by groundwater status"}},
			{Name: "bad", Questions: []string{"broken question"}},
		},
	}
	report, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Total != 3 || report.Passed != 2 || report.Failed != 1 {
		t.Fatalf("report totals = %d/%d/%d", report.Total, report.Passed, report.Failed)
	}
	if report.Results[0].Response != "answer to How many safe areas are there?" || report.Results[0].SQLQuery != "SELECT 1" {
		t.Fatalf("result[0] = %#v", report.Results[0])
	}
	if report.Results[2].Status != StatusFail || report.Results[2].Error != "http 500: RAG Pipeline Error" {
		t.Fatalf("result[2] = %#v", report.Results[2])
	}

	var buf bytes.Buffer
	if err := report.WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var decoded Report
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil || decoded.Passed != 2 {
		t.Fatalf("decoded = %#v, %v", decoded, err)
	}
	buf.Reset()
	report.WriteSummary(&buf)
	if !strings.Contains(buf.String(), "total=3 passed=2 failed=1") {
		t.Fatalf("summary = %q", buf.String())
	}
}

func TestRunnerBoundsConcurrencyAndKeepsOrder(t *testing.T) {
	var inFlight, peak atomic.Int32
	client := clientFunc(func(ctx context.Context, req gateway.Request) (gateway.Response, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			current := peak.Load()
			if n <= current || peak.CompareAndSwap(current, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return gateway.Response{Response: req.Messages[0].Content}, nil
	})
	runner := &Runner{Client: client, Concurrency: 2}
	report, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if peak.Load() > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", peak.Load())
	}
	i := 0
	for _, category := range DefaultCategories {
		for _, question := range category.Questions {
			if report.Results[i].Response != question || report.Results[i].Category != category.Name {
				t.Fatalf("result %d = %#v", i, report.Results[i])
			}
			i++
		}
	}
	if report.SuccessRate != 100 {
		t.Fatalf("SuccessRate = %v", report.SuccessRate)
	}
}

func TestRunnerStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	client := clientFunc(func(context.Context, gateway.Request) (gateway.Response, error) {
		once.Do(cancel)
		return gateway.Response{}, errors.New("unused")
	})
	runner := &Runner{Client: client, Delay: time.Hour}
	if _, err := runner.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want canceled", err)
	}
}

type clientFunc func(ctx context.Context, req gateway.Request) (gateway.Response, error)

func (f clientFunc) Chat(ctx context.Context, req gateway.Request) (gateway.Response, error) {
	return f(ctx, req)
}
