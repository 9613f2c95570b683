package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aquamitra_http_requests_total",
			Help: "Total number of HTTP requests, by route and status.",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aquamitra_http_request_duration_seconds",
			Help:    "HTTP request latency, by route and status. Chat requests include LLM round trips.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"method", "path", "status"},
	)

	routedQuestionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aquamitra_routed_questions_total",
			Help: "Total number of questions routed, by selected tool.",
		},
		[]string{"tool"},
	)
	sqlExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aquamitra_sql_executions_total",
			Help: "Total number of generated SQL statements executed, by outcome.",
		},
		[]string{"outcome"},
	)
	sqlValidationRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aquamitra_sql_validation_rejections_total",
			Help: "Total number of generated SQL statements rejected before execution, by rule.",
		},
		[]string{"rule"},
	)
	translationFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aquamitra_translation_fallbacks_total",
			Help: "Total number of translations that fell back to the untranslated text.",
		},
		[]string{"direction"},
	)
	chatLogFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aquamitra_chat_log_failures_total",
			Help: "Total number of chat log writes that failed.",
		},
	)
	provisionedRows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aquamitra_provisioned_rows",
			Help: "Row count of the assessments table after the latest provisioning run.",
		},
	)
	provisionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aquamitra_provision_duration_seconds",
			Help:    "Duration of table provisioning runs.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)
	llmRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aquamitra_llm_request_duration_seconds",
			Help:    "LLM provider call latency, by provider and outcome.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
		[]string{"provider", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		routedQuestionsTotal,
		sqlExecutionsTotal,
		sqlValidationRejectionsTotal,
		translationFallbacksTotal,
		chatLogFailuresTotal,
		provisionedRows,
		provisionDurationSeconds,
		llmRequestDurationSeconds,
	)
}

func IncrementRoutedQuestion(tool string) {
	routedQuestionsTotal.WithLabelValues(tool).Inc()
}

func ObserveSQLExecution(err error) {
	sqlExecutionsTotal.WithLabelValues(outcome(err)).Inc()
}

func IncrementSQLValidationRejection(rule string) {
	sqlValidationRejectionsTotal.WithLabelValues(rule).Inc()
}

func IncrementTranslationFallback(direction string) {
	translationFallbacksTotal.WithLabelValues(direction).Inc()
}

func IncrementChatLogFailure() {
	chatLogFailuresTotal.Inc()
}

func ObserveProvision(rows int64, elapsed time.Duration) {
	if rows < 0 {
		rows = 0
	}
	provisionedRows.Set(float64(rows))
	provisionDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveLLMRequest(provider string, elapsed time.Duration, err error) {
	llmRequestDurationSeconds.WithLabelValues(provider, outcome(err)).Observe(elapsed.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
