// Package metrics exports engine, provider and model metrics in Prometheus format.
package metrics

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hrygo/medisense/ai/core/llm"
)

const namespace = "medisense"

// PrometheusExporter implements the observer interfaces of the engine, the classifier,
// the aggregator, the model adapter and the fact cache on a private registry.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Engine metrics
	runs            *prometheus.CounterVec
	runDuration     prometheus.Histogram
	nodeDuration    *prometheus.HistogramVec
	handlerFailures *prometheus.CounterVec
	classifications *prometheus.CounterVec

	// External call metrics
	externalCalls        *prometheus.CounterVec
	externalCallDuration *prometheus.HistogramVec
	factCache            *prometheus.CounterVec

	// LLM metrics
	llmCalls   *prometheus.CounterVec
	llmTokens  *prometheus.CounterVec
	llmLatency *prometheus.HistogramVec
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Completed workflow runs",
		},
		[]string{"intent", "handler"},
	)

	e.runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "run_duration_seconds",
			Help:      "Workflow run latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
	)

	e.nodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "node_duration_seconds",
			Help:      "Graph node latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"node"},
	)

	e.handlerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "handler_failures_total",
			Help:      "Handler runs replaced by the fallback answer",
		},
		[]string{"handler"},
	)

	e.classifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "classifications_total",
			Help:      "Resolved intents by classification source",
		},
		[]string{"source", "intent"},
	)

	e.externalCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "external",
			Name:      "calls_total",
			Help:      "External provider calls by outcome",
		},
		[]string{"call", "outcome"},
	)

	e.externalCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "external",
			Name:      "call_duration_seconds",
			Help:      "External provider call latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"call"},
	)

	e.factCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "external",
			Name:      "fact_cache_lookups_total",
			Help:      "Fact cache lookups by result",
		},
		[]string{"result"},
	)

	e.llmCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Model calls by tier and status",
		},
		[]string{"tier", "status"},
	)

	e.llmTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Model tokens consumed",
		},
		[]string{"model", "token_type"},
	)

	e.llmLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "latency_seconds",
			Help:      "Model call latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"tier"},
	)

	registry.MustRegister(
		e.runs,
		e.runDuration,
		e.nodeDuration,
		e.handlerFailures,
		e.classifications,
		e.externalCalls,
		e.externalCallDuration,
		e.factCache,
		e.llmCalls,
		e.llmTokens,
		e.llmLatency,
	)

	return e
}

// ObserveRun records a completed run.
func (e *PrometheusExporter) ObserveRun(intent, handler string, d time.Duration) {
	e.runs.WithLabelValues(intent, handler).Inc()
	e.runDuration.Observe(d.Seconds())
}

// ObserveNode records the latency of one graph node.
func (e *PrometheusExporter) ObserveNode(node string, d time.Duration) {
	e.nodeDuration.WithLabelValues(node).Observe(d.Seconds())
}

// ObserveHandlerFailure counts a handler replaced by the fallback answer.
func (e *PrometheusExporter) ObserveHandlerFailure(handler string) {
	e.handlerFailures.WithLabelValues(handler).Inc()
}

// ObserveClassification counts a resolved intent.
func (e *PrometheusExporter) ObserveClassification(source, intent string) {
	e.classifications.WithLabelValues(source, intent).Inc()
}

// ObserveCall records one aggregator outcome. outcome is "success" or a failure kind.
func (e *PrometheusExporter) ObserveCall(name, outcome string, d time.Duration) {
	call := callFamily(name)
	e.externalCalls.WithLabelValues(call, outcome).Inc()
	e.externalCallDuration.WithLabelValues(call).Observe(d.Seconds())
}

// ObserveFactCache counts a fact cache lookup.
func (e *PrometheusExporter) ObserveFactCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	e.factCache.WithLabelValues(result).Inc()
}

// ObserveLLMCall records one model call and its token usage.
func (e *PrometheusExporter) ObserveLLMCall(tier llm.Tier, stats *llm.LLMCallStats, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	e.llmCalls.WithLabelValues(string(tier), status).Inc()
	e.llmLatency.WithLabelValues(string(tier)).Observe(d.Seconds())
	if stats == nil {
		return
	}
	e.llmTokens.WithLabelValues(stats.Model, "prompt").Add(float64(stats.PromptTokens))
	e.llmTokens.WithLabelValues(stats.Model, "completion").Add(float64(stats.CompletionTokens))
	if stats.CacheReadTokens > 0 {
		e.llmTokens.WithLabelValues(stats.Model, "cache_read").Add(float64(stats.CacheReadTokens))
	}
}

// callFamily drops the per-item suffix of fan-out call names ("icd10:fever" -> "icd10")
// so label cardinality stays bounded.
func callFamily(name string) string {
	if i := strings.IndexByte(name, ':'); i > 0 {
		return name[:i]
	}
	return name
}

// Handler returns an HTTP handler for the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// ServeHTTP implements http.Handler for the metrics endpoint.
func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.Handler().ServeHTTP(w, r)
}

// Registry returns the Prometheus registry.
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}

// ExportText renders counters and gauges as "name{labels} value" lines, sorted, for
// logs and the CLI. Histograms render their sample count.
func (e *PrometheusExporter) ExportText() (string, error) {
	families, err := e.registry.Gather()
	if err != nil {
		return "", err
	}

	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var sb strings.Builder
			sb.WriteString(mf.GetName())
			if len(m.GetLabel()) > 0 {
				labels := make([]string, 0, len(m.GetLabel()))
				for _, label := range m.GetLabel() {
					labels = append(labels, label.GetName()+"=\""+label.GetValue()+"\"")
				}
				sort.Strings(labels)
				sb.WriteString("{" + strings.Join(labels, ",") + "}")
			}
			sb.WriteString(" ")

			switch {
			case m.GetCounter() != nil:
				sb.WriteString(strconv.FormatFloat(m.GetCounter().GetValue(), 'f', -1, 64))
			case m.GetGauge() != nil:
				sb.WriteString(strconv.FormatFloat(m.GetGauge().GetValue(), 'f', -1, 64))
			case m.GetHistogram() != nil:
				sb.WriteString(strconv.FormatUint(m.GetHistogram().GetSampleCount(), 10))
			default:
				continue
			}
			lines = append(lines, sb.String())
		}
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n"), nil
}
