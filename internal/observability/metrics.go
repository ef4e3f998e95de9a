package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of AI requests by provider and operation",
		},
		[]string{"provider", "operation"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "operation"},
	)
	AIRequestFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_request_failures_total",
			Help: "Total number of failed AI requests by classification",
		},
		[]string{"provider", "operation", "kind"},
	)

	TasksEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_enqueued_total",
			Help: "Total number of tasks enqueued",
		},
		[]string{"queue"},
	)
	TasksProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tasks_processing",
			Help: "Number of tasks currently processing",
		},
		[]string{"queue"},
	)
	TasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_completed_total",
			Help: "Total number of tasks completed",
		},
		[]string{"queue"},
	)
	TasksFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_failed_total",
			Help: "Total number of tasks that ended in a permanent failure",
		},
		[]string{"queue"},
	)
	TasksRequeuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_requeued_total",
			Help: "Total number of tasks nacked with requeue",
		},
		[]string{"queue"},
	)
	TasksDeadLetteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_dead_lettered_total",
			Help: "Total number of tasks routed to a dead-letter topic",
		},
		[]string{"queue"},
	)

	SessionsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_sessions_completed_total",
			Help: "Total number of feedback sessions reaching a terminal status",
		},
		[]string{"status"},
	)
	PurchaseIntentHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feedback_purchase_intent",
			Help:    "Distribution of purchase intent scores ([1,10])",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		},
	)
)

// InitMetrics registers all collectors. Call once per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(AIRequestsTotal)
	prometheus.MustRegister(AIRequestDuration)
	prometheus.MustRegister(AIRequestFailures)
	prometheus.MustRegister(TasksEnqueuedTotal)
	prometheus.MustRegister(TasksProcessing)
	prometheus.MustRegister(TasksCompletedTotal)
	prometheus.MustRegister(TasksFailedTotal)
	prometheus.MustRegister(TasksRequeuedTotal)
	prometheus.MustRegister(TasksDeadLetteredTotal)
	prometheus.MustRegister(SessionsCompletedTotal)
	prometheus.MustRegister(PurchaseIntentHistogram)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

// EnqueueTask records one published task.
func EnqueueTask(queue string) { TasksEnqueuedTotal.WithLabelValues(queue).Inc() }

// StartTask records one task entering processing.
func StartTask(queue string) { TasksProcessing.WithLabelValues(queue).Inc() }

// CompleteTask records one task finishing successfully.
func CompleteTask(queue string) {
	TasksProcessing.WithLabelValues(queue).Dec()
	TasksCompletedTotal.WithLabelValues(queue).Inc()
}

// FailTask records a permanent task failure.
func FailTask(queue string) {
	TasksProcessing.WithLabelValues(queue).Dec()
	TasksFailedTotal.WithLabelValues(queue).Inc()
}

// RequeueTask records a nack-with-requeue.
func RequeueTask(queue string) {
	TasksProcessing.WithLabelValues(queue).Dec()
	TasksRequeuedTotal.WithLabelValues(queue).Inc()
}

// DeadLetterTask records a task routed to the DLQ.
func DeadLetterTask(queue string) { TasksDeadLetteredTotal.WithLabelValues(queue).Inc() }
