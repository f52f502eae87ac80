// Package metrics объявляет метрики Prometheus сервисов.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkflowRuns исходы выполнения экземпляров сценариев.
	WorkflowRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_runs_total",
		Help: "Workflow executions by result.",
	}, []string{"workflow", "result"})

	// WorkflowSteps выполненные (не воспроизведённые) шаги и таймеры.
	WorkflowSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_steps_total",
		Help: "Durable steps and timers recorded.",
	}, []string{"kind"})

	// WorkflowDispatched экземпляры, повторно отправленные в очередь диспетчером.
	WorkflowDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "workflow_dispatched_total",
		Help: "Due workflow runs re-enqueued by the dispatcher.",
	})

	// RemindersFired отправленные напоминания по числу дней до продления.
	RemindersFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reminders_fired_total",
		Help: "Renewal reminders published.",
	}, []string{"days_before"})

	// SubscriptionsExpired подписки, переведённые в expired.
	SubscriptionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subscriptions_expired_total",
		Help: "Subscriptions marked expired by the sweep.",
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by method and status.",
	}, []string{"method", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)

// Middleware считает запросы и их длительность.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequests.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}
