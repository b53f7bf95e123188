package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("metrics", fx.Provide(New))

// Metrics owns its registry so every process (and every test) gets an
// independent set of collectors.
type Metrics struct {
	registry *prometheus.Registry

	TasksCreated      prometheus.Counter
	TasksFinished     *prometheus.CounterVec
	TaskDuration      prometheus.Histogram
	StatusWriteErrors prometheus.Counter
	CallbackAttempts  *prometheus.CounterVec
	CallbackOutcomes  *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		TasksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tasks_created_total",
			Help: "Tasks persisted and dispatched.",
		}),
		TasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasks_finished_total",
			Help: "Executions that reached a terminal status.",
		}, []string{"status"}),
		TaskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "task_execution_seconds",
			Help:    "Wall time of task executions.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		StatusWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "task_status_write_errors_total",
			Help: "Status updates that could not be written to the store.",
		}),
		CallbackAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callback_attempts_total",
			Help: "Callback POST attempts by outcome class.",
		}, []string{"outcome"}),
		CallbackOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callback_deliveries_total",
			Help: "Final callback delivery results.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.TasksCreated,
		m.TasksFinished,
		m.TaskDuration,
		m.StatusWriteErrors,
		m.CallbackAttempts,
		m.CallbackOutcomes,
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
