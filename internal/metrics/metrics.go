package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the orchestrator's Prometheus collectors. A fresh registry
// per instance keeps tests independent.
type Metrics struct {
	Registry *prometheus.Registry

	JobsAdmitted    prometheus.Counter
	JobsCompleted   prometheus.Counter
	JobsFailed      prometheus.Counter
	StageDispatched *prometheus.CounterVec
	StageCompleted  *prometheus.CounterVec
	EventsProcessed prometheus.Counter
	PoisonMessages  prometheus.Counter
	JobsByStatus    *prometheus.GaugeVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		JobsAdmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_jobs_admitted_total",
			Help: "Jobs accepted for processing.",
		}),
		JobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_jobs_completed_total",
			Help: "Jobs that finished all stages.",
		}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_jobs_failed_total",
			Help: "Jobs terminated by a stage failure.",
		}),
		StageDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_stage_dispatched_total",
			Help: "Stage task messages enqueued.",
		}, []string{"stage"}),
		StageCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_stage_completed_total",
			Help: "Stage completions applied.",
		}, []string{"stage"}),
		EventsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_events_processed_total",
			Help: "Events-queue messages handled.",
		}),
		PoisonMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_poison_messages_total",
			Help: "Events-queue messages discarded as unparseable or with an unknown stage or status.",
		}),
		JobsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipeline_jobs",
			Help: "Jobs currently tracked, by status.",
		}, []string{"status"}),
	}
}
