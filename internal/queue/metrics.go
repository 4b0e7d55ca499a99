package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ragserver_jobs_enqueued_total",
		Help: "Jobs pushed onto a class queue",
	}, []string{"queue"})

	jobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ragserver_jobs_completed_total",
		Help: "Jobs finished successfully",
	})

	jobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ragserver_jobs_failed_total",
		Help: "Jobs finished with an error",
	})
)
