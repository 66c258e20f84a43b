package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsCreated counts every job ever created
	JobsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_jobs_created_total",
			Help: "Total number of jobs created",
		},
	)

	// JobsFinished counts terminal transitions by status
	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_jobs_finished_total",
			Help: "Total number of jobs that reached a terminal status",
		},
		[]string{"status"}, // "completed", "failed", "cancelled"
	)

	// JobsActive tracks pending plus running jobs
	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_jobs_active",
			Help: "Current number of pending or running jobs",
		},
	)

	// JobsReaped counts jobs removed by retention
	JobsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_jobs_reaped_total",
			Help: "Total number of terminal jobs removed after the retention period",
		},
	)
)
