package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the outage tracker.
type Metrics struct {
	// Reconciler metrics
	ReconcileRunsTotal   *prometheus.CounterVec
	AnnouncementsPosted  prometheus.Counter
	AnnouncementsUpdated prometheus.Counter
	ChangeCommentsPosted prometheus.Counter
	LockContentionsTotal prometheus.Counter
	ReconcileQueueDepth  prometheus.Gauge

	// Sweep metrics
	SweepRunsTotal          *prometheus.CounterVec
	SweepNotificationsTotal *prometheus.CounterVec

	// Ingest metrics
	AlertsIngestedTotal  *prometheus.CounterVec
	AlertsDuplicateTotal *prometheus.CounterVec

	// API metrics
	HTTPRequestsTotal *prometheus.CounterVec
}

// New creates all metrics and registers them with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ReconcileRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_reconcile_runs_total",
				Help: "Total number of announcement reconcile runs by outcome",
			},
			[]string{"outcome"},
		),
		AnnouncementsPosted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tracker_announcements_posted_total",
				Help: "Total number of initial announcement messages posted",
			},
		),
		AnnouncementsUpdated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tracker_announcements_updated_total",
				Help: "Total number of announcement messages updated in place",
			},
		),
		ChangeCommentsPosted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tracker_change_comments_posted_total",
				Help: "Total number of change narratives posted to announcement threads",
			},
		),
		LockContentionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tracker_reconcile_lock_contentions_total",
				Help: "Total number of reconcile runs abandoned because another writer held the row lock",
			},
		),
		ReconcileQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracker_reconcile_queue_depth",
				Help: "Current number of queued reconcile requests",
			},
		),
		SweepRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_sweep_runs_total",
				Help: "Total number of notification sweep runs by sweep name",
			},
			[]string{"sweep"},
		),
		SweepNotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_sweep_notifications_total",
				Help: "Total number of notifications delivered by sweeps",
			},
			[]string{"sweep", "channel"},
		),
		AlertsIngestedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_alerts_ingested_total",
				Help: "Total number of alert events recorded",
			},
			[]string{"monitoring_system"},
		),
		AlertsDuplicateTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_alerts_duplicate_total",
				Help: "Total number of alert events skipped as already recorded",
			},
			[]string{"monitoring_system"},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_http_requests_total",
				Help: "Total number of HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
	}
}

// NewForTesting creates metrics on a private registry.
func NewForTesting() *Metrics {
	return New(prometheus.NewRegistry())
}
