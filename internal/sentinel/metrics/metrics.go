// Package metrics registers the Prometheus collectors sentineld exposes,
// following the promauto registration style of
// internal/praefect/metrics/prometheus.go.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"sentineld/internal/sentinel/cluster"
)

var allElectorStates = []cluster.ElectorState{
	cluster.Watching,
	cluster.DeclaredODown,
	cluster.SelectedSelf,
	cluster.Promoting,
	cluster.Done,
}

// SdownTotal counts +SDOWN/-SDOWN transitions a HealthProbe has published,
// labeled by cluster and direction ("up"/"down").
var SdownTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentineld",
		Subsystem: "healthprobe",
		Name:      "sdown_total",
		Help:      "Count of +SDOWN/-SDOWN events published by this instance's HealthProbe.",
	},
	[]string{"cluster", "direction"},
)

// ProbeFailuresTotal counts consecutive probe failures observed, labeled by
// cluster.
var ProbeFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentineld",
		Subsystem: "healthprobe",
		Name:      "probe_failures_total",
		Help:      "Count of failed primary probes.",
	},
	[]string{"cluster"},
)

// LastKnownXlogBytes exposes the HealthProbe's cached last-known WAL
// position as a monotonically non-decreasing byte count, labeled by
// cluster.
var LastKnownXlogBytes = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "sentineld",
		Subsystem: "healthprobe",
		Name:      "last_known_xlog_bytes",
		Help:      "Last-known primary WAL position, as a flattened byte offset.",
	},
	[]string{"cluster"},
)

// ElectorStateGauge is 1 for the ElectorState this Elector currently holds
// for a cluster and 0 for every other state, labeled by cluster and state.
var ElectorStateGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "sentineld",
		Subsystem: "elector",
		Name:      "state",
		Help:      "1 for the current ElectorState of a cluster, 0 otherwise.",
	},
	[]string{"cluster", "state"},
)

// VotesTotal counts +SDOWN/+SELECT votes tallied by the Elector, labeled by
// cluster and phase.
var VotesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentineld",
		Subsystem: "elector",
		Name:      "votes_total",
		Help:      "Count of votes tallied toward quorum.",
	},
	[]string{"cluster", "phase"},
)

// PromotionsTotal counts completed promotions, labeled by cluster.
var PromotionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentineld",
		Subsystem: "elector",
		Name:      "promotions_total",
		Help:      "Count of promotions this instance drove to completion.",
	},
	[]string{"cluster"},
)

// StandbyLagBytes observes the computed lag during the standby-viability
// check, labeled by cluster.
var StandbyLagBytes = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "sentineld",
		Subsystem: "elector",
		Name:      "standby_lag_bytes",
		Help:      "Most recently computed standby lag, in bytes.",
	},
	[]string{"cluster"},
)

// TaskExitsTotal counts HealthProbe/Elector task exits observed by the
// Supervisor, labeled by cluster, task kind, and exit reason.
var TaskExitsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentineld",
		Subsystem: "supervisor",
		Name:      "task_exits_total",
		Help:      "Count of task exits observed by the Supervisor.",
	},
	[]string{"cluster", "task", "reason"},
)

// SetElectorState sets the ElectorStateGauge so exactly one state value is
// 1 for the given cluster.
func SetElectorState(clusterName string, current cluster.ElectorState) {
	for _, s := range allElectorStates {
		val := 0.0
		if s == current {
			val = 1
		}
		ElectorStateGauge.WithLabelValues(clusterName, s.String()).Set(val)
	}
}
