// Package healthprobe implements the HealthProbe component: a perpetual
// probe loop against a cluster's primary that publishes +SDOWN/-SDOWN
// transitions onto the cluster's bus channel. The loop shape (sleep-driven,
// per-iteration deadline, failure counter, publish latch) is grounded on
// internal/praefect/nodes/sql_elector.go's monitor/checkNodes loop and on
// the GoRedis sentinel's checkMasterHealth down-since tracking.
package healthprobe

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"sentineld/internal/sentinel/cluster"
	"sentineld/internal/sentinel/dbprobe"
	"sentineld/internal/sentinel/elector"
	"sentineld/internal/sentinel/metrics"
	"sentineld/internal/sentinel/store"
	"sentineld/internal/sentinel/taskerr"
)

const probeDeadline = 5 * time.Second

// HealthProbe runs the perpetual probe loop for one cluster.
type HealthProbe struct {
	Cluster   cluster.Cluster
	LocalHost string
	Prober    dbprobe.Prober
	Bus       store.Bus
	Log       logrus.FieldLogger
}

// Run blocks until ctx is cancelled or a fatal condition is reached. A nil
// return means ctx was cancelled (a clean Supervisor-driven shutdown); a
// non-nil return is always a *taskerr.Fatal.
func (h *HealthProbe) Run(ctx context.Context) error {
	log := h.Log.WithField("component", "healthprobe").WithField("cluster", h.Cluster.Name)

	channel := elector.ChannelForCluster(h.Cluster.Name)

	var (
		haveBaseline   bool
		lastKnown      cluster.WalPosition
		failures       int
		sdownPublished bool
	)

	for {
		if ctx.Err() != nil {
			return nil
		}

		pos, err := h.probeOnce(ctx)
		if err != nil {
			failures++
			metrics.ProbeFailuresTotal.WithLabelValues(h.Cluster.Name).Inc()
			log.WithError(err).WithField("failures", failures).Warn("primary probe failed")

			if failures < h.Cluster.Config.Retries {
				if !h.sleep(ctx, h.Cluster.Config.IntervalFail) {
					return nil
				}
				continue
			}

			if !haveBaseline {
				return taskerr.New(taskerr.CodeNoBaselineWAL, err)
			}

			if !sdownPublished {
				msg := elector.FormatSDown(h.Cluster.Primary.FQDN, h.LocalHost, lastKnown.String())
				if pubErr := h.Bus.Publish(ctx, channel, msg); pubErr != nil {
					log.WithError(pubErr).Error("failed to publish +SDOWN")
				} else {
					sdownPublished = true
					metrics.SdownTotal.WithLabelValues(h.Cluster.Name, "down").Inc()
					log.Warn("published +SDOWN")
				}
			}

			if !h.sleep(ctx, h.Cluster.Config.IntervalFail) {
				return nil
			}
			continue
		}

		haveBaseline = true
		lastKnown = cluster.Max(lastKnown, pos)
		metrics.LastKnownXlogBytes.WithLabelValues(h.Cluster.Name).Set(float64(lastKnown.Diff(cluster.WalPosition{})))
		failures = 0

		if sdownPublished {
			msg := elector.FormatSDownUp(h.Cluster.Primary.FQDN, h.LocalHost)
			if pubErr := h.Bus.Publish(ctx, channel, msg); pubErr != nil {
				log.WithError(pubErr).Error("failed to publish -SDOWN")
			} else {
				sdownPublished = false
				metrics.SdownTotal.WithLabelValues(h.Cluster.Name, "up").Inc()
				log.Info("published -SDOWN")
			}
		}

		if !h.sleep(ctx, h.Cluster.Config.IntervalGood) {
			return nil
		}
	}
}

// probeOnce reads the primary's current WAL position under a 5s deadline.
// A malformed result is treated as a transient failure per spec: the very
// first observation being malformed must not publish SDOWN, which falls
// out naturally from the failure-counter path.
func (h *HealthProbe) probeOnce(ctx context.Context) (cluster.WalPosition, error) {
	ctx, cancel := context.WithTimeout(ctx, probeDeadline)
	defer cancel()

	return h.Prober.Probe(ctx, h.Cluster.Primary.Addr(), h.Cluster.Config.DBName, dbprobe.RolePrimary)
}

// sleep blocks for d or until ctx is cancelled, reporting false in the
// latter case so callers can unwind immediately.
func (h *HealthProbe) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
