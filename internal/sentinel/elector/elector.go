package elector

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"sentineld/internal/sentinel/cluster"
	"sentineld/internal/sentinel/dbprobe"
	"sentineld/internal/sentinel/metrics"
	"sentineld/internal/sentinel/store"
	"sentineld/internal/sentinel/taskerr"
)

const viabilityDeadline = 5 * time.Second

// Elector consumes one cluster's channel and drives the promotion protocol.
// It is a switch-driven state machine over a strictly-ordered event stream,
// the same shape as internal/praefect/nodes/sql_elector.go's
// checkNodes/validateAndUpdatePrimary pair: quorum counting, one-way
// latches, setPrimary.
type Elector struct {
	Cluster   *cluster.Cluster
	LocalHost string
	Prober    dbprobe.Prober
	Bus       store.Bus
	KV        store.KV
	KVPrefix  string
	Trigger   func(path string) error
	Log       logrus.FieldLogger

	state           cluster.ElectorState
	votedSDown      *cluster.VoteSet
	votedSelect     *cluster.VoteSet
	lastKnownXlog   cluster.WalPosition
	publishedODown  bool
	publishedSelect bool
}

// createTriggerFile is the default Trigger implementation: it creates a
// zero-length file at path.
func createTriggerFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	return f.Close()
}

// Run blocks, processing messages on the cluster's bus channel, until
// +NEWMASTER is observed or published (clean exit, nil error), ctx is
// cancelled (clean exit, nil error), or a fatal condition is reached
// (non-nil *taskerr.Fatal).
func (e *Elector) Run(ctx context.Context) error {
	if e.Trigger == nil {
		e.Trigger = createTriggerFile
	}
	e.state = cluster.Watching
	e.votedSDown = cluster.NewVoteSet()
	e.votedSelect = cluster.NewVoteSet()

	log := e.Log.WithField("component", "elector").WithField("cluster", e.Cluster.Name)
	metrics.SetElectorState(e.Cluster.Name, e.state)

	channel := ChannelForCluster(e.Cluster.Name)
	sub, err := e.Bus.Subscribe(ctx, channel)
	if err != nil {
		return taskerr.New(taskerr.CodeConfig, fmt.Errorf("subscribe to %s: %w", channel, err))
	}
	defer sub.Close()

	for {
		raw, err := sub.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return taskerr.New(taskerr.CodeConfig, fmt.Errorf("receive from %s: %w", channel, err))
		}

		if recovered, ok := ClusterFromChannel(raw.Channel); !ok || recovered != e.Cluster.Name {
			log.WithField("channel", raw.Channel).Warn("discarding message from unrecognized channel")
			continue
		}

		msg, err := Parse(raw.Payload)
		if err != nil {
			log.WithError(err).Warn("discarding malformed bus message")
			continue
		}

		done, fatalErr := e.handle(ctx, log, msg)
		if fatalErr != nil {
			return fatalErr
		}
		if done {
			return nil
		}
	}
}

// handle processes one parsed message, returning (true, nil) on clean
// termination and (false, err) when err is a fatal condition.
func (e *Elector) handle(ctx context.Context, log logrus.FieldLogger, msg Message) (bool, error) {
	switch msg.Kind {
	case KindSDown:
		return false, e.handleSDown(ctx, log, msg)
	case KindSDownUp:
		e.votedSDown.Remove(msg.VoterHost)
		return false, nil
	case KindODown:
		return false, e.handleODown(ctx, log, msg)
	case KindSelect:
		err := e.handleSelect(ctx, log, msg)
		return e.state == cluster.Done, err
	case KindNewMaster:
		log.Info("received +NEWMASTER, terminating")
		e.setState(log, cluster.Done)
		return true, nil
	default:
		log.WithField("kind", msg.Kind).Warn("ignoring unrecognized message kind")
		return false, nil
	}
}

func (e *Elector) handleSDown(ctx context.Context, log logrus.FieldLogger, msg Message) error {
	e.votedSDown.Add(msg.VoterHost)

	if pos, err := cluster.ParseWalPosition(msg.WalPos); err == nil {
		e.lastKnownXlog = cluster.Max(e.lastKnownXlog, pos)
	} else {
		log.WithError(err).WithField("voter", msg.VoterHost).Warn("ignoring +SDOWN with malformed wal position")
	}

	metrics.VotesTotal.WithLabelValues(e.Cluster.Name, "sdown").Inc()

	if e.votedSDown.Len() >= e.Cluster.Config.Quorum && !e.publishedODown {
		line := FormatODown(e.Cluster.Primary.FQDN, e.LocalHost)
		if err := e.Bus.Publish(ctx, ChannelForCluster(e.Cluster.Name), line); err != nil {
			return taskerr.New(taskerr.CodeConfig, fmt.Errorf("publish +ODOWN: %w", err))
		}
		e.publishedODown = true
		e.setState(log, cluster.DeclaredODown)
		log.Warn("published +ODOWN")
	}

	return nil
}

func (e *Elector) handleODown(ctx context.Context, log logrus.FieldLogger, msg Message) error {
	if e.state == cluster.Watching {
		e.setState(log, cluster.DeclaredODown)
	}

	if e.publishedSelect {
		return nil
	}

	standby, err := e.fetchStandby(ctx)
	if err != nil {
		return taskerr.New(taskerr.CodeConfig, fmt.Errorf("fetch standby endpoint: %w", err))
	}

	viable, lag, err := e.checkStandbyViability(ctx, standby)
	if err != nil {
		return err
	}

	metrics.StandbyLagBytes.WithLabelValues(e.Cluster.Name).Set(float64(lag))

	if !viable {
		log.WithField("lag_bytes", lag).WithField("threshold_bytes", e.Cluster.Config.LocationLag).
			Warn("standby lag exceeds threshold, stalling promotion")
		return nil
	}

	line := FormatSelect(standby.FQDN, e.LocalHost)
	if err := e.Bus.Publish(ctx, ChannelForCluster(e.Cluster.Name), line); err != nil {
		return taskerr.New(taskerr.CodeConfig, fmt.Errorf("publish +SELECT: %w", err))
	}
	e.publishedSelect = true
	if standby.FQDN == e.LocalHost {
		e.setState(log, cluster.SelectedSelf)
	}
	log.WithField("candidate", standby.FQDN).Info("published +SELECT")

	return nil
}

// checkStandbyViability opens a fresh connection to the standby, reads its
// last-received WAL position, and compares it against the cached
// last-known primary position. The computed lag is read into a local once
// and reused for both the log line and the comparison, never recomputed.
func (e *Elector) checkStandbyViability(ctx context.Context, standby cluster.Endpoint) (bool, uint64, error) {
	probeCtx, cancel := context.WithTimeout(ctx, viabilityDeadline)
	defer cancel()

	standbyPos, err := e.Prober.Probe(probeCtx, standby.Addr(), e.Cluster.Config.DBName, dbprobe.RoleStandby)
	if err != nil {
		return false, 0, taskerr.New(taskerr.CodeMalformedStandbyWAL, fmt.Errorf("read standby wal position: %w", err))
	}

	lag := e.lastKnownXlog.Diff(standbyPos)
	return lag <= e.Cluster.Config.LocationLag, lag, nil
}

func (e *Elector) handleSelect(ctx context.Context, log logrus.FieldLogger, msg Message) error {
	if msg.Candidate != e.LocalHost {
		return nil
	}

	e.votedSelect.Add(msg.VoterHost)
	metrics.VotesTotal.WithLabelValues(e.Cluster.Name, "select").Inc()

	if e.votedSelect.Len() < e.Cluster.Config.Quorum || e.state == cluster.Promoting || e.state == cluster.Done {
		return nil
	}

	e.setState(log, cluster.Promoting)
	log.Info("quorum +SELECT reached, promoting")

	if err := e.Trigger(e.Cluster.Config.Trigger); err != nil {
		log.WithError(err).Error("failed to create trigger file")
	}

	e.Cluster.Promote()
	if err := e.rewriteKVPrimary(ctx); err != nil {
		log.WithError(err).Error("failed to rewrite KV primary endpoint")
	}

	if err := e.Bus.Publish(ctx, ChannelForCluster(e.Cluster.Name), FormatNewMaster()); err != nil {
		log.WithError(err).Error("failed to publish +NEWMASTER")
	}

	metrics.PromotionsTotal.WithLabelValues(e.Cluster.Name).Inc()
	e.setState(log, cluster.Done)
	return nil
}

func (e *Elector) fetchStandby(ctx context.Context) (cluster.Endpoint, error) {
	base := e.KVPrefix + "/" + e.Cluster.Name + "/slave/"
	fqdn, err := e.KV.Get(ctx, base+"fqdn")
	if err != nil {
		return cluster.Endpoint{}, err
	}
	ip, err := e.KV.Get(ctx, base+"ip")
	if err != nil {
		return cluster.Endpoint{}, err
	}
	port, err := e.KV.Get(ctx, base+"port")
	if err != nil {
		return cluster.Endpoint{}, err
	}
	return cluster.Endpoint{FQDN: fqdn, IP: ip, Port: port}, nil
}

func (e *Elector) rewriteKVPrimary(ctx context.Context) error {
	base := e.KVPrefix + "/" + e.Cluster.Name + "/master/"
	if err := e.KV.Put(ctx, base+"fqdn", e.Cluster.Primary.FQDN); err != nil {
		return err
	}
	if err := e.KV.Put(ctx, base+"ip", e.Cluster.Primary.IP); err != nil {
		return err
	}
	return e.KV.Put(ctx, base+"port", e.Cluster.Primary.Port)
}

func (e *Elector) setState(log logrus.FieldLogger, s cluster.ElectorState) {
	e.state = s
	metrics.SetElectorState(e.Cluster.Name, s)
	log.WithField("state", s.String()).Debug("elector state transition")
}
