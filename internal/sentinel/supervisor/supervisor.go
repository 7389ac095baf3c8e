// Package supervisor implements the Supervisor component: it loads
// per-cluster configuration from the KV store, starts one (HealthProbe,
// Elector) pair per cluster, and terminates every task the moment any one
// of them exits. The "goroutine that reports its own completion" shape is
// grounded on internal/praefect/nodes/sql_elector.go's monitor goroutine
// paired with the error-log pattern in cmd/praefect/main.go.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"sentineld/internal/dontpanic"
	"sentineld/internal/sentinel/cluster"
	"sentineld/internal/sentinel/dbprobe"
	"sentineld/internal/sentinel/elector"
	"sentineld/internal/sentinel/healthprobe"
	"sentineld/internal/sentinel/metrics"
	"sentineld/internal/sentinel/store"
	"sentineld/internal/sentinel/taskerr"
)

// kvConfig mirrors the JSON object stored at <prefix>/<cluster>/config.
type kvConfig struct {
	DBName       string `json:"dbname"`
	Quorum       int    `json:"quorum"`
	Retries      int    `json:"retries"`
	IntervalGood int    `json:"interval_good"`
	IntervalFail int    `json:"interval_fail"`
	LocationLag  uint64 `json:"location_lag"`
	Trigger      string `json:"trigger"`
	SentinelName string `json:"sentinel_name"`
}

// Supervisor owns the lifetime of every cluster's HealthProbe/Elector pair.
type Supervisor struct {
	KV        store.KV
	NewBus    func(busEndpoint string) (store.Bus, error)
	Prober    dbprobe.Prober
	KVPrefix  string
	LocalHost string
	Log       logrus.FieldLogger
}

// taskExit is what one supervised goroutine reports when it stops, whether
// cleanly or fatally.
type taskExit struct {
	cluster string
	task    string
	err     error
}

// Run enumerates clusters under KVPrefix, starts a HealthProbe and Elector
// per cluster, and blocks until either ctx is cancelled or any task exits,
// in which case it cancels every remaining task and returns the exit code
// that should be reported to the OS.
func (s *Supervisor) Run(ctx context.Context) (taskerr.Code, error) {
	names, err := s.KV.ListChildren(ctx, s.KVPrefix)
	if err != nil {
		return taskerr.CodeConfig, fmt.Errorf("list clusters under %s: %w", s.KVPrefix, err)
	}
	if len(names) == 0 {
		return taskerr.CodeConfig, fmt.Errorf("no clusters configured under %s", s.KVPrefix)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	exits := make(chan taskExit, len(names)*2)
	var wg sync.WaitGroup

	for _, name := range names {
		c, bus, err := s.loadCluster(runCtx, name)
		if err != nil {
			return taskerr.CodeConfig, fmt.Errorf("load cluster %q: %w", name, err)
		}

		s.Log.WithField("cluster", name).
			WithField("primary", c.Primary.Addr()).
			WithField("standby", c.Standby.Addr()).
			Info("starting cluster tasks")

		hp := &healthprobe.HealthProbe{
			Cluster:   *c,
			LocalHost: s.LocalHost,
			Prober:    s.Prober,
			Bus:       bus,
			Log:       s.Log,
		}
		el := &elector.Elector{
			Cluster:   c,
			LocalHost: s.LocalHost,
			Prober:    s.Prober,
			Bus:       bus,
			KV:        s.KV,
			KVPrefix:  s.KVPrefix,
			Log:       s.Log,
		}

		s.launch(runCtx, &wg, exits, name, "healthprobe", hp.Run)
		s.launch(runCtx, &wg, exits, name, "elector", el.Run)
	}

	var first taskExit
	select {
	case first = <-exits:
	case <-ctx.Done():
		cancel()
		wg.Wait()
		return taskerr.CodeOK, nil
	}

	s.Log.WithField("cluster", first.cluster).WithField("task", first.task).WithError(first.err).
		Warn("task exited, terminating all remaining tasks")

	cancel()
	wg.Wait()
	close(exits)

	if first.err == nil {
		return taskerr.CodeOK, nil
	}
	return taskerr.ExitCode(first.err), first.err
}

// launch wraps fn with internal/dontpanic.Go so that a panic is reported to
// Sentry and still surfaces as a task exit, then forwards the outcome onto
// exits exactly once.
func (s *Supervisor) launch(ctx context.Context, wg *sync.WaitGroup, exits chan<- taskExit, clusterName, task string, fn func(context.Context) error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		done := dontpanic.Go(func() error { return fn(ctx) })
		err := <-done
		reason := "ok"
		if err != nil {
			reason = taskerr.ExitCode(err).String()
		}
		metrics.TaskExitsTotal.WithLabelValues(clusterName, task, reason).Inc()
		exits <- taskExit{cluster: clusterName, task: task, err: err}
	}()
}

// loadCluster reads one cluster's Config and endpoints from the KV store
// and dials its bus. A coincident primary/standby IP is a fatal
// configuration error per the Supervisor contract.
func (s *Supervisor) loadCluster(ctx context.Context, name string) (*cluster.Cluster, store.Bus, error) {
	base := s.KVPrefix + "/" + name

	rawConfig, err := s.KV.Get(ctx, base+"/config")
	if err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}
	var kc kvConfig
	if err := json.Unmarshal([]byte(rawConfig), &kc); err != nil {
		return nil, nil, fmt.Errorf("parse config: %w", err)
	}

	primary, err := s.loadEndpoint(ctx, base+"/master")
	if err != nil {
		return nil, nil, fmt.Errorf("read primary endpoint: %w", err)
	}
	standby, err := s.loadEndpoint(ctx, base+"/slave")
	if err != nil {
		return nil, nil, fmt.Errorf("read standby endpoint: %w", err)
	}
	if primary.IP == standby.IP {
		return nil, nil, fmt.Errorf("primary and standby IPs coincide: %s", primary.IP)
	}

	c := &cluster.Cluster{
		Name:    name,
		Primary: primary,
		Standby: standby,
		Config: cluster.Config{
			DBName:       kc.DBName,
			Quorum:       kc.Quorum,
			Retries:      kc.Retries,
			IntervalGood: intervalOrDefault(kc.IntervalGood),
			IntervalFail: intervalOrDefault(kc.IntervalFail),
			LocationLag:  kc.LocationLag,
			Trigger:      kc.Trigger,
			BusEndpoint:  kc.SentinelName,
		},
	}
	if err := c.Config.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	bus, err := s.NewBus(c.Config.BusEndpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("dial bus %s: %w", c.Config.BusEndpoint, err)
	}

	return c, bus, nil
}

func (s *Supervisor) loadEndpoint(ctx context.Context, base string) (cluster.Endpoint, error) {
	fqdn, err := s.KV.Get(ctx, base+"/fqdn")
	if err != nil {
		return cluster.Endpoint{}, err
	}
	ip, err := s.KV.Get(ctx, base+"/ip")
	if err != nil {
		return cluster.Endpoint{}, err
	}
	port, err := s.KV.Get(ctx, base+"/port")
	if err != nil {
		return cluster.Endpoint{}, err
	}
	return cluster.Endpoint{FQDN: fqdn, IP: ip, Port: port}, nil
}

// intervalOrDefault converts a KV-stored interval in whole seconds to a
// time.Duration, defaulting to 1s for a non-positive or missing value.
func intervalOrDefault(seconds int) time.Duration {
	if seconds <= 0 {
		return time.Second
	}
	return time.Duration(seconds) * time.Second
}

// LocalHostname resolves the local hostname used as this instance's voter
// identity, falling back to a generated name when os.Hostname fails, the
// way internal/praefect/nodes.GeneratePraefectName falls back to a
// uuid-suffixed name rather than a fixed placeholder.
func LocalHostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "sentineld-" + uuid.New().String()
	}
	return name
}
