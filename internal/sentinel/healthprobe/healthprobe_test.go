package healthprobe

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"sentineld/internal/sentinel/cluster"
	"sentineld/internal/sentinel/dbprobe"
	"sentineld/internal/sentinel/elector"
	"sentineld/internal/sentinel/store"
	"sentineld/internal/sentinel/taskerr"
)

type scriptedProber struct {
	responses []func() (cluster.WalPosition, error)
	calls     int32
}

func (p *scriptedProber) Probe(context.Context, string, string, dbprobe.Role) (cluster.WalPosition, error) {
	idx := int(atomic.AddInt32(&p.calls, 1)) - 1
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	return p.responses[idx]()
}

func ok(pos string) func() (cluster.WalPosition, error) {
	return func() (cluster.WalPosition, error) { return cluster.ParseWalPosition(pos) }
}

func fail() func() (cluster.WalPosition, error) {
	return func() (cluster.WalPosition, error) { return cluster.WalPosition{}, errors.New("connection refused") }
}

func newTestProbe(c cluster.Cluster, prober dbprobe.Prober, bus store.Bus) *HealthProbe {
	logger, _ := test.NewNullLogger()
	return &HealthProbe{
		Cluster:   c,
		LocalHost: "h1",
		Prober:    prober,
		Bus:       bus,
		Log:       logrus.FieldLogger(logger),
	}
}

func testClusterConfig() cluster.Cluster {
	return cluster.Cluster{
		Name:    "pg1",
		Primary: cluster.Endpoint{FQDN: "pg-m", IP: "10.0.0.1", Port: "5432"},
		Config: cluster.Config{
			DBName:       "app",
			Quorum:       2,
			Retries:      3,
			IntervalGood: 20 * time.Millisecond,
			IntervalFail: 20 * time.Millisecond,
			LocationLag:  1000,
			Trigger:      "/tmp/trigger",
			BusEndpoint:  "bus",
		},
	}
}

// TestSDownWithoutBaselineExitsFatally reproduces scenario 5: retries is
// reached before any valid WAL position was observed, so the probe exits
// with CodeNoBaselineWAL rather than publish a truthless +SDOWN.
func TestSDownWithoutBaselineExitsFatally(t *testing.T) {
	bus := store.NewMemoryBus()
	prober := &scriptedProber{responses: []func() (cluster.WalPosition, error){fail(), fail(), fail()}}
	hp := newTestProbe(testClusterConfig(), prober, bus)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := hp.Run(ctx)
	require.Error(t, err)
	require.Equal(t, taskerr.CodeNoBaselineWAL, taskerr.ExitCode(err))
}

// TestSDownPublishedOnceThenRearmed covers the publish-latch and -SDOWN
// re-arm behavior: once SDOWN is published, further failures do not
// re-publish, and a later success publishes exactly one -SDOWN.
func TestSDownPublishedOnceThenRearmed(t *testing.T) {
	bus := store.NewMemoryBus()
	prober := &scriptedProber{responses: []func() (cluster.WalPosition, error){
		ok("0/50"),
		fail(), fail(), fail(), fail(), fail(),
		ok("0/60"),
	}}
	hp := newTestProbe(testClusterConfig(), prober, bus)

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := bus.Subscribe(ctx, elector.ChannelForCluster("pg1"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- hp.Run(ctx) }()

	recvCtx, recvCancel := context.WithTimeout(context.Background(), time.Second)
	defer recvCancel()
	msg1, err := sub.Recv(recvCtx)
	require.NoError(t, err)
	require.Equal(t, "+SDOWN pg-m h1 0/50", msg1.Payload)

	recvCtx2, recvCancel2 := context.WithTimeout(context.Background(), time.Second)
	defer recvCancel2()
	msg2, err := sub.Recv(recvCtx2)
	require.NoError(t, err)
	require.Equal(t, "-SDOWN pg-m h1", msg2.Payload)

	cancel()
	select {
	case runErr := <-done:
		require.NoError(t, runErr)
	case <-time.After(time.Second):
		t.Fatal("probe did not stop on cancellation")
	}
}
