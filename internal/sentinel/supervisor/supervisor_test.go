package supervisor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"sentineld/internal/sentinel/cluster"
	"sentineld/internal/sentinel/dbprobe"
	"sentineld/internal/sentinel/store"
	"sentineld/internal/sentinel/taskerr"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// addrRoutedProber dispatches to a different Prober per target address, so
// one cluster's primary can be made to fail while another stays healthy.
type addrRoutedProber struct {
	byAddr map[string]dbprobe.Prober
}

func (p addrRoutedProber) Probe(ctx context.Context, addr, dbName string, role dbprobe.Role) (cluster.WalPosition, error) {
	return p.byAddr[addr].Probe(ctx, addr, dbName, role)
}

type alwaysFail struct{}

func (alwaysFail) Probe(context.Context, string, string, dbprobe.Role) (cluster.WalPosition, error) {
	return cluster.WalPosition{}, context.DeadlineExceeded
}

type alwaysOK struct{}

func (alwaysOK) Probe(context.Context, string, string, dbprobe.Role) (cluster.WalPosition, error) {
	return cluster.ParseWalPosition("0/10")
}

func seedCluster(t *testing.T, kv store.KV, prefix, name string, primaryIP, standbyIP string, retries int) {
	t.Helper()
	ctx := context.Background()

	cfg := kvConfig{
		DBName:       "app",
		Quorum:       2,
		Retries:      retries,
		IntervalGood: 1,
		IntervalFail: 1,
		LocationLag:  1000,
		Trigger:      "/tmp/trigger-" + name,
		SentinelName: "bus-" + name,
	}
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)

	base := prefix + "/" + name
	require.NoError(t, kv.Put(ctx, base+"/config", string(raw)))
	require.NoError(t, kv.Put(ctx, base+"/master/fqdn", name+"-primary"))
	require.NoError(t, kv.Put(ctx, base+"/master/ip", primaryIP))
	require.NoError(t, kv.Put(ctx, base+"/master/port", "5432"))
	require.NoError(t, kv.Put(ctx, base+"/slave/fqdn", name+"-standby"))
	require.NoError(t, kv.Put(ctx, base+"/slave/ip", standbyIP))
	require.NoError(t, kv.Put(ctx, base+"/slave/port", "5432"))
}

// TestChildDeathTerminatesEverything reproduces scenario 6: two clusters
// running (four tasks total), one HealthProbe exits fatally, and the
// Supervisor terminates every remaining task within one tick, surfacing
// the failing task's exit code.
func TestChildDeathTerminatesEverything(t *testing.T) {
	kv := store.NewMemoryKV()
	seedCluster(t, kv, "prefix", "clusterA", "10.0.0.1", "10.0.0.2", 1)
	seedCluster(t, kv, "prefix", "clusterB", "10.0.1.1", "10.0.1.2", 100)

	prober := addrRoutedProber{byAddr: map[string]dbprobe.Prober{
		"10.0.0.1:5432": alwaysFail{},
		"10.0.1.1:5432": alwaysOK{},
	}}

	logger, _ := test.NewNullLogger()

	sup := &Supervisor{
		KV: kv,
		NewBus: func(string) (store.Bus, error) {
			return store.NewMemoryBus(), nil
		},
		Prober:    prober,
		KVPrefix:  "prefix",
		LocalHost: "h1",
		Log:       logrus.FieldLogger(logger),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	code, err := sup.Run(ctx)
	require.Error(t, err)
	require.Equal(t, taskerr.CodeNoBaselineWAL, code)
}

func TestRunWithNoClustersIsFatal(t *testing.T) {
	kv := store.NewMemoryKV()
	logger, _ := test.NewNullLogger()

	sup := &Supervisor{
		KV:       kv,
		KVPrefix: "prefix",
		Log:      logrus.FieldLogger(logger),
	}

	code, err := sup.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, taskerr.CodeConfig, code)
}
