package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, ioutil.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestFromFileDefaults(t *testing.T) {
	path := writeConfigFile(t, `
[database]
host = "127.0.0.1"
dbname = "sentineld"
`)

	cfg, err := FromFile(path)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Failover.Quorum)
	require.Equal(t, 3, cfg.Failover.Retries)
	require.Equal(t, 5*time.Second, cfg.Failover.IntervalGood.Duration())
	require.Equal(t, 1*time.Second, cfg.Failover.IntervalFail.Duration())
	require.Equal(t, "clusters", cfg.ClustersKVPrefix)
	require.Equal(t, time.Minute, cfg.GracefulStopTimeout.Duration())
}

func TestFromFileOverrides(t *testing.T) {
	path := writeConfigFile(t, `
clusters_kv_prefix = "prod/clusters"

[database]
host = "db.internal"
port = 6543
dbname = "sentineld"

[failover]
quorum = 3
retries = 5
interval_good = "10s"
interval_fail = "2s"
`)

	cfg, err := FromFile(path)
	require.NoError(t, err)
	require.Equal(t, "prod/clusters", cfg.ClustersKVPrefix)
	require.Equal(t, 3, cfg.Failover.Quorum)
	require.Equal(t, 5, cfg.Failover.Retries)
	require.Equal(t, 10*time.Second, cfg.Failover.IntervalGood.Duration())
	require.Equal(t, 2*time.Second, cfg.Failover.IntervalFail.Duration())
}

func TestFromFileMissing(t *testing.T) {
	_, err := FromFile(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.True(t, os.IsNotExist(err))
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			DB:       DB{Host: "localhost", DBName: "sentineld"},
			Failover: Failover{Quorum: 2, Retries: 3, IntervalGood: Duration(time.Second), IntervalFail: Duration(time.Second)},
		}
	}

	testCases := []struct {
		desc   string
		mutate func(*Config)
		errMsg string
	}{
		{desc: "valid", mutate: func(*Config) {}},
		{
			desc:   "missing host",
			mutate: func(c *Config) { c.DB.Host = "" },
			errMsg: errNoDBHost.Error(),
		},
		{
			desc:   "missing dbname",
			mutate: func(c *Config) { c.DB.DBName = "" },
			errMsg: errNoDBName.Error(),
		},
		{
			desc:   "quorum too small",
			mutate: func(c *Config) { c.Failover.Quorum = 0 },
			errMsg: errQuorumTooSmall.Error(),
		},
		{
			desc:   "retries too small",
			mutate: func(c *Config) { c.Failover.Retries = 0 },
			errMsg: errRetriesTooSmall.Error(),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.EqualError(t, err, tc.errMsg)
		})
	}
}

func TestDBToPQString(t *testing.T) {
	db := DB{Host: "localhost", Port: 5432, User: "sentinel", DBName: "sentineld"}
	require.Equal(t, "port=5432 host=localhost user=sentinel dbname=sentineld sslmode=disable", db.ToPQString())
}
