// Package config loads sentineld's TOML configuration, following the
// FromFile/Validate/setDefaults shape of internal/praefect/config.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
)

// Duration is a time.Duration that unmarshals from TOML as a Go duration
// string ("5s", "1m30s") instead of a bare integer of nanoseconds.
type Duration time.Duration

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// DB holds the Postgres connection parameters of the KV store. The pub/sub
// bus is dialed separately, per cluster, from that cluster's bus_endpoint.
type DB struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	User        string `toml:"user"`
	Password    string `toml:"password"`
	DBName      string `toml:"dbname"`
	SSLMode     string `toml:"sslmode"`
	SSLCert     string `toml:"sslcert"`
	SSLKey      string `toml:"sslkey"`
	SSLRootCert string `toml:"sslrootcert"`
}

func coalesceStr(values ...string) string {
	for _, cur := range values {
		if cur != "" {
			return cur
		}
	}
	return ""
}

// ToPQString returns a connection string suitable for github.com/lib/pq.
func (db DB) ToPQString() string {
	var fields []string
	if db.Port > 0 {
		fields = append(fields, fmt.Sprintf("port=%d", db.Port))
	}

	for _, kv := range []struct{ key, value string }{
		{"host", db.Host},
		{"user", db.User},
		{"password", db.Password},
		{"dbname", db.DBName},
		{"sslmode", coalesceStr(db.SSLMode, "disable")},
		{"sslcert", db.SSLCert},
		{"sslkey", db.SSLKey},
		{"sslrootcert", db.SSLRootCert},
	} {
		if kv.value == "" {
			continue
		}
		v := strings.ReplaceAll(kv.value, "'", `\'`)
		v = strings.ReplaceAll(v, " ", `\ `)
		fields = append(fields, kv.key+"="+v)
	}

	return strings.Join(fields, " ")
}

// Logging holds structured logging settings, mirroring
// internal/praefect/config/log.Config's field names.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Sentry holds error-reporting settings.
type Sentry struct {
	DSN         string `toml:"sentry_dsn"`
	Environment string `toml:"sentry_environment"`
}

// Prometheus holds metrics-endpoint settings.
type Prometheus struct {
	Enabled bool `toml:"enabled"`
}

// Failover holds the tunables of the failover protocol itself: quorum size,
// probe cadence, and the lag tolerance a standby must clear to be promoted.
// These values are loaded and validated only; the running daemon takes each
// cluster's tunables from that cluster's config entry in the KV store and
// does not read this section.
type Failover struct {
	// Quorum is the number of +SDOWN votes (including this instance's own)
	// required to declare a cluster ODOWN.
	Quorum int `toml:"quorum"`
	// Retries is the number of consecutive failed probes before a primary
	// is considered individually down (SDOWN).
	Retries int `toml:"retries"`
	// IntervalGood is the probe interval while a primary is healthy.
	IntervalGood Duration `toml:"interval_good"`
	// IntervalFail is the probe interval while a primary is SDOWN.
	IntervalFail Duration `toml:"interval_fail"`
	// MaxStandbyLagBytes is the largest WAL gap, in bytes, a standby may
	// have relative to the primary's last-known position and still be
	// eligible for promotion.
	MaxStandbyLagBytes uint64 `toml:"max_standby_lag_bytes"`
	// Trigger is the path of the trigger file whose creation tells the
	// local standby to promote itself.
	Trigger string `toml:"trigger"`
}

// Config is a container for everything found in the TOML config file.
type Config struct {
	PrometheusListenAddr string     `toml:"prometheus_listen_addr"`
	Prometheus           Prometheus `toml:"prometheus"`
	Logging              Logging    `toml:"logging"`
	Sentry               Sentry     `toml:"sentry"`
	DB                   DB         `toml:"database"`
	Failover             Failover   `toml:"failover"`
	ClustersKVPrefix     string     `toml:"clusters_kv_prefix"`
	GracefulStopTimeout  Duration   `toml:"graceful_stop_timeout"`
}

// FromFile loads the config for the passed file path.
func FromFile(filePath string) (Config, error) {
	b, err := ioutil.ReadFile(filePath)
	if err != nil {
		return Config{}, err
	}

	conf := &Config{
		Failover: Failover{
			Quorum:             2,
			Retries:            3,
			IntervalGood:       Duration(5 * time.Second),
			IntervalFail:       Duration(1 * time.Second),
			MaxStandbyLagBytes: 16 << 20,
		},
		ClustersKVPrefix: "clusters",
	}
	if err := toml.Unmarshal(b, conf); err != nil {
		return Config{}, err
	}

	conf.setDefaults()

	return *conf, nil
}

var (
	errNoDBHost       = errors.New("database host not configured")
	errNoDBName       = errors.New("database dbname not configured")
	errQuorumTooSmall = errors.New("failover.quorum must be at least 1")
	errRetriesTooSmall = errors.New("failover.retries must be at least 1")
)

// Validate establishes if the config is valid.
func (c *Config) Validate() error {
	if c.DB.Host == "" {
		return errNoDBHost
	}
	if c.DB.DBName == "" {
		return errNoDBName
	}
	if c.Failover.Quorum < 1 {
		return errQuorumTooSmall
	}
	if c.Failover.Retries < 1 {
		return errRetriesTooSmall
	}
	if c.Failover.IntervalGood.Duration() <= 0 {
		return fmt.Errorf("failover.interval_good must be positive")
	}
	if c.Failover.IntervalFail.Duration() <= 0 {
		return fmt.Errorf("failover.interval_fail must be positive")
	}

	return nil
}

func (c *Config) setDefaults() {
	if c.GracefulStopTimeout.Duration() == 0 {
		c.GracefulStopTimeout = Duration(time.Minute)
	}
	if c.ClustersKVPrefix == "" {
		c.ClustersKVPrefix = "clusters"
	}
}

// String renders the config as indented JSON. The DSN pieces go through ToPQString only
// when actually dialing, never here, so nothing sensitive leaks through
// this path beyond what the TOML file itself already holds on disk.
func (c Config) String() string {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return string(b)
}
