// Command sentineld is the distributed failover coordinator for a
// primary/standby PostgreSQL pair.
//
// Additionally, sentineld has subcommands for common operational tasks:
//
// KV Ping
//
// The subcommand "kv-ping" checks if the coordination database configured
// in the config file is reachable:
//
//	sentineld -config PATH_TO_CONFIG kv-ping
//
// KV Migrate
//
// The subcommand "kv-migrate" applies any outstanding schema migrations for
// the KV store and pub/sub bus tables:
//
//	sentineld -config PATH_TO_CONFIG kv-migrate
//
// KV Migrate Status
//
// The subcommand "kv-migrate-status" shows which migrations have been
// applied and which have not:
//
//	sentineld -config PATH_TO_CONFIG kv-migrate-status
//
// Status
//
// The subcommand "status" prints a table of every configured cluster and
// its current primary/standby endpoints:
//
//	sentineld -config PATH_TO_CONFIG status
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	sentrygo "github.com/getsentry/sentry-go"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"sentineld/internal/bootstrap"
	"sentineld/internal/helper"
	"sentineld/internal/sentinel/config"
	"sentineld/internal/sentinel/dbprobe"
	"sentineld/internal/sentinel/store"
	"sentineld/internal/sentinel/supervisor"
	"sentineld/internal/sentinel/taskerr"
)

var (
	flagConfig  = flag.String("config", "", "Location for the config.toml")
	flagVersion = flag.Bool("version", false, "Print version and exit")
	logger      = logrus.StandardLogger()

	errNoConfigFile = errors.New("the config flag must be passed")
)

const (
	progname = "sentineld"
	version  = "0.1.0"
)

func main() {
	flag.Usage = func() {
		cmds := []string{}
		for k := range subcommands {
			cmds = append(cmds, k)
		}

		printfErr("Usage of %s:\n", progname)
		flag.PrintDefaults()
		printfErr("  subcommand (optional)\n")
		printfErr("\tOne of %s\n", strings.Join(cmds, ", "))
	}
	flag.Parse()

	if *flagVersion {
		fmt.Println(progname + " " + version)
		os.Exit(0)
	}

	conf, err := initConfig()
	if err != nil {
		printfErr("%s: configuration error: %v\n", progname, err)
		os.Exit(int(taskerr.CodeConfig))
	}

	entry := conf.ConfigureLogger()
	logger = entry.Logger

	if args := flag.Args(); len(args) > 0 {
		os.Exit(subCommand(conf, args[0], args[1:]))
	}

	configureSentry(conf)

	logger.WithField("version", version).Info("starting " + progname)

	os.Exit(int(run(conf)))
}

func initConfig() (config.Config, error) {
	if *flagConfig == "" {
		return config.Config{}, errNoConfigFile
	}

	conf, err := config.FromFile(*flagConfig)
	if err != nil {
		return config.Config{}, fmt.Errorf("error reading config file: %w", err)
	}

	if err := conf.Validate(); err != nil {
		return config.Config{}, err
	}

	return conf, nil
}

func configureSentry(conf config.Config) {
	if conf.Sentry.DSN == "" {
		return
	}

	if err := sentrygo.Init(sentrygo.ClientOptions{
		Dsn:         conf.Sentry.DSN,
		Environment: conf.Sentry.Environment,
		Release:     version,
	}); err != nil {
		logger.WithError(err).Error("failed to initialize sentry")
	}
}

func run(conf config.Config) taskerr.Code {
	kv, closeKV, err := openKVStore(conf)
	if err != nil {
		logger.WithError(err).Error("failed to open KV store")
		return taskerr.CodeConfig
	}
	defer closeKV()

	sup := &supervisor.Supervisor{
		KV:        kv,
		NewBus:    dialBus,
		Prober:    dbprobe.PQProber{},
		KVPrefix:  conf.ClustersKVPrefix,
		LocalHost: supervisor.LocalHostname(),
		Log:       logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if conf.PrometheusListenAddr != "" && conf.Prometheus.Enabled {
		b, err := startPrometheusListener(conf)
		if err != nil {
			logger.WithError(err).Error("failed to start prometheus listener")
			return taskerr.CodeConfig
		}
		go func() {
			if err := b.Wait(conf.GracefulStopTimeout.Duration()); err != nil {
				logger.WithError(err).Warn("prometheus listener stopped")
			}
		}()
	}

	code, err := sup.Run(ctx)
	if err != nil {
		logger.WithError(helper.SanitizeError(err)).Error("supervisor exited")
	}
	return code
}

func startPrometheusListener(conf config.Config) (*bootstrap.Bootstrap, error) {
	b, err := bootstrap.New()
	if err != nil {
		return nil, fmt.Errorf("unable to create bootstrap: %w", err)
	}

	b.RegisterStarter(func(listen bootstrap.ListenFunc, errs chan<- error) error {
		l, err := listen("tcp", conf.PrometheusListenAddr)
		if err != nil {
			return err
		}

		logger.WithField("address", conf.PrometheusListenAddr).Info("starting prometheus listener")

		go func() {
			errs <- http.Serve(l, promhttp.Handler())
		}()

		return nil
	})

	if err := b.Start(); err != nil {
		return nil, fmt.Errorf("unable to start bootstrap: %w", err)
	}

	return b, nil
}

func openKVStore(conf config.Config) (store.KV, func(), error) {
	dsn := conf.DB.ToPQString()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, helper.SanitizeError(fmt.Errorf("open KV database %s: %w", helper.SanitizeString(dsn), err))
	}

	kv := store.NewPostgresKV(db)
	return kv, func() {
		if err := kv.Close(); err != nil {
			logger.WithError(helper.SanitizeError(err)).Error("failed to close KV store")
		}
	}, nil
}

// dialBus opens a fresh connection to busEndpoint (a lib/pq DSN) and wraps
// it as a PostgresBus. Each cluster's bus_endpoint may point at a different
// database, so the Supervisor dials one per cluster rather than sharing the
// KV store's connection.
func dialBus(busEndpoint string) (store.Bus, error) {
	db, err := sql.Open("postgres", busEndpoint)
	if err != nil {
		return nil, helper.SanitizeError(fmt.Errorf("open bus database %s: %w", helper.SanitizeString(busEndpoint), err))
	}
	return store.NewPostgresBus(db, busEndpoint, logger), nil
}

func printfErr(format string, a ...interface{}) (int, error) {
	return fmt.Fprintf(os.Stderr, format, a...)
}
