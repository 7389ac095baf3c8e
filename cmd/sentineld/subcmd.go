package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"

	_ "github.com/lib/pq"
	"github.com/olekukonko/tablewriter"
	migrate "github.com/rubenv/sql-migrate"

	"sentineld/internal/helper"
	"sentineld/internal/sentinel/config"
	"sentineld/internal/sentinel/store"
	"sentineld/internal/sentinel/store/migrations"
)

type subcmd interface {
	FlagSet() *flag.FlagSet
	Exec(flags *flag.FlagSet, conf config.Config) error
}

var subcommands = map[string]subcmd{
	"kv-ping":           &kvPingSubcommand{},
	"kv-migrate":        &kvMigrateSubcommand{},
	"kv-migrate-status": &kvMigrateStatusSubcommand{},
	"status":            &statusSubcommand{},
}

// subCommand returns an exit code, to be fed into os.Exit.
func subCommand(conf config.Config, arg0 string, argRest []string) int {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	go func() {
		<-interrupt
		os.Exit(130)
	}()

	cmd, ok := subcommands[arg0]
	if !ok {
		printfErr("%s: unknown subcommand: %q\n", progname, arg0)
		return 1
	}

	flags := cmd.FlagSet()
	if err := flags.Parse(argRest); err != nil {
		printfErr("%s\n", err)
		return 1
	}

	if err := cmd.Exec(flags, conf); err != nil {
		printfErr("%s\n", helper.SanitizeError(err))
		return 1
	}

	return 0
}

func openDB(conf config.DB) (*sql.DB, func(), error) {
	dsn := conf.ToPQString()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, helper.SanitizeError(fmt.Errorf("sql open %s: %w", helper.SanitizeString(dsn), err))
	}

	clean := func() {
		if err := db.Close(); err != nil {
			printfErr("sql close: %v\n", err)
		}
	}

	return db, clean, nil
}

type kvPingSubcommand struct{}

func (s *kvPingSubcommand) FlagSet() *flag.FlagSet {
	return flag.NewFlagSet("kv-ping", flag.ExitOnError)
}

func (s *kvPingSubcommand) Exec(_ *flag.FlagSet, conf config.Config) error {
	const subCmd = progname + " kv-ping"

	db, clean, err := openDB(conf.DB)
	if err != nil {
		return err
	}
	defer clean()

	if err := db.PingContext(context.Background()); err != nil {
		return fmt.Errorf("%s: fail: %w", subCmd, err)
	}

	fmt.Printf("%s: OK\n", subCmd)
	return nil
}

type kvMigrateSubcommand struct{}

func (s *kvMigrateSubcommand) FlagSet() *flag.FlagSet {
	return flag.NewFlagSet("kv-migrate", flag.ExitOnError)
}

func (s *kvMigrateSubcommand) Exec(_ *flag.FlagSet, conf config.Config) error {
	const subCmd = progname + " kv-migrate"

	db, clean, err := openDB(conf.DB)
	if err != nil {
		return err
	}
	defer clean()

	n, err := migrate.Exec(db, "postgres", migrations.All(), migrate.Up)
	if err != nil {
		return fmt.Errorf("%s: fail: %w", subCmd, err)
	}

	fmt.Printf("%s: OK (applied %d migrations)\n", subCmd, n)
	return nil
}

type kvMigrateStatusSubcommand struct{}

func (s *kvMigrateStatusSubcommand) FlagSet() *flag.FlagSet {
	return flag.NewFlagSet("kv-migrate-status", flag.ExitOnError)
}

func (s *kvMigrateStatusSubcommand) Exec(_ *flag.FlagSet, conf config.Config) error {
	db, clean, err := openDB(conf.DB)
	if err != nil {
		return err
	}
	defer clean()

	records, err := migrate.GetMigrationRecords(db, "postgres")
	if err != nil {
		return fmt.Errorf("%s kv-migrate-status: fail: %w", progname, err)
	}

	applied := make(map[string]bool, len(records))
	for _, r := range records {
		applied[r.Id] = true
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Migration", "Applied"})
	for _, m := range migrations.All().Migrations {
		status := "no"
		if applied[m.Id] {
			status = "yes"
		}
		table.Append([]string{m.Id, status})
	}
	table.Render()

	return nil
}

type statusSubcommand struct{}

func (s *statusSubcommand) FlagSet() *flag.FlagSet {
	return flag.NewFlagSet("status", flag.ExitOnError)
}

func (s *statusSubcommand) Exec(_ *flag.FlagSet, conf config.Config) error {
	db, clean, err := openDB(conf.DB)
	if err != nil {
		return err
	}
	defer clean()

	kv := store.NewPostgresKV(db)
	ctx := context.Background()

	names, err := kv.ListChildren(ctx, conf.ClustersKVPrefix)
	if err != nil {
		return fmt.Errorf("%s status: fail: %w", progname, err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Cluster", "Primary", "Standby", "Quorum"})

	for _, name := range names {
		base := conf.ClustersKVPrefix + "/" + name
		primary, _ := kv.Get(ctx, base+"/master/fqdn")
		standby, _ := kv.Get(ctx, base+"/slave/fqdn")

		quorum := "?"
		if raw, err := kv.Get(ctx, base+"/config"); err == nil {
			var cfg struct {
				Quorum int `json:"quorum"`
			}
			if json.Unmarshal([]byte(raw), &cfg) == nil {
				quorum = fmt.Sprintf("%d", cfg.Quorum)
			}
		}

		table.Append([]string{name, primary, standby, quorum})
	}

	table.Render()
	return nil
}
