package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/angelmondragon/paycore/pkg/config"
	"github.com/angelmondragon/paycore/pkg/db"
	"github.com/angelmondragon/paycore/pkg/logger"
	"github.com/angelmondragon/paycore/pkg/migrate"
	"github.com/joho/godotenv"
)

type options struct {
	dir     string
	name    string
	version string
}

// command is one -cmd value. Commands with a nil db handler never open a
// database connection.
type command struct {
	offline func(opts options) error
	db      func(ctx context.Context, m *migrate.Migrator, opts options) error
}

var commands = map[string]command{
	"create": {offline: func(opts options) error {
		if opts.name == "" {
			return errors.New("missing -name for create")
		}
		dir := opts.dir
		if dir == "" {
			dir = migrate.DefaultDir
		}
		path, err := migrate.CreateSQLMigration(dir, opts.name)
		if err != nil {
			return err
		}
		fmt.Println("created migration:", path)
		return nil
	}},
	"validate": {offline: func(opts options) error {
		var err error
		if opts.dir == "" {
			err = migrate.ValidateFS(migrate.Embedded())
		} else {
			err = migrate.ValidateDir(opts.dir)
		}
		if err != nil {
			return err
		}
		fmt.Println("migration validation passed")
		return nil
	}},
	"up": {db: func(ctx context.Context, m *migrate.Migrator, _ options) error {
		applied, err := m.Up(ctx)
		fmt.Printf("applied %d migration(s) %v\n", len(applied), applied)
		return err
	}},
	"down": {db: func(ctx context.Context, m *migrate.Migrator, _ options) error {
		return m.Down(ctx)
	}},
	"status": {db: func(ctx context.Context, m *migrate.Migrator, _ options) error {
		statuses, err := m.Status(ctx)
		if err != nil {
			return err
		}
		for _, st := range statuses {
			applied := "pending"
			if !st.AppliedAt.IsZero() {
				applied = st.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Printf("%-16d %-8s %s  %s\n", st.Source.Version, st.State, applied, filepath.Base(st.Source.Path))
		}
		return nil
	}},
	"version": {db: func(ctx context.Context, m *migrate.Migrator, opts options) error {
		target, err := migrate.ParseVersion(opts.version)
		if err != nil {
			return fmt.Errorf("-version: %w", err)
		}
		return m.To(ctx, target)
	}},
}

func commandNames() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

func main() {
	_ = godotenv.Load()

	cmdName := flag.String("cmd", "up", "migration command: "+commandNames())
	var opts options
	flag.StringVar(&opts.dir, "dir", "", "goose migrations directory (empty uses the embedded set)")
	flag.StringVar(&opts.name, "name", "", "migration name (for create)")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	cmd, ok := commands[*cmdName]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown -cmd %q (want %s)\n", *cmdName, commandNames())
		os.Exit(2)
	}

	// create and validate run on a bare checkout with no environment.
	if cmd.offline != nil {
		if err := cmd.offline(opts); err != nil {
			fmt.Fprintf(os.Stderr, "migrate %s: %v\n", *cmdName, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmdName,
		"dir": opts.dir,
	})

	if err := runWithDB(ctx, cfg.DB, logg, cmd, opts); err != nil {
		logg.Error(ctx, "migrate failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "migrate finished")
}

func runWithDB(ctx context.Context, cfg config.DBConfig, logg *logger.Logger, cmd command, opts options) error {
	dbClient, err := db.New(ctx, cfg, logg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return fmt.Errorf("sql database: %w", err)
	}
	m, err := migrate.New(sqlDB, opts.dir)
	if err != nil {
		return err
	}
	return cmd.db(ctx, m, opts)
}
