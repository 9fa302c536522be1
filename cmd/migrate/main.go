// Command migrate manages the wallet schema.
//
//	migrate up | down | status
//	migrate to -version 20260301090600
//	migrate create -name add_payout_channel
//	migrate validate
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/unimart-backend/pkg/config"
	"github.com/angelmondragon/unimart-backend/pkg/db"
	"github.com/angelmondragon/unimart-backend/pkg/logger"
	"github.com/angelmondragon/unimart-backend/pkg/migrate"
)

const usage = "usage: migrate <up|down|status|to|create|validate> [flags]"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	command, rest := args[0], args[1:]

	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	name := fs.String("name", "", "migration name (create)")
	dir := fs.String("dir", migrate.SourceDir, "directory new migrations are written to (create)")
	version := fs.Int64("version", 0, "target version (to)")
	if err := fs.Parse(rest); err != nil {
		return err
	}

	// offline commands
	switch command {
	case "create":
		if *name == "" {
			return errors.New("create needs -name")
		}
		path, err := migrate.Create(*dir, *name, time.Now())
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	case "validate":
		if err := migrate.Validate(migrate.Embedded()); err != nil {
			return err
		}
		fmt.Println("migrations ok")
		return nil
	case "up", "down", "status", "to":
	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "command": command})

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer client.Close()
	if client.Driver() != db.DriverPostgres {
		return fmt.Errorf("migrations target postgres, configured driver is %s", client.Driver())
	}

	conn, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	runner, err := migrate.NewRunner(conn, migrate.Embedded(), logg)
	if err != nil {
		return err
	}

	switch command {
	case "up":
		return runner.Up(ctx)
	case "down":
		return runner.Down(ctx)
	case "to":
		if *version <= 0 {
			return errors.New("to needs -version")
		}
		return runner.To(ctx, *version)
	default:
		return runner.Status(ctx, os.Stdout)
	}
}
