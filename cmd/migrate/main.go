package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/studioflow-backend/pkg/config"
	"github.com/angelmondragon/studioflow-backend/pkg/db"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
	"github.com/angelmondragon/studioflow-backend/pkg/migrate"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var dir string

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply and author goose migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dir, "dir", migrate.EmbeddedDir,
		fmt.Sprintf("migrations dir (%q uses the compiled-in set)", migrate.EmbeddedDir))

	withDB := func(fn func(ctx context.Context, sqlDB *sql.DB) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx, logg, client, err := connect(cmd.Context(), cmd.Name(), dir)
			if err != nil {
				return err
			}
			defer client.Close()
			sqlDB, err := client.DB().DB()
			if err != nil {
				return fmt.Errorf("sql database: %w", err)
			}
			logg.Info(ctx, "migrate ready")
			return fn(ctx, sqlDB)
		}
	}

	for _, command := range []string{"up", "down", "status"} {
		command := command
		root.AddCommand(&cobra.Command{
			Use:   command,
			Short: "goose " + command,
			Args:  cobra.NoArgs,
			RunE: withDB(func(ctx context.Context, sqlDB *sql.DB) error {
				return migrate.Run(ctx, sqlDB, dir, command)
			}),
		})
	}

	root.AddCommand(&cobra.Command{
		Use:   "version <YYYYMMDDHHMMSS>",
		Short: "Migrate up or down to a version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, sqlDB *sql.DB) error {
				return migrate.MigrateToVersion(ctx, sqlDB, dir, args[0])
			})(cmd, args)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Write an empty migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := dir
			if target == migrate.EmbeddedDir {
				target = migrate.DefaultDir
			}
			path, err := migrate.CreateSQLMigration(target, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "created migration:", path)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check migration names and goose annotations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := migrate.ValidateDir(dir); err != nil {
				return fmt.Errorf("migration validation failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration validation passed")
			return nil
		},
	})

	return root
}

func connect(ctx context.Context, command, dir string) (context.Context, *logger.Logger, *db.Client, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return ctx, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
		Output:      os.Stderr,
	})
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "cmd": command, "dir": dir})

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "resource not working: database", err)
		return ctx, nil, nil, err
	}
	if client.Dialect() != db.DialectPostgres {
		client.Close()
		return ctx, nil, nil, errors.New("migrations require the postgres driver")
	}
	return ctx, logg, client, nil
}
