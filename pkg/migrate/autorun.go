package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/studioflow-backend/pkg/config"
	"github.com/angelmondragon/studioflow-backend/pkg/db"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
)

// MaybeRunDev applies the embedded migrations at startup in dev when
// STUDIOFLOW_AUTO_MIGRATE is set. SQLite dev databases are skipped; the
// schema needs postgres with pgvector.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "dialect": client.Dialect()})
	if client.Dialect() != db.DialectPostgres {
		logg.Warn(ctx, "skipping auto-migrate on a non-postgres database")
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	logg.Info(ctx, "applying embedded migrations")
	if err := Run(ctx, sqlDB, EmbeddedDir, "up"); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	logg.Info(ctx, "migrations applied")
	return nil
}
