package app

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"armory/internal/config"
	"armory/internal/db"
	"armory/internal/engine"
	"armory/internal/migrate"
)

// ResolveConfig loads armory.yml from the workspace, falling back to the
// default config named after the workspace directory.
func ResolveConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, nil
	}
	return config.Default(defaultArmoryID(workspace)), nil
}

func defaultArmoryID(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return "armory"
	}
	base := strings.TrimSpace(filepath.Base(abs))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "armory"
	}
	return base
}

// OpenEngine opens the workspace database, applies migrations and returns an
// engine plus the connection the caller must close.
func OpenEngine(ctx context.Context, workspace string) (engine.Engine, *sql.DB, error) {
	cfg, err := ResolveConfig(workspace)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("migrate: %w", err)
	}
	return engine.New(conn, cfg), conn, nil
}
