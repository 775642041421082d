package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"chronoline/internal/config"
	"chronoline/internal/db"
	"chronoline/internal/engine"
	"chronoline/internal/migrate"
	"chronoline/internal/repo"
)

// Env bundles what every command needs: an open migrated database, the
// workspace config (nil when no chronoline.yml exists), and the engine.
type Env struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

// Open prepares the workspace: ensures the data directory, opens the
// database, runs migrations, loads optional config, and seeds the
// configured admin account when it is missing.
func Open(ctx context.Context, workspace string) (*Env, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	eng := engine.New(conn)
	if cfg != nil {
		if err := seedAdmin(ctx, eng, cfg); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return &Env{DB: conn, Config: cfg, Engine: eng}, nil
}

func (e *Env) Close() error {
	return e.DB.Close()
}

// RequireConfig returns the loaded config or fails with a pointer to init.
func (e *Env) RequireConfig() (*config.Config, error) {
	if e.Config == nil {
		return nil, errors.New("no chronoline.yml in workspace; run cl init first")
	}
	return e.Config, nil
}

func seedAdmin(ctx context.Context, eng engine.Engine, cfg *config.Config) error {
	if cfg.Admin.Email == "" || cfg.Admin.Password == "" {
		return nil
	}
	_, err := eng.Repo.GetUserByEmail(ctx, cfg.Admin.Email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	_, err = eng.CreateUser(ctx, engine.UserCreateOptions{
		Email:    cfg.Admin.Email,
		Name:     cfg.Admin.Name,
		Role:     "admin",
		Password: cfg.Admin.Password,
	})
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	return nil
}
