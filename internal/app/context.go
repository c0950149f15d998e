package app

import (
	"database/sql"
	"fmt"
	"os"

	"sarthi/internal/config"
	"sarthi/internal/db"
	"sarthi/internal/migrate"
)

// Workspace bundles everything a command needs to run against a local
// data directory.
type Workspace struct {
	Dir    string
	DB     *sql.DB
	Config *config.Config
}

// Open prepares the workspace: ensures the data dir, opens the
// database, applies migrations and loads the config (defaults when no
// sarthi.yml exists yet).
func Open(dir string) (*Workspace, error) {
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Workspace{Dir: dir, DB: conn, Config: cfg}, nil
}

// Init seeds the default config file. Existing files are left alone
// unless force is set.
func Init(dir string, force bool) (string, error) {
	if _, err := db.EnsureWorkspace(dir); err != nil {
		return "", err
	}
	path := config.Path(dir)
	if _, err := os.Stat(path); err == nil && !force {
		return path, fmt.Errorf("config %s already exists; use --force to overwrite", path)
	}
	if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
		return "", err
	}
	// Parse the seeded file back so a broken template fails here, not
	// on the first real command.
	if _, err := config.Load(dir); err != nil {
		return "", err
	}
	return path, nil
}

func (w *Workspace) Close() error {
	if w.DB != nil {
		return w.DB.Close()
	}
	return nil
}
