package commands

import (
	"database/sql"

	"github.com/arcform/reverb/config"
	"github.com/arcform/reverb/db"
	"github.com/arcform/reverb/errors"
	"github.com/arcform/reverb/logger"
)

// ConfigPath overrides config discovery when set via the --config flag
var ConfigPath string

// loadConfig loads the reverb configuration, honoring the --config flag
func loadConfig() (*config.Config, error) {
	if ConfigPath != "" {
		return config.LoadFromFile(ConfigPath)
	}
	return config.Load()
}

// openDatabase opens and migrates the database at the configured path.
// If dbPath is empty, the path comes from configuration.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, errors.Wrap(err, "failed to load configuration")
		}
		dbPath = cfg.Database.Path
		if dbPath == "" {
			dbPath = "reverb.db"
		}
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", dbPath)
	}

	return database, nil
}

// truncate shortens a string for table display
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
