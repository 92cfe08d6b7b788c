package postgres

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/cory-johannsen/gamehub/migrations"
)

// MigrationResult reports the schema state after a migration run.
type MigrationResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// Migrate applies the embedded schema migrations to the database at dsn.
// steps moves that many versions in direction; zero means all the way.
//
// Precondition: dsn must be a postgres:// URL; direction must be "up" or "down";
// steps must be >= 0.
// Postcondition: ErrNoChange is not reported as an error; Changed is false instead.
func Migrate(dsn, direction string, steps int) (MigrationResult, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return MigrationResult{}, fmt.Errorf("opening embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return MigrationResult{}, fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

	switch {
	case steps < 0:
		return MigrationResult{}, fmt.Errorf("steps must be >= 0, got %d", steps)
	case direction == "up" && steps > 0:
		err = m.Steps(steps)
	case direction == "up":
		err = m.Up()
	case direction == "down" && steps > 0:
		err = m.Steps(-steps)
	case direction == "down":
		err = m.Down()
	default:
		return MigrationResult{}, fmt.Errorf("invalid direction %q: must be 'up' or 'down'", direction)
	}

	changed := true
	if errors.Is(err, migrate.ErrNoChange) {
		changed, err = false, nil
	}
	if err != nil {
		return MigrationResult{}, fmt.Errorf("migrating %s: %w", direction, err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return MigrationResult{}, fmt.Errorf("reading schema version: %w", err)
	}
	return MigrationResult{Version: version, Dirty: dirty, Changed: changed}, nil
}
