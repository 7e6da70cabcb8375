package migrate

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	commonerrors "github.com/AlibekovAA/carai-auth/internal/common/errors"
	"github.com/AlibekovAA/carai-auth/internal/db"
)

const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

var ErrNoChange = migrate.ErrNoChange

// Run applies the embedded migrations in direction. Being already at the
// target version is not an error.
func Run(dsn, direction string) error {
	if dsn == "" {
		return fmt.Errorf("%w: DATABASE_URL", commonerrors.ErrMissingRequiredEnv)
	}
	if direction != DirectionUp && direction != DirectionDown {
		return fmt.Errorf("%w: direction must be %s or %s, got %q", commonerrors.ErrInvalidConfig, DirectionUp, DirectionDown, direction)
	}

	source, err := iofs.New(db.MigrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if direction == DirectionUp {
		err = m.Up()
	} else {
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
