package export

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/JonMunkholm/usercleaner/internal/core"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewMigrator builds a migrate instance over the embedded export schema.
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("%w: migration source: %w", core.ErrMigrate, err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: create migrator: %w", core.ErrMigrate, err)
	}
	return m, nil
}

// RunMigrations applies every pending migration. An up-to-date schema is not
// an error. Cancelling ctx stops after the migration in flight.
func RunMigrations(ctx context.Context, databaseURL string) error {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	done := make(chan error, 1)
	go func() { done <- m.Up() }()

	select {
	case err = <-done:
	case <-ctx.Done():
		m.GracefulStop <- true
		<-done
		return fmt.Errorf("%w: %w", core.ErrMigrate, ctx.Err())
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%w: %w", core.ErrMigrate, err)
	}
	return nil
}
