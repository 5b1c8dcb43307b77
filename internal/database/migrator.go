package database

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"github.com/helixir/records-service/migrations"
)

const migrationsTable = "schema_migrations"

// Migrator applies schema migrations for documents, sequence counters,
// search records and the outbox.
type Migrator struct {
	migrate *migrate.Migrate
	sqlDB   *sql.DB // wraps the pgx pool, must be closed
	logger  zerolog.Logger
}

// NewMigrator creates a migrator reading migrations from a directory.
func NewMigrator(db *DB, migrationsPath string, logger zerolog.Logger) (*Migrator, error) {
	if err := checkDB(db); err != nil {
		return nil, err
	}
	if migrationsPath == "" {
		return nil, fmt.Errorf("migrations path is required")
	}
	if _, err := os.Stat(migrationsPath); err != nil {
		return nil, fmt.Errorf("migrations path validation failed: %w", err)
	}

	return newMigrator(db, logger, func(driverName string, sqlDB *sql.DB) (*migrate.Migrate, error) {
		driver, err := postgresDriver(sqlDB)
		if err != nil {
			return nil, err
		}
		return migrate.NewWithDatabaseInstance("file://"+migrationsPath, driverName, driver)
	})
}

// NewEmbeddedMigrator creates a migrator reading migrations from fsys,
// typically the migrations embedded in the binary.
func NewEmbeddedMigrator(db *DB, fsys fs.FS, logger zerolog.Logger) (*Migrator, error) {
	if err := checkDB(db); err != nil {
		return nil, err
	}
	if fsys == nil {
		return nil, fmt.Errorf("migrations filesystem is required")
	}

	src, err := iofs.New(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	return newMigrator(db, logger, func(driverName string, sqlDB *sql.DB) (*migrate.Migrate, error) {
		driver, err := postgresDriver(sqlDB)
		if err != nil {
			return nil, err
		}
		return migrate.NewWithInstance("iofs", src, driverName, driver)
	})
}

// OpenMigrator reads migrations from migrationsPath, or from the migrations
// embedded in the binary when the path is empty.
func OpenMigrator(db *DB, migrationsPath string, logger zerolog.Logger) (*Migrator, error) {
	if migrationsPath != "" {
		return NewMigrator(db, migrationsPath, logger)
	}
	return NewEmbeddedMigrator(db, migrations.FS, logger)
}

func checkDB(db *DB) error {
	if db == nil {
		return fmt.Errorf("database is required")
	}
	if db.pool == nil {
		return fmt.Errorf("database pool not initialized")
	}
	return nil
}

func postgresDriver(sqlDB *sql.DB) (migratedb.Driver, error) {
	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{
		MigrationsTable: migrationsTable,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}
	return driver, nil
}

func newMigrator(db *DB, logger zerolog.Logger, open func(string, *sql.DB) (*migrate.Migrate, error)) (*Migrator, error) {
	sqlDB := stdlib.OpenDBFromPool(db.pool)

	m, err := open("postgres", sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return &Migrator{
		migrate: m,
		sqlDB:   sqlDB,
		logger:  logger.With().Str("component", "migrator").Logger(),
	}, nil
}

// Up runs all pending migrations.
func (m *Migrator) Up() error {
	m.logger.Info().Msg("running database migrations")

	if err := m.migrate.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info().Msg("no migrations to apply")
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	m.logger.Info().Msg("migrations completed")
	return nil
}

// Down rolls back all migrations.
func (m *Migrator) Down() error {
	m.logger.Warn().Msg("rolling back all migrations")

	if err := m.migrate.Down(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info().Msg("no migrations to roll back")
			return nil
		}
		return fmt.Errorf("failed to rollback migrations: %w", err)
	}

	m.logger.Info().Msg("migrations rolled back")
	return nil
}

// Steps runs n migrations (positive = up, negative = down).
func (m *Migrator) Steps(n int) error {
	m.logger.Info().Int("steps", n).Msg("running migration steps")

	if err := m.migrate.Steps(n); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info().Msg("no migrations to apply")
			return nil
		}
		// Stepping past the latest version surfaces as a missing file.
		if errors.Is(err, os.ErrNotExist) {
			m.logger.Info().Msg("no more migrations available")
			return nil
		}
		return fmt.Errorf("failed to run migration steps: %w", err)
	}

	m.logger.Info().Int("steps", n).Msg("migration steps completed")
	return nil
}

// Version returns the current migration version.
func (m *Migrator) Version() (uint, bool, error) {
	return m.migrate.Version()
}

// Force sets the migration version without running migrations.
func (m *Migrator) Force(version int) error {
	m.logger.Warn().Int("version", version).Msg("forcing migration version")
	return m.migrate.Force(version)
}

// Close releases the migration source and the sql.DB wrapper.
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()

	if m.sqlDB != nil {
		if err := m.sqlDB.Close(); err != nil && dbErr == nil {
			dbErr = err
		}
	}

	if sourceErr != nil && dbErr != nil {
		return fmt.Errorf("failed to close migrator: source error: %v, database error: %w", sourceErr, dbErr)
	}
	if sourceErr != nil {
		return fmt.Errorf("failed to close source: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("failed to close database: %w", dbErr)
	}
	return nil
}

// DropAll drops every object in the database. Test use only.
func (m *Migrator) DropAll() error {
	m.logger.Warn().Msg("dropping all database objects")
	return m.migrate.Drop()
}
