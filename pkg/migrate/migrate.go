// Package migrate applies embedded SQL migrations with golang-migrate.
package migrate

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// Migrator runs migrations against one postgres database.
type Migrator struct {
	db          *sql.DB
	logger      *zap.Logger
	serviceName string
}

func NewMigrator(db *sql.DB, serviceName string, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{db: db, logger: logger, serviceName: serviceName}
}

func (m *Migrator) open(fsys fs.FS, path string) (*migrate.Migrate, error) {
	src, err := iofs.New(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}
	driver, err := postgres.WithInstance(m.db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("create postgres driver: %w", err)
	}
	mg, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return mg, nil
}

// Up applies every pending migration.
func (m *Migrator) Up(fsys fs.FS, path string) error {
	m.logger.Info("applying migrations", zap.String("service", m.serviceName), zap.String("path", path))

	mg, err := m.open(fsys, path)
	if err != nil {
		return err
	}
	defer mg.Close()

	if err := mg.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info("schema up to date", zap.String("service", m.serviceName))
			return nil
		}
		return fmt.Errorf("migrate up: %w", err)
	}

	version, dirty, err := mg.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	m.logger.Info("migrations applied",
		zap.String("service", m.serviceName),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty))
	return nil
}

// Rollback reverts the latest migration.
func (m *Migrator) Rollback(fsys fs.FS, path string) error {
	mg, err := m.open(fsys, path)
	if err != nil {
		return err
	}
	defer mg.Close()

	if err := mg.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("rollback: %w", err)
	}
	m.logger.Info("rolled back one migration", zap.String("service", m.serviceName))
	return nil
}

// Version reports the applied version; 0 when nothing is applied.
func (m *Migrator) Version(fsys fs.FS, path string) (uint, bool, error) {
	mg, err := m.open(fsys, path)
	if err != nil {
		return 0, false, err
	}
	defer mg.Close()

	version, dirty, err := mg.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}
