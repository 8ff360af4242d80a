package database

import (
	stderrors "errors"
	"io/fs"
	"os"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/thistle/db"
)

// migrationLogger adapts ectologger to migrate.Logger
type migrationLogger struct {
	ectologger.Logger
}

func (l migrationLogger) Verbose() bool {
	return false
}

func (l migrationLogger) Printf(format string, v ...any) {
	l.Debugf(format, v...)
}

type MigrationConfig struct {
	// FolderPath overrides the embedded migrations with a directory on disk
	FolderPath string
	// Force sets the schema version before migrating, clearing a dirty flag
	Force int
}

type MigrationService struct {
	config *MigrationConfig
	logger ectologger.Logger
}

func NewMigrationService(logger ectologger.Logger, config *MigrationConfig) *MigrationService {
	if config == nil {
		config = &MigrationConfig{}
	}
	return &MigrationService{config: config, logger: logger}
}

func (ms *MigrationService) source() (fs.FS, error) {
	if ms.config.FolderPath != "" {
		if _, err := os.Stat(ms.config.FolderPath); err != nil {
			return nil, errors.Wrapf(err, "migration folder %s", ms.config.FolderPath)
		}
		return os.DirFS(ms.config.FolderPath), nil
	}
	return fs.Sub(db.Migrations, "pg")
}

// Migrate applies every pending up migration to the database
func (ms *MigrationService) Migrate(instance *DatabaseInstance, databaseName string) error {
	files, err := ms.source()
	if err != nil {
		return err
	}
	src, err := iofs.New(files, ".")
	if err != nil {
		return errors.Wrap(err, "open migration source")
	}

	driver, err := postgres.WithInstance(instance.DB.DB, &postgres.Config{DatabaseName: databaseName})
	if err != nil {
		return errors.Wrap(err, "create migration driver")
	}

	m, err := migrate.NewWithInstance("iofs", src, databaseName, driver)
	if err != nil {
		return errors.Wrap(err, "create migrator")
	}
	m.Log = migrationLogger{Logger: ms.logger}

	if ms.config.Force != 0 {
		ms.logger.Warnf("Forcing schema version %d", ms.config.Force)
		if err := m.Force(ms.config.Force); err != nil {
			return errors.Wrapf(err, "force schema version %d", ms.config.Force)
		}
	}

	start := time.Now()
	err = m.Up()
	if err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		var dirty migrate.ErrDirty
		if stderrors.As(err, &dirty) {
			ms.logger.WithError(err).Errorf("Schema is dirty at version %d, set DB_MIGRATION_FORCE after repairing it", dirty.Version)
		}
		return errors.Wrap(err, "apply migrations")
	}

	version, _, _ := m.Version()
	ms.logger.WithFields(map[string]any{
		"version":  version,
		"duration": time.Since(start).String(),
	}).Info("Database schema is up to date")
	return nil
}
