package store

import (
	"database/sql"
	"embed"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/gast-project/gast-orchestrator/pkg/apierror"
	"github.com/gast-project/gast-orchestrator/pkg/log"
)

//go:embed migrations/*
var migrationFiles embed.FS

// runMigrations applies every pending migration for driver, creating
// the schema idempotently on first run (spec §4.1: "created
// idempotently at startup").
func runMigrations(driver string, db *sql.DB) error {
	var m *migrate.Migrate
	var err error

	switch driver {
	case "sqlite3":
		dbDriver, derr := sqlite3.WithInstance(db, &sqlite3.Config{})
		if derr != nil {
			return apierror.Storage("preparing sqlite3 migration driver", derr)
		}
		src, derr := iofs.New(migrationFiles, "migrations/sqlite3")
		if derr != nil {
			return apierror.Storage("loading sqlite3 migrations", derr)
		}
		m, err = migrate.NewWithInstance("iofs", src, "sqlite3", dbDriver)
	case "postgres":
		dbDriver, derr := postgres.WithInstance(db, &postgres.Config{})
		if derr != nil {
			return apierror.Storage("preparing postgres migration driver", derr)
		}
		src, derr := iofs.New(migrationFiles, "migrations/postgres")
		if derr != nil {
			return apierror.Storage("loading postgres migrations", derr)
		}
		m, err = migrate.NewWithInstance("iofs", src, "postgres", dbDriver)
	default:
		return apierror.Internal("unsupported migration driver "+driver, nil)
	}
	if err != nil {
		return apierror.Storage("constructing migrator", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return apierror.Storage("running migrations", err)
	}

	v, dirty, verr := m.Version()
	if verr != nil && verr != migrate.ErrNilVersion {
		return apierror.Storage("reading schema version", verr)
	}
	if dirty {
		log.Warnf("store: schema at version %d left in a dirty state by a prior failed migration", v)
	}
	return nil
}
