// Package db provides a disposable Postgres container with the eligibility
// schema applied, for integration tests that need a real database.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

type TestDatabaseContainer struct {
	Container        *postgres.PostgresContainer
	ConnectionString string
}

// NewTestDatabaseContainer starts a Postgres container, applies the
// migrations from db/migrations/eligibility, seeds the baseline
// configuration data, and snapshots the result as "Base".
func NewTestDatabaseContainer() (TestDatabaseContainer, error) {
	ctx := context.Background()
	c, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("eligibility"),
		postgres.WithUsername("eligibility"),
		postgres.WithPassword("eligibility"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return TestDatabaseContainer{}, errors.Wrap(err, "could not start database container")
	}

	conn, err := c.ConnectionString(ctx)
	if err != nil {
		return TestDatabaseContainer{}, errors.Wrap(err, "could not resolve container connection string")
	}

	tdc := TestDatabaseContainer{Container: c, ConnectionString: conn}

	if err := tdc.runMigrations(); err != nil {
		return TestDatabaseContainer{}, err
	}
	if err := tdc.initSeed(); err != nil {
		return TestDatabaseContainer{}, err
	}
	if err := tdc.CreateSnapshot("Base"); err != nil {
		return TestDatabaseContainer{}, err
	}

	return tdc, nil
}

// ExecuteFile executes one *.sql file against the container database.
func (td *TestDatabaseContainer) ExecuteFile(path string) (int64, error) {
	ctx := context.Background()
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return 0, errors.Wrapf(err, "could not read %s", path)
	}

	conn, err := td.NewPgxConnection()
	if err != nil {
		return 0, err
	}
	defer conn.Close(ctx)

	result, err := conn.Exec(ctx, string(content))
	if err != nil {
		return 0, errors.Wrapf(err, "could not execute %s", path)
	}
	return result.RowsAffected(), nil
}

// ExecuteDir executes every *.sql file under the given directory, in lexical
// order.
func (td *TestDatabaseContainer) ExecuteDir(dirpath string) error {
	return filepath.Walk(dirpath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) != ".sql" {
			return nil
		}
		_, err = td.ExecuteFile(path)
		return err
	})
}

// CreateSnapshot snapshots the current database state under name. Close any
// open connections first.
func (td *TestDatabaseContainer) CreateSnapshot(name string) error {
	return td.Container.Snapshot(context.Background(), postgres.WithSnapshotName(name))
}

// RestoreSnapshot restores a named snapshot. "Base" restores the freshly
// migrated and seeded state.
func (td *TestDatabaseContainer) RestoreSnapshot(name string) error {
	return td.Container.Restore(context.Background(), postgres.WithSnapshotName(name))
}

func (td *TestDatabaseContainer) NewPgxConnection() (*pgx.Conn, error) {
	return pgx.Connect(context.Background(), td.ConnectionString)
}

func (td *TestDatabaseContainer) NewSqlDbConnection() (*sql.DB, error) {
	return sql.Open("postgres", td.ConnectionString+"sslmode=disable")
}

func (td *TestDatabaseContainer) NewPgxPoolConnection() (*pgxpool.Pool, error) {
	return pgxpool.New(context.Background(), td.ConnectionString)
}

func (td *TestDatabaseContainer) runMigrations() error {
	dir, err := findRepoDir(filepath.Join("db", "migrations", "eligibility"))
	if err != nil {
		return err
	}

	m, err := migrate.New("file://"+dir, td.ConnectionString+"sslmode=disable")
	if err != nil {
		return errors.Wrap(err, "could not open migrations")
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		return errors.Wrap(err, "could not apply migrations")
	}
	return nil
}

func (td *TestDatabaseContainer) initSeed() error {
	dir, err := findRepoDir(filepath.Join("db", "testdata"))
	if err != nil {
		return err
	}

	affected, err := td.ExecuteFile(filepath.Join(dir, "insert_configurations.sql"))
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.New("seed applied zero rows")
	}
	return nil
}

// findRepoDir walks up from the working directory until it finds the given
// repo-relative path, so callers can live in any package.
func findRepoDir(relative string) (string, error) {
	currentDir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		target := filepath.Join(currentDir, relative)
		if _, err := os.Stat(target); err == nil {
			return target, nil
		} else if !os.IsNotExist(err) {
			return "", err
		}

		parent := filepath.Dir(currentDir)
		if parent == currentDir {
			return "", fmt.Errorf("%s not found in any parent directory", relative)
		}
		currentDir = parent
	}
}
