// Package database はデータベース接続とマイグレーション管理を提供する。
// スキーマはusers, identities, sessions, pending_requestsの4テーブルからなる。
package database

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrSchemaOutdated は適用済みスキーマが埋め込みマイグレーションより古い、またはdirtyであることを示す。
var ErrSchemaOutdated = errors.New("database schema is not up to date")

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
// databaseURLはPostgreSQLの接続URLを指定する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations はすべてのマイグレーションを適用する。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(databaseURL string) error {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SchemaVersion は適用済みのマイグレーションバージョンを返す。
// 未適用の場合は0を返す。dirtyがtrueの場合は前回の適用が途中で失敗している。
func SchemaVersion(databaseURL string) (version uint, dirty bool, err error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return 0, false, err
	}
	defer m.Close()

	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, nil
}

// LatestVersion は埋め込まれたマイグレーションの最新バージョンを返す。
func LatestVersion() (uint, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("failed to create migration source: %w", err)
	}
	defer source.Close()

	version, err := source.First()
	if err != nil {
		return 0, fmt.Errorf("failed to read first migration: %w", err)
	}
	for {
		next, err := source.Next(version)
		if errors.Is(err, fs.ErrNotExist) {
			return version, nil
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read migration after %d: %w", version, err)
		}
		version = next
	}
}

// CheckSchema は適用済みスキーマが最新であることを確認する。
// serveとworkerは起動時にこれを呼び、migrate前のDBに対してハンドシェイクを受け付けない。
func CheckSchema(databaseURL string) error {
	latest, err := LatestVersion()
	if err != nil {
		return err
	}
	version, dirty, err := SchemaVersion(databaseURL)
	if err != nil {
		return err
	}
	if dirty {
		return fmt.Errorf("%w: version %d is dirty", ErrSchemaOutdated, version)
	}
	if version < latest {
		return fmt.Errorf("%w: applied %d, latest %d (run the migrate command)", ErrSchemaOutdated, version, latest)
	}
	return nil
}
