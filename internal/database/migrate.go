// Package database はPostgreSQL接続と、users・tokens・sessions・imagesの埋め込みマイグレーションを提供する。
package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDirtySchema は前回のマイグレーションが途中で失敗しスキーマが不整合な状態であることを表す。
// 手動でスキーマを修正するまでマイグレーションは実行しない。
var ErrDirtySchema = errors.New("database schema is dirty")

// SchemaVersion は適用済みマイグレーションの版。未適用の場合Versionは0。
type SchemaVersion struct {
	Version uint
	Dirty   bool
}

// versioner はmigrate.Migrateのうち版の取得に使うメソッド。
type versioner interface {
	Version() (uint, bool, error)
}

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
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

// RunMigrations は未適用のマイグレーションをすべて適用し、適用後の版を返す。
// すでに最新の場合はエラーなしで返る。スキーマが不整合な場合はErrDirtySchemaを返す。
func RunMigrations(databaseURL string) (SchemaVersion, error) {
	return withMigrator(databaseURL, func(m *migrate.Migrate, _ SchemaVersion) error {
		return m.Up()
	})
}

// RollbackMigration は最後に適用したマイグレーションを1つ取り消し、取り消し後の版を返す。
func RollbackMigration(databaseURL string) (SchemaVersion, error) {
	return withMigrator(databaseURL, func(m *migrate.Migrate, current SchemaVersion) error {
		if current.Version == 0 {
			return nil
		}
		return m.Steps(-1)
	})
}

// CurrentVersion は適用済みの版を返す。
func CurrentVersion(databaseURL string) (SchemaVersion, error) {
	return withMigrator(databaseURL, nil)
}

func withMigrator(databaseURL string, op func(m *migrate.Migrate, current SchemaVersion) error) (SchemaVersion, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return SchemaVersion{}, err
	}
	defer m.Close()

	if op != nil {
		before, err := schemaVersion(m)
		if err != nil {
			return SchemaVersion{}, err
		}
		if before.Dirty {
			return before, fmt.Errorf("%w at version %d", ErrDirtySchema, before.Version)
		}
		if err := op(m, before); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return SchemaVersion{}, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return schemaVersion(m)
}

// schemaVersion は版を取得する。一度もマイグレーションしていないDBは版0として扱う。
func schemaVersion(v versioner) (SchemaVersion, error) {
	version, dirty, err := v.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return SchemaVersion{}, nil
	}
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("failed to read schema version: %w", err)
	}
	return SchemaVersion{Version: version, Dirty: dirty}, nil
}
