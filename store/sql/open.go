package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/migrations"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	defaultSQLiteDSN = "file:relay?mode=memory&cache=shared&_foreign_keys=on"
)

type persistenceConfig struct {
	driver string
	server string
	debug  bool
}

func (c persistenceConfig) GetDebug() bool {
	return c.debug
}

func (c persistenceConfig) GetDriver() string {
	return c.driver
}

func (c persistenceConfig) GetServer() string {
	return c.server
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	return 5 * time.Second
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return "go-relay"
}

// Open connects the configured database through go-persistence-bun and
// applies the embedded relay migrations for its dialect.
func Open(ctx context.Context, cfg core.DatabaseConfig) (*persistence.Client, error) {
	driver, dialectName, err := normalizeDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		if driver != DriverSQLite {
			return nil, fmt.Errorf("sqlstore: dsn is required for %s", driver)
		}
		dsn = defaultSQLiteDSN
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}
	var dialect schema.Dialect = pgdialect.New()
	if driver == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
		dialect = sqlitedialect.New()
	}

	client, err := persistence.New(persistenceConfig{driver: driver, server: dsn, debug: cfg.Debug}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}

	_, err = migrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != dialectName {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, migrations.WithValidationTargets(dialectName))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return client, nil
}

func normalizeDriver(driver string) (string, string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", DriverSQLite:
		return DriverSQLite, migrations.DialectSQLite, nil
	case DriverPostgres, "postgresql", "pg":
		return DriverPostgres, migrations.DialectPostgres, nil
	default:
		return "", "", fmt.Errorf("sqlstore: unsupported database driver %q", driver)
	}
}
