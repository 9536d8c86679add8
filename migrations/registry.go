// Package migrations registers the embedded relay schema with a
// go-persistence-bun client, one filesystem per dialect.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	relay "github.com/goliatone/go-relay"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	SourceLabel = "go-relay"
)

const schemaDir = "data/sql/migrations"

// Dialect is one embedded migration set. Postgres files sit at the root of
// the schema directory, sqlite overrides live in a subdirectory.
type Dialect struct {
	Name string
	Path string
	FS   fs.FS
}

type Registration struct {
	SourceLabel string
	Registered  []string
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*registerOptions)

type registerOptions struct {
	targets map[string]bool
}

// WithValidationTargets limits registration to the named dialects.
func WithValidationTargets(dialects ...string) Option {
	return func(o *registerOptions) {
		for _, dialect := range dialects {
			if name := strings.ToLower(strings.TrimSpace(dialect)); name != "" {
				o.targets[name] = true
			}
		}
	}
}

func Filesystems() ([]Dialect, error) {
	root, err := fs.Sub(relay.GetMigrationsFS(), schemaDir)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", schemaDir, err)
	}
	sqliteFS, err := fs.Sub(root, DialectSQLite)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite schema: %w", err)
	}

	dialects := []Dialect{
		{Name: DialectPostgres, Path: schemaDir, FS: root},
		{Name: DialectSQLite, Path: schemaDir + "/" + DialectSQLite, FS: sqliteFS},
	}
	for _, dialect := range dialects {
		matches, err := fs.Glob(dialect.FS, "*.up.sql")
		if err != nil {
			return nil, fmt.Errorf("migrations: glob %s: %w", dialect.Path, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("migrations: %s has no *.up.sql files", dialect.Path)
		}
	}
	return dialects, nil
}

// Register hands every targeted dialect to registerFn. Without targets
// both dialects are registered.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	reg := Registration{SourceLabel: SourceLabel}
	if registerFn == nil {
		return reg, fmt.Errorf("migrations: register function is required")
	}

	options := registerOptions{targets: map[string]bool{}}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	dialects, err := Filesystems()
	if err != nil {
		return reg, err
	}
	for _, dialect := range dialects {
		if len(options.targets) > 0 && !options.targets[dialect.Name] {
			continue
		}
		if err := registerFn(ctx, dialect.Name, reg.SourceLabel, dialect.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s: %w", dialect.Name, err)
		}
		reg.Registered = append(reg.Registered, dialect.Name)
	}
	if len(reg.Registered) == 0 {
		return reg, fmt.Errorf("migrations: no dialect matched the validation targets")
	}
	return reg, nil
}
