// Package migrations embeds the goose SQL migrations of the profile store.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/Abraxas-365/homestead/pkg/logx"
)

//go:embed *.sql
var FS embed.FS

// TableName is the goose version table.
const TableName = "schema_migrations"

// Up applies every pending migration.
func Up(ctx context.Context, db *sql.DB) error {
	if err := setup(); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Reset rolls back every applied migration.
func Reset(ctx context.Context, db *sql.DB) error {
	if err := setup(); err != nil {
		return err
	}
	return goose.ResetContext(ctx, db, ".")
}

func setup() error {
	goose.SetBaseFS(FS)
	goose.SetLogger(gooseLogger{})
	goose.SetTableName(TableName)
	return goose.SetDialect("postgres")
}

// gooseLogger routes goose output through logx.
type gooseLogger struct{}

func (gooseLogger) Fatalf(format string, v ...any) {
	logx.WithField("component", "migrations").Error(fmt.Sprintf(format, v...))
}

func (gooseLogger) Printf(format string, v ...any) {
	logx.WithField("component", "migrations").Info(fmt.Sprintf(format, v...))
}
