package store

import (
	"context"
	"database/sql"
	"embed"

	"contact-center/pkg/utils"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the embedded schema: calls, agents and call_events.
func Migrate(ctx context.Context, db *sql.DB) error {
	return utils.Migrate(ctx, db, migrations, "migrations")
}
