package database

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
)

//go:embed queries/credentials.sql
var credentialsDDL string

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, credentialsDDL); err != nil {
		return fmt.Errorf("apply credentials schema: %w", err)
	}
	return nil
}
