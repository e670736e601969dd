package database

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// Schema returns the idempotent DDL for all tables.
func Schema() string {
	return schemaSQL
}

// ApplySchema executes the embedded DDL. Every statement is IF NOT EXISTS, so reapplying is a no-op.
func ApplySchema(ctx context.Context, db Querier) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
