package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// InitSchema loads schemaSQL into a database that has no videos table yet.
// The load runs in one transaction, so a failure leaves the database empty
// and the next start retries it. Later changes go through Migrate.
func (db *DB) InitSchema(ctx context.Context, schemaSQL []byte) error {
	var present bool
	if err := db.Pool.QueryRow(ctx, `SELECT to_regclass('public.videos') IS NOT NULL`).Scan(&present); err != nil {
		return fmt.Errorf("probe schema: %w", err)
	}
	if present {
		db.log.Debug().Msg("schema present")
		return nil
	}

	start := time.Now()
	err := pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, string(schemaSQL))
		return err
	})
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	db.log.Info().Dur("elapsed", time.Since(start)).Msg("schema loaded into empty database")
	return nil
}
