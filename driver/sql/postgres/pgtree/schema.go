package pgtree

import (
	"context"
	"database/sql"
)

// CreateSchema creates the PostgreSQL schema elements required by [Store].
func CreateSchema(
	ctx context.Context,
	db *sql.DB,
) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() // nolint:errcheck

	if _, err := tx.ExecContext(
		ctx,
		`CREATE SCHEMA IF NOT EXISTS treekit`,
	); err != nil {
		return err
	}

	if _, err := tx.ExecContext(
		ctx,
		`CREATE TABLE IF NOT EXISTS treekit.tree (
			tree  TEXT NOT NULL,
			key   BYTEA NOT NULL,
			value BYTEA NOT NULL,

			PRIMARY KEY (tree, key)
		)`,
	); err != nil {
		return err
	}

	return tx.Commit()
}
