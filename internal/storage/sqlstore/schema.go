package sqlstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// CreateSchema creates the subset of CMS tables the tool touches. It is
// meant for local SQLite databases and tests; MySQL sites already have them.
func CreateSchema(ctx context.Context, db *sqlx.DB, t Tables) error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if isDollar(db) {
		pk = "BIGSERIAL PRIMARY KEY"
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			ID %s,
			post_author BIGINT NOT NULL DEFAULT 0,
			post_date TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			post_date_gmt TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			post_content TEXT NOT NULL DEFAULT '',
			post_title TEXT NOT NULL DEFAULT '',
			post_excerpt TEXT NOT NULL DEFAULT '',
			post_status VARCHAR(20) NOT NULL DEFAULT 'publish',
			post_name VARCHAR(200) NOT NULL DEFAULT '',
			to_ping TEXT NOT NULL DEFAULT '',
			pinged TEXT NOT NULL DEFAULT '',
			post_modified TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			post_modified_gmt TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			post_content_filtered TEXT NOT NULL DEFAULT '',
			post_parent BIGINT NOT NULL DEFAULT 0,
			guid VARCHAR(255) NOT NULL DEFAULT '',
			post_type VARCHAR(20) NOT NULL DEFAULT 'post',
			post_mime_type VARCHAR(100) NOT NULL DEFAULT ''
		)`, t.Posts, pk),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			meta_id %s,
			post_id BIGINT NOT NULL DEFAULT 0,
			meta_key VARCHAR(255),
			meta_value TEXT
		)`, t.PostMeta, pk),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			option_id %s,
			option_name VARCHAR(191) NOT NULL UNIQUE,
			option_value TEXT NOT NULL
		)`, t.Options, pk),
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}
