package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"

	"github.com/jmoiron/sqlx"
)

type OptionStore struct {
	db     *sqlx.DB
	tables Tables
}

func NewOptionStore(db *sqlx.DB, tables Tables) *OptionStore {
	return &OptionStore{db: db, tables: tables}
}

func (s *OptionStore) Get(ctx context.Context, name string) (string, error) {
	exec := GetExecutor(ctx, s.db)
	query := exec.Rebind("SELECT option_value FROM " + s.tables.Options + " WHERE option_name = ?")

	var value string
	err := sqlx.GetContext(ctx, exec, &value, query, name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("option %s: %w", name, ErrNotFound)
	}
	return value, err
}

// SiteHost returns the host of the siteurl option.
func (s *OptionStore) SiteHost(ctx context.Context) (string, error) {
	siteURL, err := s.Get(ctx, "siteurl")
	if err != nil {
		return "", err
	}
	u, err := url.Parse(siteURL)
	if err != nil {
		return "", fmt.Errorf("parse siteurl: %w", err)
	}
	return u.Hostname(), nil
}
