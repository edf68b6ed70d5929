package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"post_image_downloader/internal/domain"
)

const metaThumbnailID = "_thumbnail_id"

type PostStore struct {
	db     *sqlx.DB
	tables Tables
}

func NewPostStore(db *sqlx.DB, tables Tables) *PostStore {
	return &PostStore{db: db, tables: tables}
}

func (s *PostStore) FetchDocuments(ctx context.Context, q domain.DocumentQuery) ([]domain.Document, error) {
	q = q.WithDefaults()

	var sb strings.Builder
	sb.WriteString("SELECT ID AS id, post_type AS type, post_status AS status, post_content AS content FROM ")
	sb.WriteString(s.tables.Posts)
	sb.WriteString(" WHERE post_type IN (?) AND post_status IN (?)")
	args := []any{q.Types, q.Statuses}

	switch {
	case len(q.IDs) > 0:
		sb.WriteString(" AND ID IN (?)")
		args = append(args, q.IDs)
	case q.HasRange():
		sb.WriteString(" AND ID BETWEEN ? AND ?")
		args = append(args, q.FromID, q.ToID)
	}
	sb.WriteString(" ORDER BY ID")

	query, args, err := sqlx.In(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("expand query: %w", err)
	}

	exec := GetExecutor(ctx, s.db)
	var docs []domain.Document
	if err := sqlx.SelectContext(ctx, exec, &docs, exec.Rebind(query), args...); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *PostStore) UpdateContent(ctx context.Context, id int64, content string) error {
	exec := GetExecutor(ctx, s.db)
	query := exec.Rebind("UPDATE " + s.tables.Posts + " SET post_content = ? WHERE ID = ?")
	_, err := exec.ExecContext(ctx, query, content, id)
	return err
}

// FeaturedImageID returns the post's featured image attachment id, or 0.
func (s *PostStore) FeaturedImageID(ctx context.Context, docID int64) (int64, error) {
	value, err := getMeta(ctx, GetExecutor(ctx, s.db), s.tables, docID, metaThumbnailID)
	if errors.Is(err, ErrNotFound) || value == "" {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s of post %d: %w", metaThumbnailID, docID, err)
	}
	return id, nil
}

func (s *PostStore) SetFeaturedImageID(ctx context.Context, docID, assetID int64) error {
	return setMeta(ctx, GetExecutor(ctx, s.db), s.tables, docID, metaThumbnailID, strconv.FormatInt(assetID, 10))
}

func getMeta(ctx context.Context, exec sqlx.ExtContext, t Tables, postID int64, key string) (string, error) {
	query := exec.Rebind("SELECT meta_value FROM " + t.PostMeta + " WHERE post_id = ? AND meta_key = ? ORDER BY meta_id LIMIT 1")

	var value sql.NullString
	err := sqlx.GetContext(ctx, exec, &value, query, postID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value.String, nil
}

func setMeta(ctx context.Context, exec sqlx.ExtContext, t Tables, postID int64, key, value string) error {
	update := exec.Rebind("UPDATE " + t.PostMeta + " SET meta_value = ? WHERE post_id = ? AND meta_key = ?")
	res, err := exec.ExecContext(ctx, update, value, postID, key)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	insert := exec.Rebind("INSERT INTO " + t.PostMeta + " (post_id, meta_key, meta_value) VALUES (?, ?, ?)")
	_, err = exec.ExecContext(ctx, insert, postID, key, value)
	return err
}
