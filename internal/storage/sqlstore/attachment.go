package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"post_image_downloader/internal/domain"
)

const (
	metaAttachedFile = "_wp_attached_file"
	metaImageAlt     = "_wp_attachment_image_alt"
)

type AttachmentStore struct {
	db     *sqlx.DB
	tables Tables
	now    func() time.Time
}

func NewAttachmentStore(db *sqlx.DB, tables Tables) *AttachmentStore {
	return &AttachmentStore{db: db, tables: tables, now: time.Now}
}

// Insert creates the attachment post and its file/alt meta rows.
func (s *AttachmentStore) Insert(ctx context.Context, a *domain.Attachment) (int64, error) {
	exec := GetExecutor(ctx, s.db)
	now := s.now().UTC()

	query := `INSERT INTO ` + s.tables.Posts + ` (
			post_author, post_date, post_date_gmt, post_content, post_title, post_excerpt,
			post_status, post_name, to_ping, pinged, post_modified, post_modified_gmt,
			post_content_filtered, post_parent, guid, post_type, post_mime_type
		) VALUES (
			0, ?, ?, '', ?, '', 'inherit', ?, '', '', ?, ?, '', ?, ?, 'attachment', ?
		)`
	args := []any{now, now, a.Title, slug(a.Title), now, now, a.ParentID, a.GUID, a.MimeType}

	var id int64
	if isDollar(exec) {
		if err := exec.QueryRowxContext(ctx, exec.Rebind(query+" RETURNING ID"), args...).Scan(&id); err != nil {
			return 0, fmt.Errorf("insert attachment: %w", err)
		}
	} else {
		res, err := exec.ExecContext(ctx, exec.Rebind(query), args...)
		if err != nil {
			return 0, fmt.Errorf("insert attachment: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return 0, fmt.Errorf("attachment id: %w", err)
		}
	}

	if err := setMeta(ctx, exec, s.tables, id, metaAttachedFile, a.File); err != nil {
		return 0, fmt.Errorf("set attached file: %w", err)
	}
	if a.Alt != "" {
		if err := setMeta(ctx, exec, s.tables, id, metaImageAlt, a.Alt); err != nil {
			return 0, fmt.Errorf("set alt: %w", err)
		}
	}

	a.ID = id
	return id, nil
}

const selectAttachments = `SELECT p.ID AS id, p.post_parent AS parent_id, p.post_title AS title,
		p.post_mime_type AS mime_type, p.guid AS guid, COALESCE(m.meta_value, '') AS file
	FROM %[1]s p
	LEFT JOIN %[2]s m ON m.post_id = p.ID AND m.meta_key = '` + metaAttachedFile + `'
	WHERE p.post_type = 'attachment'`

func (s *AttachmentStore) Get(ctx context.Context, id int64) (*domain.Attachment, error) {
	exec := GetExecutor(ctx, s.db)
	query := exec.Rebind(fmt.Sprintf(selectAttachments, s.tables.Posts, s.tables.PostMeta) + " AND p.ID = ?")

	var a domain.Attachment
	err := sqlx.GetContext(ctx, exec, &a, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attachment %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// List returns all attachments in ascending id order.
func (s *AttachmentStore) List(ctx context.Context) ([]domain.Attachment, error) {
	exec := GetExecutor(ctx, s.db)
	query := fmt.Sprintf(selectAttachments, s.tables.Posts, s.tables.PostMeta) + " ORDER BY p.ID"

	var list []domain.Attachment
	if err := sqlx.SelectContext(ctx, exec, &list, query); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *AttachmentStore) Delete(ctx context.Context, id int64) error {
	exec := GetExecutor(ctx, s.db)

	if _, err := exec.ExecContext(ctx, exec.Rebind("DELETE FROM "+s.tables.PostMeta+" WHERE post_id = ?"), id); err != nil {
		return fmt.Errorf("delete attachment meta: %w", err)
	}
	if _, err := exec.ExecContext(ctx, exec.Rebind("DELETE FROM "+s.tables.Posts+" WHERE ID = ? AND post_type = 'attachment'"), id); err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	return nil
}

// slug mimics the CMS's post_name: lower case, dashes for anything else.
func slug(title string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
			dash = false
			continue
		}
		if !dash && sb.Len() > 0 {
			sb.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(sb.String(), "-")
}
