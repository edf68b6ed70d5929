// Package media stores imported image files under the uploads directory
// and records them as attachments.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"post_image_downloader/internal/domain"
	"post_image_downloader/internal/fetch"
)

type Downloader interface {
	Download(ctx context.Context, url string) (string, error)
}

type AttachmentRepository interface {
	Insert(ctx context.Context, a *domain.Attachment) (int64, error)
	Get(ctx context.Context, id int64) (*domain.Attachment, error)
	List(ctx context.Context) ([]domain.Attachment, error)
	Delete(ctx context.Context, id int64) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Config struct {
	// UploadsDir is the filesystem root of the uploads, e.g. /var/www/wp-content/uploads.
	UploadsDir string
	// UploadsURL is the public URL of UploadsDir.
	UploadsURL string
	// TempDir holds copies of local files during import. Empty means os.TempDir().
	TempDir string
}

type Library struct {
	cfg         Config
	downloader  Downloader
	attachments AttachmentRepository
	txManager   TransactionManager
	now         func() time.Time
	logger      *slog.Logger
}

func NewLibrary(
	cfg Config,
	downloader Downloader,
	attachments AttachmentRepository,
	txManager TransactionManager,
	logger *slog.Logger,
) *Library {
	cfg.UploadsURL = strings.TrimRight(cfg.UploadsURL, "/")
	return &Library{
		cfg:         cfg,
		downloader:  downloader,
		attachments: attachments,
		txManager:   txManager,
		now:         time.Now,
		logger:      logger.With("component", "media"),
	}
}

// ImportFromURL downloads req.Source and imports it. Download errors wrap
// domain.ErrDownloadFailed, storage errors wrap domain.ErrImportFailed.
func (l *Library) ImportFromURL(ctx context.Context, req domain.ImportRequest) (int64, error) {
	tmp, err := l.downloader.Download(ctx, req.Source)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", domain.ErrDownloadFailed, req.Source, err)
	}
	defer os.Remove(tmp)

	id, err := l.importFile(ctx, tmp, fileName(req.Source), req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", domain.ErrImportFailed, req.Source, err)
	}
	return id, nil
}

// ImportFromLocalPath imports a file from disk. The file is copied to a
// temporary location first so the original stays in place.
func (l *Library) ImportFromLocalPath(ctx context.Context, req domain.ImportRequest) (int64, error) {
	tmp, err := copyToTemp(req.Source, l.cfg.TempDir)
	if err != nil {
		return 0, fmt.Errorf("copy local file: %w", err)
	}
	defer os.Remove(tmp)

	id, err := l.importFile(ctx, tmp, filepath.Base(req.Source), req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", domain.ErrImportFailed, req.Source, err)
	}
	return id, nil
}

func (l *Library) importFile(ctx context.Context, tmp, name string, req domain.ImportRequest) (int64, error) {
	mime, ext := fetch.ImageType(tmp)
	if mime == "" {
		return 0, errors.New("file type is not permitted")
	}

	name = sanitizeFileName(name)
	if filepath.Ext(name) == "" {
		name += ext
	}

	now := l.now()
	subdir := path.Join(now.Format("2006"), now.Format("01"))
	dir := filepath.Join(l.cfg.UploadsDir, filepath.FromSlash(subdir))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create upload dir: %w", err)
	}

	dest, err := uniquePath(dir, name)
	if err != nil {
		return 0, err
	}
	if err := moveFile(tmp, dest); err != nil {
		return 0, fmt.Errorf("store file: %w", err)
	}
	if err := os.Chmod(dest, 0o644); err != nil {
		os.Remove(dest)
		return 0, fmt.Errorf("chmod file: %w", err)
	}

	rel := path.Join(subdir, filepath.Base(dest))
	title := req.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(dest), filepath.Ext(dest))
	}

	att := &domain.Attachment{
		ParentID: req.ParentID,
		Title:    title,
		MimeType: mime,
		GUID:     l.urlFor(rel),
		File:     rel,
		Alt:      req.Alt,
	}

	err = l.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		_, err := l.attachments.Insert(ctx, att)
		return err
	})
	if err != nil {
		os.Remove(dest)
		return 0, fmt.Errorf("save attachment: %w", err)
	}

	l.logger.Debug("imported", "attachment_id", att.ID, "file", rel, "parent_id", req.ParentID)
	return att.ID, nil
}

func (l *Library) CanonicalURL(ctx context.Context, id int64) (string, error) {
	att, err := l.attachments.Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("get attachment: %w", err)
	}
	if att.File == "" {
		return att.GUID, nil
	}
	return l.urlFor(att.File), nil
}

// FilePath returns the absolute path of the attachment's file.
func (l *Library) FilePath(ctx context.Context, id int64) (string, error) {
	att, err := l.attachments.Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("get attachment: %w", err)
	}
	return l.filePath(att.File), nil
}

// ListAssets returns all attachments in ascending id order.
func (l *Library) ListAssets(ctx context.Context) ([]domain.Asset, error) {
	list, err := l.attachments.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}

	assets := make([]domain.Asset, 0, len(list))
	for _, att := range list {
		asset := domain.Asset{ID: att.ID, URL: att.GUID}
		if att.File != "" {
			asset.FilePath = l.filePath(att.File)
			asset.URL = l.urlFor(att.File)
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

// DeleteAsset removes the attachment rows and its file. A missing file is
// not an error.
func (l *Library) DeleteAsset(ctx context.Context, id int64) error {
	var file string
	err := l.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		att, err := l.attachments.Get(ctx, id)
		if err != nil {
			return err
		}
		file = att.File
		return l.attachments.Delete(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete attachment %d: %w", id, err)
	}

	if file == "" {
		return nil
	}
	if err := os.Remove(l.filePath(file)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func (l *Library) urlFor(rel string) string {
	return l.cfg.UploadsURL + "/" + rel
}

func (l *Library) filePath(rel string) string {
	return filepath.Join(l.cfg.UploadsDir, filepath.FromSlash(rel))
}

// fileName is the last path segment of a URL, without query or fragment.
func fileName(src string) string {
	p := src
	if u, err := url.Parse(src); err == nil {
		p = u.Path
	}
	return path.Base(p)
}

func sanitizeFileName(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			sb.WriteRune(r)
		case r == ' ':
			sb.WriteByte('-')
		}
	}
	s := strings.Trim(sb.String(), ".-")
	if s == "" {
		s = "image"
	}
	return s
}

// uniquePath returns dir/name, or dir/name-N.ext when that is taken.
func uniquePath(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	candidate := filepath.Join(dir, name)
	for i := 1; ; i++ {
		_, err := os.Stat(candidate)
		if errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
		candidate = filepath.Join(dir, base+"-"+strconv.Itoa(i)+ext)
	}
}

func copyToTemp(src, tempDir string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.CreateTemp(tempDir, "imagedownloader-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	return out.Name(), nil
}

// moveFile renames src to dst, copying when they are on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
