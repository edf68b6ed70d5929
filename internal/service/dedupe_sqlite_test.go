package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/suite"

	"post_image_downloader/internal/domain"
	"post_image_downloader/internal/media"
	"post_image_downloader/internal/runlog"
	"post_image_downloader/internal/storage/sqlstore"
)

// DedupeSQLiteSuite runs deduplication against real stores and files.
type DedupeSQLiteSuite struct {
	suite.Suite
	ctx     context.Context
	db      *sqlx.DB
	posts   *sqlstore.PostStore
	library *media.Library
	service *DedupeService
	src     string
}

func (s *DedupeSQLiteSuite) SetupTest() {
	s.ctx = context.Background()

	db, err := sqlstore.Open(s.ctx, "sqlite", ":memory:")
	s.Require().NoError(err)
	s.db = db

	tables, err := sqlstore.NewTables(sqlstore.DefaultTablePrefix)
	s.Require().NoError(err)
	s.Require().NoError(sqlstore.CreateSchema(s.ctx, db, tables))

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	tm := sqlstore.NewTransactionManager(db)

	s.posts = sqlstore.NewPostStore(db, tables)
	s.library = media.NewLibrary(media.Config{
		UploadsDir: s.T().TempDir(),
		UploadsURL: "https://example.com/wp-content/uploads",
		TempDir:    s.T().TempDir(),
	}, nil, sqlstore.NewAttachmentStore(db, tables), tm, logger)

	logs := runlog.New(s.T().TempDir(), "")
	s.T().Cleanup(func() { logs.Close() })

	s.service = NewDedupeService(s.posts, s.library, tm, logs, nil, logger)
	s.src = s.T().TempDir()
}

func (s *DedupeSQLiteSuite) TearDownTest() {
	s.db.Close()
}

func TestDedupeSQLiteSuite(t *testing.T) {
	suite.Run(t, new(DedupeSQLiteSuite))
}

var pngSignature = "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"

func (s *DedupeSQLiteSuite) importImage(name, payload string) (int64, string) {
	p := filepath.Join(s.src, name)
	s.Require().NoError(os.WriteFile(p, []byte(pngSignature+payload), 0o644))

	id, err := s.library.ImportFromLocalPath(s.ctx, domain.ImportRequest{Source: p})
	s.Require().NoError(err)

	u, err := s.library.CanonicalURL(s.ctx, id)
	s.Require().NoError(err)
	return id, u
}

func (s *DedupeSQLiteSuite) TestRun_IsIdempotent() {
	origID, origURL := s.importImage("orig.png", "same")
	dupID, dupURL := s.importImage("dup.png", "same")
	otherID, _ := s.importImage("other.png", "different")

	content := fmt.Sprintf(`<!-- wp:image {"id":%d} --><figure><img src="%s" class="wp-image-%d"/></figure><!-- /wp:image -->`,
		dupID, dupURL, dupID)
	_, err := s.db.ExecContext(s.ctx,
		"INSERT INTO wp_posts (ID, post_type, post_status, post_content) VALUES (500, 'post', 'publish', ?)", content)
	s.Require().NoError(err)
	s.Require().NoError(s.posts.SetFeaturedImageID(s.ctx, 500, dupID))

	stats, err := s.service.Run(s.ctx, DedupeOptions{})

	s.Require().NoError(err)
	s.Equal(1, stats.Groups)
	s.Equal([]int64{dupID}, stats.DeletedIDs)
	s.Equal(1, stats.DocumentsUpdated)

	docs, err := s.posts.FetchDocuments(s.ctx, domain.DocumentQuery{IDs: []int64{500}})
	s.Require().NoError(err)
	s.Equal(fmt.Sprintf(`<!-- wp:image {"id":%d} --><figure><img src="%s" class="wp-image-%d"/></figure><!-- /wp:image -->`,
		origID, origURL, origID), docs[0].Content)

	featured, err := s.posts.FeaturedImageID(s.ctx, 500)
	s.Require().NoError(err)
	s.Equal(origID, featured)

	assets, err := s.library.ListAssets(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(assets, 2)
	s.Equal(origID, assets[0].ID)
	s.Equal(otherID, assets[1].ID)

	again, err := s.service.Run(s.ctx, DedupeOptions{})

	s.Require().NoError(err)
	s.Zero(again.Groups)
	s.Empty(again.DeletedIDs)
	s.Zero(again.DocumentsUpdated)
}

func (s *DedupeSQLiteSuite) TestRun_DryRunLeavesStoreUntouched() {
	_, _ = s.importImage("orig.png", "same")
	dupID, dupURL := s.importImage("dup.png", "same")

	content := fmt.Sprintf(`<p><img src="%s"></p>`, dupURL)
	_, err := s.db.ExecContext(s.ctx,
		"INSERT INTO wp_posts (ID, post_type, post_status, post_content) VALUES (600, 'page', 'publish', ?)", content)
	s.Require().NoError(err)

	stats, err := s.service.Run(s.ctx, DedupeOptions{DryRun: true})

	s.Require().NoError(err)
	s.Equal(1, stats.DocumentsUpdated)
	s.Equal([]int64{dupID}, stats.DeletedIDs)

	docs, err := s.posts.FetchDocuments(s.ctx, domain.DocumentQuery{IDs: []int64{600}})
	s.Require().NoError(err)
	s.Equal(content, docs[0].Content)

	assets, err := s.library.ListAssets(s.ctx)
	s.Require().NoError(err)
	s.Len(assets, 2)
}
