package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"post_image_downloader/internal/domain"
	"post_image_downloader/internal/runlog"
	"post_image_downloader/internal/service/mocks"
)

type DedupeServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller
	ctx  context.Context
	dir  string

	content   *mocks.MockContentStore
	media     *mocks.MockMediaStore
	txManager *mocks.MockTransactionManager
	publisher *mocks.MockPublisher
	logs      *runlog.Sink

	service *DedupeService
}

func (s *DedupeServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.ctx = context.Background()
	s.dir = s.T().TempDir()

	s.content = mocks.NewMockContentStore(s.ctrl)
	s.media = mocks.NewMockMediaStore(s.ctrl)
	s.txManager = mocks.NewMockTransactionManager(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)
	s.logs = runlog.New(s.T().TempDir(), "")

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.service = NewDedupeService(s.content, s.media, s.txManager, s.logs, s.publisher, logger)
}

func (s *DedupeServiceTestSuite) TearDownTest() {
	s.logs.Close()
	s.ctrl.Finish()
}

func TestDedupeServiceTestSuite(t *testing.T) {
	suite.Run(t, new(DedupeServiceTestSuite))
}

func (s *DedupeServiceTestSuite) writeFile(name, body string) string {
	p := filepath.Join(s.dir, name)
	s.Require().NoError(os.WriteFile(p, []byte(body), 0o644))
	return p
}

// assets returns 1 and 2 as identical files, 3 unique and 4 missing.
func (s *DedupeServiceTestSuite) assets() []domain.Asset {
	return []domain.Asset{
		{ID: 1, FilePath: s.writeFile("orig.png", "same bytes"), URL: "https://s/u/orig.png"},
		{ID: 2, FilePath: s.writeFile("dup.png", "same bytes"), URL: "https://s/u/dup.png"},
		{ID: 3, FilePath: s.writeFile("other.png", "other bytes"), URL: "https://s/u/other.png"},
		{ID: 4, FilePath: filepath.Join(s.dir, "gone.png"), URL: "https://s/u/gone.png"},
	}
}

const dupDocument = `<!-- wp:image {"id":2,"sizeSlug":"large"} -->
<figure class="wp-block-image size-large"><img src="https://s/u/dup-1024x439.png?v=1" alt="" class="wp-image-2"/></figure>
<!-- /wp:image -->
<p><img src="https://s/u/dup.png"></p>
<!-- wp:image {"id":3} --><figure><img src="https://s/u/other.png" class="wp-image-3"/></figure><!-- /wp:image -->`

const dedupedDocument = `<!-- wp:image {"id":1,"sizeSlug":"large"} -->
<figure class="wp-block-image size-large"><img src="https://s/u/orig-1024x439.png?v=1" alt="" class="wp-image-1"/></figure>
<!-- /wp:image -->
<p><img src="https://s/u/orig.png"></p>
<!-- wp:image {"id":3} --><figure><img src="https://s/u/other.png" class="wp-image-3"/></figure><!-- /wp:image -->`

func (s *DedupeServiceTestSuite) TestRun_MergesDuplicates() {
	s.media.EXPECT().ListAssets(gomock.Any()).Return(s.assets(), nil)
	s.content.EXPECT().FetchDocuments(gomock.Any(), gomock.Any()).Return([]domain.Document{
		{ID: 100, Content: dupDocument},
		{ID: 101, Content: "<p>no images</p>"},
	}, nil)
	s.content.EXPECT().FeaturedImageID(gomock.Any(), int64(100)).Return(int64(2), nil)
	s.content.EXPECT().FeaturedImageID(gomock.Any(), int64(101)).Return(int64(0), nil)
	s.media.EXPECT().CanonicalURL(gomock.Any(), int64(2)).Return("https://s/u/dup.png", nil)

	s.txManager.EXPECT().WithTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
	)
	s.content.EXPECT().SetFeaturedImageID(gomock.Any(), int64(100), int64(1)).Return(nil)
	s.content.EXPECT().UpdateContent(gomock.Any(), int64(100), dedupedDocument).Return(nil)
	s.media.EXPECT().DeleteAsset(gomock.Any(), int64(2)).Return(nil)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	stats, err := s.service.Run(s.ctx, DedupeOptions{RunID: "r"})

	s.Require().NoError(err)
	s.Equal(3, stats.AssetsScanned)
	s.Equal(1, stats.MissingFiles)
	s.Equal(1, stats.Groups)
	s.Equal(1, stats.Replaced)
	s.Equal(1, stats.DocumentsUpdated)
	s.Equal(1, stats.FeaturedUpdated)
	s.Equal([]int64{2}, stats.DeletedIDs)
	s.Zero(stats.Errors)

	logData, err := os.ReadFile(s.logs.Path(runlog.Deduplication))
	s.Require().NoError(err)
	s.Contains(string(logData), "Asset ID 4 file")
	s.Contains(string(logData), "Post ID 100 featured image 2 -> 1")
	s.Contains(string(logData), "Asset ID 2 duplicate of 1, deleted")
}

func (s *DedupeServiceTestSuite) TestRun_DryRunWritesNothing() {
	s.media.EXPECT().ListAssets(gomock.Any()).Return(s.assets(), nil)
	s.content.EXPECT().FetchDocuments(gomock.Any(), gomock.Any()).Return([]domain.Document{
		{ID: 100, Content: dupDocument},
	}, nil)
	s.content.EXPECT().FeaturedImageID(gomock.Any(), int64(100)).Return(int64(2), nil)
	s.media.EXPECT().CanonicalURL(gomock.Any(), int64(2)).Return("https://s/u/dup.png", nil)

	stats, err := s.service.Run(s.ctx, DedupeOptions{DryRun: true})

	s.Require().NoError(err)
	s.Equal(1, stats.Groups)
	s.Equal(1, stats.DocumentsUpdated)
	s.Equal(1, stats.FeaturedUpdated)
	s.Equal([]int64{2}, stats.DeletedIDs)
}

func (s *DedupeServiceTestSuite) TestRun_SurvivorIsFirstListed() {
	assets := []domain.Asset{
		{ID: 7, FilePath: s.writeFile("a.png", "x"), URL: "https://s/u/a.png"},
		{ID: 8, FilePath: s.writeFile("b.png", "x"), URL: "https://s/u/b.png"},
		{ID: 9, FilePath: s.writeFile("c.png", "x"), URL: "https://s/u/c.png"},
	}
	s.media.EXPECT().ListAssets(gomock.Any()).Return(assets, nil)
	s.content.EXPECT().FetchDocuments(gomock.Any(), gomock.Any()).Return(nil, nil)
	s.media.EXPECT().DeleteAsset(gomock.Any(), int64(8)).Return(nil)
	s.media.EXPECT().DeleteAsset(gomock.Any(), int64(9)).Return(nil)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e *domain.Event) error {
			s.Equal(domain.EventAssetDeleted, e.Type)
			s.Equal(int64(7), e.ReplacedBy)
			return nil
		},
	).Times(2)

	stats, err := s.service.Run(s.ctx, DedupeOptions{})

	s.Require().NoError(err)
	s.Equal(2, stats.Replaced)
	s.Equal([]int64{8, 9}, stats.DeletedIDs)
}

func (s *DedupeServiceTestSuite) TestRun_NoDuplicates() {
	s.media.EXPECT().ListAssets(gomock.Any()).Return([]domain.Asset{
		{ID: 1, FilePath: s.writeFile("a.png", "a")},
		{ID: 2, FilePath: s.writeFile("b.png", "b")},
	}, nil)

	stats, err := s.service.Run(s.ctx, DedupeOptions{})

	s.Require().NoError(err)
	s.Zero(stats.Groups)
	s.Empty(stats.DeletedIDs)
}

func (s *DedupeServiceTestSuite) TestRun_DeleteFailureIsCounted() {
	s.media.EXPECT().ListAssets(gomock.Any()).Return(s.assets(), nil)
	s.content.EXPECT().FetchDocuments(gomock.Any(), gomock.Any()).Return(nil, nil)
	s.media.EXPECT().DeleteAsset(gomock.Any(), int64(2)).Return(errors.New("permission denied"))

	stats, err := s.service.Run(s.ctx, DedupeOptions{})

	s.Require().NoError(err)
	s.Equal(1, stats.Errors)
	s.Empty(stats.DeletedIDs)
}

func (s *DedupeServiceTestSuite) TestRun_KeepsDuplicateReferencedByFailedDocument() {
	assets := []domain.Asset{
		{ID: 7, FilePath: s.writeFile("a.png", "x"), URL: "https://s/u/a.png"},
		{ID: 8, FilePath: s.writeFile("b.png", "x"), URL: "https://s/u/b.png"},
		{ID: 9, FilePath: s.writeFile("c.png", "x"), URL: "https://s/u/c.png"},
	}
	s.media.EXPECT().ListAssets(gomock.Any()).Return(assets, nil)
	s.content.EXPECT().FetchDocuments(gomock.Any(), gomock.Any()).Return([]domain.Document{
		{ID: 100, Content: `<p><img src="https://s/u/b.png"></p>`},
	}, nil)
	s.content.EXPECT().FeaturedImageID(gomock.Any(), int64(100)).Return(int64(0), nil)
	s.txManager.EXPECT().WithTransaction(gomock.Any(), gomock.Any()).Return(errors.New("db down"))
	s.media.EXPECT().DeleteAsset(gomock.Any(), int64(9)).Return(nil)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e *domain.Event) error {
			s.Equal(domain.EventAssetDeleted, e.Type)
			s.Equal(int64(9), e.AssetID)
			return nil
		},
	)

	stats, err := s.service.Run(s.ctx, DedupeOptions{})

	s.Require().NoError(err)
	s.Equal([]int64{9}, stats.DeletedIDs)
	s.Equal(2, stats.Errors)

	logData, err := os.ReadFile(s.logs.Path(runlog.Deduplication))
	s.Require().NoError(err)
	s.Contains(string(logData), "Post ID 100 : db down")
	s.Contains(string(logData), "Asset ID 8 duplicate of 7, kept")
}

func (s *DedupeServiceTestSuite) TestRun_FeaturedImageErrorKeepsDuplicates() {
	s.media.EXPECT().ListAssets(gomock.Any()).Return(s.assets(), nil)
	s.content.EXPECT().FetchDocuments(gomock.Any(), gomock.Any()).Return([]domain.Document{
		{ID: 100, Content: "<p>no images</p>"},
	}, nil)
	s.content.EXPECT().FeaturedImageID(gomock.Any(), int64(100)).Return(int64(0), errors.New("db down"))

	stats, err := s.service.Run(s.ctx, DedupeOptions{})

	s.Require().NoError(err)
	s.Empty(stats.DeletedIDs)
	s.Equal(2, stats.Errors)
}

func (s *DedupeServiceTestSuite) TestRun_ListAssetsError() {
	s.media.EXPECT().ListAssets(gomock.Any()).Return(nil, errors.New("db down"))

	_, err := s.service.Run(s.ctx, DedupeOptions{})

	s.Require().Error(err)
	s.Contains(err.Error(), "list assets")
}
