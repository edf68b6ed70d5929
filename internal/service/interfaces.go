package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"post_image_downloader/internal/domain"
	"post_image_downloader/internal/runlog"
)

type ContentStore interface {
	FetchDocuments(ctx context.Context, q domain.DocumentQuery) ([]domain.Document, error)
	UpdateContent(ctx context.Context, id int64, content string) error
	FeaturedImageID(ctx context.Context, docID int64) (int64, error)
	SetFeaturedImageID(ctx context.Context, docID, assetID int64) error
}

type MediaStore interface {
	ImportFromLocalPath(ctx context.Context, req domain.ImportRequest) (int64, error)
	ImportFromURL(ctx context.Context, req domain.ImportRequest) (int64, error)
	CanonicalURL(ctx context.Context, id int64) (string, error)
	FilePath(ctx context.Context, id int64) (string, error)
	DeleteAsset(ctx context.Context, id int64) error
	ListAssets(ctx context.Context) ([]domain.Asset, error)
}

type SiteConfig interface {
	SiteHost(ctx context.Context) (string, error)
}

type LogSink interface {
	Log(channel runlog.Channel, format string, args ...any) error
	Flush(channels ...runlog.Channel) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, event *domain.Event) error
	Close() error
}
