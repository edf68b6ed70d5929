package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"post_image_downloader/internal/domain"
	"post_image_downloader/internal/scanner"
)

// ScanService reports which hosts the images of the selected documents
// are served from.
type ScanService struct {
	content ContentStore
	logger  *slog.Logger
}

func NewScanService(content ContentStore, logger *slog.Logger) *ScanService {
	return &ScanService{
		content: content,
		logger:  logger.With("job", "scan-hosts"),
	}
}

func (s *ScanService) Run(ctx context.Context, q domain.DocumentQuery) (*domain.HostReport, error) {
	startTime := time.Now()

	if err := q.Validate(); err != nil {
		return nil, err
	}

	docs, err := s.content.FetchDocuments(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("fetch documents: %w", err)
	}
	if len(docs) == 0 {
		s.logger.Warn("no documents found")
	}

	s.logger.Info("checking image hosts", "documents", len(docs))

	report := &domain.HostReport{Documents: len(docs)}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		for _, src := range scanner.ExtractUniqueImgSrcs(doc.Content) {
			u, err := url.Parse(src)
			if err != nil {
				s.logger.Debug("unparsable src", "document_id", doc.ID, "src", src, "error", err)
				continue
			}

			host := u.Hostname()
			if host == "" {
				// data: URIs land here too
				host = domain.RelativeHostBucket
			}
			report.Add(host, doc.ID)
		}
	}

	s.logger.Info("scan completed",
		"hosts", len(report.Hosts),
		"duration", time.Since(startTime),
	)
	return report, nil
}
