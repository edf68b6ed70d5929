package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"post_image_downloader/internal/domain"
	"post_image_downloader/internal/hostmatch"
	"post_image_downloader/internal/resolver"
	"post_image_downloader/internal/runlog"
	"post_image_downloader/internal/scanner"
)

// DryRunURL replaces imported srcs when nothing is actually imported.
const DryRunURL = "https://dry-run/new-url"

type ImportOptions struct {
	Query  domain.DocumentQuery
	Filter domain.HostFilter
	// DefaultHostAndSchema is prepended to relative srcs, e.g. "https://example.com".
	DefaultHostAndSchema string
	// LocalFolder is checked for a copy of each image before downloading it.
	LocalFolder string
	DryRun      bool
	RunID       string
}

func (o ImportOptions) Validate() error {
	if err := o.Query.Validate(); err != nil {
		return err
	}
	if o.Filter.Mode != domain.FilterExclude && o.Filter.Mode != domain.FilterIncludeOnly {
		return fmt.Errorf("%w: unknown host filter mode %d", domain.ErrInvalidInvocation, o.Filter.Mode)
	}
	return nil
}

type ImportService struct {
	content   ContentStore
	media     MediaStore
	site      SiteConfig
	logs      LogSink
	publisher Publisher
	logger    *slog.Logger
	// fileExists overrides the resolver's disk check in tests.
	fileExists func(string) bool
}

func NewImportService(
	content ContentStore,
	media MediaStore,
	site SiteConfig,
	logs LogSink,
	publisher Publisher,
	logger *slog.Logger,
) *ImportService {
	return &ImportService{
		content:   content,
		media:     media,
		site:      site,
		logs:      logs,
		publisher: publisher,
		logger:    logger.With("job", "import-images"),
	}
}

// importRun carries the per-run state shared by all documents.
type importRun struct {
	opts     ImportOptions
	resolver *resolver.Resolver
	patterns []string
	stats    *domain.ImportStats
	logger   *slog.Logger
}

func (s *ImportService) Run(ctx context.Context, opts ImportOptions) (*domain.ImportStats, error) {
	startTime := time.Now()

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	run := &importRun{
		opts:     opts,
		resolver: resolver.New(opts.LocalFolder, opts.DefaultHostAndSchema),
		stats:    &domain.ImportStats{},
		logger:   s.logger.With("run_id", opts.RunID),
	}
	if s.fileExists != nil {
		run.resolver.FileExists = s.fileExists
	}

	patterns, err := s.hostPatterns(ctx, opts.Filter)
	if err != nil {
		return nil, err
	}
	run.patterns = patterns

	if err := s.logs.Flush(runlog.ImportChannels...); err != nil {
		return nil, fmt.Errorf("flush logs: %w", err)
	}

	run.logger.Info("starting import",
		"dry_run", opts.DryRun,
		"filter", opts.Filter.Mode.String(),
		"patterns", patterns,
		"default_host", opts.DefaultHostAndSchema,
		"local_folder", opts.LocalFolder,
	)

	docs, err := s.content.FetchDocuments(ctx, opts.Query)
	if err != nil {
		return nil, fmt.Errorf("fetch documents: %w", err)
	}
	if len(docs) == 0 {
		run.logger.Warn("no documents found")
	}
	run.stats.Documents = len(docs)

	for i := range docs {
		if err := ctx.Err(); err != nil {
			return run.stats, err
		}

		doc := &docs[i]
		run.logger.Info("processing document",
			"progress", fmt.Sprintf("%d/%d", i+1, len(docs)),
			"document_id", doc.ID,
		)
		s.processDocument(ctx, run, doc)
	}

	run.stats.Duration = time.Since(startTime)

	run.logger.Info("import completed",
		"documents", run.stats.Documents,
		"documents_updated", run.stats.DocumentsUpdated,
		"images_found", run.stats.ImagesFound,
		"imported", run.stats.Imported,
		"skipped", run.stats.Skipped,
		"failed", run.stats.Failed,
		"published", run.stats.Published,
		"duration", run.stats.Duration,
	)

	return run.stats, nil
}

// hostPatterns returns the patterns of the run's host filter. The site's
// own host is always excluded.
func (s *ImportService) hostPatterns(ctx context.Context, filter domain.HostFilter) ([]string, error) {
	patterns := make([]string, 0, len(filter.Patterns)+1)
	for _, p := range filter.Patterns {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}

	if filter.Mode == domain.FilterExclude {
		host, err := s.site.SiteHost(ctx)
		if err != nil {
			return nil, fmt.Errorf("get site host: %w", err)
		}
		if host != "" {
			patterns = append(patterns, host)
		}
	}
	return patterns, nil
}

func (s *ImportService) processDocument(ctx context.Context, run *importRun, doc *domain.Document) {
	images := scanner.ExtractImgTuples(doc.Content)
	run.logger.Debug("found images", "document_id", doc.ID, "count", len(images))
	if len(images) == 0 {
		return
	}
	run.stats.ImagesFound += len(images)

	content := doc.Content
	handled := make(map[string]bool, len(images))
	replaced := 0

	for _, img := range images {
		if img.Src == "" || handled[img.Src] {
			run.stats.Skipped++
			continue
		}
		handled[img.Src] = true

		// An earlier replacement may have rewritten this src already.
		if !scanner.ContainsSrc(content, img.Src) {
			run.logger.Debug("src no longer in content", "document_id", doc.ID, "src", img.Src)
			run.stats.Skipped++
			continue
		}

		newURL, ok := s.importImage(ctx, run, doc.ID, img)
		if !ok {
			continue
		}

		content = scanner.ReplaceSrc(content, img.Src, newURL)
		replaced++
	}

	if content == doc.Content {
		return
	}
	run.stats.DocumentsUpdated++

	if run.opts.DryRun {
		run.logger.Info("document content updated", "document_id", doc.ID, "dry_run", true)
		return
	}

	if err := s.content.UpdateContent(ctx, doc.ID, content); err != nil {
		run.stats.Failed++
		run.logger.Error("failed to update document", "document_id", doc.ID, "error", err)
		s.log(run, runlog.OtherError, "ID %d : update content: %v", doc.ID, err)
		return
	}
	run.logger.Info("document content updated", "document_id", doc.ID)

	s.publish(ctx, run, &domain.Event{
		Type:       domain.EventDocumentUpdated,
		DocumentID: doc.ID,
		Images:     replaced,
	})
}

// importImage brings one image into the media store and returns its new
// URL. Failures are logged to their channel and reported as !ok.
func (s *ImportService) importImage(ctx context.Context, run *importRun, docID int64, img domain.ImageReference) (string, bool) {
	logger := run.logger.With("document_id", docID, "src", img.Src)

	switch run.opts.Filter.Mode {
	case domain.FilterIncludeOnly:
		if !hostmatch.Matches(img.Src, run.patterns) {
			logger.Info("skipping, off target host")
			run.stats.Skipped++
			return "", false
		}
	case domain.FilterExclude:
		if hostmatch.Matches(img.Src, run.patterns) {
			logger.Info("skipping, excluded host")
			run.stats.Skipped++
			return "", false
		}
	}

	resolved, err := run.resolver.Resolve(img.Src)
	if err != nil {
		run.stats.Failed++
		if errors.Is(err, domain.ErrNoDefaultHost) {
			logger.Warn("default download host and schema missing", "error", err)
			s.log(run, runlog.MissingDefaultHost, "ID %d src %s", docID, img.Src)
		} else {
			logger.Warn("could not resolve image path", "error", err)
			s.log(run, runlog.OtherError, "ID %d src %s", docID, img.Src)
		}
		return "", false
	}

	req := domain.ImportRequest{
		Source:   resolved.Location,
		ParentID: docID,
		Title:    img.Title,
		Alt:      img.Alt,
	}
	stem := fileStem(resolved.Location)
	if req.Title == "" {
		req.Title = stem
	}
	if req.Alt == "" {
		req.Alt = stem
	}

	if resolved.Kind == domain.PathLocal {
		logger.Info("importing file", "path", resolved.Location)
	} else {
		logger.Info("downloading", "url", resolved.Location)
	}

	var (
		attachmentID int64
		newURL       = DryRunURL
	)
	if !run.opts.DryRun {
		attachmentID, newURL, err = s.store(ctx, resolved, req)
		if err != nil {
			run.stats.Failed++
			s.logImportError(run, logger, docID, img.Src, err)
			return "", false
		}
	}

	run.stats.Imported++
	s.log(run, runlog.Download, "Post ID %d ; original src %s ; new src %s ; imported attachment ID %d",
		docID, img.Src, newURL, attachmentID)
	return newURL, true
}

func (s *ImportService) store(ctx context.Context, resolved domain.ResolvedPath, req domain.ImportRequest) (int64, string, error) {
	var (
		id  int64
		err error
	)
	if resolved.Kind == domain.PathLocal {
		id, err = s.media.ImportFromLocalPath(ctx, req)
	} else {
		id, err = s.media.ImportFromURL(ctx, req)
	}
	if err != nil {
		return 0, "", err
	}

	newURL, err := s.media.CanonicalURL(ctx, id)
	if err != nil {
		return 0, "", fmt.Errorf("url of attachment %d: %w", id, err)
	}
	return id, newURL, nil
}

func (s *ImportService) logImportError(run *importRun, logger *slog.Logger, docID int64, src string, err error) {
	switch {
	case errors.Is(err, domain.ErrDownloadFailed):
		logger.Warn("error while downloading image", "error", err)
		s.log(run, runlog.DownloadFailed, "ID %d src %s : %v", docID, src, err)
	case errors.Is(err, domain.ErrImportFailed):
		logger.Warn("error during import to media library", "error", err)
		s.log(run, runlog.ImportFailed, "ID %d src %s : %v", docID, src, err)
	default:
		logger.Warn("unknown error", "error", err)
		s.log(run, runlog.OtherError, "ID %d src %s : %v", docID, src, err)
	}
}

func (s *ImportService) log(run *importRun, channel runlog.Channel, format string, args ...any) {
	if err := s.logs.Log(channel, format, args...); err != nil {
		run.logger.Error("failed to write run log", "channel", channel, "error", err)
	}
}

func (s *ImportService) publish(ctx context.Context, run *importRun, event *domain.Event) {
	if s.publisher == nil {
		return
	}
	event.RunID = run.opts.RunID
	event.Job = "import-images"
	event.OccurredAt = time.Now().UTC()

	if err := s.publisher.Publish(ctx, event); err != nil {
		run.logger.Error("failed to publish event", "type", event.Type, "document_id", event.DocumentID, "error", err)
		return
	}
	run.stats.Published++
}

// fileStem is the file name of a path or URL without query or extension.
func fileStem(location string) string {
	p := location
	if u, err := url.Parse(location); err == nil && u.Path != "" {
		p = u.Path
	}
	base := path.Base(strings.ReplaceAll(p, "\\", "/"))
	return strings.TrimSuffix(base, path.Ext(base))
}
