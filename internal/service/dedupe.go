package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"post_image_downloader/internal/blocks"
	"post_image_downloader/internal/domain"
	"post_image_downloader/internal/runlog"
	"post_image_downloader/internal/scanner"
)

type DedupeOptions struct {
	Query  domain.DocumentQuery
	DryRun bool
	RunID  string
}

type DedupeService struct {
	content   ContentStore
	media     MediaStore
	txManager TransactionManager
	logs      LogSink
	publisher Publisher
	rewriter  *blocks.ImageRewriter
	logger    *slog.Logger
}

func NewDedupeService(
	content ContentStore,
	media MediaStore,
	txManager TransactionManager,
	logs LogSink,
	publisher Publisher,
	logger *slog.Logger,
) *DedupeService {
	return &DedupeService{
		content:   content,
		media:     media,
		txManager: txManager,
		logs:      logs,
		publisher: publisher,
		rewriter:  blocks.NewImageRewriter(media),
		logger:    logger.With("job", "dedupe"),
	}
}

type dedupeRun struct {
	opts   DedupeOptions
	stats  *domain.DedupeStats
	logger *slog.Logger
}

// Run merges media assets with byte-identical files. Within each group the
// asset listed first (lowest id) survives; documents referencing the others
// are repointed to it and the others are deleted.
func (s *DedupeService) Run(ctx context.Context, opts DedupeOptions) (*domain.DedupeStats, error) {
	startTime := time.Now()

	if err := opts.Query.Validate(); err != nil {
		return nil, err
	}

	run := &dedupeRun{
		opts:   opts,
		stats:  &domain.DedupeStats{},
		logger: s.logger.With("run_id", opts.RunID),
	}

	if err := s.logs.Flush(runlog.Deduplication); err != nil {
		return nil, fmt.Errorf("flush logs: %w", err)
	}

	run.logger.Info("starting deduplication", "dry_run", opts.DryRun)

	groups, err := s.findDuplicates(ctx, run)
	if err != nil {
		return nil, err
	}
	run.stats.Groups = len(groups)

	if len(groups) > 0 {
		inUse, err := s.rewriteDocuments(ctx, run, groups)
		if err != nil {
			return run.stats, err
		}
		s.deleteReplaced(ctx, run, groups, inUse)
	}

	run.stats.Duration = time.Since(startTime)

	run.logger.Info("deduplication completed",
		"assets_scanned", run.stats.AssetsScanned,
		"missing_files", run.stats.MissingFiles,
		"groups", run.stats.Groups,
		"replaced", run.stats.Replaced,
		"documents_updated", run.stats.DocumentsUpdated,
		"featured_updated", run.stats.FeaturedUpdated,
		"deleted", len(run.stats.DeletedIDs),
		"errors", run.stats.Errors,
		"duration", run.stats.Duration,
	)

	return run.stats, nil
}

// findDuplicates hashes every asset file and returns the groups with more
// than one member, in the order their first member was listed.
func (s *DedupeService) findDuplicates(ctx context.Context, run *dedupeRun) ([]domain.DuplicateGroup, error) {
	assets, err := s.media.ListAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}

	var (
		groups []domain.DuplicateGroup
		index  = make(map[string]int)
	)
	for _, asset := range assets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		hash, err := hashFile(asset.FilePath)
		if errors.Is(err, os.ErrNotExist) {
			run.stats.MissingFiles++
			s.log(run, "Asset ID %d file %s is missing, skipped", asset.ID, asset.FilePath)
			continue
		}
		if err != nil {
			run.stats.Errors++
			run.logger.Warn("failed to hash asset", "asset_id", asset.ID, "error", err)
			s.log(run, "Asset ID %d file %s : %v", asset.ID, asset.FilePath, err)
			continue
		}
		run.stats.AssetsScanned++

		i, ok := index[hash]
		if !ok {
			index[hash] = len(groups)
			groups = append(groups, domain.DuplicateGroup{Hash: hash, Members: []domain.Asset{asset}})
			continue
		}
		groups[i].Members = append(groups[i].Members, asset)
	}

	duplicates := groups[:0]
	for _, g := range groups {
		if !g.IsDuplicate() {
			continue
		}
		duplicates = append(duplicates, g)
		run.stats.Replaced += len(g.Replaced())
		run.logger.Info("duplicate group", "hash", g.Hash, "survivor_id", g.Survivor().ID, "size", len(g.Members))
	}
	return duplicates, nil
}

// rewriteDocuments repoints every document to the survivors. It returns the
// replaced asset ids still referenced by documents that failed to update;
// those assets must not be deleted.
func (s *DedupeService) rewriteDocuments(ctx context.Context, run *dedupeRun, groups []domain.DuplicateGroup) (map[int64]bool, error) {
	docs, err := s.content.FetchDocuments(ctx, run.opts.Query)
	if err != nil {
		return nil, fmt.Errorf("fetch documents: %w", err)
	}

	inUse := make(map[int64]bool)
	for i := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if referenced, err := s.rewriteDocument(ctx, run, &docs[i], groups); err != nil {
			run.stats.Errors++
			run.logger.Error("failed to rewrite document", "document_id", docs[i].ID, "error", err)
			s.log(run, "Post ID %d : %v", docs[i].ID, err)

			for _, id := range referenced {
				inUse[id] = true
			}
		}
	}
	return inUse, nil
}

// stillReferenced lists the replaced assets doc points at by featured image,
// block id or URL. A negative featured id means it is unknown, so every
// replaced asset is assumed to be in use.
func stillReferenced(doc *domain.Document, featured int64, groups []domain.DuplicateGroup) []int64 {
	var ids []int64
	for _, g := range groups {
		for _, replaced := range g.Replaced() {
			if featured < 0 || featured == replaced.ID ||
				referencesBlock(doc.Content, replaced.ID) ||
				(replaced.URL != "" && scanner.ContainsSrc(doc.Content, replaced.URL)) {
				ids = append(ids, replaced.ID)
			}
		}
	}
	return ids
}

func referencesBlock(content string, id int64) bool {
	for _, b := range blocks.Find(blocks.ImageBlock, content) {
		if blockID, ok := blocks.IntAttribute(b.Raw, "id"); ok && blockID == id {
			return true
		}
	}
	return false
}

// rewriteDocument persists doc repointed to the survivors. On failure it
// also returns the replaced asset ids doc still references.
func (s *DedupeService) rewriteDocument(ctx context.Context, run *dedupeRun, doc *domain.Document, groups []domain.DuplicateGroup) ([]int64, error) {
	featured, err := s.content.FeaturedImageID(ctx, doc.ID)
	if err != nil {
		return stillReferenced(doc, -1, groups), fmt.Errorf("get featured image: %w", err)
	}

	content := doc.Content
	newFeatured := featured

	for _, g := range groups {
		survivor := g.Survivor()
		for _, replaced := range g.Replaced() {
			if newFeatured == replaced.ID {
				newFeatured = survivor.ID
				s.log(run, "Post ID %d featured image %d -> %d", doc.ID, replaced.ID, survivor.ID)
			}

			content, err = s.rewriteBlocks(ctx, content, replaced.ID, survivor)
			if err != nil {
				return stillReferenced(doc, featured, groups), err
			}

			if replaced.URL != "" && replaced.URL != survivor.URL {
				content = scanner.ReplaceSrc(content, replaced.URL, survivor.URL)
			}
		}
	}

	contentChanged := content != doc.Content
	featuredChanged := newFeatured != featured
	if !contentChanged && !featuredChanged {
		return nil, nil
	}

	if contentChanged {
		run.stats.DocumentsUpdated++
		s.log(run, "Post ID %d content updated", doc.ID)
	}
	if featuredChanged {
		run.stats.FeaturedUpdated++
	}

	if run.opts.DryRun {
		return nil, nil
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if featuredChanged {
			if err := s.content.SetFeaturedImageID(txCtx, doc.ID, newFeatured); err != nil {
				return fmt.Errorf("set featured image: %w", err)
			}
		}
		if contentChanged {
			if err := s.content.UpdateContent(txCtx, doc.ID, content); err != nil {
				return fmt.Errorf("update content: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return stillReferenced(doc, featured, groups), err
	}

	s.publish(ctx, run, &domain.Event{Type: domain.EventDocumentUpdated, DocumentID: doc.ID})
	return nil, nil
}

// rewriteBlocks repoints every image block of replacedID to survivor.
// Blocks are spliced back to front so earlier offsets stay valid.
func (s *DedupeService) rewriteBlocks(ctx context.Context, content string, replacedID int64, survivor domain.Asset) (string, error) {
	found := blocks.Find(blocks.ImageBlock, content)
	for i := len(found) - 1; i >= 0; i-- {
		b := found[i]
		id, ok := blocks.IntAttribute(b.Raw, "id")
		if !ok || id != replacedID {
			continue
		}

		updated, err := s.rewriter.UpdateImage(ctx, b.Raw, survivor.ID, survivor.URL)
		if err != nil {
			return "", fmt.Errorf("rewrite image block %d: %w", replacedID, err)
		}
		content = blocks.Splice(content, b, updated)
	}
	return content, nil
}

func (s *DedupeService) deleteReplaced(ctx context.Context, run *dedupeRun, groups []domain.DuplicateGroup, inUse map[int64]bool) {
	for _, g := range groups {
		survivor := g.Survivor()
		for _, replaced := range g.Replaced() {
			if inUse[replaced.ID] {
				run.stats.Errors++
				run.logger.Warn("keeping duplicate still in use", "asset_id", replaced.ID, "survivor_id", survivor.ID)
				s.log(run, "Asset ID %d duplicate of %d, kept : still referenced by a post that failed to update", replaced.ID, survivor.ID)
				continue
			}

			if run.opts.DryRun {
				run.stats.DeletedIDs = append(run.stats.DeletedIDs, replaced.ID)
				s.log(run, "Asset ID %d duplicate of %d, would be deleted", replaced.ID, survivor.ID)
				continue
			}

			if err := s.media.DeleteAsset(ctx, replaced.ID); err != nil {
				run.stats.Errors++
				run.logger.Error("failed to delete asset", "asset_id", replaced.ID, "error", err)
				s.log(run, "Asset ID %d : delete failed : %v", replaced.ID, err)
				continue
			}

			run.stats.DeletedIDs = append(run.stats.DeletedIDs, replaced.ID)
			s.log(run, "Asset ID %d duplicate of %d, deleted", replaced.ID, survivor.ID)
			s.publish(ctx, run, &domain.Event{
				Type:       domain.EventAssetDeleted,
				AssetID:    replaced.ID,
				ReplacedBy: survivor.ID,
			})
		}
	}
}

func (s *DedupeService) log(run *dedupeRun, format string, args ...any) {
	if err := s.logs.Log(runlog.Deduplication, format, args...); err != nil {
		run.logger.Error("failed to write run log", "error", err)
	}
}

func (s *DedupeService) publish(ctx context.Context, run *dedupeRun, event *domain.Event) {
	if s.publisher == nil {
		return
	}
	event.RunID = run.opts.RunID
	event.Job = "dedupe"
	event.OccurredAt = time.Now().UTC()

	if err := s.publisher.Publish(ctx, event); err != nil {
		run.logger.Error("failed to publish event", "type", event.Type, "error", err)
	}
}

func hashFile(path string) (string, error) {
	if path == "" {
		return "", os.ErrNotExist
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
