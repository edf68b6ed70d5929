package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"post_image_downloader/internal/config"
	"post_image_downloader/internal/domain"
	"post_image_downloader/internal/fetch"
	"post_image_downloader/internal/media"
	"post_image_downloader/internal/publisher"
	"post_image_downloader/internal/runlog"
	"post_image_downloader/internal/service"
	"post_image_downloader/internal/storage/sqlstore"
)

func main() {
	global := flag.NewFlagSet("imagedownloader", flag.ExitOnError)
	configPath := global.String("config", "config.yaml", "path to config file")
	_ = global.Parse(os.Args[1:])

	args := global.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	// Setup logger
	logger := setupLogger("info")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = setupLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	runID := uuid.NewString()
	logger = logger.With("run_id", runID)

	if err := run(ctx, cfg, logger, runID, args[0], args[1:]); err != nil {
		if errors.Is(err, domain.ErrInvalidInvocation) {
			logger.Error("invalid arguments", "error", err)
			os.Exit(2)
		}
		if errors.Is(err, context.Canceled) {
			logger.Warn("run cancelled")
			os.Exit(130)
		}
		logger.Error("run failed", "command", args[0], "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, runID, cmd string, args []string) error {
	switch cmd {
	case "scan-hosts", "import-images", "dedupe":
	default:
		printUsage()
		return fmt.Errorf("%w: unknown command %q", domain.ErrInvalidInvocation, cmd)
	}

	dsn, err := cfg.Database.DSN()
	if err != nil {
		return err
	}
	db, err := sqlstore.Open(ctx, cfg.Database.Driver, dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to database", "driver", cfg.Database.Driver)

	tables, err := sqlstore.NewTables(cfg.Database.TablePrefix)
	if err != nil {
		return err
	}

	switch cmd {
	case "scan-hosts":
		return runScan(ctx, db, tables, logger, args)
	case "import-images":
		return runImport(ctx, cfg, db, tables, logger, runID, args)
	default:
		return runDedupe(ctx, cfg, db, tables, logger, runID, args)
	}
}

func runScan(ctx context.Context, db *sqlx.DB, tables sqlstore.Tables, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("scan-hosts", flag.ExitOnError)
	var qf queryFlags
	qf.register(fs)
	listIDs := fs.Bool("list-all-post-ids", false, "list the post IDs using each host")
	_ = fs.Parse(args)

	query, err := qf.query()
	if err != nil {
		return err
	}

	report, err := service.NewScanService(sqlstore.NewPostStore(db, tables), logger).Run(ctx, query)
	if err != nil {
		return err
	}

	fmt.Printf("Found %d total image hosts in %d posts\n", len(report.Hosts), report.Documents)
	for _, h := range report.Hosts {
		if *listIDs {
			fmt.Printf("- %s -- in IDs: %s\n", h.Host, joinIDs(h.DocumentIDs))
			continue
		}
		fmt.Printf("- %s\n", h.Host)
	}
	return nil
}

func runImport(ctx context.Context, cfg *config.Config, db *sqlx.DB, tables sqlstore.Tables, logger *slog.Logger, runID string, args []string) error {
	fs := flag.NewFlagSet("import-images", flag.ExitOnError)
	var (
		qf queryFlags
		hf hostFlags
	)
	qf.register(fs)
	hf.register(fs)
	dryRun := fs.Bool("dry-run", false, "report what would change without importing or saving")
	defaultHost := fs.String("default-image-host-and-schema", "", "host and schema for relative srcs, e.g. https://old.example.com")
	localFolder := fs.String("folder-local-images", "", "folder searched for local copies of images before downloading")
	_ = fs.Parse(args)

	query, err := qf.query()
	if err != nil {
		return err
	}
	filter, err := hf.filter()
	if err != nil {
		return err
	}

	logs := runlog.New(cfg.Logs.Dir, query.RangeSuffix())
	defer logs.Close()

	pub, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	if pub != nil {
		defer pub.Close()
	}

	library := newLibrary(cfg, db, tables, logger)
	site := &siteHost{override: cfg.Site.Host(), options: sqlstore.NewOptionStore(db, tables)}

	svc := service.NewImportService(sqlstore.NewPostStore(db, tables), library, site, logs, pub, logger)
	stats, err := svc.Run(ctx, service.ImportOptions{
		Query:                query,
		Filter:               filter,
		DefaultHostAndSchema: *defaultHost,
		LocalFolder:          *localFolder,
		DryRun:               *dryRun,
		RunID:                runID,
	})
	if err != nil {
		return err
	}

	printSummary(logger, logs.Summary(*defaultHost != ""))
	fmt.Printf("All done! %d posts, %d updated, %d images imported, %d failed, took %s\n",
		stats.Documents, stats.DocumentsUpdated, stats.Imported, stats.Failed, stats.Duration.Round(time.Second))
	return nil
}

func runDedupe(ctx context.Context, cfg *config.Config, db *sqlx.DB, tables sqlstore.Tables, logger *slog.Logger, runID string, args []string) error {
	fs := flag.NewFlagSet("dedupe", flag.ExitOnError)
	var qf queryFlags
	qf.register(fs)
	dryRun := fs.Bool("dry-run", false, "report duplicates without rewriting posts or deleting files")
	_ = fs.Parse(args)

	query, err := qf.query()
	if err != nil {
		return err
	}

	logs := runlog.New(cfg.Logs.Dir, query.RangeSuffix())
	defer logs.Close()

	pub, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	if pub != nil {
		defer pub.Close()
	}

	svc := service.NewDedupeService(
		sqlstore.NewPostStore(db, tables),
		newLibrary(cfg, db, tables, logger),
		sqlstore.NewTransactionManager(db),
		logs,
		pub,
		logger,
	)
	stats, err := svc.Run(ctx, service.DedupeOptions{Query: query, DryRun: *dryRun, RunID: runID})
	if err != nil {
		return err
	}

	printSummary(logger, logs.Summary(true))
	fmt.Printf("All done! %d duplicate groups, %d posts updated, deleted attachment IDs: %s\n",
		stats.Groups, stats.DocumentsUpdated, joinIDs(stats.DeletedIDs))
	return nil
}

func newLibrary(cfg *config.Config, db *sqlx.DB, tables sqlstore.Tables, logger *slog.Logger) *media.Library {
	downloader := fetch.New(fetch.Config{
		Timeout:        cfg.Fetch.Timeout,
		MaxBytes:       cfg.Fetch.MaxBytes,
		UserAgent:      cfg.Fetch.UserAgent,
		TempDir:        cfg.Fetch.TempDir,
		MaxAttempts:    cfg.Fetch.Retry.MaxAttempts,
		InitialBackoff: cfg.Fetch.Retry.InitialBackoff,
		MaxBackoff:     cfg.Fetch.Retry.MaxBackoff,
	}, logger)

	return media.NewLibrary(media.Config{
		UploadsDir: cfg.Site.UploadsDir,
		UploadsURL: cfg.Site.UploadsURL,
		TempDir:    cfg.Fetch.TempDir,
	}, downloader, sqlstore.NewAttachmentStore(db, tables), sqlstore.NewTransactionManager(db), logger)
}

// newPublisher returns a nil interface when publishing is disabled.
func newPublisher(cfg *config.Config, logger *slog.Logger) (service.Publisher, error) {
	if !cfg.RabbitMQ.Enabled {
		return nil, nil
	}

	rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
		URL:        cfg.RabbitMQ.URL,
		Exchange:   cfg.RabbitMQ.Exchange,
		RoutingKey: cfg.RabbitMQ.RoutingKey,
		QueueName:  cfg.RabbitMQ.QueueName,
	}, logger)
	if err != nil {
		return nil, err
	}
	return rabbitMQ, nil
}

// siteHost prefers the configured site URL over the siteurl option.
type siteHost struct {
	override string
	options  *sqlstore.OptionStore
}

func (s *siteHost) SiteHost(ctx context.Context) (string, error) {
	if s.override != "" {
		return s.override, nil
	}
	return s.options.SiteHost(ctx)
}

func printSummary(logger *slog.Logger, notices []runlog.Notice) {
	for _, n := range notices {
		if n.Channel == runlog.Download || n.Channel == runlog.Deduplication {
			logger.Info(n.Message, "channel", n.Channel, "path", n.Path)
			continue
		}
		logger.Warn(n.Message, "channel", n.Channel, "path", n.Path)
	}
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: imagedownloader [-config config.yaml] <command> [flags]

commands:
  scan-hosts      list the hosts images are served from
  import-images   import externally hosted images into the media library
  dedupe          merge byte-identical media library files`)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
