package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"

	"github.com/go-faster/errors"

	"github.com/campusmart/marketplace/internal/domain/coupon"
	"github.com/campusmart/marketplace/internal/repository"
)

const (
	bloomFPR      = 0.001
	writeBatch    = 500
	progressEvery = 100_000
)

func main() {
	var (
		dataDir     string
		pattern     string
		databaseURL string
		dryRun      bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing coupon CSV files")
	flag.StringVar(&pattern, "pattern", "*.csv.gz", "glob of gzip-compressed CSV files inside data-dir")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and report without writing")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, pattern, databaseURL, dryRun); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, dataDir, pattern, databaseURL string, dryRun bool) error {
	files, err := filepath.Glob(filepath.Join(dataDir, pattern))
	if err != nil {
		return errors.Wrap(err, "list files")
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %s in %s", pattern, dataDir)
	}
	sort.Strings(files)

	slog.Info("pass 1: parsing files", slog.Int("files", len(files)))

	parsed, err := parseFiles(ctx, files)
	if err != nil {
		return errors.Wrap(err, "parse files")
	}

	slog.Info("pass 2: resolving duplicate codes")

	coupons, dupes, err := dedupe(ctx, parsed)
	if err != nil {
		return errors.Wrap(err, "dedupe codes")
	}

	slog.Info("coupons resolved",
		slog.Int("count", len(coupons)),
		slog.Int("duplicates", dupes),
	)

	if dryRun || len(coupons) == 0 {
		slog.Info("nothing to write", slog.Bool("dry_run", dryRun))
		return nil
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := writeCoupons(ctx, repository.NewCouponRepository(pool), coupons); err != nil {
		return errors.Wrap(err, "write coupons to database")
	}

	return nil
}

type couponWriter interface {
	UpsertBatch(ctx context.Context, coupons []coupon.Coupon) error
}

func writeCoupons(ctx context.Context, w couponWriter, coupons []coupon.Coupon) error {
	slog.Info("writing coupons to database", slog.Int("count", len(coupons)))

	for start := 0; start < len(coupons); start += writeBatch {
		end := min(start+writeBatch, len(coupons))
		if err := w.UpsertBatch(ctx, coupons[start:end]); err != nil {
			return errors.Wrapf(err, "upsert coupons %d-%d", start, end)
		}
		slog.Info("write progress", slog.Int("written", end), slog.Int("total", len(coupons)))
	}

	return nil
}
