package main

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/campusmart/marketplace/internal/domain/coupon"
)

// couponNamespace derives stable coupon ids from codes so re-ingesting a
// file does not mint new rows.
var couponNamespace = uuid.MustParse("6f1d7c3e-2a4b-4e8f-9c0d-5b7a1e3f9d21")

var header = []string{"code", "seller_id", "discount_percent", "expires_at", "usage_limit"}

// parsedFile is one input file after pass 1.
type parsedFile struct {
	path    string
	coupons []coupon.Coupon
	filter  *bloom.BloomFilter
	skipped int
}

// parseFiles reads every file concurrently and builds a bloom filter of its
// codes.
func parseFiles(ctx context.Context, files []string) ([]parsedFile, error) {
	out := make([]parsedFile, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			pf, err := parseGzFile(ctx, path)
			if err != nil {
				return errors.Wrapf(err, "parse %s", path)
			}
			slog.Info("pass 1 complete",
				slog.String("file", path),
				slog.Int("coupons", len(pf.coupons)),
				slog.Int("skipped", pf.skipped),
			)
			out[i] = pf
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseGzFile(ctx context.Context, path string) (parsedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return parsedFile{}, err
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return parsedFile{}, errors.Wrap(err, "create gzip reader")
	}
	defer func() { _ = gz.Close() }()

	pf, err := parseCSV(ctx, gz)
	pf.path = path
	return pf, err
}

// parseCSV reads rows of code,seller_id,discount_percent,expires_at,usage_limit.
// A leading header row is skipped. Rows that fail validation are logged and
// counted, not fatal.
func parseCSV(ctx context.Context, r io.Reader) (parsedFile, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(header)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	var pf parsedFile
	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return pf, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) && errors.Is(perr.Err, csv.ErrFieldCount) {
				slog.Warn("skipping row", slog.Int("line", line), slog.String("error", err.Error()))
				pf.skipped++
				continue
			}
			return pf, errors.Wrapf(err, "read line %d", line)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), header[0]) {
			continue
		}

		c, err := parseRecord(rec)
		if err != nil {
			slog.Warn("skipping row", slog.Int("line", line), slog.String("error", err.Error()))
			pf.skipped++
			continue
		}
		pf.coupons = append(pf.coupons, c)
		if len(pf.coupons)%progressEvery == 0 {
			slog.Info("pass 1 progress", slog.Int("coupons", len(pf.coupons)))
		}
	}

	pf.filter = bloom.NewWithEstimates(uint(max(len(pf.coupons), 1)), bloomFPR)
	for _, c := range pf.coupons {
		pf.filter.AddString(c.Code)
	}
	return pf, nil
}

// parseRecord validates one CSV row. Empty seller_id makes the coupon
// platform-wide; empty expires_at and usage_limit mean unbounded.
func parseRecord(rec []string) (coupon.Coupon, error) {
	code := strings.TrimSpace(rec[0])
	if code == "" {
		return coupon.Coupon{}, errors.New("empty code")
	}

	pct, err := decimal.NewFromString(strings.TrimSpace(rec[2]))
	if err != nil {
		return coupon.Coupon{}, errors.Wrapf(err, "code %s: discount_percent", code)
	}
	if !pct.IsPositive() || pct.GreaterThan(decimal.NewFromInt(100)) {
		return coupon.Coupon{}, errors.Errorf("code %s: discount_percent %s outside (0, 100]", code, pct)
	}

	c := coupon.Coupon{
		ID:              uuid.NewSHA1(couponNamespace, []byte(code)).String(),
		Code:            code,
		DiscountPercent: pct,
		Active:          true,
	}

	if seller := strings.TrimSpace(rec[1]); seller != "" {
		c.SellerID = &seller
	}
	if v := strings.TrimSpace(rec[3]); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return coupon.Coupon{}, errors.Wrapf(err, "code %s: expires_at", code)
		}
		c.ExpiresAt = &t
	}
	if v := strings.TrimSpace(rec[4]); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return coupon.Coupon{}, errors.Errorf("code %s: usage_limit %q is not a non-negative integer", code, v)
		}
		c.UsageLimit = &n
	}
	return c, nil
}

// dedupe keeps the first occurrence of each code in file order. Bloom
// filters of earlier files flag candidates concurrently; only candidates
// are confirmed against exact sets.
func dedupe(ctx context.Context, files []parsedFile) ([]coupon.Coupon, int, error) {
	candidates := make([]map[string]struct{}, len(files))

	g, gctx := errgroup.WithContext(ctx)
	for i := range files {
		g.Go(func() error {
			found := make(map[string]struct{})
			for n, c := range files[i].coupons {
				if n%progressEvery == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				for j := range i {
					if files[j].filter.TestString(c.Code) {
						found[c.Code] = struct{}{}
						break
					}
				}
			}
			candidates[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	// Codes worth tracking exactly: every bloom hit, plus repeats inside a
	// single file which the cross-file filters cannot see.
	watch := make(map[string]struct{})
	for _, m := range candidates {
		for code := range m {
			watch[code] = struct{}{}
		}
	}

	var (
		out   []coupon.Coupon
		dupes int
		seen  = make(map[string]string)
	)
	for _, f := range files {
		local := make(map[string]struct{}, len(f.coupons))
		for _, c := range f.coupons {
			if _, ok := local[c.Code]; ok {
				slog.Warn("duplicate code in file", slog.String("code", c.Code), slog.String("file", f.path))
				dupes++
				continue
			}
			local[c.Code] = struct{}{}

			if _, ok := watch[c.Code]; ok {
				if first, ok := seen[c.Code]; ok {
					slog.Warn("duplicate code across files",
						slog.String("code", c.Code),
						slog.String("kept", first),
						slog.String("dropped", f.path),
					)
					dupes++
					continue
				}
				seen[c.Code] = f.path
			}
			out = append(out, c)
		}
	}
	return out, dupes, nil
}
