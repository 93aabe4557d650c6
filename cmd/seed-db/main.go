package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/campusmart/marketplace/internal/domain/auth"
	"github.com/campusmart/marketplace/internal/domain/coupon"
	"github.com/campusmart/marketplace/internal/domain/product"
	"github.com/campusmart/marketplace/internal/repository"
)

type productJSON struct {
	ID       string          `json:"id"`
	SellerID string          `json:"seller_id"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	Active   bool            `json:"active"`
}

type seedConfig struct {
	databaseURL  string
	productsFile string
	buyerKey     string
	sellerKey    string
	pepper       string
}

func main() {
	var cfg seedConfig

	flag.StringVar(&cfg.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&cfg.productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&cfg.buyerKey, "buyer-key", "", "buyer API key to seed (or MART_SEED_BUYER_KEY env)")
	flag.StringVar(&cfg.sellerKey, "seller-key", "", "seller API key to seed (or MART_SEED_SELLER_KEY env)")
	flag.StringVar(&cfg.pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or MART_API_KEY_PEPPER env)")
	flag.Parse()

	envDefault(&cfg.databaseURL, "DATABASE_URL")
	envDefault(&cfg.buyerKey, "MART_SEED_BUYER_KEY")
	envDefault(&cfg.sellerKey, "MART_SEED_SELLER_KEY")
	envDefault(&cfg.pepper, "MART_API_KEY_PEPPER")

	if cfg.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if cfg.buyerKey == "" || cfg.sellerKey == "" {
		slog.Error("API keys are required: set --buyer-key and --seller-key")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func envDefault(v *string, key string) {
	if *v == "" {
		*v = os.Getenv(key)
	}
}

func run(ctx context.Context, cfg seedConfig) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, cfg.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	products, err := readProducts(cfg.productsFile)
	if err != nil {
		return errors.Wrap(err, "read products")
	}
	slog.Info("upserting products", slog.Int("count", len(products)))
	if err := repository.NewProductRepository(pool).UpsertBatch(ctx, products); err != nil {
		return errors.Wrap(err, "seed products")
	}

	coupons := seedCoupons(time.Now())
	if err := repository.NewCouponRepository(pool).UpsertBatch(ctx, coupons); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	for _, c := range coupons {
		slog.Info("upserted coupon", slog.String("code", c.Code), slog.String("percent", c.DiscountPercent.String()))
	}

	keys := repository.NewAPIKeyRepository(pool)
	for _, k := range []auth.APIKeyInfo{
		{ID: "seed-buyer", UserID: "buyer-demo", Name: "Demo buyer", Scopes: []string{auth.ScopeBuyer}, KeyHash: auth.HashKey([]byte(cfg.pepper), cfg.buyerKey)},
		{ID: "seed-seller", UserID: "seller-ada", Name: "Demo seller", Scopes: []string{auth.ScopeSeller}, KeyHash: auth.HashKey([]byte(cfg.pepper), cfg.sellerKey)},
	} {
		if err := keys.Upsert(ctx, k); err != nil {
			return errors.Wrapf(err, "upsert API key %s", k.ID)
		}
		slog.Info("upserted API key", slog.String("id", k.ID), slog.String("user", k.UserID))
	}

	return nil
}

func readProducts(path string) ([]product.Product, error) {
	slog.Info("reading products file", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw []productJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parse products JSON")
	}

	out := make([]product.Product, 0, len(raw))
	for _, p := range raw {
		out = append(out, product.Product{
			ID:       p.ID,
			SellerID: p.SellerID,
			Name:     p.Name,
			Category: p.Category,
			Price:    p.Price,
			Stock:    p.Stock,
			Active:   p.Active,
		})
	}
	return out, nil
}

// seedCoupons covers a seller-scoped code, a platform-wide code and one
// that is already used up.
func seedCoupons(now time.Time) []coupon.Coupon {
	ada := "seller-ada"
	expires := now.AddDate(0, 3, 0)
	limit, exhausted := 100, 0
	return []coupon.Coupon{
		{ID: "seed-ada10", SellerID: &ada, Code: "ADA10", DiscountPercent: decimal.NewFromInt(10), ExpiresAt: &expires, UsageLimit: &limit},
		{ID: "seed-welcome", Code: "WELCOME5", DiscountPercent: decimal.NewFromInt(5)},
		{ID: "seed-gone", Code: "SOLDOUT", DiscountPercent: decimal.NewFromInt(50), UsageLimit: &exhausted},
	}
}
