package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/catalog-pricing/internal/config"
	"github.com/noah-isme/catalog-pricing/internal/pricing"
)

const catalogJSON = `[{"id":"slice","name":"Slice","sellingMode":"piece","priceMatrix":{"type":"piece","pricePerUnit":10000,"costPerUnit":9000}}]`

func writeCatalog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(catalogJSON), 0o600))
	return path
}

func TestNewWithoutRedis(t *testing.T) {
	cfg := &config.Config{CatalogPath: writeCatalog(t), CostingConcurrency: 2}
	deps, err := New(context.Background(), cfg, zerolog.Nop(), Options{})
	require.NoError(t, err)
	defer func() { require.NoError(t, deps.Close()) }()

	require.Nil(t, deps.Redis)
	require.Nil(t, deps.Results)
	require.NotNil(t, deps.Validator)
	require.Len(t, deps.Catalog.Version(), 16)

	res, err := pricing.Resolve(deps.Backfiller.Source.Index(), pricing.Request{ProductID: "slice", Qty: 2})
	require.NoError(t, err)
	require.Equal(t, pricing.Money(20000), res.Price)

	_, err = deps.TaskClient()
	require.Error(t, err)

	lim, err := deps.PreviewLimiter()
	require.NoError(t, err)
	require.Nil(t, lim)

	cfg.PreviewRateLimit = "10-S"
	lim, err = deps.PreviewLimiter()
	require.NoError(t, err)
	require.NotNil(t, lim)
}

func TestNewWithRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := &config.Config{
		CatalogPath:        writeCatalog(t),
		CostingConcurrency: 2,
		RedisURL:           "redis://" + mr.Addr() + "/0",
	}
	deps, err := New(context.Background(), cfg, zerolog.Nop(), Options{})
	require.NoError(t, err)

	require.NotNil(t, deps.Redis)
	require.NotNil(t, deps.Results)
	require.Equal(t, "costing", deps.Locker.Prefix)

	client, err := deps.TaskClient()
	require.NoError(t, err)
	require.NotNil(t, client)
	require.NoError(t, deps.Close())
}

func TestNewFailsOnMissingCatalog(t *testing.T) {
	cfg := &config.Config{CatalogPath: filepath.Join(t.TempDir(), "missing.json"), CostingConcurrency: 1}
	_, err := New(context.Background(), cfg, zerolog.Nop(), Options{})
	require.ErrorContains(t, err, "load catalog")
}
