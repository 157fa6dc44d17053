package catalog_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldstack/terminal-core/catalog"
	"github.com/fieldstack/terminal-core/imagecache"
	"github.com/fieldstack/terminal-core/store/sqlite"
)

func newTestCache(t *testing.T) *catalog.Cache {
	t.Helper()
	store, err := sqlite.Open(context.Background(), ":memory:", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return catalog.New(store, nil)
}

func TestUpsertProducts_RoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	err := c.UpsertProducts(ctx, []catalog.Product{
		{ID: "p1", TenantID: "t1", Name: "Latte", Barcode: "111", Price: "4.50", IsActive: true},
	}, 1)
	require.NoError(t, err)

	got, err := c.GetProductByBarcode(ctx, "111")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Latte", got.Name)
	assert.True(t, got.IsActive)
}

func TestUpsertProducts_RequiresVersion(t *testing.T) {
	c := newTestCache(t)
	err := c.UpsertProducts(context.Background(), []catalog.Product{{ID: "p1", Name: "x"}}, 0)
	require.Error(t, err)
}

func TestDatasetVersion_Monotonic(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.UpsertProducts(ctx, []catalog.Product{{ID: "p1", Name: "a"}}, 5))

	err := c.UpsertProducts(ctx, []catalog.Product{{ID: "p1", Name: "b"}}, 3)
	require.Error(t, err)

	versions, err := c.Versions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), versions[catalog.DatasetProducts])

	require.NoError(t, c.UpsertProducts(ctx, []catalog.Product{{ID: "p1", Name: "c"}}, 9))
	versions, err = c.Versions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9), versions[catalog.DatasetProducts])
}

func TestUpsertCategories_OrphanRejection(t *testing.T) {
	// A (root), B (parent A), C (parent 99, never present) — C must
	// be skipped and never resurrected on a later pass.
	c := newTestCache(t)
	ctx := context.Background()

	err := c.UpsertCategories(ctx, []catalog.Category{
		{ID: "1", Name: "A"},
		{ID: "2", Name: "B", ParentID: "1"},
		{ID: "3", Name: "C", ParentID: "99"},
	}, 1)
	require.NoError(t, err)

	a, err := c.GetCategory(ctx, "1")
	require.NoError(t, err)
	require.NotNil(t, a)

	b, err := c.GetCategory(ctx, "2")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, 1, b.Level)

	cc, err := c.GetCategory(ctx, "3")
	require.NoError(t, err)
	assert.Nil(t, cc)
}

func TestUpsertCategories_ParentArrivesLaterInSameBatch(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	// Child listed before parent within the same batch: multi-pass
	// insertion must still resolve it.
	err := c.UpsertCategories(ctx, []catalog.Category{
		{ID: "child", Name: "Child", ParentID: "parent"},
		{ID: "parent", Name: "Parent"},
	}, 1)
	require.NoError(t, err)

	child, err := c.GetCategory(ctx, "child")
	require.NoError(t, err)
	require.NotNil(t, child)
	assert.Equal(t, 1, child.Level)
}

func TestDeleteProductsByID(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.UpsertProducts(ctx, []catalog.Product{{ID: "p1", Name: "x"}}, 1))
	require.NoError(t, c.DeleteProductsByID(ctx, []string{"p1"}, 2))

	got, err := c.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteProductsByID_PrunesCachedImage(t *testing.T) {
	store, err := sqlite.Open(context.Background(), ":memory:", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	imageDir := t.TempDir()
	images := imagecache.New(imageDir)
	c := catalog.New(store, nil)
	c.SetImageCache(images)

	ctx := context.Background()
	imageURL := "https://cdn.example.com/p1.png"
	require.NoError(t, c.UpsertProducts(ctx, []catalog.Product{
		{ID: "p1", Name: "x", ImageURL: imageURL},
	}, 1))

	cachedPath := images.Path("p1", imageURL)
	require.NoError(t, os.WriteFile(cachedPath, []byte("fake-image"), 0o644))

	require.NoError(t, c.DeleteProductsByID(ctx, []string{"p1"}, 2))

	_, err = os.Stat(cachedPath)
	assert.True(t, os.IsNotExist(err))
}
