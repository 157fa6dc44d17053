package imagecache_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldstack/terminal-core/imagecache"
)

func TestPath_DeterministicPerURL(t *testing.T) {
	c := imagecache.New(t.TempDir())
	p1 := c.Path("prod-1", "https://cdn.example.com/a.png")
	p2 := c.Path("prod-1", "https://cdn.example.com/a.png")
	p3 := c.Path("prod-1", "https://cdn.example.com/b.png")

	assert.Equal(t, p1, p2)
	assert.NotEqual(t, p1, p3)
	assert.Equal(t, ".png", filepath.Ext(p1))
}

func TestPath_EmptyURLReturnsEmpty(t *testing.T) {
	c := imagecache.New(t.TempDir())
	assert.Empty(t, c.Path("prod-1", ""))
}

func TestPrune_RemovesOrphanedImages(t *testing.T) {
	dir := t.TempDir()
	c := imagecache.New(dir)

	keep := c.Path("prod-1", "https://cdn.example.com/a.png")
	drop := c.Path("prod-2", "https://cdn.example.com/b.png")
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(drop, []byte("x"), 0o644))

	require.NoError(t, c.Prune(context.Background(), map[string]bool{"prod-1": true}))

	_, err := os.Stat(keep)
	assert.NoError(t, err)
	_, err = os.Stat(drop)
	assert.True(t, os.IsNotExist(err))
}
