/*
Package imagecache resolves product image URLs to a stable on-disk
path under the data directory's cached_images/ tree, and prunes files
for products no longer in the catalog. Grounded on generic/store.go's
convention of deriving deterministic file paths from a row's identity
rather than trusting a caller-supplied filename.

The content hash uses the standard library's crypto/md5 directly — see
DESIGN.md for why no external hashing library was pulled in for a
cache-busting filename suffix.
*/
package imagecache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/fieldstack/terminal-core/logging"
)

var log = logging.With("imagecache")

// Cache resolves and prunes cached product images under dir.
type Cache struct {
	dir string
}

func New(dir string) *Cache {
	return &Cache{dir: dir}
}

// Path computes the deterministic local path for a product's image:
// cached_images/product_<id>_<md5(url)>.<ext>. It does not download or
// verify the file exists — callers check os.Stat themselves, since a
// cache miss is a normal, recoverable state while offline.
func (c *Cache) Path(productID, imageURL string) string {
	if imageURL == "" {
		return ""
	}
	sum := md5.Sum([]byte(imageURL))
	ext := extensionOf(imageURL)
	name := fmt.Sprintf("product_%s_%s%s", productID, hex.EncodeToString(sum[:]), ext)
	return filepath.Join(c.dir, name)
}

func extensionOf(imageURL string) string {
	u, err := url.Parse(imageURL)
	if err != nil {
		return ""
	}
	ext := filepath.Ext(u.Path)
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// Prune removes every cached file whose product id is not present in
// live, the set of currently cached product ids. Called by the catalog
// after every products upsert or delete, so orphaned images do not
// accumulate indefinitely on a terminal's local disk.
func (c *Cache) Prune(ctx context.Context, live map[string]bool) error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("imagecache: read dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := productIDFromFilename(e.Name())
		if !ok || live[id] {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", e.Name()).Msg("failed to prune cached image")
		}
	}
	return nil
}

func productIDFromFilename(name string) (string, bool) {
	if !strings.HasPrefix(name, "product_") {
		return "", false
	}
	rest := strings.TrimPrefix(name, "product_")
	idx := strings.LastIndex(rest, "_")
	if idx < 0 {
		return "", false
	}
	return rest[:idx], true
}
