// Package cache stores synthesized media on disk keyed by a hash of the
// request, so repeated prompts are not synthesized twice.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Cache is a flat directory of cached media files
type Cache struct {
	dir string
}

// New returns a cache rooted at dir. The directory is not touched until Init.
func New(dir string) *Cache {
	return &Cache{dir: dir}
}

// Init creates the cache directory if it does not exist
func (c *Cache) Init() error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create media cache dir %s: %w", c.dir, err)
	}
	return nil
}

// Key derives the cache key for the given text
func Key(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Path returns the file backing key
func (c *Cache) Path(key string) string {
	return filepath.Join(c.dir, key)
}

// IsCached reports whether key has a stored entry
func (c *Cache) IsCached(key string) bool {
	info, err := os.Stat(c.Path(key))
	return err == nil && !info.IsDir()
}

// Store writes data under key, replacing any existing entry
func (c *Cache) Store(key string, data []byte) error {
	tmp, err := os.CreateTemp(c.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return os.Rename(tmp.Name(), c.Path(key))
}

// Delete removes the entry for key; a missing entry is not an error
func (c *Cache) Delete(key string) error {
	if err := os.Remove(c.Path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
