// Package knowledge indexes project markdown documentation for retrieval:
// files are tracked by content hash so only changed documents are
// re-embedded, and chunks are stored in an embedded vector collection.
package knowledge

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"

	scouterrors "scout/internal/errors"
	"scout/internal/shared/jsonx"
)

const md5CacheFileName = "md5_cache.json"

// md5Cache maps relative document path to its content hash, persisted as
// md5_cache.json in the project directory.
type md5Cache struct {
	path  string
	Files map[string]string `json:"files"`
}

func loadMD5Cache(projectDir string) *md5Cache {
	cache := &md5Cache{
		path:  filepath.Join(projectDir, md5CacheFileName),
		Files: make(map[string]string),
	}
	data, err := os.ReadFile(cache.path)
	if err == nil {
		_ = jsonx.Unmarshal(data, cache)
		if cache.Files == nil {
			cache.Files = make(map[string]string)
		}
	}
	return cache
}

func (c *md5Cache) save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return scouterrors.Wrap(scouterrors.KindPersistence, "create project dir", err)
	}
	data, err := jsonx.MarshalIndent(c, "", "  ")
	if err != nil {
		return scouterrors.Wrap(scouterrors.KindPersistence, "encode md5 cache", err)
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return scouterrors.Wrap(scouterrors.KindPersistence, "write md5 cache", err)
	}
	return nil
}

func hashContent(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
