package vector

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	scouterrors "scout/internal/errors"
	"scout/internal/logging"
	"scout/internal/shared/jsonx"
)

// markdownSourceType marks fragments produced from markdown documents, the
// corpus invalidated by CleanupMdVectors.
const markdownSourceType = "markdown"

// DefaultScoreThreshold excludes weak matches from search results.
const DefaultScoreThreshold = 0.3

// l1EntryCap bounds L1 by entry count as a backstop; the operative bound is
// bytes.
const l1EntryCap = 65536

// SearchResult is one ranked hit.
type SearchResult struct {
	Fragment *Fragment
	Score    float64
}

// StoreConfig configures a project's tiered store.
type StoreConfig struct {
	Dir            string // project vector directory
	Dimension      int
	L1MaxBytes     int
	ScoreThreshold float64
	// Model names the embedding model recorded in snapshot metadata.
	Model string
}

// Store is the tiered fragment store for one project. Reads walk
// L1 (byte-bounded LRU) -> L2 (concurrent map of recent misses) -> L3
// (one-file-per-fragment JSON). Similarity search runs over an in-memory
// catalog warmed from the compacted snapshot and fragment files at startup.
type Store struct {
	config StoreConfig
	logger logging.Logger

	l1Mu    sync.Mutex
	l1      *lru.Cache[string, *Fragment]
	l1Bytes int

	l2 sync.Map // id -> *Fragment

	catalogMu sync.RWMutex
	catalog   map[string]*Fragment

	writes sync.WaitGroup
	fileMu sync.Map // path -> *sync.Mutex
}

// NewStore opens (or creates) the store rooted at config.Dir and warms the
// search catalog from disk.
func NewStore(config StoreConfig) (*Store, error) {
	if config.ScoreThreshold == 0 {
		config.ScoreThreshold = DefaultScoreThreshold
	}
	if config.L1MaxBytes <= 0 {
		config.L1MaxBytes = 32 << 20
	}
	s := &Store{
		config:  config,
		logger:  logging.NewComponentLogger("VectorStore"),
		catalog: make(map[string]*Fragment),
	}
	cache, err := lru.NewWithEvict[string, *Fragment](l1EntryCap, func(_ string, old *Fragment) {
		s.l1Bytes -= old.sizeBytes()
	})
	if err != nil {
		return nil, err
	}
	s.l1 = cache

	if err := os.MkdirAll(s.fragmentsDir(), 0755); err != nil {
		return nil, scouterrors.Wrap(scouterrors.KindPersistence, "create vector dir", err)
	}
	s.warmCatalog()
	return s, nil
}

// Add writes the fragment to the hot tier and search catalog, then persists
// it to L3 asynchronously. The caller's copy stays independent.
func (s *Store) Add(fragment *Fragment) {
	stored := fragment.Clone()

	s.catalogMu.Lock()
	s.catalog[stored.ID] = stored
	s.catalogMu.Unlock()

	s.l1Put(stored)

	s.writes.Add(1)
	go func() {
		defer s.writes.Done()
		if err := s.persistFragment(stored); err != nil {
			s.logger.Error("Persist fragment %s: %v", stored.ID, err)
		}
	}()
}

// Get resolves a fragment by id, promoting cold hits into the warmer tiers.
// Returns nil when unknown.
func (s *Store) Get(id string) *Fragment {
	s.l1Mu.Lock()
	if hit, ok := s.l1.Get(id); ok {
		s.l1Mu.Unlock()
		return hit.Clone()
	}
	s.l1Mu.Unlock()

	if warm, ok := s.l2.Load(id); ok {
		fragment := warm.(*Fragment)
		s.l1Put(fragment)
		return fragment.Clone()
	}

	fragment, err := s.readFragment(id)
	if err != nil || fragment == nil {
		return nil
	}
	s.l2.Store(id, fragment)
	s.l1Put(fragment)
	return fragment.Clone()
}

// Search ranks catalog fragments by cosine similarity to the query vector,
// descending, ties broken by id. Fragments without vectors and scores below
// the threshold are excluded.
func (s *Store) Search(query []float32, topK int) []SearchResult {
	if topK <= 0 || len(query) == 0 {
		return nil
	}
	s.catalogMu.RLock()
	results := make([]SearchResult, 0, len(s.catalog))
	for _, fragment := range s.catalog {
		if len(fragment.Vector) == 0 {
			continue
		}
		score := CosineSimilarity(query, fragment.Vector)
		if score < s.config.ScoreThreshold {
			continue
		}
		results = append(results, SearchResult{Fragment: fragment.Clone(), Score: score})
	}
	s.catalogMu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Fragment.ID < results[j].Fragment.ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// Delete removes every fragment whose id starts with idPrefix from all
// tiers, including disk.
func (s *Store) Delete(idPrefix string) int {
	s.catalogMu.RLock()
	var ids []string
	for id := range s.catalog {
		if strings.HasPrefix(id, idPrefix) {
			ids = append(ids, id)
		}
	}
	s.catalogMu.RUnlock()
	return s.removeAll(ids)
}

func (s *Store) removeAll(ids []string) int {
	s.catalogMu.Lock()
	for _, id := range ids {
		delete(s.catalog, id)
	}
	s.catalogMu.Unlock()

	for _, id := range ids {
		s.l1Mu.Lock()
		s.l1.Remove(id)
		s.l1Mu.Unlock()
		s.l2.Delete(id)
		if err := os.Remove(s.fragmentPath(id)); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("Remove fragment file %s: %v", id, err)
		}
	}
	return len(ids)
}

// CleanupMdVectors drops every fragment produced from a markdown source,
// invalidating a stale document corpus in one call.
func (s *Store) CleanupMdVectors() int {
	s.catalogMu.RLock()
	var ids []string
	for id, fragment := range s.catalog {
		if fragment.Metadata[metaSourceType] == markdownSourceType {
			ids = append(ids, id)
		}
	}
	s.catalogMu.RUnlock()
	return s.removeAll(ids)
}

// metaSourceType is the provenance key consulted by CleanupMdVectors.
const metaSourceType = "sourceType"

// Flush blocks until pending asynchronous L3 writes complete.
func (s *Store) Flush() {
	s.writes.Wait()
}

// Count reports the catalog size.
func (s *Store) Count() int {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	return len(s.catalog)
}

func (s *Store) l1Put(fragment *Fragment) {
	s.l1Mu.Lock()
	defer s.l1Mu.Unlock()
	s.l1.Add(fragment.ID, fragment)
	s.l1Bytes += fragment.sizeBytes()
	for s.l1Bytes > s.config.L1MaxBytes {
		if _, _, ok := s.l1.RemoveOldest(); !ok {
			break
		}
	}
}

func (s *Store) fragmentsDir() string {
	return filepath.Join(s.config.Dir, "fragments")
}

// fragmentPath derives the L3 path by mapping id dots to directories.
func (s *Store) fragmentPath(id string) string {
	relative := strings.ReplaceAll(id, ".", string(os.PathSeparator))
	relative = strings.ReplaceAll(relative, "/", string(os.PathSeparator))
	return filepath.Join(s.fragmentsDir(), relative+".json")
}

func (s *Store) persistFragment(fragment *Fragment) error {
	path := s.fragmentPath(fragment.ID)

	lock, _ := s.fileMu.LoadOrStore(path, &sync.Mutex{})
	lock.(*sync.Mutex).Lock()
	defer lock.(*sync.Mutex).Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return scouterrors.Wrap(scouterrors.KindPersistence, "create fragment dir", err)
	}
	data, err := jsonx.MarshalIndent(fragment, "", "  ")
	if err != nil {
		return scouterrors.Wrap(scouterrors.KindPersistence, "encode fragment", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return scouterrors.Wrap(scouterrors.KindPersistence, "write fragment", err)
	}
	return nil
}

func (s *Store) readFragment(id string) (*Fragment, error) {
	data, err := os.ReadFile(s.fragmentPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var fragment Fragment
	if err := jsonx.Unmarshal(data, &fragment); err != nil {
		s.logger.Error("Corrupt fragment file for %s: %v", id, err)
		return nil, err
	}
	return &fragment, nil
}

// warmCatalog loads the compacted snapshot first, then any fragment files it
// does not cover.
func (s *Store) warmCatalog() {
	loaded, err := s.loadSnapshot()
	if err != nil {
		s.logger.Warn("Snapshot load failed, falling back to fragment scan: %v", err)
	}
	for _, fragment := range loaded {
		s.catalog[fragment.ID] = fragment
	}

	root := s.fragmentsDir()
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		relative, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		id := strings.ReplaceAll(strings.TrimSuffix(relative, ".json"), string(os.PathSeparator), ".")
		if _, ok := s.catalog[id]; ok {
			return nil
		}
		fragment, err := s.readFragment(id)
		if err == nil && fragment != nil {
			s.catalog[fragment.ID] = fragment
		}
		return nil
	})
	if len(s.catalog) > 0 {
		s.logger.Info("Warmed vector catalog with %d fragments", len(s.catalog))
	}
}
