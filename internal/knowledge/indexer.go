package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	chromem "github.com/philippgille/chromem-go"

	"scout/internal/logging"
	"scout/internal/vector"
)

// maxChunkChars bounds one indexed chunk.
const maxChunkChars = 2000

// Hit is one retrieved documentation chunk.
type Hit struct {
	ID         string
	Content    string
	Path       string
	Similarity float32
}

// IndexerConfig configures the docs index for one project.
type IndexerConfig struct {
	// ProjectDir holds md5_cache.json and the persisted collection.
	ProjectDir string
	// Collection names the chromem collection; defaults to "docs".
	Collection string
	// MinSimilarity filters weak hits at query time.
	MinSimilarity float32
}

// Indexer keeps the project's markdown documentation searchable. Content
// hashes decide what to re-embed; removed files drop out of the collection
// on the next sync.
type Indexer struct {
	config     IndexerConfig
	db         *chromem.DB
	collection *chromem.Collection
	embedder   vector.Embedder
	logger     logging.Logger
}

// NewIndexer opens (or creates) the persisted docs collection.
func NewIndexer(config IndexerConfig, embedder vector.Embedder) (*Indexer, error) {
	if config.Collection == "" {
		config.Collection = "docs"
	}
	if config.MinSimilarity == 0 {
		config.MinSimilarity = 0.3
	}
	db, err := chromem.NewPersistentDB(filepath.Join(config.ProjectDir, "knowledge.gob"), false)
	if err != nil {
		return nil, fmt.Errorf("open knowledge db: %w", err)
	}
	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}
	collection, err := db.GetOrCreateCollection(config.Collection, nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("open docs collection: %w", err)
	}
	return &Indexer{
		config:     config,
		db:         db,
		collection: collection,
		embedder:   embedder,
		logger:     logging.NewComponentLogger("DocsIndex"),
	}, nil
}

// Sync walks projectRoot for markdown files and reconciles the collection
// with their current content. Returns how many files were (re)indexed and
// how many were dropped.
func (i *Indexer) Sync(ctx context.Context, projectRoot string) (indexed, removed int, err error) {
	cache := loadMD5Cache(i.config.ProjectDir)
	seen := make(map[string]bool)

	walkErr := filepath.WalkDir(projectRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if name := d.Name(); name == ".git" || name == "node_modules" || name == "vendor" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		relative, relErr := filepath.Rel(projectRoot, path)
		if relErr != nil {
			return nil
		}
		relative = filepath.ToSlash(relative)
		seen[relative] = true

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			i.logger.Warn("Skipping unreadable doc %s: %v", relative, readErr)
			return nil
		}
		hash := hashContent(data)
		if cache.Files[relative] == hash {
			return nil
		}

		if cache.Files[relative] != "" {
			i.dropFile(ctx, relative)
		}
		if addErr := i.addFile(ctx, relative, string(data)); addErr != nil {
			return addErr
		}
		cache.Files[relative] = hash
		indexed++
		return nil
	})
	if walkErr != nil {
		return indexed, removed, walkErr
	}

	for relative := range cache.Files {
		if !seen[relative] {
			i.dropFile(ctx, relative)
			delete(cache.Files, relative)
			removed++
		}
	}

	if err := cache.save(); err != nil {
		return indexed, removed, err
	}
	if indexed > 0 || removed > 0 {
		i.logger.Info("Docs sync: %d indexed, %d removed, %d total chunks", indexed, removed, i.collection.Count())
	}
	return indexed, removed, nil
}

func (i *Indexer) addFile(ctx context.Context, relative, content string) error {
	for n, chunk := range chunkMarkdown(content) {
		doc := chromem.Document{
			ID:      fmt.Sprintf("%s#%d", relative, n),
			Content: chunk,
			Metadata: map[string]string{
				"path":       relative,
				"sourceType": "markdown",
			},
		}
		if err := i.collection.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("index %s chunk %d: %w", relative, n, err)
		}
	}
	return nil
}

func (i *Indexer) dropFile(ctx context.Context, relative string) {
	if err := i.collection.Delete(ctx, map[string]string{"path": relative}, nil); err != nil {
		i.logger.Warn("Drop stale doc %s: %v", relative, err)
	}
}

// Query retrieves the best-matching documentation chunks for a question.
func (i *Indexer) Query(ctx context.Context, question string, topK int) ([]Hit, error) {
	count := i.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}
	if topK > count {
		topK = count
	}
	results, err := i.collection.Query(ctx, question, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query docs: %w", err)
	}
	var hits []Hit
	for _, r := range results {
		if r.Similarity < i.config.MinSimilarity {
			continue
		}
		hits = append(hits, Hit{
			ID:         r.ID,
			Content:    r.Content,
			Path:       r.Metadata["path"],
			Similarity: r.Similarity,
		})
	}
	return hits, nil
}

// Count reports the number of indexed chunks.
func (i *Indexer) Count() int {
	return i.collection.Count()
}

// chunkMarkdown splits a document on second-level headings, then enforces
// the chunk size bound.
func chunkMarkdown(content string) []string {
	sections := strings.Split(content, "\n## ")
	var chunks []string
	for n, section := range sections {
		if n > 0 {
			section = "## " + section
		}
		section = strings.TrimSpace(section)
		if section == "" {
			continue
		}
		for len(section) > maxChunkChars {
			cut := strings.LastIndex(section[:maxChunkChars], "\n")
			if cut <= 0 {
				cut = maxChunkChars
			}
			chunks = append(chunks, strings.TrimSpace(section[:cut]))
			section = strings.TrimSpace(section[cut:])
		}
		if section != "" {
			chunks = append(chunks, section)
		}
	}
	return chunks
}
