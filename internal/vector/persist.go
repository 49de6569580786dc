package vector

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	scouterrors "scout/internal/errors"
	"scout/internal/shared/jsonx"
)

// Snapshot file names inside a project vector directory.
const (
	metaFileName = "meta.json"
	docsFileName = "class.docs.json"
	vecFileName  = "class.vec.bin"
)

type snapshotMeta struct {
	LastBuiltAt time.Time `json:"lastBuiltAt"`
	Model       string    `json:"model"`
	VectorDim   int       `json:"vectorDim"`
}

// docEntry is one fragment's metadata in class.docs.json; vectors live in
// class.vec.bin at the same ordinal.
type docEntry struct {
	ID          string            `json:"id"`
	Title       string            `json:"title,omitempty"`
	Content     string            `json:"content"`
	FullContent string            `json:"fullContent,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// WriteSnapshot compacts the catalog into the three-file durable layout.
// Fragments without vectors are excluded; docs[i] always pairs with row i of
// the vector file.
func (s *Store) WriteSnapshot() error {
	s.catalogMu.RLock()
	fragments := make([]*Fragment, 0, len(s.catalog))
	for _, fragment := range s.catalog {
		if len(fragment.Vector) == s.config.Dimension {
			fragments = append(fragments, fragment)
		}
	}
	s.catalogMu.RUnlock()
	sort.Slice(fragments, func(i, j int) bool { return fragments[i].ID < fragments[j].ID })

	docs := make([]docEntry, len(fragments))
	vectors := make([]byte, 0, len(fragments)*s.config.Dimension*4)
	row := make([]byte, s.config.Dimension*4)
	for i, fragment := range fragments {
		docs[i] = docEntry{
			ID:          fragment.ID,
			Title:       fragment.Title,
			Content:     fragment.Content,
			FullContent: fragment.FullContent,
			Tags:        fragment.Tags,
			Metadata:    fragment.Metadata,
		}
		for j, x := range fragment.Vector {
			binary.LittleEndian.PutUint32(row[j*4:], math.Float32bits(x))
		}
		vectors = append(vectors, row...)
	}

	docsData, err := jsonx.MarshalIndent(docs, "", "  ")
	if err != nil {
		return scouterrors.Wrap(scouterrors.KindPersistence, "encode docs", err)
	}
	metaData, err := jsonx.MarshalIndent(snapshotMeta{
		LastBuiltAt: time.Now(),
		Model:       s.config.Model,
		VectorDim:   s.config.Dimension,
	}, "", "  ")
	if err != nil {
		return scouterrors.Wrap(scouterrors.KindPersistence, "encode meta", err)
	}

	for _, file := range []struct {
		name string
		data []byte
	}{
		{docsFileName, docsData},
		{vecFileName, vectors},
		{metaFileName, metaData},
	} {
		path := filepath.Join(s.config.Dir, file.name)
		if err := os.WriteFile(path, file.data, 0644); err != nil {
			return scouterrors.Wrap(scouterrors.KindPersistence, "write "+file.name, err)
		}
	}
	s.logger.Info("Snapshot written: %d fragments, dim=%d", len(docs), s.config.Dimension)
	return nil
}

// loadSnapshot reads the durable layout back. A count mismatch between docs
// and vector rows is logged and the shorter length wins.
func (s *Store) loadSnapshot() ([]*Fragment, error) {
	metaData, err := os.ReadFile(filepath.Join(s.config.Dir, metaFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var meta snapshotMeta
	if err := jsonx.Unmarshal(metaData, &meta); err != nil {
		return nil, err
	}
	dim := meta.VectorDim
	if dim <= 0 {
		dim = s.config.Dimension
	}

	docsData, err := os.ReadFile(filepath.Join(s.config.Dir, docsFileName))
	if err != nil {
		return nil, err
	}
	var docs []docEntry
	if err := jsonx.Unmarshal(docsData, &docs); err != nil {
		return nil, err
	}

	vecData, err := os.ReadFile(filepath.Join(s.config.Dir, vecFileName))
	if err != nil {
		return nil, err
	}
	rows := len(vecData) / (dim * 4)

	count := len(docs)
	if rows < count {
		s.logger.Warn("Snapshot mismatch: %d docs but %d vector rows, truncating", count, rows)
		count = rows
	} else if rows > count {
		s.logger.Warn("Snapshot mismatch: %d vector rows but %d docs, truncating", rows, count)
	}

	fragments := make([]*Fragment, 0, count)
	for i := 0; i < count; i++ {
		vec := make([]float32, dim)
		offset := i * dim * 4
		for j := 0; j < dim; j++ {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(vecData[offset+j*4:]))
		}
		fragments = append(fragments, &Fragment{
			ID:          docs[i].ID,
			Title:       docs[i].Title,
			Content:     docs[i].Content,
			FullContent: docs[i].FullContent,
			Tags:        docs[i].Tags,
			Metadata:    docs[i].Metadata,
			Vector:      vec,
		})
	}
	return fragments, nil
}
