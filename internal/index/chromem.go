package index

import (
	"context"
	"fmt"

	"github.com/philippgille/chromem-go"

	"github.com/seantiz/ragserve/internal/model"
)

var _ Retriever = (*Chromem)(nil)

// Chromem serves a read-only chromem-go collection held in memory.
type Chromem struct {
	collection *chromem.Collection
}

// OpenChromem imports the gob export at path and selects the named collection.
func OpenChromem(path, collection string, embed chromem.EmbeddingFunc) (*Chromem, error) {
	db := chromem.NewDB()
	if err := db.Import(path, ""); err != nil {
		return nil, fmt.Errorf("import index %s: %w", path, err)
	}
	return NewChromem(db, collection, embed)
}

// NewChromem wraps an existing database.
func NewChromem(db *chromem.DB, collection string, embed chromem.EmbeddingFunc) (*Chromem, error) {
	c := db.GetCollection(collection, embed)
	if c == nil {
		return nil, fmt.Errorf("collection %q not found", collection)
	}
	return &Chromem{collection: c}, nil
}

// Retrieve embeds the question and returns the k nearest documents. Distance
// is one minus cosine similarity.
func (c *Chromem) Retrieve(ctx context.Context, question string, k int) ([]model.Evidence, error) {
	n := c.collection.Count()
	if n == 0 {
		return nil, ErrEmptyIndex
	}
	// chromem rejects k larger than the collection.
	k = min(k, n)

	results, err := c.collection.Query(ctx, question, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	evidence := make([]model.Evidence, len(results))
	for i, r := range results {
		evidence[i] = model.Evidence{
			Content:  r.Content,
			Distance: 1 - float64(r.Similarity),
		}
	}
	return evidence, nil
}

// Close is a no-op; the collection lives for the process lifetime.
func (c *Chromem) Close() error { return nil }
