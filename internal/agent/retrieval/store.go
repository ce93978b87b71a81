// Package retrieval provides document search for retrieve_context: an
// in-process document store and an adapter for eino retrievers.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"gopkg.in/yaml.v3"

	"github.com/chative-core/workflow/internal/agent/model"
)

// Store keeps documents in memory and ranks them by cosine similarity when
// both the query and the document carry a vector, otherwise by keyword
// overlap. It is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	docs []*schema.Document
	// embedder is used by Retrieve when the caller passes none.
	embedder embedding.Embedder
}

type StoreOption func(*Store)

// WithEmbedder vectorises added documents and Retrieve queries.
func WithEmbedder(e embedding.Embedder) StoreOption {
	return func(s *Store) { s.embedder = e }
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add stores documents, replacing any with the same id. Documents without a
// vector are embedded when the store has an embedder.
func (s *Store) Add(ctx context.Context, docs ...*schema.Document) error {
	if s.embedder != nil {
		var texts []string
		var missing []*schema.Document
		for _, d := range docs {
			if len(d.DenseVector()) == 0 {
				texts = append(texts, d.Content)
				missing = append(missing, d)
			}
		}
		if len(texts) > 0 {
			vecs, err := s.embedder.EmbedStrings(ctx, texts)
			if err != nil {
				return fmt.Errorf("embed documents: %w", err)
			}
			for i, d := range missing {
				if i < len(vecs) {
					d.WithDenseVector(vecs[i])
				}
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		if d == nil || d.ID == "" {
			return fmt.Errorf("document without id")
		}
		replaced := false
		for i, existing := range s.docs {
			if existing.ID == d.ID {
				s.docs[i] = d
				replaced = true
				break
			}
		}
		if !replaced {
			s.docs = append(s.docs, d)
		}
	}
	return nil
}

// Len is the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

type scored struct {
	doc   *schema.Document
	score float64
}

// Search implements model.Retriever.
func (s *Store) Search(ctx context.Context, query string, vector []float64, k int, documentIDs []string) ([]*schema.Document, error) {
	if k <= 0 {
		return nil, nil
	}
	allowed := map[string]bool{}
	for _, id := range documentIDs {
		allowed[id] = true
	}
	terms := tokenize(query)

	s.mu.RLock()
	var hits []scored
	for _, d := range s.docs {
		if len(allowed) > 0 && !allowed[d.ID] {
			continue
		}
		var score float64
		if dv := d.DenseVector(); len(vector) > 0 && len(dv) == len(vector) {
			score = cosine(vector, dv)
		} else {
			score = keywordScore(terms, d.Content)
		}
		if score <= 0 {
			continue
		}
		hits = append(hits, scored{doc: d, score: score})
	}
	s.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].doc.ID < hits[j].doc.ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	out := make([]*schema.Document, 0, len(hits))
	for _, h := range hits {
		cp := &schema.Document{ID: h.doc.ID, Content: h.doc.Content, MetaData: copyMeta(h.doc.MetaData)}
		out = append(out, cp.WithScore(h.score))
	}
	return out, nil
}

// Retrieve implements eino's retriever.Retriever so the store can back any
// eino component. TopK defaults to 5.
func (s *Store) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	topK := 5
	o := retriever.GetCommonOptions(&retriever.Options{TopK: &topK, Embedding: s.embedder}, opts...)

	var vector []float64
	if o.Embedding != nil {
		vecs, err := o.Embedding.EmbedStrings(ctx, []string{query})
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		if len(vecs) > 0 {
			vector = vecs[0]
		}
	}
	docs, err := s.Search(ctx, query, vector, *o.TopK, nil)
	if err != nil || o.ScoreThreshold == nil {
		return docs, err
	}
	kept := docs[:0]
	for _, d := range docs {
		if d.Score() >= *o.ScoreThreshold {
			kept = append(kept, d)
		}
	}
	return kept, nil
}

type fileDocument struct {
	ID       string         `yaml:"id"`
	Content  string         `yaml:"content"`
	Metadata map[string]any `yaml:"metadata"`
}

// LoadFile adds the documents listed in a YAML (or JSON) file:
// a sequence of {id, content, metadata}.
func (s *Store) LoadFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read documents %s: %w", path, err)
	}
	var entries []fileDocument
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("parse documents %s: %w", path, err)
	}
	docs := make([]*schema.Document, 0, len(entries))
	for _, e := range entries {
		docs = append(docs, &schema.Document{ID: e.ID, Content: e.Content, MetaData: e.Metadata})
	}
	return s.Add(ctx, docs...)
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 2 {
			out = append(out, f)
		}
	}
	return out
}

// keywordScore is the fraction of distinct query terms found in content.
func keywordScore(terms []string, content string) float64 {
	if len(terms) == 0 {
		return 0
	}
	words := map[string]bool{}
	for _, w := range tokenize(content) {
		words[w] = true
	}
	seen := map[string]bool{}
	var hit int
	for _, t := range terms {
		if seen[t] {
			continue
		}
		seen[t] = true
		if words[t] {
			hit++
		}
	}
	return float64(hit) / float64(len(seen))
}

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func copyMeta(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var (
	_ model.Retriever     = (*Store)(nil)
	_ retriever.Retriever = (*Store)(nil)
)
