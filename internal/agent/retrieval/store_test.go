package retrieval

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docs() []*schema.Document {
	return []*schema.Document{
		{ID: "refunds", Content: "Refunds are issued within 14 days of purchase."},
		{ID: "shipping", Content: "Shipping takes 3 to 5 business days; express shipping is next day."},
		{ID: "warranty", Content: "The warranty covers manufacturing defects for two years."},
	}
}

func ids(ds []*schema.Document) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.ID)
	}
	return out
}

func TestKeywordSearchRanks(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(context.Background(), docs()...))

	got, err := s.Search(context.Background(), "How long does express shipping take?", nil, 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "shipping", got[0].ID)
	assert.Greater(t, got[0].Score(), 0.0)
	assert.NotContains(t, ids(got), "warranty")
}

func TestSearchHonoursFilterAndK(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(context.Background(), docs()...))

	got, err := s.Search(context.Background(), "refunds shipping warranty", nil, 5, []string{"warranty"})
	require.NoError(t, err)
	assert.Equal(t, []string{"warranty"}, ids(got))

	got, err = s.Search(context.Background(), "refunds shipping warranty", nil, 2, nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.Search(context.Background(), "anything", nil, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAddReplacesByID(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, docs()...))
	require.NoError(t, s.Add(ctx, &schema.Document{ID: "refunds", Content: "No refunds on sale items."}))
	assert.Equal(t, 3, s.Len())

	got, err := s.Search(ctx, "sale items", nil, 1, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "refunds", got[0].ID)

	assert.Error(t, s.Add(ctx, &schema.Document{Content: "no id"}))
}

// axisEmbedder maps known words onto axes so cosine ranking is predictable.
type axisEmbedder struct{}

func (axisEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v := []float64{0, 0, 0}
		for _, w := range tokenize(t) {
			switch w {
			case "refunds", "money":
				v[0]++
			case "shipping", "delivery":
				v[1]++
			case "warranty", "broken":
				v[2]++
			}
		}
		out[i] = v
	}
	return out, nil
}

func TestVectorSearchUsesCosine(t *testing.T) {
	s := NewStore(WithEmbedder(axisEmbedder{}))
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, docs()...))

	got, err := s.Retrieve(ctx, "my delivery is late", retriever.WithTopK(1))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "shipping", got[0].ID)
	assert.InDelta(t, 1.0, got[0].Score(), 1e-9)
}

func TestRetrieveScoreThreshold(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(context.Background(), docs()...))

	got, err := s.Retrieve(context.Background(), "express shipping refunds", retriever.WithScoreThreshold(0.6))
	require.NoError(t, err)
	assert.Equal(t, []string{"shipping"}, ids(got))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- id: hours
  content: The store opens at nine.
  metadata:
    source: faq
- id: parking
  content: Parking is free after six.
`), 0o600))

	s := NewStore()
	require.NoError(t, s.LoadFile(context.Background(), path))
	assert.Equal(t, 2, s.Len())

	got, err := s.Search(context.Background(), "when does the store open", nil, 1, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hours", got[0].ID)
	assert.Equal(t, "faq", got[0].MetaData["source"])
}

func TestFromEinoFiltersDocumentIDs(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(context.Background(), docs()...))
	r := FromEino(s)

	got, err := r.Search(context.Background(), "refunds shipping warranty", nil, 1, []string{"warranty", "refunds"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, []string{"warranty", "refunds"}, got[0].ID)
}
