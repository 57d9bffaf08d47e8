package summary

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Yrzhe/vibe-coding-product-changelog/internal/domain"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/matrix"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/storage"
)

func tagged(primary, subtag string) domain.FeatureTags {
	return domain.FeatureTags{{Name: primary, Subtags: []domain.SubtagRef{{Name: subtag}}}}
}

func testProducts() []domain.Product {
	return []domain.Product{
		{Name: "youware", IsSelf: true, Features: []domain.Feature{
			{Title: "GPT-5", Time: "2026-01-01", Tags: tagged("AI Model", "OpenAI")},
		}},
		{Name: "cursor", Features: []domain.Feature{
			{Title: "Claude", Time: "2026-01-01", Tags: tagged("AI Model", "Anthropic")},
			{Title: "Gemini", Time: "2026-01-02", Tags: tagged("AI Model", "Google")},
			{Title: "GitHub sync", Time: "2026-01-03", Tags: tagged("Integration", "GitHub")},
		}},
	}
}

func testTags() []domain.Tag {
	return []domain.Tag{
		{Name: "AI Model", Subtags: []domain.Subtag{{Name: "OpenAI"}, {Name: "Anthropic"}, {Name: "Google"}}},
		{Name: "Integration", Subtags: []domain.Subtag{{Name: "GitHub"}, {Name: "Stripe"}}},
	}
}

func TestStats(t *testing.T) {
	products := testProducts()
	coverage := matrix.Coverage(products, nil)

	self, competitors := stats(products, coverage, testTags())
	require.NotNil(t, self)
	assert.Equal(t, "youware", self.Name)
	assert.Equal(t, 1, self.FeatureCount)
	assert.Equal(t, tagDetail{Covered: 1, Total: 3, Features: 1, Subtags: []string{"OpenAI"}},
		self.TagDetails["AI Model"])

	require.Len(t, competitors, 1)
	assert.Equal(t, 2, competitors[0].TagDetails["AI Model"].Features)
}

func TestFocusRanksByCount(t *testing.T) {
	products := testProducts()
	coverage := matrix.Coverage(products, nil)
	_, competitors := stats(products, coverage, testTags())

	f := focus(competitors)
	require.Contains(t, f, "cursor")
	require.Len(t, f["cursor"].TopFocus, 2)
	assert.Equal(t, "AI Model", f["cursor"].TopFocus[0].Tag)
	assert.Equal(t, 2, f["cursor"].TopFocus[0].Count)
}

func TestMissing(t *testing.T) {
	products := testProducts()
	coverage := matrix.Coverage(products, nil)
	self, competitors := stats(products, coverage, testTags())

	m := missing(self, competitors)

	// Integration is fully absent from the self product.
	require.Contains(t, m, "Integration")
	assert.Equal(t, "fully missing", m["Integration"].Type)
	assert.Equal(t, []string{"cursor"}, m["Integration"].CompetitorsWith)
	assert.Equal(t, []string{"GitHub"}, m["Integration"].SubtagsMissing)

	// AI Model is present but short two subtags.
	require.Contains(t, m, "AI Model")
	assert.Equal(t, "partially missing", m["AI Model"].Type)
	assert.Equal(t, []string{"Anthropic", "Google"}, m["AI Model"].SubtagsMissing)
}

type cannedLLM struct {
	prompts []string
}

func (c *cannedLLM) Complete(_ context.Context, prompt string, _ int) (string, error) {
	c.prompts = append(c.prompts, prompt)
	return "analysis text", nil
}

func TestRunSavesSummary(t *testing.T) {
	store, err := storage.New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.SaveTaxonomy(domain.Taxonomy{PrimaryTags: testTags()}))
	for _, p := range testProducts() {
		require.NoError(t, store.SaveProduct(p.Name, p))
	}

	fake := &cannedLLM{}
	gen := New(store, fake, zap.NewNop())

	result, err := gen.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "analysis text", result.MatrixOverview)
	assert.NotEmpty(t, result.LastUpdated)
	// One overview call plus one per primary tag with any coverage.
	assert.Len(t, fake.prompts, 3)
	assert.Equal(t, "analysis text", result.TagSummaries["AI Model"])
	assert.Equal(t, "analysis text", result.TagSummaries["Integration"])

	saved, err := store.Summary()
	require.NoError(t, err)
	assert.Equal(t, result.MatrixOverview, saved.MatrixOverview)
}

func TestRunExcludedTagsLeftOut(t *testing.T) {
	store, err := storage.New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.SaveTaxonomy(domain.Taxonomy{PrimaryTags: testTags()}))
	require.NoError(t, store.SaveExcludeTags([]string{"Integration"}))
	for _, p := range testProducts() {
		require.NoError(t, store.SaveProduct(p.Name, p))
	}

	fake := &cannedLLM{}
	gen := New(store, fake, zap.NewNop())

	result, err := gen.Run(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, result.TagSummaries, "Integration")
	for _, p := range fake.prompts {
		assert.False(t, strings.Contains(p, "GitHub"), "excluded tag leaked into prompt")
	}
}
