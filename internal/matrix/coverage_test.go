package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yrzhe/vibe-coding-product-changelog/internal/domain"
)

func TestCoverage(t *testing.T) {
	products := []domain.Product{
		{Name: "acme", Features: []domain.Feature{
			feature("2024-01-01",
				domain.FeatureTag{Name: "UI", Subtags: []domain.SubtagRef{{Name: "Forms"}}},
				domain.FeatureTag{Name: "Infra"},
			),
			feature("2024-01-02",
				domain.FeatureTag{Name: "UI", Subtags: []domain.SubtagRef{{Name: "Themes"}, {Name: "Forms"}}},
			),
		}},
	}

	cov := Coverage(products, nil)
	require.Contains(t, cov, "acme")

	ui := cov["acme"]["UI"]
	assert.Equal(t, 2, ui.Count)
	assert.Equal(t, []string{"Forms", "Themes"}, ui.Subtags)

	infra := cov["acme"]["Infra"]
	assert.Equal(t, 1, infra.Count)
	assert.Empty(t, infra.Subtags)
}

func TestCoverageExcludesTags(t *testing.T) {
	products := []domain.Product{
		{Name: "acme", Features: []domain.Feature{
			feature("2024-01-01",
				domain.FeatureTag{Name: "UI", Subtags: []domain.SubtagRef{{Name: "Forms"}, {Name: "Hidden"}}},
				domain.FeatureTag{Name: "Secret"},
			),
		}},
	}

	cov := Coverage(products, []string{"Secret", "Hidden"})
	assert.NotContains(t, cov["acme"], "Secret")
	assert.Equal(t, []string{"Forms"}, cov["acme"]["UI"].Subtags)
}

func TestFilterTaxonomy(t *testing.T) {
	tags := []domain.Tag{
		{Name: "UI", Subtags: []domain.Subtag{{Name: "Forms"}, {Name: "Hidden"}}},
		{Name: "Secret", Subtags: []domain.Subtag{{Name: "x"}}},
	}

	got := FilterTaxonomy(tags, []string{"Secret", "Hidden"})
	require.Len(t, got, 1)
	assert.Equal(t, "UI", got[0].Name)
	require.Len(t, got[0].Subtags, 1)
	assert.Equal(t, "Forms", got[0].Subtags[0].Name)

	// Input untouched.
	assert.Len(t, tags[0].Subtags, 2)
}
