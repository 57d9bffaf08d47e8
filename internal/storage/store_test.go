package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yrzhe/vibe-coding-product-changelog/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	return s
}

func seedProduct(t *testing.T, s *Store, key string, p domain.Product) {
	t.Helper()
	require.NoError(t, s.SaveProduct(key, p))
}

func taggedFeature(title, date, primary string, subtags ...string) domain.Feature {
	refs := make([]domain.SubtagRef, 0, len(subtags))
	for _, name := range subtags {
		refs = append(refs, domain.SubtagRef{Name: name})
	}
	return domain.Feature{
		Title: title,
		Time:  date,
		Tags:  domain.FeatureTags{{Name: primary, Subtags: refs}},
	}
}

func TestProductRoundTrip(t *testing.T) {
	s := newTestStore(t)
	p := domain.Product{
		Name: "v0",
		URL:  "https://v0.app/changelog",
		Features: []domain.Feature{
			taggedFeature("Forms v2", "2024-01-01", "UI", "Forms"),
			{Title: "Bugfix", Time: "2024-01-02", TagsNone: true},
		},
	}
	seedProduct(t, s, "v0", p)

	got, err := s.Product("v0")
	require.NoError(t, err)
	assert.Equal(t, "v0", got.Name)
	assert.Equal(t, p.URL, got.URL)
	require.Len(t, got.Features, 2)
	assert.Equal(t, "Forms v2", got.Features[0].Title)
	assert.True(t, got.Features[1].TagsNone)
}

func TestProductLegacyDocumentShape(t *testing.T) {
	s := newTestStore(t)
	raw := `[
		{"name": "bolt", "url": "https://bolt.new", "is_self": false},
		{"name": "feature", "features": [
			{"title": "x", "description": "", "time": "2024-01-01", "tags": "None"}
		]}
	]`
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "storage", "bolt.json"), []byte(raw), 0o644))

	p, err := s.Product("bolt")
	require.NoError(t, err)
	assert.Equal(t, "bolt", p.Name)
	require.Len(t, p.Features, 1)
	assert.True(t, p.Features[0].TagsNone)
	assert.Empty(t, p.Features[0].Tags)
}

func TestProductsSkipsUnreadable(t *testing.T) {
	s := newTestStore(t)
	seedProduct(t, s, "good", domain.Product{Name: "good"})
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "storage", "bad.json"), []byte("{nope"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "storage", "example.json"), []byte("[]"), 0o644))

	products, err := s.Products()
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "good", products[0].Name)
}

func TestTaxonomyBothShapes(t *testing.T) {
	s := newTestStore(t)

	legacy := `[{"name": "UI", "subtags": [{"name": "Forms"}]}]`
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "info", "tag.json"), []byte(legacy), 0o644))
	tax, err := s.Taxonomy()
	require.NoError(t, err)
	require.Len(t, tax.PrimaryTags, 1)
	assert.Nil(t, tax.SubtagToPrimary)

	tax.SubtagToPrimary = map[string]string{"Forms": "UI"}
	require.NoError(t, s.SaveTaxonomy(tax))
	back, err := s.Taxonomy()
	require.NoError(t, err)
	assert.Equal(t, "UI", back.SubtagToPrimary["Forms"])
	require.Len(t, back.PrimaryTags, 1)
}

func TestFeatureKeyStable(t *testing.T) {
	f := domain.Feature{Title: "Launch", Time: "2024-01-01"}
	assert.Equal(t, FeatureKey(f), FeatureKey(f))
	assert.NotEqual(t, FeatureKey(f), FeatureKey(domain.Feature{Title: "Launch", Time: "2024-01-02"}))
	assert.Len(t, FeatureKey(f), 16+1+len("2024-01-01"))
}

func TestMergeFeaturesKeepsTags(t *testing.T) {
	old := []domain.Feature{
		taggedFeature("Forms v2", "2024-01-01", "UI", "Forms"),
		{Title: "Bugfix", Time: "2024-01-02", TagsNone: true},
		{Title: "Untagged", Time: "2024-01-03"},
	}
	crawled := []domain.Feature{
		{Title: "Forms v2", Time: "2024-01-01"}, // re-crawled without tags
		{Title: "Bugfix", Time: "2024-01-02"},
		{Title: "Untagged", Time: "2024-01-03"},
		{Title: "Brand new", Time: "2024-01-04"},
		{Title: "Brand new", Time: "2024-01-04"}, // crawler duplicate
	}

	merged, newKeys := MergeFeatures(FeatureMap(old), crawled)
	require.Len(t, merged, 4)

	assert.Equal(t, "UI", merged[0].Tags[0].Name, "existing tags survive the re-crawl")
	assert.True(t, merged[1].TagsNone, "None marker survives the re-crawl")

	assert.True(t, newKeys[FeatureKey(merged[3])])
	assert.True(t, newKeys[FeatureKey(merged[2])], "still-untagged entries are queued again")
	assert.Len(t, newKeys, 2)
}

func TestLatestDate(t *testing.T) {
	features := []domain.Feature{
		{Time: "2024-01-05"},
		{Time: "2023-12-31"},
		{Time: ""},
	}
	assert.Equal(t, "2024-01-05", LatestDate(features))
	assert.Equal(t, "", LatestDate(nil))
}

func TestUpdateLogRoundTrip(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2024, 3, 5, 10, 20, 30, 0, time.UTC)

	name, err := s.WriteUpdateLog(domain.UpdateLog{
		Timestamp: now.Format(time.RFC3339),
		Updates: map[string]domain.UpdateResult{
			"v0": {Status: "success", OldCount: 10, TotalCount: 12, NewCount: 2},
		},
	}, now)
	require.NoError(t, err)
	assert.Equal(t, "update_20240305_102030.json", name)

	idx, err := s.LogIndex()
	require.NoError(t, err)
	assert.Equal(t, []string{name}, idx.Files)

	log, err := s.UpdateLog(name)
	require.NoError(t, err)
	assert.Equal(t, 2, log.Updates["v0"].NewCount)

	_, err = s.UpdateLog("../../../etc/passwd")
	assert.Error(t, err)
}

func TestRunStatusMarkRun(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.MarkRun("2024-01-01T00:00:00", ""))
	require.NoError(t, s.MarkRun("", "2024-01-02T00:00:00"))

	status, err := s.RunStatus()
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T00:00:00", status.CrawlLastRun)
	assert.Equal(t, "2024-01-02T00:00:00", status.SummaryLastRun)
}

func TestAdminConfigDefaults(t *testing.T) {
	s := newTestStore(t)
	cfg, err := s.AdminConfig()
	require.NoError(t, err)
	assert.Equal(t, "admin", cfg.Password)

	require.NoError(t, s.SaveExcludeTags([]string{"Secret"}))
	cfg, err = s.AdminConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"Secret"}, cfg.ExcludeTags)
}

func TestRawChangelog(t *testing.T) {
	s := newTestStore(t)
	content, err := s.RawChangelog("youware")
	require.NoError(t, err)
	assert.Empty(t, content)

	require.NoError(t, s.SaveRawChangelog("youware", "## v1.0 – Jan 1, 2024"))
	content, err = s.RawChangelog("youware")
	require.NoError(t, err)
	assert.Equal(t, "## v1.0 – Jan 1, 2024", content)
}
