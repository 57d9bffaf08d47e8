package monitor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Yrzhe/vibe-coding-product-changelog/internal/config"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/domain"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/storage"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/tagger"
)

// fakeFetcher serves canned HTML per URL; an empty entry means an error.
type fakeFetcher struct {
	pages map[string]string
}

func (f *fakeFetcher) Fetch(_ context.Context, pageURL, _ string) (string, error) {
	page, ok := f.pages[pageURL]
	if !ok || page == "" {
		return "", fmt.Errorf("fetch %s: connection refused", pageURL)
	}
	return page, nil
}

type recordingTagger struct {
	targets []string
}

func (r *recordingTagger) Run(_ context.Context, target string, _ int) (*tagger.Report, error) {
	r.targets = append(r.targets, target)
	return &tagger.Report{}, nil
}

func page(entries ...[2]string) string {
	var sb strings.Builder
	sb.WriteString("<html><body><main>")
	for _, e := range entries {
		fmt.Fprintf(&sb, "<article><h2>%s</h2><time>%s</time><p>details</p></article>", e[0], e[1])
	}
	sb.WriteString("</main></body></html>")
	return sb.String()
}

func newMonitor(t *testing.T, pages map[string]string) (*Monitor, *storage.Store, *recordingTagger) {
	t.Helper()
	store, err := storage.New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	tg := &recordingTagger{}
	m := New(store, &fakeFetcher{pages: pages}, tg, config.Default(), zap.NewNop())
	return m, store, tg
}

func TestProductMergeKeepsTags(t *testing.T) {
	url := "https://v0.dev/changelog"
	m, store, tg := newMonitor(t, map[string]string{
		url: page([2]string{"Old entry", "January 1, 2026"}, [2]string{"Brand new", "January 2, 2026"}),
	})

	// Pre-seed the old entry with curated tags; the key covers title+time.
	require.NoError(t, store.SaveProduct("v0", domain.Product{
		Name: "v0", URL: url,
		Features: []domain.Feature{{
			Title: "Old entry", Description: "details", Time: "2026-01-01",
			Tags: domain.FeatureTags{{Name: "Editor", Subtags: []domain.SubtagRef{{Name: "Themes"}}}},
		}},
	}))

	result := m.Product(context.Background(), "v0", url)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, 1, result.OldCount)
	assert.Equal(t, 2, result.TotalCount)
	assert.Equal(t, 1, result.NewCount)
	require.Len(t, result.NewFeatures, 1)
	assert.Equal(t, "Brand new", result.NewFeatures[0].Title)

	p, err := store.Product("v0")
	require.NoError(t, err)
	require.Len(t, p.Features, 2)
	for _, f := range p.Features {
		if f.Title == "Old entry" {
			require.Len(t, f.Tags, 1)
			assert.Equal(t, "Editor", f.Tags[0].Name)
		}
	}

	// New entries trigger a tagging pass for just this product.
	assert.Equal(t, []string{"v0"}, tg.targets)
}

func TestProductCrawlerFailureKeepsData(t *testing.T) {
	url := "https://bolt.new/changelog"
	m, store, tg := newMonitor(t, nil)

	require.NoError(t, store.SaveProduct("bolt", domain.Product{
		Name: "bolt", URL: url,
		Features: []domain.Feature{{Title: "Keep me", Time: "2026-01-01"}},
	}))

	result := m.Product(context.Background(), "bolt", url)
	assert.Equal(t, StatusCrawlerFailed, result.Status)
	assert.Equal(t, 1, result.OldCount)

	p, err := store.Product("bolt")
	require.NoError(t, err)
	assert.Len(t, p.Features, 1)
	assert.Empty(t, tg.targets)
}

func TestProductEmptyResultKeepsData(t *testing.T) {
	url := "https://lovable.dev/changelog"
	m, store, _ := newMonitor(t, map[string]string{
		url: "<html><body><main></main></body></html>",
	})

	require.NoError(t, store.SaveProduct("lovable", domain.Product{
		Name: "lovable", URL: url,
		Features: []domain.Feature{{Title: "Keep me", Time: "2026-01-01"}},
	}))

	result := m.Product(context.Background(), "lovable", url)
	assert.Equal(t, StatusEmptyResult, result.Status)

	p, err := store.Product("lovable")
	require.NoError(t, err)
	assert.Len(t, p.Features, 1)
}

func seedCompetitors(t *testing.T, store *storage.Store, comps []domain.Competitor) {
	t.Helper()
	// competitor.json is written by hand in production; mirror that here.
	p := store.Root() + "/info/competitor.json"
	data := "["
	for i, c := range comps {
		if i > 0 {
			data += ","
		}
		data += fmt.Sprintf(`{"name":%q,"url":%q}`, c.Name, c.URL)
	}
	data += "]"
	require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
}

func TestRunWritesLogAndSyncStatus(t *testing.T) {
	url := "https://v0.dev/changelog"
	m, store, _ := newMonitor(t, map[string]string{
		url: page([2]string{"Fresh", "February 1, 2026"}),
	})
	seedCompetitors(t, store, []domain.Competitor{
		{Name: "v0", URL: url},
		{Name: "down", URL: "https://down.example/changelog"},
	})

	updateLog, err := m.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "incremental", updateLog.Mode)
	assert.Equal(t, StatusSuccess, updateLog.Updates["v0"].Status)
	assert.Equal(t, StatusCrawlerFailed, updateLog.Updates["down"].Status)

	status, err := store.SyncStatus()
	require.NoError(t, err)
	assert.Equal(t, "2026-02-01", status.Products["v0"].LatestDate)
	assert.NotEmpty(t, status.Products["down"].LastSync)

	index, err := store.LogIndex()
	require.NoError(t, err)
	assert.Len(t, index.Files, 1)
}

func TestRunNoNewEntriesWritesNoLog(t *testing.T) {
	url := "https://v0.dev/changelog"
	m, store, _ := newMonitor(t, map[string]string{
		url: page([2]string{"Known", "January 1, 2026"}),
	})
	require.NoError(t, store.SaveProduct("v0", domain.Product{
		Name: "v0", URL: url,
		Features: []domain.Feature{{Title: "Known", Description: "details", Time: "2026-01-01"}},
	}))
	seedCompetitors(t, store, []domain.Competitor{{Name: "v0", URL: url}})

	updateLog, err := m.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, updateLog.Updates["v0"].NewCount)

	index, err := store.LogIndex()
	require.NoError(t, err)
	assert.Empty(t, index.Files)
}

func TestRunAutoTriggersWeeklyFullSync(t *testing.T) {
	url := "https://v0.dev/changelog"
	m, store, _ := newMonitor(t, map[string]string{
		url: page([2]string{"Fresh", "February 1, 2026"}),
	})
	seedCompetitors(t, store, []domain.Competitor{{Name: "v0", URL: url}})

	base := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	// No marker: auto mode goes full and stamps the marker.
	updateLog, err := m.Run(context.Background(), Options{Auto: true})
	require.NoError(t, err)
	assert.Equal(t, "full", updateLog.Mode)

	status, err := store.SyncStatus()
	require.NoError(t, err)
	assert.Equal(t, base.Format(time.RFC3339), status.LastFullSync)

	// Six days later: still incremental.
	m.now = func() time.Time { return base.Add(6 * 24 * time.Hour) }
	assert.False(t, m.FullSyncNeeded())

	// Seven days later: due again.
	m.now = func() time.Time { return base.Add(7 * 24 * time.Hour) }
	assert.True(t, m.FullSyncNeeded())
}

func TestRunUnknownProduct(t *testing.T) {
	m, store, _ := newMonitor(t, nil)
	seedCompetitors(t, store, []domain.Competitor{{Name: "v0", URL: "https://v0.dev"}})

	_, err := m.Run(context.Background(), Options{Product: "nope"})
	assert.Error(t, err)
}
