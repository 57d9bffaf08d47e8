package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<html><body><main>
<article>
  <h2>Faster deploys</h2>
  <time>March 5, 2024</time>
  <p>Deploys now finish in half the time.</p>
  <ul><li>Parallel uploads</li><li>Cached builds</li></ul>
  <script>track()</script>
</article>
<article>
  <h2></h2>
  <p>No title, should be skipped.</p>
</article>
<article>
  <h2>New editor</h2>
  <time>yesterday</time>
  <p>New editor</p>
  <p>A fully rewritten editing experience.</p>
</article>
</main></body></html>`

func TestExtract(t *testing.T) {
	features, err := Extract(samplePage, DefaultRule)
	require.NoError(t, err)
	require.Len(t, features, 2)

	assert.Equal(t, "Faster deploys", features[0].Title)
	assert.Equal(t, "2024-03-05", features[0].Time)
	assert.Equal(t, "Deploys now finish in half the time.\n• Parallel uploads\n• Cached builds", features[0].Description)

	// Raw date text passes through when it matches no known layout, and
	// body fragments equal to the title are dropped.
	assert.Equal(t, "New editor", features[1].Title)
	assert.Equal(t, "yesterday", features[1].Time)
	assert.Equal(t, "A fully rewritten editing experience.", features[1].Description)
}

func TestExtractNoItems(t *testing.T) {
	features, err := Extract("<html><body><p>nothing here</p></body></html>", DefaultRule)
	require.NoError(t, err)
	assert.Empty(t, features)
}

func TestRuleFor(t *testing.T) {
	assert.Equal(t, "main section", RuleFor("lovable").Item)
	assert.Equal(t, DefaultRule, RuleFor("unknown-product"))
}

func TestNormalizeDate(t *testing.T) {
	assert.Equal(t, "2026-01-12", NormalizeDate("January 12, 2026"))
	assert.Equal(t, "2026-01-12", NormalizeDate("Jan 12, 2026"))
	assert.Equal(t, "2024-03-05", NormalizeDate(" March 5, 2024 "))
	assert.Equal(t, "last week", NormalizeDate("last week"))
	assert.Equal(t, "", NormalizeDate(""))
}
