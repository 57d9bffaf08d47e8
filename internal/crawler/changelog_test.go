package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yrzhe/vibe-coding-product-changelog/internal/domain"
)

const sampleChangelog = `# Changelog

## v2.7.4 – January 12, 2026

### Features

#### Multi-file upload
Upload several files at once.
Drag and drop is supported.

### Patches

- **Login fix:** Sessions no longer expire early
- Fixed a typo on the settings page

---

## v2.7.3 - December 1, 2025

### Features

#### Dark mode
`

func TestParseChangelog(t *testing.T) {
	entries := ParseChangelog(sampleChangelog)
	require.Len(t, entries, 4)

	assert.Equal(t, "Multi-file upload", entries[0].Title)
	assert.Equal(t, "Upload several files at once.\nDrag and drop is supported.", entries[0].Description)
	assert.Equal(t, "2026-01-12", entries[0].Time)
	assert.Equal(t, "v2.7.4", entries[0].Version)
	assert.Equal(t, "Features", entries[0].Category)

	assert.Equal(t, "Login fix", entries[1].Title)
	assert.Equal(t, "Sessions no longer expire early", entries[1].Description)
	assert.Equal(t, "Patches", entries[1].Category)

	assert.Equal(t, "Fixed a typo on the settings page", entries[2].Title)
	assert.Equal(t, "", entries[2].Description)

	// Plain "-" separator in the version line parses the same as the dash.
	assert.Equal(t, "Dark mode", entries[3].Title)
	assert.Equal(t, "2025-12-01", entries[3].Time)
	assert.Equal(t, "v2.7.3", entries[3].Version)
}

func TestParseChangelogEmpty(t *testing.T) {
	assert.Empty(t, ParseChangelog(""))
	assert.Empty(t, ParseChangelog("just some prose\nwith no headings"))
}

func TestChangelogFeatures(t *testing.T) {
	entries := []ChangelogEntry{
		{Title: "Dark Mode", Time: "2025-12-01", Version: "v1", Category: "Features"},
		{Title: "Multi-file upload", Time: "2026-01-12", Version: "v2", Category: "Features"},
	}
	prior := []domain.Feature{
		{Title: "dark mode", Tags: domain.FeatureTags{
			{Name: "UI", Subtags: []domain.SubtagRef{{Name: "Theming"}}},
		}},
	}

	features := ChangelogFeatures(entries, prior)
	require.Len(t, features, 2)

	// Newest first, tags restored by case-insensitive title.
	assert.Equal(t, "Multi-file upload", features[0].Title)
	assert.Empty(t, features[0].Tags)
	assert.Equal(t, "Dark Mode", features[1].Title)
	require.Len(t, features[1].Tags, 1)
	assert.Equal(t, "UI", features[1].Tags[0].Name)
}
