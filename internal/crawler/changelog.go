package crawler

import (
	"regexp"
	"sort"
	"strings"

	"github.com/Yrzhe/vibe-coding-product-changelog/internal/domain"
)

// ChangelogEntry is one parsed block of a hand-maintained markdown changelog.
// Version and Category are transient parsing context and are dropped when the
// entry is converted to a feature.
type ChangelogEntry struct {
	Title       string
	Description string
	Time        string
	Version     string
	Category    string
}

var (
	versionLinePattern = regexp.MustCompile(`^## (v[\d.]+)\s*[–-]\s*(.+)$`)
	boldItemPattern    = regexp.MustCompile(`\*\*(.+?):\*\*\s*(.+)`)
)

// ParseChangelog parses a markdown changelog of the form
//
//	## v2.7.4 – January 12, 2026
//	### Features
//	#### Feature Title
//	Feature description...
//	### Patches
//	- Fixed something
//
// into a flat list of entries, in document order.
func ParseChangelog(content string) []ChangelogEntry {
	var entries []ChangelogEntry

	var (
		version     string
		date        string
		category    string
		title       string
		description []string
		inBlock     bool
	)

	flush := func() {
		if title != "" {
			entries = append(entries, ChangelogEntry{
				Title:       title,
				Description: strings.TrimSpace(strings.Join(description, "\n")),
				Time:        date,
				Version:     version,
				Category:    category,
			})
		}
		title = ""
		description = nil
		inBlock = false
	}

	for _, line := range strings.Split(content, "\n") {
		stripped := strings.TrimSpace(line)

		if m := versionLinePattern.FindStringSubmatch(stripped); m != nil {
			flush()
			version = m[1]
			date = NormalizeDate(m[2])
			category = ""
			continue
		}

		if strings.HasPrefix(stripped, "### ") {
			flush()
			category = strings.TrimSpace(stripped[4:])
			continue
		}

		if strings.HasPrefix(stripped, "#### ") {
			flush()
			title = strings.TrimSpace(stripped[5:])
			inBlock = true
			continue
		}

		if strings.HasPrefix(stripped, "- ") {
			flush()
			item := strings.TrimSpace(stripped[2:])
			if m := boldItemPattern.FindStringSubmatch(item); m != nil {
				title = strings.TrimSpace(m[1])
				description = []string{strings.TrimSpace(m[2])}
			} else {
				title = item
			}
			inBlock = true
			continue
		}

		if inBlock && stripped != "" {
			if stripped == "---" {
				flush()
			} else {
				description = append(description, stripped)
			}
		}
	}
	flush()

	return entries
}

// ChangelogFeatures converts parsed entries to features, restoring tags from a
// previous feature list by case-insensitive title match, newest first.
func ChangelogFeatures(entries []ChangelogEntry, prior []domain.Feature) []domain.Feature {
	tagsByTitle := make(map[string]domain.FeatureTags, len(prior))
	for _, f := range prior {
		if f.Title != "" && len(f.Tags) > 0 {
			tagsByTitle[strings.ToLower(f.Title)] = f.Tags
		}
	}

	features := make([]domain.Feature, 0, len(entries))
	for _, e := range entries {
		f := domain.Feature{
			Title:       e.Title,
			Description: e.Description,
			Time:        e.Time,
		}
		if tags, ok := tagsByTitle[strings.ToLower(e.Title)]; ok {
			f.Tags = tags
		}
		features = append(features, f)
	}

	sort.SliceStable(features, func(i, j int) bool {
		return features[i].Time > features[j].Time
	})
	return features
}
