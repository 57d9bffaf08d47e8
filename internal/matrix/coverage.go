package matrix

import (
	"sort"

	"github.com/Yrzhe/vibe-coding-product-changelog/internal/domain"
)

// TagCoverage is what one product has under one primary tag: how many
// features mention it and which subtags appear.
type TagCoverage struct {
	Count   int      `json:"count"`
	Subtags []string `json:"subtags"`
}

// Coverage maps product name -> primary tag -> coverage. Excluded tag and
// subtag names are skipped entirely, matching what the summary job and the
// read-only views show.
func Coverage(products []domain.Product, excludeTags []string) map[string]map[string]TagCoverage {
	excluded := make(map[string]bool, len(excludeTags))
	for _, name := range excludeTags {
		excluded[name] = true
	}

	out := make(map[string]map[string]TagCoverage, len(products))
	for _, p := range products {
		perTag := make(map[string]map[string]bool)
		counts := make(map[string]int)

		for _, f := range p.Features {
			for _, ft := range f.Tags {
				if ft.Name == "" || excluded[ft.Name] {
					continue
				}
				counts[ft.Name]++
				if perTag[ft.Name] == nil {
					perTag[ft.Name] = make(map[string]bool)
				}
				for _, sub := range ft.Subtags {
					if sub.Name != "" && !excluded[sub.Name] {
						perTag[ft.Name][sub.Name] = true
					}
				}
			}
		}

		coverage := make(map[string]TagCoverage, len(counts))
		for tagName, subs := range perTag {
			names := make([]string, 0, len(subs))
			for name := range subs {
				names = append(names, name)
			}
			sort.Strings(names)
			coverage[tagName] = TagCoverage{Count: counts[tagName], Subtags: names}
		}
		out[p.Name] = coverage
	}
	return out
}

// FilterTaxonomy drops excluded primary tags and excluded subtags from a
// taxonomy without touching the input.
func FilterTaxonomy(tags []domain.Tag, excludeTags []string) []domain.Tag {
	excluded := make(map[string]bool, len(excludeTags))
	for _, name := range excludeTags {
		excluded[name] = true
	}

	out := make([]domain.Tag, 0, len(tags))
	for _, tag := range tags {
		if excluded[tag.Name] {
			continue
		}
		filtered := tag
		filtered.Subtags = nil
		for _, sub := range tag.Subtags {
			if !excluded[sub.Name] {
				filtered.Subtags = append(filtered.Subtags, sub)
			}
		}
		out = append(out, filtered)
	}
	return out
}
