// Package summary generates the AI competitive-analysis report: one overall
// matrix overview plus a short analysis per primary tag, saved to
// info/summary.json.
package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Yrzhe/vibe-coding-product-changelog/internal/domain"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/matrix"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/storage"
)

// Completer is the single LLM operation the generator needs.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Generator builds the comparison report from stored product data.
type Generator struct {
	store *storage.Store
	llm   Completer
	log   *zap.Logger
}

func New(store *storage.Store, completer Completer, log *zap.Logger) *Generator {
	return &Generator{store: store, llm: completer, log: log}
}

// tagDetail is one product's standing in one primary tag, sized against the
// taxonomy's subtag total for that tag.
type tagDetail struct {
	Covered  int      `json:"covered"`
	Total    int      `json:"total"`
	Features int      `json:"features"`
	Subtags  []string `json:"subtags"`
}

type productStats struct {
	Name         string               `json:"name"`
	FeatureCount int                  `json:"feature_count"`
	TagCount     int                  `json:"tag_count"`
	TagDetails   map[string]tagDetail `json:"tag_details"`
}

type focusEntry struct {
	Tag     string   `json:"tag"`
	Count   int      `json:"count"`
	Subtags []string `json:"subtags"`
}

type competitorFocus struct {
	FeatureCount int          `json:"feature_count"`
	TopFocus     []focusEntry `json:"top_focus"`
	TotalTags    int          `json:"total_tags"`
}

type missingEntry struct {
	Type            string   `json:"type"`
	CompetitorsWith []string `json:"competitors_with"`
	SubtagsMissing  []string `json:"subtags_missing"`
}

// Run generates and persists the full report. Per-tag failures are logged
// and the tag is left out; a failed matrix overview fails the run.
func (g *Generator) Run(ctx context.Context) (domain.Summary, error) {
	adminCfg, err := g.store.AdminConfig()
	if err != nil {
		return domain.Summary{}, fmt.Errorf("load admin config: %w", err)
	}
	tax, err := g.store.Taxonomy()
	if err != nil {
		return domain.Summary{}, fmt.Errorf("load taxonomy: %w", err)
	}
	products, err := g.store.Products()
	if err != nil {
		return domain.Summary{}, fmt.Errorf("load products: %w", err)
	}

	tags := matrix.FilterTaxonomy(tax.PrimaryTags, adminCfg.ExcludeTags)
	coverage := matrix.Coverage(products, adminCfg.ExcludeTags)

	g.log.Info("generating summary",
		zap.Int("products", len(products)),
		zap.Int("tags", len(tags)))

	overview, err := g.matrixOverview(ctx, products, coverage, tags)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("matrix overview: %w", err)
	}

	tagSummaries := make(map[string]string, len(tags))
	for _, tag := range tags {
		if tag.Name == "" {
			continue
		}
		text, err := g.tagSummary(ctx, tag, products, coverage)
		if err != nil {
			if ctx.Err() != nil {
				return domain.Summary{}, ctx.Err()
			}
			g.log.Warn("tag summary failed", zap.String("tag", tag.Name), zap.Error(err))
			continue
		}
		if text != "" {
			tagSummaries[tag.Name] = text
		}
	}

	result := domain.Summary{
		LastUpdated:    time.Now().Format(time.RFC3339),
		MatrixOverview: overview,
		TagSummaries:   tagSummaries,
	}
	if err := g.store.SaveSummary(result); err != nil {
		return domain.Summary{}, fmt.Errorf("save summary: %w", err)
	}
	return result, nil
}

// stats sizes each product's tag coverage against the taxonomy.
func stats(products []domain.Product, coverage map[string]map[string]matrix.TagCoverage, tags []domain.Tag) (self *productStats, competitors []productStats) {
	subtagTotals := make(map[string]int, len(tags))
	for _, tag := range tags {
		total := len(tag.Subtags)
		if total == 0 {
			total = 1
		}
		subtagTotals[tag.Name] = total
	}

	for _, p := range products {
		perTag := coverage[p.Name]
		details := make(map[string]tagDetail, len(perTag))
		for tagName, cov := range perTag {
			total, ok := subtagTotals[tagName]
			if !ok {
				total = 1
			}
			details[tagName] = tagDetail{
				Covered:  len(cov.Subtags),
				Total:    total,
				Features: cov.Count,
				Subtags:  cov.Subtags,
			}
		}
		ps := productStats{
			Name:         p.Name,
			FeatureCount: len(p.Features),
			TagCount:     len(perTag),
			TagDetails:   details,
		}
		if p.IsSelf {
			selfCopy := ps
			self = &selfCopy
		} else {
			competitors = append(competitors, ps)
		}
	}
	sort.Slice(competitors, func(i, j int) bool { return competitors[i].Name < competitors[j].Name })
	return self, competitors
}

// focus ranks each competitor's top three tags by feature count.
func focus(competitors []productStats) map[string]competitorFocus {
	out := make(map[string]competitorFocus, len(competitors))
	for _, comp := range competitors {
		if len(comp.TagDetails) == 0 {
			continue
		}
		entries := make([]focusEntry, 0, len(comp.TagDetails))
		for tagName, detail := range comp.TagDetails {
			entries = append(entries, focusEntry{Tag: tagName, Count: detail.Features, Subtags: detail.Subtags})
		}
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].Count != entries[j].Count {
				return entries[i].Count > entries[j].Count
			}
			return entries[i].Tag < entries[j].Tag
		})
		top := entries
		if len(top) > 3 {
			top = top[:3]
		}
		out[comp.Name] = competitorFocus{
			FeatureCount: comp.FeatureCount,
			TopFocus:     top,
			TotalTags:    len(comp.TagDetails),
		}
	}
	return out
}

// missing lists the tags and subtags competitors cover but we do not.
func missing(self *productStats, competitors []productStats) map[string]missingEntry {
	out := make(map[string]missingEntry)
	for _, comp := range competitors {
		for tagName, detail := range comp.TagDetails {
			selfDetail, has := self.TagDetails[tagName]
			if !has {
				entry := out[tagName]
				if entry.Type == "" {
					entry.Type = "fully missing"
					entry.SubtagsMissing = append([]string(nil), detail.Subtags...)
				}
				entry.CompetitorsWith = append(entry.CompetitorsWith, comp.Name)
				out[tagName] = entry
				continue
			}

			selfSubs := make(map[string]bool, len(selfDetail.Subtags))
			for _, s := range selfDetail.Subtags {
				selfSubs[s] = true
			}
			var missingSubs []string
			for _, s := range detail.Subtags {
				if !selfSubs[s] {
					missingSubs = append(missingSubs, s)
				}
			}
			if len(missingSubs) == 0 {
				continue
			}
			entry := out[tagName]
			if entry.Type == "" {
				entry.Type = "partially missing"
			}
			entry.CompetitorsWith = append(entry.CompetitorsWith, comp.Name)
			entry.SubtagsMissing = append(entry.SubtagsMissing, missingSubs...)
			out[tagName] = entry
		}
	}
	for tagName, entry := range out {
		entry.SubtagsMissing = dedupe(entry.SubtagsMissing)
		out[tagName] = entry
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func (g *Generator) matrixOverview(ctx context.Context, products []domain.Product, coverage map[string]map[string]matrix.TagCoverage, tags []domain.Tag) (string, error) {
	self, competitors := stats(products, coverage, tags)
	if self == nil {
		return "", fmt.Errorf("no self product in data")
	}

	selfJSON, _ := json.Marshal(self.TagDetails)
	focusJSON, _ := json.MarshalIndent(focus(competitors), "", "  ")
	missingJSON, _ := json.MarshalIndent(missing(self, competitors), "", "  ")
	competitorsJSON, _ := json.MarshalIndent(competitors, "", "  ")

	prompt := fmt.Sprintf(`You are a senior product strategy analyst writing an in-depth
competitive analysis report on %s, our product.

Requirements:
- This report goes to leadership and needs business insight, not a data dump.
- Emphasize where we are behind; make the gaps concrete.
- Do not give recommendations or next steps. Analyze the current state only.
- Infer each competitor's product focus and strategy from their feature
  distribution instead of just listing counts.
- Write natural prose paragraphs, no Markdown.

## Our data:
- Total feature updates: %d
- Feature areas covered: %d
- Per-area details: %s

## Competitor focus analysis:
%s

## Our feature gaps:
%s

## Full competitor data:
%s

---

Structure the report (800-1200 words):

Part 1: our feature gaps. How far behind the richest competitor are we, and
in which areas? Which gaps are critical (most competitors have it, we do
not)? Use concrete numbers, but interpret them.

Part 2: competitor strategy insight. For two or three main competitors,
what direction are they betting on, and what does that imply for the market?

Part 3: our relative strengths, if any, and whether they carry strategic
value.

Output the analysis directly:`,
		self.Name, self.FeatureCount, self.TagCount, selfJSON,
		focusJSON, missingJSON, competitorsJSON)

	reply, err := g.llm.Complete(ctx, prompt, 3000)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

func (g *Generator) tagSummary(ctx context.Context, tag domain.Tag, products []domain.Product, coverage map[string]map[string]matrix.TagCoverage) (string, error) {
	allSubtags := make([]string, len(tag.Subtags))
	for i, st := range tag.Subtags {
		allSubtags[i] = st.Name
	}
	totalSubtags := len(allSubtags)
	if totalSubtags == 0 {
		totalSubtags = 1
	}

	type tagStanding struct {
		IsSelf         bool     `json:"is_self"`
		FeatureCount   int      `json:"feature_count"`
		SubtagsCovered int      `json:"subtags_covered"`
		SubtagsTotal   int      `json:"subtags_total"`
		Subtags        []string `json:"subtags"`
	}

	standings := make(map[string]tagStanding)
	var selfSubtags []string
	selfCount := 0
	selfHasTag := false
	leaderName := ""
	leaderCount := 0

	for _, p := range products {
		cov, ok := coverage[p.Name][tag.Name]
		if !ok {
			continue
		}
		standings[p.Name] = tagStanding{
			IsSelf:         p.IsSelf,
			FeatureCount:   cov.Count,
			SubtagsCovered: len(cov.Subtags),
			SubtagsTotal:   totalSubtags,
			Subtags:        cov.Subtags,
		}
		if p.IsSelf {
			selfSubtags = cov.Subtags
			selfCount = cov.Count
			selfHasTag = true
		} else if cov.Count > leaderCount {
			leaderCount = cov.Count
			leaderName = p.Name
		}
	}
	if len(standings) == 0 {
		return "", nil
	}

	selfSet := make(map[string]bool, len(selfSubtags))
	for _, s := range selfSubtags {
		selfSet[s] = true
	}
	var missingSubs []string
	for name, st := range standings {
		if name == "" || st.IsSelf {
			continue
		}
		for _, s := range st.Subtags {
			if !selfSet[s] {
				missingSubs = append(missingSubs, s)
			}
		}
	}
	missingSubs = dedupe(missingSubs)

	gap := ""
	if leaderName != "" && leaderCount > 0 {
		if !selfHasTag {
			gap = "fully missing"
		} else {
			switch ratio := float64(selfCount) / float64(leaderCount); {
			case ratio < 0.3:
				gap = "severely behind"
			case ratio < 0.6:
				gap = "clearly behind"
			case ratio < 0.9:
				gap = "slightly behind"
			default:
				gap = "on par or ahead"
			}
		}
	}

	standingsJSON, _ := json.MarshalIndent(standings, "", "  ")

	var sb strings.Builder
	fmt.Fprintf(&sb, "Analyze how our product compares to competitors in the %q feature area.\n\n", tag.Name)
	sb.WriteString("Requirements: analyze the current state only, no recommendations. Plain prose, no Markdown.\n\n")
	fmt.Fprintf(&sb, "## Overview:\n- Our feature count: %d\n", selfCount)
	fmt.Fprintf(&sb, "- Our subtag coverage: %d/%d\n", len(selfSubtags), totalSubtags)
	fmt.Fprintf(&sb, "- Leading competitor: %s (%d features)\n", leaderName, leaderCount)
	fmt.Fprintf(&sb, "- Gap: %s\n\n", gap)
	fmt.Fprintf(&sb, "## Per-product details:\n%s\n\n", standingsJSON)
	fmt.Fprintf(&sb, "## All subtags in this area:\n%s\n\n", strings.Join(allSubtags, ", "))
	fmt.Fprintf(&sb, "## Subtags we are missing:\n%s\n\n", strings.Join(missingSubs, ", "))
	sb.WriteString(`Output a 3-5 sentence analysis covering:
1. Our position in this area (leading / on par / behind / missing).
2. Where precisely the gap to the leader shows.
3. What the missing pieces mean for competitiveness.`)
	if !selfHasTag {
		sb.WriteString("\nNote: we have nothing in this area; analyze what that implies.")
	}

	reply, err := g.llm.Complete(ctx, sb.String(), 600)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}
