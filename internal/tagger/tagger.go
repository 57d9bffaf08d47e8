// Package tagger assigns taxonomy tags to untagged features using an LLM.
//
// The model is only asked for secondary tags; primary tags are derived
// through the taxonomy's subtag-to-primary mapping. Subtags the taxonomy has
// never seen are filed under "Others" and the taxonomy is updated in place.
package tagger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Yrzhe/vibe-coding-product-changelog/internal/domain"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/llm"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/storage"
)

const (
	maxParseRetries = 3
	parseRetryDelay = 2 * time.Second
)

// Completer is the single LLM operation the tagger needs.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Tagger runs tagging passes over the stored product files.
type Tagger struct {
	store *storage.Store
	llm   Completer
	log   *zap.Logger
}

func New(store *storage.Store, completer Completer, log *zap.Logger) *Tagger {
	return &Tagger{store: store, llm: completer, log: log}
}

// Report summarizes one tagging pass.
type Report struct {
	Processed  int
	Tagged     int
	Skipped    int
	Failed     int
	NewSubtags []string
}

// normalizeName folds case, spaces, hyphens and underscores so that
// "Agent Mode", "agent-mode" and "agent_mode" all match.
func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, cut := range []string{" ", "-", "_"} {
		name = strings.ReplaceAll(name, cut, "")
	}
	return name
}

// subtagIndex resolves model-returned subtag names against the taxonomy.
type subtagIndex struct {
	normToOriginal map[string]string
	primaries      map[string]bool
}

func buildIndex(tax *domain.Taxonomy) *subtagIndex {
	idx := &subtagIndex{
		normToOriginal: make(map[string]string, len(tax.SubtagToPrimary)),
		primaries:      make(map[string]bool, len(tax.PrimaryTags)),
	}
	for name := range tax.SubtagToPrimary {
		idx.normToOriginal[normalizeName(name)] = name
	}
	for _, pt := range tax.PrimaryTags {
		idx.primaries[pt.Name] = true
	}
	return idx
}

// canonical maps a name to its taxonomy spelling; unknown names pass through.
func (idx *subtagIndex) canonical(name string) string {
	if orig, ok := idx.normToOriginal[normalizeName(name)]; ok {
		return orig
	}
	return name
}

// MapSubtags groups bare subtag names by their primary tag. Primary-tag names
// the model returned by mistake are dropped. Unknown subtags go under
// "Others" and are added to the taxonomy and mapping; they are also returned
// so the caller knows to persist the taxonomy.
func MapSubtags(subtags []string, tax *domain.Taxonomy, idx *subtagIndex) ([]domain.FeatureTag, []string) {
	grouped := make(map[string][]domain.SubtagRef)
	var order []string
	var newSubtags []string

	add := func(primary string, ref domain.SubtagRef) {
		if _, ok := grouped[primary]; !ok {
			order = append(order, primary)
		}
		grouped[primary] = append(grouped[primary], ref)
	}

	for _, raw := range subtags {
		name := idx.canonical(raw)
		if idx.primaries[name] {
			continue
		}
		if primary, ok := tax.SubtagToPrimary[name]; ok {
			add(primary, domain.SubtagRef{Name: name})
			continue
		}
		add(storage.OthersPrimary, domain.SubtagRef{Name: name})
		newSubtags = append(newSubtags, name)
		registerOther(tax, idx, name)
	}

	tags := make([]domain.FeatureTag, 0, len(order))
	for _, primary := range order {
		tags = append(tags, domain.FeatureTag{Name: primary, Subtags: grouped[primary]})
	}
	return tags, newSubtags
}

// registerOther records a never-seen subtag under the Others primary.
func registerOther(tax *domain.Taxonomy, idx *subtagIndex, name string) {
	if tax.SubtagToPrimary == nil {
		tax.SubtagToPrimary = make(map[string]string)
	}
	tax.SubtagToPrimary[name] = storage.OthersPrimary
	idx.normToOriginal[normalizeName(name)] = name

	for i := range tax.PrimaryTags {
		if tax.PrimaryTags[i].Name == storage.OthersPrimary {
			tax.PrimaryTags[i].Subtags = append(tax.PrimaryTags[i].Subtags,
				domain.Subtag{Name: name, Description: name})
			return
		}
	}
	tax.PrimaryTags = append(tax.PrimaryTags, domain.Tag{
		Name:    storage.OthersPrimary,
		Subtags: []domain.Subtag{{Name: name, Description: name}},
	})
}

// buildPrompt lists the taxonomy's subtags grouped by primary tag and asks
// the model to pick one or two. The Others bucket is hidden so the model
// does not dump everything there.
func buildPrompt(title, description string, tax *domain.Taxonomy) string {
	var groups []string
	var primaries []string
	for _, pt := range tax.PrimaryTags {
		primaries = append(primaries, pt.Name)
		if pt.Name == storage.OthersPrimary {
			continue
		}
		if len(pt.Subtags) == 0 {
			continue
		}
		names := make([]string, len(pt.Subtags))
		for i, st := range pt.Subtags {
			names[i] = st.Name
		}
		groups = append(groups, fmt.Sprintf("[%s]: %s", pt.Name, strings.Join(names, ", ")))
	}
	sort.Strings(primaries)
	visible := primaries[:0]
	for _, p := range primaries {
		if p != storage.OthersPrimary {
			visible = append(visible, p)
		}
	}

	var sb strings.Builder
	sb.WriteString("You are a competitive-analysis expert classifying product changelog entries.\n\n")
	sb.WriteString("## Available secondary tags (grouped by category)\n\n")
	sb.WriteString(strings.Join(groups, "\n"))
	sb.WriteString("\n\n## Entry to classify\n\n")
	sb.WriteString("- Title: " + title + "\n")
	sb.WriteString("- Description: " + description + "\n")
	sb.WriteString(`
## Task

Pick the 1-2 most accurate secondary tags. Tags must be mutually exclusive;
avoid overlapping picks.

## Strict rules

1. Never return a category name. These are categories, not valid answers: `)
	sb.WriteString(strings.Join(visible, ", "))
	sb.WriteString(`
2. Integration tags require an explicit third-party service name (GitHub,
   Supabase, Stripe, ...). A built-in database or storage layer is Backend,
   not Integration. Share buttons are Social Share; third-party sign-in is
   Social Login.
3. Model names map to their vendor subtag: GPT/o-series/Codex -> OpenAI,
   Claude -> Anthropic, Gemini/Veo/Imagen -> Google, Grok -> xAI.
4. Audio Generation means AI-generated audio only; uploading audio files is
   File Upload, and video analysis is Video Understanding.
5. A pure bug fix with no concrete feature returns an empty list.

## Output format

` + "```json" + `
{
    "subtags": ["Tag1", "Tag2"]
}
` + "```" + `

For bug fixes or non-feature content:

` + "```json" + `
{
    "subtags": []
}
` + "```" + `

Output the JSON directly:`)
	return sb.String()
}

// TagFeature classifies one entry. ok=false means the model never produced a
// parseable answer and the entry should be retried on a later run.
func (t *Tagger) TagFeature(ctx context.Context, title, description string, tax *domain.Taxonomy, idx *subtagIndex) (tags []domain.FeatureTag, ok bool, newSubtags []string) {
	prompt := buildPrompt(title, description, tax)

	for attempt := 1; attempt <= maxParseRetries; attempt++ {
		reply, err := t.llm.Complete(ctx, prompt, 1024)
		if err != nil {
			t.log.Warn("tagging call failed", zap.String("title", title), zap.Error(err))
			return nil, false, nil
		}

		var parsed struct {
			Subtags []string `json:"subtags"`
		}
		if err := llm.ExtractJSON(reply, &parsed); err != nil {
			t.log.Warn("tagging reply unparseable",
				zap.String("title", title),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if attempt < maxParseRetries {
				select {
				case <-ctx.Done():
					return nil, false, nil
				case <-time.After(parseRetryDelay):
				}
				continue
			}
			return nil, false, nil
		}

		if len(parsed.Subtags) == 0 {
			return nil, true, nil
		}
		tags, newSubtags = MapSubtags(parsed.Subtags, tax, idx)
		return tags, true, newSubtags
	}
	return nil, false, nil
}

// Run tags every feature that has no tags yet. target narrows the pass to a
// single product key; limit caps entries per product (0 means no cap).
// Product files are saved after every entry so an interrupted run loses
// nothing.
func (t *Tagger) Run(ctx context.Context, target string, limit int) (*Report, error) {
	tax, err := t.store.Taxonomy()
	if err != nil {
		return nil, fmt.Errorf("load taxonomy: %w", err)
	}
	idx := buildIndex(&tax)

	keys, err := t.store.ProductKeys()
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	if target != "" {
		keys = []string{target}
	}

	report := &Report{}
	taxonomyDirty := false

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		product, err := t.store.Product(key)
		if err != nil {
			t.log.Warn("skip unreadable product", zap.String("product", key), zap.Error(err))
			continue
		}

		var pending []int
		for i, f := range product.Features {
			if len(f.Tags) == 0 && !f.TagsNone {
				pending = append(pending, i)
			}
		}
		if limit > 0 && len(pending) > limit {
			pending = pending[:limit]
		}
		if len(pending) == 0 {
			continue
		}
		t.log.Info("tagging product",
			zap.String("product", key),
			zap.Int("pending", len(pending)))

		for _, i := range pending {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			f := &product.Features[i]
			report.Processed++

			tags, ok, newSubtags := t.TagFeature(ctx, f.Title, f.Description, &tax, idx)
			if !ok {
				report.Failed++
				continue
			}

			if len(tags) > 0 {
				f.Tags = tags
				f.TagsNone = false
				report.Tagged++
			} else {
				f.Tags = nil
				f.TagsNone = true
				report.Skipped++
			}

			if len(newSubtags) > 0 {
				report.NewSubtags = append(report.NewSubtags, newSubtags...)
				taxonomyDirty = true
				if err := t.store.SaveTaxonomy(tax); err != nil {
					return report, fmt.Errorf("save taxonomy: %w", err)
				}
			}
			if err := t.store.SaveProduct(key, product); err != nil {
				return report, fmt.Errorf("save %s: %w", key, err)
			}
		}
	}

	if taxonomyDirty {
		if err := t.store.SaveTaxonomy(tax); err != nil {
			return report, fmt.Errorf("save taxonomy: %w", err)
		}
	}
	return report, nil
}
