// Package matrix is the tag-matrix model: pure functions that flatten the
// two-level taxonomy into rows and answer membership and lookup questions
// against product feature data.
//
// Every function is total over malformed input. Missing or invalid
// collections are treated as empty, never as errors; the admin views depend
// on rendering partial data without crashing.
package matrix

import (
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/Yrzhe/vibe-coding-product-changelog/internal/domain"
)

// OtherSubtag is the synthetic subtag name representing a primary tag with
// no subtag breakdown. It is only ever synthesized in flattened views, with
// one exception: the curation flows may file literal subtags under the
// "Others" primary, which is unrelated to this marker.
const OtherSubtag = "Other"

// FlattenTags emits one row per (primary, subtag) pair in input order. A tag
// with no subtags yields a single row with SecondaryTag "Other" carrying the
// parent's description. No de-duplication happens here; the taxonomy is
// trusted to be well formed.
func FlattenTags(tags []domain.Tag) []domain.TagRow {
	rows := make([]domain.TagRow, 0, len(tags))
	for _, tag := range tags {
		if len(tag.Subtags) == 0 {
			rows = append(rows, domain.TagRow{
				PrimaryTag:           tag.Name,
				SecondaryTag:         OtherSubtag,
				PrimaryDescription:   tag.Description,
				SecondaryDescription: tag.Description,
			})
			continue
		}
		for _, sub := range tag.Subtags {
			rows = append(rows, domain.TagRow{
				PrimaryTag:           tag.Name,
				SecondaryTag:         sub.Name,
				PrimaryDescription:   tag.Description,
				SecondaryDescription: sub.Description,
			})
		}
	}
	return rows
}

// featureMatches reports whether a single feature carries the given
// (primary, secondary) pair. SecondaryTag "Other" matches a tag assignment
// with an empty subtag list.
func featureMatches(f domain.Feature, primaryTag, secondaryTag string) bool {
	for _, ft := range f.Tags {
		if ft.Name != primaryTag {
			continue
		}
		if secondaryTag == OtherSubtag {
			if len(ft.Subtags) == 0 {
				return true
			}
			continue
		}
		for _, sub := range ft.Subtags {
			if sub.Name == secondaryTag {
				return true
			}
		}
	}
	return false
}

// ProductHasTag reports whether any feature of the product carries the
// (primary, secondary) pair.
func ProductHasTag(p domain.Product, primaryTag, secondaryTag string) bool {
	for _, f := range p.Features {
		if featureMatches(f, primaryTag, secondaryTag) {
			return true
		}
	}
	return false
}

// ProductTagFeatures returns the features of the product carrying the
// (primary, secondary) pair, in document order. The returned features are
// the caller's to read, not copies.
func ProductTagFeatures(p domain.Product, primaryTag, secondaryTag string) []domain.Feature {
	var out []domain.Feature
	for _, f := range p.Features {
		if featureMatches(f, primaryTag, secondaryTag) {
			out = append(out, f)
		}
	}
	return out
}

// ProductFeature pairs a matched feature with the product it came from.
type ProductFeature struct {
	Product string         `json:"product"`
	Feature domain.Feature `json:"feature"`
}

// TagFeatures searches all products for the (primary, secondary) pair and
// returns the matches sorted by parsed date, newest first. Ties and
// unparsable dates keep their iteration order; unparsable dates parse to the
// epoch and therefore sink to the end.
func TagFeatures(products []domain.Product, primaryTag, secondaryTag string) []ProductFeature {
	var out []ProductFeature
	for _, p := range products {
		for _, f := range ProductTagFeatures(p, primaryTag, secondaryTag) {
			out = append(out, ProductFeature{Product: p.Name, Feature: f})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return ParseDate(out[i].Feature.Time).After(ParseDate(out[j].Feature.Time))
	})
	return out
}

var (
	isoDatePattern   = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})`)
	slashDatePattern = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
)

// ParseDate parses a feature's free-text time field. A strict YYYY-MM-DD
// prefix wins, then M/D/YYYY; anything else yields the Unix epoch as an
// "unknown, oldest" sentinel. The epoch fallback is deliberate and lossy:
// it silently pushes unparsable dates to the end of a descending sort
// instead of erroring, and downstream views rely on that.
func ParseDate(s string) time.Time {
	if m := isoDatePattern.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	}
	if m := slashDatePattern.FindStringSubmatch(s); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	}
	return time.Unix(0, 0).UTC()
}

// PrimaryTags returns the primary tag names in input order.
func PrimaryTags(tags []domain.Tag) []string {
	names := make([]string, 0, len(tags))
	for _, tag := range tags {
		names = append(names, tag.Name)
	}
	return names
}

// Subtags returns the subtag names of the named primary tag, ["Other"] when
// the tag exists without subtags, and an empty slice when it is absent.
func Subtags(tags []domain.Tag, primaryTag string) []string {
	for _, tag := range tags {
		if tag.Name != primaryTag {
			continue
		}
		if len(tag.Subtags) == 0 {
			return []string{OtherSubtag}
		}
		names := make([]string, 0, len(tag.Subtags))
		for _, sub := range tag.Subtags {
			names = append(names, sub.Name)
		}
		return names
	}
	return []string{}
}
