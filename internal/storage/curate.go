package storage

import (
	"fmt"
	"sort"

	"github.com/Yrzhe/vibe-coding-product-changelog/internal/domain"
)

// OthersPrimary is the curation bucket for subtags the tagger could not map
// to a real primary tag.
const OthersPrimary = "Others"

// CuratedFeature is a feature addressed for curation: its product's storage
// key plus the feature key within that document.
type CuratedFeature struct {
	Product string         `json:"product"`
	Key     string         `json:"key"`
	Feature domain.Feature `json:"feature"`
}

// OthersFeatures lists every feature carrying a tag under the "Others"
// primary, across all products.
func (s *Store) OthersFeatures() ([]CuratedFeature, error) {
	return s.collect(func(f domain.Feature) bool {
		for _, ft := range f.Tags {
			if ft.Name == OthersPrimary {
				return true
			}
		}
		return false
	})
}

// UntaggedFeatures lists every feature with no tags that has not been marked
// as non-feature content.
func (s *Store) UntaggedFeatures() ([]CuratedFeature, error) {
	return s.collect(func(f domain.Feature) bool {
		return len(f.Tags) == 0 && !f.TagsNone
	})
}

func (s *Store) collect(match func(domain.Feature) bool) ([]CuratedFeature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys, err := s.productKeysLocked()
	if err != nil {
		return nil, err
	}
	out := []CuratedFeature{}
	for _, key := range keys {
		p, err := s.productLocked(key)
		if err != nil {
			continue
		}
		for _, f := range p.Features {
			if match(f) {
				out = append(out, CuratedFeature{Product: key, Key: FeatureKey(f), Feature: f})
			}
		}
	}
	return out, nil
}

// UsedSubtags returns the sorted set of subtag names actually carried by any
// feature of any product.
func (s *Store) UsedSubtags() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys, err := s.productKeysLocked()
	if err != nil {
		return nil, err
	}
	used := map[string]bool{}
	for _, key := range keys {
		p, err := s.productLocked(key)
		if err != nil {
			continue
		}
		for _, f := range p.Features {
			for _, ft := range f.Tags {
				for _, sub := range ft.Subtags {
					if sub.Name != "" {
						used[sub.Name] = true
					}
				}
			}
		}
	}
	names := make([]string, 0, len(used))
	for name := range used {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// RenameTag renames a primary tag or a subtag everywhere: in the taxonomy
// and in every feature's tag assignments. It returns the number of feature
// assignments touched (the merge count the admin UI reports).
//
// A bare subtag name is not qualified by its parent, so if two primary tags
// share a subtag name the rename touches both. The source data never
// enforced global subtag uniqueness; this keeps that behavior rather than
// guessing an intent.
func (s *Store) RenameTag(oldName, newName string) (int, error) {
	if oldName == "" || newName == "" || oldName == newName {
		return 0, fmt.Errorf("invalid rename %q -> %q", oldName, newName)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tax, err := s.taxonomyLocked()
	if err != nil {
		return 0, err
	}
	renamePrimary := false
	for _, pt := range tax.PrimaryTags {
		if pt.Name == oldName {
			renamePrimary = true
			break
		}
	}
	if renamePrimary {
		renamePrimaryTag(&tax, oldName, newName)
	} else {
		renameSubtag(&tax, oldName, newName)
	}
	if err := s.saveTaxonomyLocked(tax); err != nil {
		return 0, err
	}

	merged := 0
	keys, err := s.productKeysLocked()
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		p, err := s.productLocked(key)
		if err != nil {
			continue
		}
		changed := false
		for fi := range p.Features {
			for ti := range p.Features[fi].Tags {
				tag := &p.Features[fi].Tags[ti]
				touched := false
				if renamePrimary && tag.Name == oldName {
					tag.Name = newName
					touched = true
				}
				if !renamePrimary {
					for si := range tag.Subtags {
						if tag.Subtags[si].Name == oldName {
							tag.Subtags[si].Name = newName
							touched = true
						}
					}
					if touched {
						// The feature may already carry the target name;
						// the rename merges, it never duplicates.
						seen := map[string]bool{}
						kept := tag.Subtags[:0]
						for _, sub := range tag.Subtags {
							if seen[sub.Name] {
								continue
							}
							seen[sub.Name] = true
							kept = append(kept, sub)
						}
						tag.Subtags = kept
					}
				}
				if touched {
					merged++
					changed = true
				}
			}
		}
		if changed {
			if err := s.saveProductLocked(key, p); err != nil {
				return merged, err
			}
		}
	}
	return merged, nil
}

func renamePrimaryTag(tax *domain.Taxonomy, oldName, newName string) {
	var renamed *domain.Tag
	var existing *domain.Tag
	for i := range tax.PrimaryTags {
		switch tax.PrimaryTags[i].Name {
		case oldName:
			renamed = &tax.PrimaryTags[i]
		case newName:
			existing = &tax.PrimaryTags[i]
		}
	}
	if renamed == nil {
		return
	}
	if existing != nil {
		// Merge the renamed tag's subtags into the survivor, dropping dups.
		have := map[string]bool{}
		for _, sub := range existing.Subtags {
			have[sub.Name] = true
		}
		for _, sub := range renamed.Subtags {
			if !have[sub.Name] {
				existing.Subtags = append(existing.Subtags, sub)
			}
		}
		kept := tax.PrimaryTags[:0]
		for _, pt := range tax.PrimaryTags {
			if pt.Name != oldName {
				kept = append(kept, pt)
			}
		}
		tax.PrimaryTags = kept
	} else {
		renamed.Name = newName
	}
	for sub, primary := range tax.SubtagToPrimary {
		if primary == oldName {
			tax.SubtagToPrimary[sub] = newName
		}
	}
}

func renameSubtag(tax *domain.Taxonomy, oldName, newName string) {
	for i := range tax.PrimaryTags {
		subs := tax.PrimaryTags[i].Subtags
		renamed := false
		for j := range subs {
			if subs[j].Name == oldName {
				subs[j].Name = newName
				renamed = true
			}
		}
		if renamed {
			// Renaming onto a sibling the parent already has merges the two,
			// mirroring the primary-tag path. The first occurrence keeps its
			// description.
			seen := map[string]bool{}
			kept := subs[:0]
			for _, sub := range subs {
				if seen[sub.Name] {
					continue
				}
				seen[sub.Name] = true
				kept = append(kept, sub)
			}
			tax.PrimaryTags[i].Subtags = kept
		}
	}
	if tax.SubtagToPrimary != nil {
		if primary, ok := tax.SubtagToPrimary[oldName]; ok {
			delete(tax.SubtagToPrimary, oldName)
			tax.SubtagToPrimary[newName] = primary
		}
	}
}

// Reclassify moves one feature's assignment into (primaryTag, subtag). It
// replaces any "Others" assignment on the feature; an empty previous tag
// list simply gains the new assignment. When the subtag is not yet in the
// taxonomy it is created under the primary tag and the mapping updated.
func (s *Store) Reclassify(productKey, featureKey, primaryTag, subtag string) error {
	if primaryTag == "" || subtag == "" {
		return fmt.Errorf("reclassify: primary tag and subtag required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tax, err := s.taxonomyLocked()
	if err != nil {
		return err
	}
	if ensureSubtag(&tax, primaryTag, subtag) {
		if err := s.saveTaxonomyLocked(tax); err != nil {
			return err
		}
	}

	p, err := s.productLocked(productKey)
	if err != nil {
		return err
	}
	for i := range p.Features {
		if FeatureKey(p.Features[i]) != featureKey {
			continue
		}
		f := &p.Features[i]
		kept := f.Tags[:0]
		replaced := false
		for _, ft := range f.Tags {
			switch ft.Name {
			case OthersPrimary:
				// dropped; the new assignment replaces the bucket entry
			case primaryTag:
				ft.Subtags = appendSubtagRef(ft.Subtags, subtag)
				kept = append(kept, ft)
				replaced = true
			default:
				kept = append(kept, ft)
			}
		}
		if !replaced {
			kept = append(kept, domain.FeatureTag{
				Name:    primaryTag,
				Subtags: []domain.SubtagRef{{Name: subtag}},
			})
		}
		f.Tags = kept
		f.TagsNone = false
		return s.saveProductLocked(productKey, p)
	}
	return fmt.Errorf("feature %s not found in %s", featureKey, productKey)
}

func ensureSubtag(tax *domain.Taxonomy, primaryTag, subtag string) bool {
	changed := false
	var primary *domain.Tag
	for i := range tax.PrimaryTags {
		if tax.PrimaryTags[i].Name == primaryTag {
			primary = &tax.PrimaryTags[i]
			break
		}
	}
	if primary == nil {
		tax.PrimaryTags = append(tax.PrimaryTags, domain.Tag{Name: primaryTag})
		primary = &tax.PrimaryTags[len(tax.PrimaryTags)-1]
		changed = true
	}
	found := false
	for _, sub := range primary.Subtags {
		if sub.Name == subtag {
			found = true
			break
		}
	}
	if !found {
		primary.Subtags = append(primary.Subtags, domain.Subtag{Name: subtag, Description: subtag})
		changed = true
	}
	if tax.SubtagToPrimary == nil {
		tax.SubtagToPrimary = map[string]string{}
	}
	if tax.SubtagToPrimary[subtag] != primaryTag {
		tax.SubtagToPrimary[subtag] = primaryTag
		changed = true
	}
	return changed
}

func appendSubtagRef(subs []domain.SubtagRef, name string) []domain.SubtagRef {
	for _, sub := range subs {
		if sub.Name == name {
			return subs
		}
	}
	return append(subs, domain.SubtagRef{Name: name})
}

// AddFeature appends a feature to a product document.
func (s *Store) AddFeature(productKey string, f domain.Feature) error {
	if f.Title == "" {
		return fmt.Errorf("add feature: title required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.productLocked(productKey)
	if err != nil {
		return err
	}
	key := FeatureKey(f)
	for _, existing := range p.Features {
		if FeatureKey(existing) == key {
			return fmt.Errorf("add feature: duplicate entry %s", key)
		}
	}
	p.Features = append(p.Features, f)
	return s.saveProductLocked(productKey, p)
}

// EditFeature replaces the feature addressed by key.
func (s *Store) EditFeature(productKey, featureKey string, f domain.Feature) error {
	return s.mutateFeature(productKey, featureKey, func(old *domain.Feature) {
		*old = f
	})
}

// DeleteFeature removes the feature addressed by key.
func (s *Store) DeleteFeature(productKey, featureKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.productLocked(productKey)
	if err != nil {
		return err
	}
	kept := p.Features[:0]
	found := false
	for _, f := range p.Features {
		if FeatureKey(f) == featureKey {
			found = true
			continue
		}
		kept = append(kept, f)
	}
	if !found {
		return fmt.Errorf("feature %s not found in %s", featureKey, productKey)
	}
	p.Features = kept
	return s.saveProductLocked(productKey, p)
}

// UpdateFeatureTags replaces a feature's tag assignments.
func (s *Store) UpdateFeatureTags(productKey, featureKey string, tags []domain.FeatureTag) error {
	return s.mutateFeature(productKey, featureKey, func(f *domain.Feature) {
		f.Tags = tags
		f.TagsNone = false
	})
}

// MarkNone flags a feature as non-feature content, excluding it from the
// untagged queue and from the matrix.
func (s *Store) MarkNone(productKey, featureKey string) error {
	return s.mutateFeature(productKey, featureKey, func(f *domain.Feature) {
		f.Tags = nil
		f.TagsNone = true
	})
}

func (s *Store) mutateFeature(productKey, featureKey string, fn func(*domain.Feature)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.productLocked(productKey)
	if err != nil {
		return err
	}
	for i := range p.Features {
		if FeatureKey(p.Features[i]) == featureKey {
			fn(&p.Features[i])
			return s.saveProductLocked(productKey, p)
		}
	}
	return fmt.Errorf("feature %s not found in %s", featureKey, productKey)
}
