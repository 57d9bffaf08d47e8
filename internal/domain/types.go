// Package domain defines the shared data model: the two-level tag taxonomy,
// changelog features with their tag assignments, and the product storage
// document shape shared with the crawler and the admin API.
package domain

import (
	"bytes"
	"encoding/json"
)

// Subtag is a child category under a primary tag.
type Subtag struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Tag is a top-level taxonomy category. A tag with no subtags is a leaf;
// flattened views represent it with the synthetic subtag "Other".
type Tag struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Subtags     []Subtag `json:"subtags"`
}

// TagRow is one flattened (primary, secondary) pair of the matrix.
type TagRow struct {
	PrimaryTag           string `json:"primary_tag"`
	SecondaryTag         string `json:"secondary_tag"`
	PrimaryDescription   string `json:"primary_description,omitempty"`
	SecondaryDescription string `json:"secondary_description,omitempty"`
}

// SubtagRef is a subtag reference carried by a feature's tag assignment.
// Unlike the taxonomy's Subtag it has no description.
type SubtagRef struct {
	Name string `json:"name"`
}

// FeatureTag is a tag assignment on a feature. Names are free text and are
// not guaranteed to exist in the taxonomy.
type FeatureTag struct {
	Name    string      `json:"name"`
	Subtags []SubtagRef `json:"subtags"`
}

// FeatureTags decodes the tags field of a feature defensively. Raw data
// contains the literal string "None" (the tagger's marker for non-feature
// items), null, or the occasional non-array garbage; all of those decode to
// an empty list rather than an error so that a single bad record never
// breaks a whole product document.
type FeatureTags []FeatureTag

func (ft *FeatureTags) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		*ft = nil
		return nil
	}
	var tags []FeatureTag
	if err := json.Unmarshal(data, &tags); err != nil {
		*ft = nil
		return nil
	}
	*ft = tags
	return nil
}

// Feature is a single changelog entry.
type Feature struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Time        string      `json:"time"`
	Version     string      `json:"version,omitempty"`
	Category    string      `json:"category,omitempty"`
	Tags        FeatureTags `json:"tags"`
	// TagsNone preserves the tagger's "None" marker on round-trips.
	TagsNone bool `json:"-"`
}

func (f *Feature) UnmarshalJSON(data []byte) error {
	type alias Feature
	var a struct {
		alias
		RawTags json.RawMessage `json:"tags"`
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*f = Feature(a.alias)
	raw := bytes.TrimSpace(a.RawTags)
	f.TagsNone = bytes.Equal(raw, []byte(`"None"`))
	var tags FeatureTags
	_ = tags.UnmarshalJSON(raw)
	f.Tags = tags
	return nil
}

func (f Feature) MarshalJSON() ([]byte, error) {
	type alias Feature
	a := struct {
		alias
		RawTags interface{} `json:"tags"`
	}{alias: alias(f)}
	if f.TagsNone {
		a.RawTags = "None"
	} else if f.Tags == nil {
		a.RawTags = []FeatureTag{}
	} else {
		a.RawTags = f.Tags
	}
	return json.Marshal(a)
}

// Taxonomy is info/tag.json. Two on-disk shapes exist: the legacy bare
// `Tag[]` array, and the current object carrying the subtag-to-primary
// mapping the tagger resolves against. Both decode; the object shape is
// written back.
type Taxonomy struct {
	PrimaryTags     []Tag
	SubtagToPrimary map[string]string
}

func (t *Taxonomy) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, &t.PrimaryTags)
	}
	var obj struct {
		PrimaryTags     []Tag             `json:"primary_tags"`
		SubtagToPrimary map[string]string `json:"subtag_to_primary"`
	}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return err
	}
	t.PrimaryTags = obj.PrimaryTags
	t.SubtagToPrimary = obj.SubtagToPrimary
	return nil
}

func (t Taxonomy) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		PrimaryTags     []Tag             `json:"primary_tags"`
		SubtagToPrimary map[string]string `json:"subtag_to_primary"`
	}{t.PrimaryTags, t.SubtagToPrimary})
}

// AppInfo is the first record of a product storage document.
type AppInfo struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	IsSelf bool   `json:"is_self,omitempty"`
}

// Product is one configured product source with its normalized feature list.
// Name is the unique key used in routing and lookups.
type Product struct {
	Name     string    `json:"name"`
	URL      string    `json:"url"`
	IsSelf   bool      `json:"is_self,omitempty"`
	Features []Feature `json:"features"`
}

// Competitor is one entry of info/competitor.json, the configured source list.
type Competitor struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// AdminConfig is info/admin_config.json. The password never leaves the
// server; only exclude_tags is exposed on the read contract.
type AdminConfig struct {
	Password      string   `json:"password,omitempty"`
	SessionSecret string   `json:"session_secret,omitempty"`
	ExcludeTags   []string `json:"exclude_tags,omitempty"`
}

// Summary is info/summary.json, the AI-generated comparison report.
type Summary struct {
	LastUpdated    string            `json:"last_updated"`
	MatrixOverview string            `json:"matrix_overview"`
	TagSummaries   map[string]string `json:"tag_summaries"`
}

// UpdateResult is the per-product outcome of one monitor run.
type UpdateResult struct {
	Status      string       `json:"status"`
	OldCount    int          `json:"old_count,omitempty"`
	TotalCount  int          `json:"total_count,omitempty"`
	NewCount    int          `json:"new_count"`
	NewFeatures []NewFeature `json:"new_features,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// NewFeature is the short form of a newly discovered entry in an update log.
type NewFeature struct {
	Title string `json:"title"`
	Time  string `json:"time"`
}

// UpdateLog is one logs/update_*.json document.
type UpdateLog struct {
	Timestamp string                  `json:"timestamp"`
	Mode      string                  `json:"mode,omitempty"`
	Updates   map[string]UpdateResult `json:"updates"`
}

// LogIndex is logs/index.json on the read contract.
type LogIndex struct {
	Files []string `json:"files"`
}

// RunStatus is info/run_status.json plus the live running flags that
// /api/status reports.
type RunStatus struct {
	CrawlLastRun   string `json:"crawl_last_run,omitempty"`
	SummaryLastRun string `json:"summary_last_run,omitempty"`
	CrawlRunning   bool   `json:"crawl_running"`
	SummaryRunning bool   `json:"summary_running"`
}

// ProductSync records the last monitor pass for one product.
type ProductSync struct {
	LastSync   string `json:"last_sync"`
	LatestDate string `json:"latest_date,omitempty"`
}

// SyncStatus is info/sync_status.json. LastFullSync drives the weekly
// full-crawl schedule in auto mode.
//
// The file is a flat object keyed by product name with one reserved
// "__last_full_sync__" entry, so it round-trips through custom JSON methods.
type SyncStatus struct {
	Products     map[string]ProductSync
	LastFullSync string
}

const lastFullSyncKey = "__last_full_sync__"

func (s *SyncStatus) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Products = make(map[string]ProductSync, len(raw))
	for name, msg := range raw {
		if name == lastFullSyncKey {
			_ = json.Unmarshal(msg, &s.LastFullSync)
			continue
		}
		var ps ProductSync
		if err := json.Unmarshal(msg, &ps); err != nil {
			continue
		}
		s.Products[name] = ps
	}
	return nil
}

func (s SyncStatus) MarshalJSON() ([]byte, error) {
	raw := make(map[string]interface{}, len(s.Products)+1)
	for name, ps := range s.Products {
		raw[name] = ps
	}
	if s.LastFullSync != "" {
		raw[lastFullSyncKey] = s.LastFullSync
	}
	return json.Marshal(raw)
}
