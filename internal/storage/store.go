// Package storage is the file-backed store over the data root: the taxonomy
// and config documents under info/, one two-record JSON document per product
// under storage/, and monitor update logs under logs/. All mutation performed
// by the admin API goes through here.
package storage

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Yrzhe/vibe-coding-product-changelog/internal/domain"
)

// FeatureRecordName marks the record of a product document that carries the
// feature list.
const FeatureRecordName = "feature"

// Store reads and writes the data root. A single RW mutex serializes
// writers; the documents are small enough that whole-file rewrites are fine.
type Store struct {
	root string
	mu   sync.RWMutex
	log  *zap.Logger
}

// New creates a Store rooted at dir, creating the layout if needed.
func New(dir string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	for _, sub := range []string{"info", "storage", "logs"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return &Store{root: dir, log: log}, nil
}

// Root returns the data root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) infoPath(name string) string {
	return filepath.Join(s.root, "info", name)
}

func (s *Store) storagePath(product string) string {
	return filepath.Join(s.root, "storage", product+".json")
}

// LogsDir returns the update-log directory.
func (s *Store) LogsDir() string { return filepath.Join(s.root, "logs") }

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Taxonomy loads info/tag.json. A missing file yields an empty taxonomy.
func (s *Store) Taxonomy() (domain.Taxonomy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.taxonomyLocked()
}

func (s *Store) taxonomyLocked() (domain.Taxonomy, error) {
	var tax domain.Taxonomy
	err := readJSON(s.infoPath("tag.json"), &tax)
	if os.IsNotExist(err) {
		return domain.Taxonomy{}, nil
	}
	if err != nil {
		return domain.Taxonomy{}, fmt.Errorf("load taxonomy: %w", err)
	}
	return tax, nil
}

// SaveTaxonomy writes info/tag.json in the object shape.
func (s *Store) SaveTaxonomy(tax domain.Taxonomy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveTaxonomyLocked(tax)
}

func (s *Store) saveTaxonomyLocked(tax domain.Taxonomy) error {
	return writeJSON(s.infoPath("tag.json"), tax)
}

// Competitors loads info/competitor.json, the configured product sources.
func (s *Store) Competitors() ([]domain.Competitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []domain.Competitor
	if err := readJSON(s.infoPath("competitor.json"), &list); err != nil {
		return nil, fmt.Errorf("load competitors: %w", err)
	}
	return list, nil
}

// Product loads one product document. The document is a two-record array:
// an app-info record plus a record named "feature" carrying the feature
// list. Records beyond those two are ignored.
func (s *Store) Product(name string) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.productLocked(name)
}

func (s *Store) productLocked(name string) (domain.Product, error) {
	var records []json.RawMessage
	if err := readJSON(s.storagePath(name), &records); err != nil {
		return domain.Product{}, fmt.Errorf("load product %s: %w", name, err)
	}
	return decodeProduct(name, records)
}

func decodeProduct(name string, records []json.RawMessage) (domain.Product, error) {
	p := domain.Product{Name: name}
	for i, raw := range records {
		var probe struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			continue
		}
		if probe.Name == FeatureRecordName {
			var rec struct {
				Features []domain.Feature `json:"features"`
			}
			if err := json.Unmarshal(raw, &rec); err != nil {
				return domain.Product{}, fmt.Errorf("product %s: feature record: %w", name, err)
			}
			p.Features = rec.Features
			continue
		}
		if i == 0 {
			var info domain.AppInfo
			if err := json.Unmarshal(raw, &info); err == nil {
				if info.Name != "" {
					p.Name = info.Name
				}
				p.URL = info.URL
				p.IsSelf = info.IsSelf
			}
		}
	}
	return p, nil
}

// SaveProduct writes the two-record product document back under the given
// storage key (the file name, which may differ from the display name).
func (s *Store) SaveProduct(key string, p domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveProductLocked(key, p)
}

func (s *Store) saveProductLocked(key string, p domain.Product) error {
	features := p.Features
	if features == nil {
		features = []domain.Feature{}
	}
	doc := []interface{}{
		domain.AppInfo{Name: p.Name, URL: p.URL, IsSelf: p.IsSelf},
		map[string]interface{}{"name": FeatureRecordName, "features": features},
	}
	return writeJSON(s.storagePath(key), doc)
}

// ProductKeys lists the storage keys of every product document, skipping the
// example template.
func (s *Store) ProductKeys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.productKeysLocked()
}

func (s *Store) productKeysLocked() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "storage"))
	if err != nil {
		return nil, fmt.Errorf("list storage: %w", err)
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".json") || name == "example.json" {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(keys)
	return keys, nil
}

// Products loads every product document, skipping ones that fail to parse.
func (s *Store) Products() ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys, err := s.productKeysLocked()
	if err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(keys))
	for _, key := range keys {
		p, err := s.productLocked(key)
		if err != nil {
			s.log.Warn("skipping unreadable product", zap.String("product", key), zap.Error(err))
			continue
		}
		products = append(products, p)
	}
	return products, nil
}

// AdminConfig loads info/admin_config.json, defaulting to the stock admin
// password when the file is missing.
func (s *Store) AdminConfig() (domain.AdminConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var cfg domain.AdminConfig
	err := readJSON(s.infoPath("admin_config.json"), &cfg)
	if os.IsNotExist(err) {
		return domain.AdminConfig{Password: "admin", SessionSecret: "default_secret"}, nil
	}
	if err != nil {
		return domain.AdminConfig{}, fmt.Errorf("load admin config: %w", err)
	}
	return cfg, nil
}

// SaveExcludeTags rewrites the exclude list, preserving the credentials.
func (s *Store) SaveExcludeTags(excludeTags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cfg domain.AdminConfig
	if err := readJSON(s.infoPath("admin_config.json"), &cfg); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load admin config: %w", err)
	}
	if excludeTags == nil {
		excludeTags = []string{}
	}
	cfg.ExcludeTags = excludeTags
	return writeJSON(s.infoPath("admin_config.json"), cfg)
}

// Summary loads info/summary.json. Missing file yields a zero summary.
func (s *Store) Summary() (domain.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum domain.Summary
	err := readJSON(s.infoPath("summary.json"), &sum)
	if os.IsNotExist(err) {
		return domain.Summary{}, nil
	}
	if err != nil {
		return domain.Summary{}, fmt.Errorf("load summary: %w", err)
	}
	return sum, nil
}

// SaveSummary writes info/summary.json.
func (s *Store) SaveSummary(sum domain.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.infoPath("summary.json"), sum)
}

// RunStatus loads info/run_status.json (timestamps only; the live running
// flags belong to the job runner).
func (s *Store) RunStatus() (domain.RunStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var status domain.RunStatus
	err := readJSON(s.infoPath("run_status.json"), &status)
	if err != nil && !os.IsNotExist(err) {
		return domain.RunStatus{}, fmt.Errorf("load run status: %w", err)
	}
	return status, nil
}

// MarkRun records a job start time; empty arguments leave the existing value.
func (s *Store) MarkRun(crawlTime, summaryTime string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var status domain.RunStatus
	if err := readJSON(s.infoPath("run_status.json"), &status); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load run status: %w", err)
	}
	if crawlTime != "" {
		status.CrawlLastRun = crawlTime
	}
	if summaryTime != "" {
		status.SummaryLastRun = summaryTime
	}
	return writeJSON(s.infoPath("run_status.json"), domain.RunStatus{
		CrawlLastRun:   status.CrawlLastRun,
		SummaryLastRun: status.SummaryLastRun,
	})
}

// SyncStatus loads info/sync_status.json.
func (s *Store) SyncStatus() (domain.SyncStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var status domain.SyncStatus
	err := readJSON(s.infoPath("sync_status.json"), &status)
	if err != nil && !os.IsNotExist(err) {
		return domain.SyncStatus{}, fmt.Errorf("load sync status: %w", err)
	}
	if status.Products == nil {
		status.Products = map[string]domain.ProductSync{}
	}
	return status, nil
}

// SaveSyncStatus writes info/sync_status.json.
func (s *Store) SaveSyncStatus(status domain.SyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.infoPath("sync_status.json"), status)
}

// RawChangelog reads the pasted changelog text for a product. Missing file
// reads as empty.
func (s *Store) RawChangelog(product string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := os.ReadFile(filepath.Join(s.root, "storage", product+"_changelog_raw.txt"))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read raw changelog: %w", err)
	}
	return string(data), nil
}

// SaveRawChangelog stores the pasted changelog text for a product.
func (s *Store) SaveRawChangelog(product, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := filepath.Join(s.root, "storage", product+"_changelog_raw.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write raw changelog: %w", err)
	}
	return nil
}

// FeatureKey is the stable identity of a feature within a product document:
// a truncated md5 of the title joined with the raw time string. Used both by
// the incremental merge and by the admin API to address individual entries.
func FeatureKey(f domain.Feature) string {
	sum := md5.Sum([]byte(f.Title))
	return hex.EncodeToString(sum[:])[:16] + "_" + f.Time
}

// FeatureMap indexes features by key.
func FeatureMap(features []domain.Feature) map[string]domain.Feature {
	m := make(map[string]domain.Feature, len(features))
	for _, f := range features {
		m[FeatureKey(f)] = f
	}
	return m
}

// MergeFeatures folds freshly crawled features over a backup map, keeping
// every previously assigned tag set and reporting which keys are genuinely
// new (or still untagged and due for tagging). Duplicate keys in the crawl
// output are dropped.
func MergeFeatures(old map[string]domain.Feature, crawled []domain.Feature) ([]domain.Feature, map[string]bool) {
	merged := make([]domain.Feature, 0, len(crawled))
	newKeys := make(map[string]bool)
	seen := make(map[string]bool, len(crawled))

	for _, f := range crawled {
		key := FeatureKey(f)
		if seen[key] {
			continue
		}
		seen[key] = true

		if prev, ok := old[key]; ok {
			if len(prev.Tags) > 0 || prev.TagsNone {
				f.Tags = prev.Tags
				f.TagsNone = prev.TagsNone
			} else if len(f.Tags) == 0 {
				newKeys[key] = true
			}
		} else {
			newKeys[key] = true
		}
		merged = append(merged, f)
	}
	return merged, newKeys
}

// LatestDate returns the lexically greatest time string of the features, or
// "". Dates are normalized YYYY-MM-DD so string order is date order.
func LatestDate(features []domain.Feature) string {
	latest := ""
	for _, f := range features {
		if f.Time > latest {
			latest = f.Time
		}
	}
	return latest
}
