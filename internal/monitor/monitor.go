// Package monitor runs the incremental update pipeline: crawl each
// competitor's changelog, merge the result with stored data without losing
// curated tags, tag only the genuinely new entries, and record what changed.
package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Yrzhe/vibe-coding-product-changelog/internal/config"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/crawler"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/domain"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/storage"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/tagger"
)

// Per-product run outcomes reported in update logs.
const (
	StatusSuccess       = "success"
	StatusCrawlerFailed = "crawler_failed"
	StatusEmptyResult   = "empty_result"
	StatusFailed        = "failed"
)

const fullSyncInterval = 7 * 24 * time.Hour

// Tagging is the slice of the tagger the monitor drives after a crawl.
type Tagging interface {
	Run(ctx context.Context, target string, limit int) (*tagger.Report, error)
}

// Monitor coordinates crawling, merging and tagging for all competitors.
type Monitor struct {
	store   *storage.Store
	fetcher crawler.Fetcher
	tagger  Tagging
	cfg     *config.Config
	log     *zap.Logger
	now     func() time.Time
}

func New(store *storage.Store, fetcher crawler.Fetcher, tg Tagging, cfg *config.Config, log *zap.Logger) *Monitor {
	return &Monitor{
		store:   store,
		fetcher: fetcher,
		tagger:  tg,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// Options selects what a run covers.
type Options struct {
	// Product limits the run to one competitor key.
	Product string
	// Full marks the run as a full sync.
	Full bool
	// Auto upgrades to a full sync when the last one is a week old.
	Auto bool
}

// Product crawls one competitor and merges the result into storage. The
// stored file is only rewritten on a non-empty crawl, so a failed or empty
// run never loses data.
func (m *Monitor) Product(ctx context.Context, name, url string) domain.UpdateResult {
	old, err := m.store.Product(name)
	if err != nil {
		// First sighting of this product; start from nothing.
		old = domain.Product{Name: name, URL: url}
	}
	oldMap := storage.FeatureMap(old.Features)
	oldCount := len(old.Features)

	m.log.Info("monitoring product",
		zap.String("product", name),
		zap.Int("existing", oldCount),
		zap.String("latest", storage.LatestDate(old.Features)))

	crawlCtx := ctx
	if m.cfg.Crawler.ProductTimeout > 0 {
		var cancel context.CancelFunc
		crawlCtx, cancel = context.WithTimeout(ctx, m.cfg.Crawler.ProductTimeout)
		defer cancel()
	}

	crawled, err := crawler.Crawl(crawlCtx, m.fetcher, name, url)
	if err != nil {
		m.log.Warn("crawl failed, keeping stored data",
			zap.String("product", name), zap.Error(err))
		return domain.UpdateResult{Status: StatusCrawlerFailed, OldCount: oldCount}
	}
	if len(crawled) == 0 {
		m.log.Warn("crawl returned nothing, keeping stored data",
			zap.String("product", name))
		return domain.UpdateResult{Status: StatusEmptyResult, OldCount: oldCount}
	}

	merged, newKeys := storage.MergeFeatures(oldMap, crawled)

	updated := old
	updated.Name = name
	if updated.URL == "" {
		updated.URL = url
	}
	updated.Features = merged
	if err := m.store.SaveProduct(name, updated); err != nil {
		m.log.Error("save failed", zap.String("product", name), zap.Error(err))
		return domain.UpdateResult{Status: StatusFailed, OldCount: oldCount, Error: err.Error()}
	}

	result := domain.UpdateResult{
		Status:     StatusSuccess,
		OldCount:   oldCount,
		TotalCount: len(merged),
		NewCount:   len(newKeys),
	}
	if len(newKeys) == 0 {
		m.log.Info("no new entries", zap.String("product", name))
		return result
	}

	for _, f := range merged {
		if newKeys[storage.FeatureKey(f)] {
			result.NewFeatures = append(result.NewFeatures, domain.NewFeature{
				Title: f.Title,
				Time:  f.Time,
			})
		}
	}
	m.log.Info("new entries found",
		zap.String("product", name),
		zap.Int("count", len(newKeys)))

	m.tagNew(ctx, name)
	return result
}

// tagNew runs one tagging pass over a product's untagged entries. Tagging
// failures are logged, not fatal; the next run retries them.
func (m *Monitor) tagNew(ctx context.Context, name string) {
	if m.tagger == nil {
		return
	}
	tagCtx := ctx
	if m.cfg.Crawler.TagTimeout > 0 {
		var cancel context.CancelFunc
		tagCtx, cancel = context.WithTimeout(ctx, m.cfg.Crawler.TagTimeout)
		defer cancel()
	}
	report, err := m.tagger.Run(tagCtx, name, 0)
	if err != nil {
		m.log.Warn("tagging failed", zap.String("product", name), zap.Error(err))
		return
	}
	m.log.Info("tagging done",
		zap.String("product", name),
		zap.Int("tagged", report.Tagged),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))
}

// Run monitors the configured competitors per opts and returns the update
// log. The log is written to disk only when something new was found. A
// cancelled context stops between products and returns what was done.
func (m *Monitor) Run(ctx context.Context, opts Options) (domain.UpdateLog, error) {
	now := m.now()

	full := opts.Full
	if opts.Auto && m.FullSyncNeeded() {
		m.log.Info("full sync due")
		full = true
	}

	mode := "incremental"
	if full {
		mode = "full"
	}
	updateLog := domain.UpdateLog{
		Timestamp: now.Format(time.RFC3339),
		Mode:      mode,
		Updates:   make(map[string]domain.UpdateResult),
	}

	competitors, err := m.store.Competitors()
	if err != nil {
		return updateLog, fmt.Errorf("load competitors: %w", err)
	}
	if opts.Product != "" {
		filtered := competitors[:0]
		for _, c := range competitors {
			if c.Name == opts.Product {
				filtered = append(filtered, c)
			}
		}
		if len(filtered) == 0 {
			return updateLog, fmt.Errorf("unknown product %q", opts.Product)
		}
		competitors = filtered
	}

	status, err := m.store.SyncStatus()
	if err != nil {
		return updateLog, fmt.Errorf("load sync status: %w", err)
	}
	if status.Products == nil {
		status.Products = make(map[string]domain.ProductSync)
	}
	if full {
		status.LastFullSync = now.Format(time.RFC3339)
	}

	totalNew := 0
	for _, c := range competitors {
		if c.Name == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			break
		}
		result := m.Product(ctx, c.Name, c.URL)
		updateLog.Updates[c.Name] = result
		totalNew += result.NewCount

		p, err := m.store.Product(c.Name)
		latest := ""
		if err == nil {
			latest = storage.LatestDate(p.Features)
		}
		status.Products[c.Name] = domain.ProductSync{
			LastSync:   m.now().Format(time.RFC3339),
			LatestDate: latest,
		}
	}

	if err := m.store.SaveSyncStatus(status); err != nil {
		return updateLog, fmt.Errorf("save sync status: %w", err)
	}
	if totalNew > 0 {
		name, err := m.store.WriteUpdateLog(updateLog, now)
		if err != nil {
			return updateLog, fmt.Errorf("write update log: %w", err)
		}
		m.log.Info("update log written",
			zap.String("file", name),
			zap.Int("new", totalNew))
	}
	return updateLog, ctx.Err()
}

// FullSyncNeeded reports whether a week has passed since the last full sync.
// A missing or unparseable marker counts as due.
func (m *Monitor) FullSyncNeeded() bool {
	status, err := m.store.SyncStatus()
	if err != nil || status.LastFullSync == "" {
		return true
	}
	last, err := time.Parse(time.RFC3339, status.LastFullSync)
	if err != nil {
		return true
	}
	return m.now().Sub(last) >= fullSyncInterval
}
