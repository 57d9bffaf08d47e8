package crawler

import (
	"context"
	"fmt"

	"github.com/Yrzhe/vibe-coding-product-changelog/internal/domain"
)

// Crawl fetches a product's changelog page and extracts its feature entries.
func Crawl(ctx context.Context, f Fetcher, product, pageURL string) ([]domain.Feature, error) {
	rule := RuleFor(product)
	pageHTML, err := f.Fetch(ctx, pageURL, rule.WaitFor)
	if err != nil {
		return nil, fmt.Errorf("crawl %s: %w", product, err)
	}
	features, err := Extract(pageHTML, rule)
	if err != nil {
		return nil, fmt.Errorf("crawl %s: %w", product, err)
	}
	return features, nil
}
