package crawler

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/Yrzhe/vibe-coding-product-changelog/internal/domain"
)

// Rule describes how to lift feature entries out of a changelog page.
type Rule struct {
	// Item selects one changelog entry (e.g. "main article").
	Item string `yaml:"item" json:"item"`
	// Title selects the entry title within an item.
	Title string `yaml:"title" json:"title"`
	// Date selects the entry date within an item.
	Date string `yaml:"date" json:"date"`
	// Body selects description fragments within an item; defaults to "p, li".
	Body string `yaml:"body" json:"body"`
	// WaitFor is the selector a rendered fetch waits for before reading.
	WaitFor string `yaml:"wait_for" json:"wait_for"`
}

// DefaultRule matches the common changelog layout of one article per entry.
var DefaultRule = Rule{
	Item:    "main article",
	Title:   "h2",
	Date:    "time",
	Body:    "p, li",
	WaitFor: "main",
}

// rules carries per-product overrides for the sites whose markup deviates
// from the default article layout.
var rules = map[string]Rule{
	"v0":      DefaultRule,
	"lovable": {Item: "main section", Title: "h2", Date: "time", Body: "p, li", WaitFor: "main"},
	"replit":  {Item: "main article", Title: "h1, h2", Date: "time", Body: "p, li", WaitFor: "main"},
}

// RuleFor returns the extraction rule for a product.
func RuleFor(product string) Rule {
	if r, ok := rules[product]; ok {
		return r
	}
	return DefaultRule
}

// Extract parses page HTML and lifts one feature per matched item. Items
// without a title are skipped; a failed date parse keeps the raw text.
func Extract(pageHTML string, rule Rule) ([]domain.Feature, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	if rule.Body == "" {
		rule.Body = DefaultRule.Body
	}

	var features []domain.Feature
	doc.Find(rule.Item).Each(func(_ int, item *goquery.Selection) {
		title := strings.TrimSpace(item.Find(rule.Title).First().Text())
		if title == "" {
			return
		}
		date := NormalizeDate(strings.TrimSpace(item.Find(rule.Date).First().Text()))

		var parts []string
		item.Find(rule.Body).Each(func(_ int, frag *goquery.Selection) {
			text := nodeText(frag)
			if text == "" || text == title {
				return
			}
			if goquery.NodeName(frag) == "li" {
				text = "• " + text
			}
			parts = append(parts, text)
		})

		features = append(features, domain.Feature{
			Title:       title,
			Description: strings.Join(parts, "\n"),
			Time:        date,
			Tags:        domain.FeatureTags{},
		})
	})
	return features, nil
}

// nodeText flattens a selection's text, skipping non-content subtrees and
// collapsing whitespace.
func nodeText(sel *goquery.Selection) string {
	skip := map[string]bool{
		"script": true, "style": true, "noscript": true, "iframe": true,
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skip[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

var dateLayouts = []string{"January 2, 2006", "Jan 2, 2006"}

// NormalizeDate converts the date formats the changelog sites use to
// YYYY-MM-DD. Unrecognized strings pass through unchanged; downstream
// sorting treats them as unknown-oldest.
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return s
}
