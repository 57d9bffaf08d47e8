package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Yrzhe/vibe-coding-product-changelog/internal/client"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/config"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/crawler"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/index"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/llm"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/loader"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/matrix"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/monitor"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/server"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/storage"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/summary"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/tagger"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "changelog",
		Short: "Competitive changelog monitor and curation service",
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "config file path")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(crawlCmd())
	rootCmd.AddCommand(tagCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(parseCmd())
	rootCmd.AddCommand(matrixCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(runCrawlCmd())
	rootCmd.AddCommand(runSummaryCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles everything a command needs.
type app struct {
	cfg   *config.Config
	store *storage.Store
	log   *zap.Logger
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	store, err := storage.New(cfg.Data.Dir, log)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, store: store, log: log}, nil
}

func (a *app) fetcher() crawler.Fetcher {
	if a.cfg.Crawler.Render {
		f, err := crawler.NewRodFetcher()
		if err == nil {
			return f
		}
		a.log.Warn("headless browser unavailable, using static fetch", zap.Error(err))
	}
	return crawler.NewStaticFetcher()
}

// tagger builds the LLM tagger; a missing API key disables tagging instead
// of failing the whole run.
func (a *app) tagger() *tagger.Tagger {
	completer, err := llm.New(a.cfg, a.log)
	if err != nil {
		a.log.Warn("tagging disabled", zap.Error(err))
		return nil
	}
	return tagger.New(a.store, completer, a.log)
}

func (a *app) monitor() *monitor.Monitor {
	var tg monitor.Tagging
	if t := a.tagger(); t != nil {
		tg = t
	}
	return monitor.New(a.store, a.fetcher(), tg, a.cfg, a.log)
}

// parseAndTag reparses the pasted self-product changelog, then tags it.
func (a *app) parseAndTag(ctx context.Context) error {
	self := a.cfg.Data.SelfProduct
	raw, err := a.store.RawChangelog(self)
	if err != nil {
		return err
	}
	prior, _ := a.store.Product(self)

	entries := crawler.ParseChangelog(raw)
	features := crawler.ChangelogFeatures(entries, prior.Features)

	updated := prior
	updated.Name = self
	updated.IsSelf = true
	updated.Features = features
	if err := a.store.SaveProduct(self, updated); err != nil {
		return err
	}
	a.log.Info("changelog parsed",
		zap.String("product", self),
		zap.Int("features", len(features)))

	if t := a.tagger(); t != nil {
		if _, err := t.Run(ctx, self, 0); err != nil {
			return err
		}
	}
	return nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.log.Sync()

			idx, err := index.New(filepath.Join(a.cfg.Data.Dir, "index.db"))
			if err != nil {
				return err
			}
			defer idx.Close()

			ldr := loader.New(a.store, a.log)
			if _, err := ldr.Load(cmd.Context()); err != nil {
				a.log.Warn("initial load failed", zap.Error(err))
			}

			jobs := server.Jobs{
				Crawl: func(ctx context.Context) error {
					_, err := a.monitor().Run(ctx, monitor.Options{Auto: true})
					if err != nil {
						return err
					}
					_, err = ldr.Reload(ctx)
					return err
				},
				Summary: func(ctx context.Context) error {
					completer, err := llm.New(a.cfg, a.log)
					if err != nil {
						return err
					}
					_, err = summary.New(a.store, completer, a.log).Run(ctx)
					return err
				},
				ParseAndTag: a.parseAndTag,
			}

			return server.New(a.cfg, a.store, ldr, idx, jobs, a.log).Run()
		},
	}
}

func crawlCmd() *cobra.Command {
	var product string
	var full, auto bool

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run the incremental competitor monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.log.Sync()

			result, err := a.monitor().Run(cmd.Context(), monitor.Options{
				Product: product,
				Full:    full,
				Auto:    auto,
			})
			if err != nil {
				return err
			}

			totalNew := 0
			for name, update := range result.Updates {
				fmt.Printf("%-12s %-16s new=%d\n", name, update.Status, update.NewCount)
				totalNew += update.NewCount
			}
			fmt.Printf("done, %d new entries\n", totalNew)
			return nil
		},
	}

	cmd.Flags().StringVar(&product, "product", "", "only monitor this product")
	cmd.Flags().BoolVar(&full, "full", false, "force a full sync")
	cmd.Flags().BoolVar(&auto, "auto", false, "full sync when the last one is a week old")
	return cmd
}

func tagCmd() *cobra.Command {
	var file string
	var limit int

	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Tag untagged entries with the LLM",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.log.Sync()

			completer, err := llm.New(a.cfg, a.log)
			if err != nil {
				return err
			}

			target := strings.TrimSuffix(file, ".json")
			report, err := tagger.New(a.store, completer, a.log).Run(cmd.Context(), target, limit)
			if err != nil {
				return err
			}
			fmt.Printf("processed %d: tagged %d, skipped %d, failed %d\n",
				report.Processed, report.Tagged, report.Skipped, report.Failed)
			if len(report.NewSubtags) > 0 {
				fmt.Printf("new subtags under Others: %s\n", strings.Join(report.NewSubtags, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "only process this product")
	cmd.Flags().IntVar(&limit, "limit", 0, "max entries per product")
	return cmd
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Generate the AI comparison report",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.log.Sync()

			completer, err := llm.New(a.cfg, a.log)
			if err != nil {
				return err
			}
			result, err := summary.New(a.store, completer, a.log).Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("summary written: overview %d chars, %d tag summaries\n",
				len(result.MatrixOverview), len(result.TagSummaries))
			return nil
		},
	}
}

func parseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse",
		Short: "Reparse the pasted self-product changelog and tag it",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.log.Sync()
			return a.parseAndTag(cmd.Context())
		},
	}
}

func matrixCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "matrix",
		Short: "Print the tag/product matrix",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.log.Sync()

			snap, err := loader.New(a.store, a.log).Load(cmd.Context())
			if err != nil {
				return err
			}
			adminCfg, err := a.store.AdminConfig()
			if err != nil {
				return err
			}

			tags := matrix.FilterTaxonomy(snap.Tags, adminCfg.ExcludeTags)
			for _, row := range matrix.FlattenTags(tags) {
				var present []string
				for _, p := range snap.Products {
					if matrix.ProductHasTag(p, row.PrimaryTag, row.SecondaryTag) {
						present = append(present, p.Name)
					}
				}
				fmt.Printf("%-20s %-20s %s\n", row.PrimaryTag, row.SecondaryTag, strings.Join(present, ", "))
			}
			return nil
		},
	}
}

// serverURL resolves the base URL for remote commands: --server wins,
// otherwise the configured listen address on localhost.
func serverURL(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	addr := cfg.Server.Addr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr, nil
}

func remoteTriggerCmd(use, short string, trigger func(context.Context, *client.Client) (string, error)) *cobra.Command {
	var serverAddr string
	var wait bool

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := serverURL(serverAddr)
			if err != nil {
				return err
			}
			c := client.New(base)
			status, err := trigger(cmd.Context(), c)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", use, status)
			if !wait {
				return nil
			}
			if err := c.WaitForIdle(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("done")
			return nil
		},
	}

	cmd.Flags().StringVar(&serverAddr, "server", "", "server base URL (default: configured listen address)")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll the status endpoint until the jobs finish")
	return cmd
}

func runCrawlCmd() *cobra.Command {
	return remoteTriggerCmd("run-crawl", "Trigger a crawl on a running server",
		func(ctx context.Context, c *client.Client) (string, error) { return c.RunCrawl(ctx) })
}

func runSummaryCmd() *cobra.Command {
	return remoteTriggerCmd("run-summary", "Trigger summary generation on a running server",
		func(ctx context.Context, c *client.Client) (string, error) { return c.RunSummary(ctx) })
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.log.Sync()

			tax, err := a.store.Taxonomy()
			if err != nil {
				return fmt.Errorf("taxonomy: %w", err)
			}
			fmt.Printf("taxonomy: %d primary tags, %d mapped subtags\n",
				len(tax.PrimaryTags), len(tax.SubtagToPrimary))

			keys, err := a.store.ProductKeys()
			if err != nil {
				return err
			}
			broken := 0
			for _, key := range keys {
				p, err := a.store.Product(key)
				if err != nil {
					fmt.Printf("%-12s BROKEN: %v\n", key, err)
					broken++
					continue
				}
				untagged := 0
				for _, f := range p.Features {
					if len(f.Tags) == 0 && !f.TagsNone {
						untagged++
					}
				}
				fmt.Printf("%-12s %4d features, %d untagged, latest %s\n",
					key, len(p.Features), untagged, storage.LatestDate(p.Features))
			}
			if broken > 0 {
				return fmt.Errorf("%d broken product files", broken)
			}
			return nil
		},
	}
}
