package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/obsrv/monitor-service/config"
	"github.com/obsrv/monitor-service/internal/crawler"
	"github.com/obsrv/monitor-service/internal/discovery"
	"github.com/obsrv/monitor-service/internal/urlutil"
)

var (
	discoverMax    int
	discoverOutput string
)

// discoverCmd represents the discover command
var discoverCmd = &cobra.Command{
	Use:   "discover <base-url> [seed-url...]",
	Short: "Discover product pages on a website",
	Long: `Crawl one or more seed pages of a website and return ranked candidate
product URLs. When no seed URLs are given the base URL itself is used as the
only seed.

Output can be formatted as a human-readable table (default) or JSON.`,
	Example: `  monitor-service discover https://shop.example.com
  monitor-service discover https://shop.example.com https://shop.example.com/sale --max 50
  monitor-service discover https://shop.example.com --output json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)

	discoverCmd.Flags().IntVar(&discoverMax, "max", 100, "Maximum number of candidates to return")
	discoverCmd.Flags().StringVar(&discoverOutput, "output", "table", "Output format: table or json")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	baseURL := urlutil.EnsureScheme(args[0])
	if !urlutil.IsValid(baseURL) {
		return fmt.Errorf("invalid base URL: %s", args[0])
	}

	seeds := []string{baseURL}
	if len(args) > 1 {
		seeds = nil
		for _, seed := range args[1:] {
			seeds = append(seeds, urlutil.EnsureScheme(seed))
		}
	}

	crawlCfg := config.CrawlConfig{
		TimeoutSeconds:     30,
		RateLimitPerDomain: 10,
		RetryAttempts:      3,
		RetryBackoffBase:   1,
	}
	if cfg != nil {
		crawlCfg = cfg.Crawl
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	engine := discovery.NewEngine(crawler.NewFetcher(crawlCfg))
	candidates, err := engine.Discover(ctx, baseURL, seeds, discoverMax)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	if discoverOutput == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(candidates)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tPRODUCT ID\tMETHOD\tPLATFORM\tURL")
	for _, c := range candidates {
		fmt.Fprintf(w, "%.2f\t%s\t%s\t%s\t%s\n",
			c.RelevanceScore, c.ExtractedProductID, c.ExtractionMethod, c.Platform, c.URL)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d candidate(s) found\n", len(candidates))
	return nil
}
