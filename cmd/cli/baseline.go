package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/obsrv/monitor-service/internal/crawler"
	"github.com/obsrv/monitor-service/internal/database"
	"github.com/obsrv/monitor-service/internal/pipeline"
	"github.com/obsrv/monitor-service/internal/urlutil"
)

var (
	baselineFile    string
	baselineTimeout time.Duration
)

// baselineCmd represents the baseline command
var baselineCmd = &cobra.Command{
	Use:   "baseline <websiteId> [product-url...]",
	Short: "Establish the price baseline for approved product URLs",
	Long: `Run the one-shot baseline crawl over a set of approved product URLs:
each URL is fetched, parsed and stored as a monitored product seeded with its
first observed price and stock state. On success the website is activated.

Product URLs are taken from the arguments, or one per line from --file.`,
	Example: `  monitor-service baseline 6a1f0e9c-8f2d-4c1b-9a57-2f90b3a4d8e1 https://shop.example.com/products/mouse
  monitor-service baseline 6a1f0e9c-8f2d-4c1b-9a57-2f90b3a4d8e1 --file approved-urls.txt`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBaseline,
}

func init() {
	rootCmd.AddCommand(baselineCmd)

	baselineCmd.Flags().StringVar(&baselineFile, "file", "", "File with one product URL per line")
	baselineCmd.Flags().DurationVar(&baselineTimeout, "timeout", 30*time.Minute, "Overall baseline timeout")
}

func runBaseline(cmd *cobra.Command, args []string) error {
	websiteID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid website id %q: %w", args[0], err)
	}

	urls := args[1:]
	if baselineFile != "" {
		fromFile, err := readURLFile(baselineFile)
		if err != nil {
			return err
		}
		urls = append(urls, fromFile...)
	}
	if len(urls) == 0 {
		return fmt.Errorf("no product URLs given, pass them as arguments or via --file")
	}
	for i, u := range urls {
		urls[i] = urlutil.EnsureScheme(u)
		if !urlutil.IsValid(urls[i]) {
			return fmt.Errorf("invalid product URL: %s", u)
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), baselineTimeout)
	defer cancel()

	store := database.NewStore(database.Pool())
	website, err := store.GetWebsite(ctx, websiteID)
	if err != nil {
		return fmt.Errorf("failed to load website: %w", err)
	}

	pipe := pipeline.New(store, crawler.NewFetcher(cfg.Crawl), nil, nil)
	stats, err := pipe.RunBaseline(ctx, website, urls)
	if err != nil {
		return fmt.Errorf("baseline crawl failed: %w", err)
	}

	fmt.Printf("Baseline finished: %d attempted, %d created, %d errors\n",
		stats.Attempted, stats.Created, stats.Errors)
	if stats.Created > 0 {
		fmt.Println("Website activated")
	}
	return nil
}

func readURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open URL file: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}
