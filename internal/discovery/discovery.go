// Package discovery crawls seed URLs and ranks candidate product pages.
package discovery

import (
	"context"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/obsrv/monitor-service/internal/crawler"
	"github.com/obsrv/monitor-service/internal/extract"
	"github.com/obsrv/monitor-service/internal/urlutil"
)

// Fetcher is the fetch capability discovery needs from the crawler.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*crawler.Result, error)
}

// Candidate is a discovered product URL with its ranking metadata.
type Candidate struct {
	URL                string  `json:"url"`
	NormalizedURL      string  `json:"normalized_url"`
	ExtractedProductID string  `json:"extracted_product_id,omitempty"`
	ExtractionMethod   string  `json:"extraction_method"`
	Platform           string  `json:"platform,omitempty"`
	RelevanceScore     float64 `json:"relevance_score"`
}

var productPathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/product[s]?/`),
	regexp.MustCompile(`(?i)/item[s]?/`),
	regexp.MustCompile(`(?i)/p/`),
	regexp.MustCompile(`(?i)/dp/`),
	regexp.MustCompile(`(?i)/gp/product/`),
	regexp.MustCompile(`(?i)-p-\d+`),
	regexp.MustCompile(`(?i)/pd/`),
}

var excludePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/category/`),
	regexp.MustCompile(`(?i)/categories/`),
	regexp.MustCompile(`(?i)/collection[s]?/`),
	regexp.MustCompile(`(?i)/search`),
	regexp.MustCompile(`(?i)/cart`),
	regexp.MustCompile(`(?i)/checkout`),
	regexp.MustCompile(`(?i)/account`),
	regexp.MustCompile(`(?i)/login`),
	regexp.MustCompile(`(?i)/register`),
	regexp.MustCompile(`(?i)/blog`),
	regexp.MustCompile(`(?i)/about`),
	regexp.MustCompile(`(?i)/contact`),
}

var strongIndicators = []string{"/product/", "/p/", "/dp/", "/item/"}

// Engine discovers product URLs from a website's seed pages. Candidates are
// never fetched individually; everything is derived from the URL alone.
type Engine struct {
	fetcher Fetcher
}

// NewEngine creates a discovery engine over the given fetcher.
func NewEngine(fetcher Fetcher) *Engine {
	return &Engine{fetcher: fetcher}
}

// Discover fetches each seed URL, extracts same-domain product links,
// deduplicates them and returns up to maxProducts candidates ranked by
// relevance. A failing seed is skipped, never fatal.
func (e *Engine) Discover(ctx context.Context, baseURL string, seedURLs []string, maxProducts int) ([]Candidate, error) {
	seen := make(map[string]struct{})
	var candidates []Candidate

	for _, seed := range seedURLs {
		if len(candidates) >= maxProducts {
			break
		}

		res, err := e.fetcher.Fetch(ctx, seed)
		if err != nil {
			log.Warn().Err(err).Str("seed_url", seed).Msg("failed to process seed URL")
			continue
		}

		links := crawler.ExtractLinks(res.Body, res.FinalURL)
		log.Info().Str("seed_url", seed).Int("links_count", len(links)).Msg("extracted links from seed URL")

		for _, link := range links {
			if len(candidates) >= maxProducts {
				break
			}
			if !urlutil.IsSameDomain(link, baseURL) {
				continue
			}
			if !isProductURL(link) || isExcludedURL(link) {
				continue
			}

			clean := urlutil.CleanForComparison(link)
			if _, dup := seen[clean]; dup {
				continue
			}
			seen[clean] = struct{}{}

			candidates = append(candidates, newCandidate(link))
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].RelevanceScore > candidates[j].RelevanceScore
	})
	if len(candidates) > maxProducts {
		candidates = candidates[:maxProducts]
	}

	log.Info().
		Str("base_url", baseURL).
		Int("discovered_count", len(candidates)).
		Msg("product discovery completed")
	return candidates, nil
}

func newCandidate(link string) Candidate {
	id, method := extract.FromURL(link)
	return Candidate{
		URL:                link,
		NormalizedURL:      urlutil.Normalize(link, false),
		ExtractedProductID: id,
		ExtractionMethod:   method,
		Platform:           extract.DetectPlatform(link),
		RelevanceScore:     relevanceScore(link, method),
	}
}

func isProductURL(link string) bool {
	for _, re := range productPathPatterns {
		if re.MatchString(link) {
			return true
		}
	}
	id, method := extract.FromURL(link)
	return id != "" && method != extract.MethodNone
}

func isExcludedURL(link string) bool {
	for _, re := range excludePatterns {
		if re.MatchString(link) {
			return true
		}
	}
	return false
}

// relevanceScore ranks a candidate in [0,1]: shorter paths and strong
// product indicators score higher.
func relevanceScore(link, method string) float64 {
	score := 0.5

	path := strings.ToLower(urlPath(link))
	segments := strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
	if len(segments) <= 3 {
		score += 0.2
	} else if len(segments) <= 5 {
		score += 0.1
	}

	for _, indicator := range strongIndicators {
		if strings.Contains(path, indicator) {
			score += 0.2
			break
		}
	}

	if strings.Contains(method, "amazon") || strings.Contains(method, "shopify") {
		score += 0.1
	}

	if score > 1.0 {
		score = 1.0
	}
	if score < 0.0 {
		score = 0.0
	}
	return score
}

func urlPath(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return u.Path
}
