// Package extract identifies product IDs from URLs and HTML using
// platform-specific patterns with generic and tag-based fallbacks.
package extract

import (
	"net/url"
	"regexp"
	"strings"
)

// Extraction methods, in order of reliability.
const (
	MethodURLAmazon      = "url_pattern_amazon"
	MethodURLShopify     = "url_pattern_shopify"
	MethodURLWooCommerce = "url_pattern_woocommerce"
	MethodURLMagento     = "url_pattern_magento"
	MethodURLBigCommerce = "url_pattern_bigcommerce"
	MethodURLGeneric     = "url_pattern_generic"
	MethodHTMLOpenGraph  = "html_opengraph"
	MethodHTMLSchema     = "html_schema"
	MethodNone           = "none"
)

// Platform names recognized by DetectPlatform.
const (
	PlatformAmazon      = "amazon"
	PlatformShopify     = "shopify"
	PlatformWooCommerce = "woocommerce"
	PlatformMagento     = "magento"
	PlatformBigCommerce = "bigcommerce"
)

type platformPatterns struct {
	platform string
	method   string
	patterns []*regexp.Regexp
}

// Ordered by specificity: Amazon ASINs are unambiguous, slug-based platforms
// later since their patterns overlap.
var platforms = []platformPatterns{
	{
		platform: PlatformAmazon,
		method:   MethodURLAmazon,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`/dp/([A-Z0-9]{10})`),
			regexp.MustCompile(`/gp/product/([A-Z0-9]{10})`),
			regexp.MustCompile(`/product/([A-Z0-9]{10})`),
			regexp.MustCompile(`/ASIN/([A-Z0-9]{10})`),
			regexp.MustCompile(`[?&]ASIN=([A-Z0-9]{10})`),
		},
	},
	{
		platform: PlatformShopify,
		method:   MethodURLShopify,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`/products/([a-z0-9-]+)`),
			regexp.MustCompile(`/products/([^/?]+)`),
			regexp.MustCompile(`product_id=(\d+)`),
		},
	},
	{
		platform: PlatformWooCommerce,
		method:   MethodURLWooCommerce,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`/product/([a-z0-9-]+)`),
			regexp.MustCompile(`[?&]product_id=(\d+)`),
			regexp.MustCompile(`post_id=(\d+)`),
		},
	},
	{
		platform: PlatformMagento,
		method:   MethodURLMagento,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`/catalog/product/view/id/(\d+)`),
			regexp.MustCompile(`/([a-z0-9-]+)\.html`),
			regexp.MustCompile(`product/(\d+)`),
		},
	},
	{
		platform: PlatformBigCommerce,
		method:   MethodURLBigCommerce,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`/products/([a-z0-9-]+)`),
			regexp.MustCompile(`product_id=(\d+)`),
		},
	},
}

var genericQueryParams = []string{"id", "product_id", "productId", "pid", "item_id", "itemId"}

var (
	numericPathRe  = regexp.MustCompile(`/(\d{4,})`)
	fileExtRe      = regexp.MustCompile(`\.(html?|php|aspx?)$`)
	ogPatterns     = compileTagPatterns(`<meta\s+property="product:retailer_item_id"\s+content="([^"]+)"`, `<meta\s+property="product:sku"\s+content="([^"]+)"`, `<meta\s+property="og:product:sku"\s+content="([^"]+)"`)
	schemaPatterns = []*regexp.Regexp{
		regexp.MustCompile(`"sku"\s*:\s*"([^"]+)"`),
		regexp.MustCompile(`"productID"\s*:\s*"([^"]+)"`),
		regexp.MustCompile(`"identifier"\s*:\s*"([^"]+)"`),
	}
	metaPatterns = compileTagPatterns(`<meta\s+name="product_id"\s+content="([^"]+)"`, `<meta\s+name="sku"\s+content="([^"]+)"`, `<meta\s+itemprop="sku"\s+content="([^"]+)"`, `<meta\s+itemprop="productID"\s+content="([^"]+)"`)
)

func compileTagPatterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

// Extract tries URL patterns first, then HTML tags when html is non-empty.
// Returns the extracted id (empty when nothing matched) and the method used.
func Extract(rawURL, html string) (string, string) {
	if id, method := FromURL(rawURL); id != "" {
		return id, method
	}
	if html != "" {
		if id, method := FromHTML(html); id != "" {
			return id, method
		}
	}
	return "", MethodNone
}

// FromURL extracts a product id from the URL alone: platform patterns first,
// then generic query/path heuristics.
func FromURL(rawURL string) (string, string) {
	for _, p := range platforms {
		for _, re := range p.patterns {
			if m := re.FindStringSubmatch(rawURL); m != nil {
				return m[1], p.method
			}
		}
	}
	return fromURLGeneric(rawURL)
}

func fromURLGeneric(rawURL string) (string, string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", MethodNone
	}

	if u.RawQuery != "" {
		values := u.Query()
		for _, param := range genericQueryParams {
			if v := values.Get(param); v != "" {
				return v, MethodURLGeneric
			}
		}
	}

	if m := numericPathRe.FindStringSubmatch(u.Path); m != nil {
		return m[1], MethodURLGeneric
	}

	segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(segments) > 0 {
		last := fileExtRe.ReplaceAllString(segments[len(segments)-1], "")
		if len(last) > 3 {
			return last, MethodURLGeneric
		}
	}

	return "", MethodNone
}

// FromHTML extracts a product id from page markup: OpenGraph meta tags,
// Schema.org structured data, then plain meta tags.
func FromHTML(html string) (string, string) {
	for _, re := range ogPatterns {
		if m := re.FindStringSubmatch(html); m != nil {
			return m[1], MethodHTMLOpenGraph
		}
	}
	for _, re := range schemaPatterns {
		if m := re.FindStringSubmatch(html); m != nil {
			return m[1], MethodHTMLSchema
		}
	}
	for _, re := range metaPatterns {
		if m := re.FindStringSubmatch(html); m != nil {
			return m[1], MethodHTMLSchema
		}
	}
	return "", MethodNone
}

// DetectPlatform guesses the e-commerce platform from a URL. Returns "" when
// no platform is recognized.
func DetectPlatform(rawURL string) string {
	lower := strings.ToLower(rawURL)
	if strings.Contains(lower, "amazon.") {
		return PlatformAmazon
	}
	if strings.Contains(lower, "myshopify.com") || strings.Contains(lower, "/products/") {
		return PlatformShopify
	}

	for _, p := range platforms {
		for _, re := range p.patterns {
			if re.MatchString(rawURL) {
				return p.platform
			}
		}
	}
	return ""
}
