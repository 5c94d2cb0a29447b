package crawler

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/obsrv/monitor-service/internal/database"
)

// ParseResult is the product state observed on a page. Price is in integer
// cents, nil when no price could be found. The parser is total: malformed
// HTML yields a result with unknowns, never an error.
type ParseResult struct {
	Name        string
	Price       *int64
	Currency    string
	StockStatus string
}

var (
	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)<meta\s+property="og:title"\s+content="([^"]+)"`),
		regexp.MustCompile(`(?i)<title>([^<]+)</title>`),
		regexp.MustCompile(`(?i)<h1[^>]*>([^<]+)</h1>`),
	}

	pricePatterns = []*regexp.Regexp{
		regexp.MustCompile(`"price":\s*"?(\d+\.?\d*)"?`),
		regexp.MustCompile(`(?i)<meta\s+property="product:price:amount"\s+content="(\d+\.?\d*)"`),
		regexp.MustCompile(`[$€£](\d+\.\d{2})`),
	}

	currencyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)<meta\s+property="product:price:currency"\s+content="([A-Z]{3})"`),
		regexp.MustCompile(`"priceCurrency"\s*:\s*"([A-Z]{3})"`),
	}

	onlyLeftRe = regexp.MustCompile(`only\s+\d+\s+left`)
)

var currencySigns = map[string]string{"€": "EUR", "£": "GBP"}

// Parse extracts name, price, currency and stock status from product HTML.
func Parse(html string) ParseResult {
	return ParseResult{
		Name:        extractName(html),
		Price:       extractPrice(html),
		Currency:    extractCurrency(html),
		StockStatus: extractStockStatus(html),
	}
}

func extractName(html string) string {
	for _, re := range namePatterns {
		if m := re.FindStringSubmatch(html); m != nil {
			name := strings.TrimSpace(m[1])
			if name != "" {
				return norm.NFC.String(name)
			}
		}
	}
	return ""
}

func extractPrice(html string) *int64 {
	for _, re := range pricePatterns {
		if m := re.FindStringSubmatch(html); m != nil {
			if cents, ok := parseCents(m[1]); ok {
				return &cents
			}
		}
	}
	return nil
}

// parseCents converts a decimal price string into integer cents without
// going through floating point.
func parseCents(s string) (int64, bool) {
	whole, frac, _ := strings.Cut(s, ".")
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, false
	}

	switch len(frac) {
	case 0:
		return units * 100, true
	case 1:
		frac += "0"
	case 2:
	default:
		frac = frac[:2]
	}
	sub, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, false
	}
	return units*100 + sub, true
}

func extractCurrency(html string) string {
	for _, re := range currencyPatterns {
		if m := re.FindStringSubmatch(html); m != nil {
			return strings.ToUpper(m[1])
		}
	}
	for sign, code := range currencySigns {
		if strings.Contains(html, sign) {
			return code
		}
	}
	return "USD"
}

func extractStockStatus(html string) string {
	lower := strings.ToLower(html)

	switch {
	case containsAny(lower, "out of stock", "sold out", "unavailable"):
		return database.StockOutOfStock
	case containsAny(lower, "in stock", "available", "add to cart"):
		return database.StockInStock
	case strings.Contains(lower, "limited") || onlyLeftRe.MatchString(lower):
		return database.StockLimitedAvailability
	}
	return database.StockUnknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
