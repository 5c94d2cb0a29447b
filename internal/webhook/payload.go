package webhook

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event types emitted on the wire.
const (
	EventPriceChanged = "product.price_changed"
	EventStockChanged = "product.stock_changed"
)

// Money is an amount in integer cents that marshals as a two-decimal JSON
// number ("1299.99").
type Money int64

// MarshalJSON renders the amount with exactly two decimals, sign handled
// separately so negative cents round toward zero correctly.
func (m Money) MarshalJSON() ([]byte, error) {
	cents := int64(m)
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return []byte(fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)), nil
}

// UnmarshalJSON parses a two-decimal JSON number back into cents.
func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		return nil
	}
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, _ := strings.Cut(s, ".")
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid money amount %q: %w", s, err)
	}
	cents := units * 100
	if frac != "" {
		if len(frac) == 1 {
			frac += "0"
		} else if len(frac) > 2 {
			frac = frac[:2]
		}
		sub, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid money fraction %q: %w", s, err)
		}
		cents += sub
	}
	if neg {
		cents = -cents
	}
	*m = Money(cents)
	return nil
}

// MoneyPtr converts nullable cents into a nullable Money.
func MoneyPtr(cents *int64) *Money {
	if cents == nil {
		return nil
	}
	m := Money(*cents)
	return &m
}

// WebsiteInfo identifies the monitored website in a payload.
type WebsiteInfo struct {
	ID      uuid.UUID `json:"id" jsonschema:"description=Monitored website identifier"`
	BaseURL string    `json:"base_url" jsonschema:"description=Website base URL"`
	Name    string    `json:"name" jsonschema:"description=Human-readable website name"`
}

// ProductInfo identifies the product in a payload.
type ProductInfo struct {
	ID                 uuid.UUID `json:"id" jsonschema:"description=Product identifier"`
	URL                string    `json:"url" jsonschema:"description=Product page URL"`
	Name               string    `json:"name" jsonschema:"description=Product display name"`
	ExtractedProductID *string   `json:"extracted_product_id,omitempty" jsonschema:"description=Extracted SKU or product code"`
}

// PriceChangeDetails describes a price transition. ChangePct is null for
// null-to-value and zero-old-price transitions where the percentage is
// undefined.
type PriceChangeDetails struct {
	Type           string    `json:"type" jsonschema:"enum=price"`
	OldValue       *Money    `json:"old_value"`
	NewValue       *Money    `json:"new_value"`
	Currency       string    `json:"currency" jsonschema:"description=ISO 4217 currency code"`
	ChangePct      *float64  `json:"change_pct"`
	AbsoluteChange Money     `json:"absolute_change"`
	DetectedAt     time.Time `json:"detected_at"`
}

// StockChangeDetails describes a stock status transition.
type StockChangeDetails struct {
	Type       string    `json:"type" jsonschema:"enum=stock"`
	OldValue   string    `json:"old_value" jsonschema:"enum=in_stock,enum=out_of_stock,enum=limited_availability,enum=unknown"`
	NewValue   string    `json:"new_value" jsonschema:"enum=in_stock,enum=out_of_stock,enum=limited_availability,enum=unknown"`
	DetectedAt time.Time `json:"detected_at"`
}

// PriceChangeMetadata carries crawl context for a price event.
type PriceChangeMetadata struct {
	CrawlID           uuid.UUID `json:"crawl_id"`
	ThresholdPct      float64   `json:"threshold_pct"`
	ExceededThreshold bool      `json:"exceeded_threshold"`
}

// StockChangeMetadata carries crawl context for a stock event.
type StockChangeMetadata struct {
	CrawlID       uuid.UUID `json:"crawl_id"`
	PriceAtChange *Money    `json:"price_at_change"`
	Currency      string    `json:"currency"`
}

// PriceChangeEvent is the wire payload for product.price_changed. EventID
// equals the product history id so receivers can deduplicate retries.
type PriceChangeEvent struct {
	EventType string              `json:"event_type" jsonschema:"enum=product.price_changed"`
	EventID   uuid.UUID           `json:"event_id"`
	Timestamp time.Time           `json:"timestamp"`
	Website   WebsiteInfo         `json:"website"`
	Product   ProductInfo         `json:"product"`
	Change    PriceChangeDetails  `json:"change"`
	Metadata  PriceChangeMetadata `json:"metadata"`
}

// StockChangeEvent is the wire payload for product.stock_changed.
type StockChangeEvent struct {
	EventType string              `json:"event_type" jsonschema:"enum=product.stock_changed"`
	EventID   uuid.UUID           `json:"event_id"`
	Timestamp time.Time           `json:"timestamp"`
	Website   WebsiteInfo         `json:"website"`
	Product   ProductInfo         `json:"product"`
	Change    StockChangeDetails  `json:"change"`
	Metadata  StockChangeMetadata `json:"metadata"`
}
