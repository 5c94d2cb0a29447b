// Package detector compares a freshly crawled product state against the
// latest persisted history and decides what changed.
package detector

import (
	"context"
	"math"

	"github.com/google/uuid"

	"github.com/obsrv/monitor-service/internal/database"
)

// HistorySource provides the latest history record for a product; nil means
// the product has never been crawled.
type HistorySource interface {
	LatestHistory(ctx context.Context, productID uuid.UUID) (*database.ProductHistoryRecord, error)
}

// ChangeResult describes the transition between the previous and current
// observation of one product. Prices are in integer cents.
type ChangeResult struct {
	PriceChanged      bool
	StockChanged      bool
	OldPrice          *int64
	NewPrice          *int64
	PriceChangePct    *float64
	OldStock          string
	NewStock          string
	ExceededThreshold bool
}

// Detector joins current product state against history.
type Detector struct {
	history HistorySource
}

// New creates a Detector over the given history source.
func New(history HistorySource) *Detector {
	return &Detector{history: history}
}

// Detect computes the change result for a product's new observation.
// The first crawl of a product reports no changes.
func (d *Detector) Detect(ctx context.Context, product *database.Product, website *database.MonitoredWebsite, newPrice *int64, newStock string) (ChangeResult, error) {
	prev, err := d.history.LatestHistory(ctx, product.ID)
	if err != nil {
		return ChangeResult{}, err
	}
	if prev == nil {
		return ChangeResult{NewPrice: newPrice, NewStock: newStock}, nil
	}

	res := Compare(prev.Price, newPrice, prev.StockStatus, newStock, website.PriceChangeThresholdPct)
	return res, nil
}

// Compare computes the change flags between two observations.
//
// Price edge cases: both prices nil means no change; a nil-to-value or
// value-to-nil transition is a change with nil pct that always exceeds the
// threshold, as does a change away from a zero old price (pct undefined).
func Compare(oldPrice, newPrice *int64, oldStock, newStock string, thresholdPct float64) ChangeResult {
	res := ChangeResult{
		OldPrice: oldPrice,
		NewPrice: newPrice,
		OldStock: oldStock,
		NewStock: newStock,
	}

	res.StockChanged = oldStock != newStock

	switch {
	case oldPrice == nil && newPrice == nil:
		// no change
	case oldPrice == nil || newPrice == nil:
		res.PriceChanged = true
		res.ExceededThreshold = true
	case *oldPrice == 0:
		if *newPrice != 0 {
			res.PriceChanged = true
			res.ExceededThreshold = true
		}
	default:
		pct := float64(*newPrice-*oldPrice) / float64(*oldPrice) * 100
		res.PriceChangePct = &pct
		res.PriceChanged = *oldPrice != *newPrice
		res.ExceededThreshold = res.PriceChanged && math.Abs(pct) >= thresholdPct
	}

	return res
}

// AbsoluteChangeCents returns the price delta in cents, or 0 when either
// side is nil.
func (r ChangeResult) AbsoluteChangeCents() int64 {
	if r.OldPrice == nil || r.NewPrice == nil {
		return 0
	}
	return *r.NewPrice - *r.OldPrice
}
