package detector

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsrv/monitor-service/internal/database"
)

func int64p(v int64) *int64 { return &v }

type mockHistory struct {
	latest *database.ProductHistoryRecord
	err    error
}

func (m *mockHistory) LatestHistory(ctx context.Context, productID uuid.UUID) (*database.ProductHistoryRecord, error) {
	return m.latest, m.err
}

func testWebsite(threshold float64) *database.MonitoredWebsite {
	return &database.MonitoredWebsite{ID: uuid.New(), PriceChangeThresholdPct: threshold}
}

func TestDetectFirstCrawl(t *testing.T) {
	d := New(&mockHistory{latest: nil})
	product := &database.Product{ID: uuid.New()}

	res, err := d.Detect(context.Background(), product, testWebsite(1.0), int64p(9999), database.StockInStock)
	require.NoError(t, err)
	assert.False(t, res.PriceChanged)
	assert.False(t, res.StockChanged)
	assert.False(t, res.ExceededThreshold)
	assert.Nil(t, res.PriceChangePct)
	assert.Equal(t, int64(9999), *res.NewPrice)
}

func TestDetectHistoryError(t *testing.T) {
	d := New(&mockHistory{err: errors.New("db down")})
	_, err := d.Detect(context.Background(), &database.Product{ID: uuid.New()}, testWebsite(1.0), nil, database.StockUnknown)
	assert.Error(t, err)
}

func TestComparePrice(t *testing.T) {
	tests := []struct {
		name         string
		oldPrice     *int64
		newPrice     *int64
		threshold    float64
		wantChanged  bool
		wantExceeded bool
		wantPct      *float64
	}{
		{
			name:     "both nil is no change",
			oldPrice: nil, newPrice: nil, threshold: 1.0,
			wantChanged: false, wantExceeded: false, wantPct: nil,
		},
		{
			name:     "nil to value always exceeds",
			oldPrice: nil, newPrice: int64p(1000), threshold: 1.0,
			wantChanged: true, wantExceeded: true, wantPct: nil,
		},
		{
			name:     "value to nil always exceeds",
			oldPrice: int64p(1000), newPrice: nil, threshold: 1.0,
			wantChanged: true, wantExceeded: true, wantPct: nil,
		},
		{
			name:     "zero old price undefined pct",
			oldPrice: int64p(0), newPrice: int64p(500), threshold: 1.0,
			wantChanged: true, wantExceeded: true, wantPct: nil,
		},
		{
			name:     "zero to zero no change",
			oldPrice: int64p(0), newPrice: int64p(0), threshold: 1.0,
			wantChanged: false, wantExceeded: false, wantPct: nil,
		},
		{
			name:     "drop above threshold",
			oldPrice: int64p(10000), newPrice: int64p(9800), threshold: 1.0,
			wantChanged: true, wantExceeded: true, wantPct: float64p(-2.0),
		},
		{
			name:     "drop below threshold",
			oldPrice: int64p(10000), newPrice: int64p(9950), threshold: 1.0,
			wantChanged: true, wantExceeded: false, wantPct: float64p(-0.5),
		},
		{
			name:     "equal prices zero pct",
			oldPrice: int64p(10000), newPrice: int64p(10000), threshold: 1.0,
			wantChanged: false, wantExceeded: false, wantPct: float64p(0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Compare(tt.oldPrice, tt.newPrice, database.StockInStock, database.StockInStock, tt.threshold)
			assert.Equal(t, tt.wantChanged, res.PriceChanged)
			assert.Equal(t, tt.wantExceeded, res.ExceededThreshold)
			if tt.wantPct == nil {
				assert.Nil(t, res.PriceChangePct)
			} else {
				require.NotNil(t, res.PriceChangePct)
				assert.InDelta(t, *tt.wantPct, *res.PriceChangePct, 0.01)
			}
			assert.False(t, res.StockChanged)
		})
	}
}

func float64p(v float64) *float64 { return &v }

func TestCompareStock(t *testing.T) {
	res := Compare(int64p(1000), int64p(1000), database.StockInStock, database.StockOutOfStock, 1.0)
	assert.True(t, res.StockChanged)
	assert.False(t, res.PriceChanged)

	res = Compare(nil, nil, database.StockUnknown, database.StockUnknown, 1.0)
	assert.False(t, res.StockChanged)
}

func TestAbsoluteChangeCents(t *testing.T) {
	res := Compare(int64p(10000), int64p(9800), database.StockInStock, database.StockInStock, 1.0)
	assert.EqualValues(t, -200, res.AbsoluteChangeCents())

	res = Compare(nil, int64p(9800), database.StockInStock, database.StockInStock, 1.0)
	assert.EqualValues(t, 0, res.AbsoluteChangeCents())
}
