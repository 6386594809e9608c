package priority

import (
	"testing"
	"time"

	"restoran-fulfillment/internal/models"

	"github.com/stretchr/testify/assert"
)

var now = time.Date(2026, 10, 16, 19, 0, 0, 0, time.UTC)

func TestCalculate(t *testing.T) {
	tests := []struct {
		name string
		typ  models.OrderType
		wait time.Duration
		want int
	}{
		{"dine in fresh", models.OrderTypeDineIn, 0, 3},
		{"dine in 29m", models.OrderTypeDineIn, 29 * time.Minute, 3},
		{"dine in 30m", models.OrderTypeDineIn, 30 * time.Minute, 4},
		{"dine in 60m", models.OrderTypeDineIn, 60 * time.Minute, 5},
		{"takeout fresh", models.OrderTypeTakeout, 0, 4},
		{"takeout 45m", models.OrderTypeTakeout, 45 * time.Minute, 5},
		{"takeout 90m clamps", models.OrderTypeTakeout, 90 * time.Minute, 5},
		{"delivery fresh", models.OrderTypeDelivery, 0, 5},
		{"future created_at counts as no wait", models.OrderTypeDineIn, -10 * time.Minute, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Calculate(tt.typ, now.Add(-tt.wait), now))
		})
	}
}

func TestDeliveryAgingClampsAtMax(t *testing.T) {
	// 40 minutes: 5+1 would be 6, clamped to 5.
	assert.Equal(t, 5, Calculate(models.OrderTypeDelivery, now.Add(-40*time.Minute), now))
	// 61 minutes: 5+2 would be 7, still 5.
	assert.Equal(t, 5, Calculate(models.OrderTypeDelivery, now.Add(-61*time.Minute), now))
}

func TestOrderingAndMonotonicAging(t *testing.T) {
	types := []models.OrderType{models.OrderTypeDelivery, models.OrderTypeTakeout, models.OrderTypeDineIn}
	prev := map[models.OrderType]int{}

	for wait := time.Duration(0); wait <= 3*time.Hour; wait += time.Minute {
		created := now.Add(-wait)
		d := Calculate(models.OrderTypeDelivery, created, now)
		tk := Calculate(models.OrderTypeTakeout, created, now)
		di := Calculate(models.OrderTypeDineIn, created, now)

		assert.GreaterOrEqual(t, d, tk, "wait %v", wait)
		assert.GreaterOrEqual(t, tk, di, "wait %v", wait)

		for _, typ := range types {
			p := Calculate(typ, created, now)
			assert.LessOrEqual(t, p, Max)
			assert.GreaterOrEqual(t, p, Min)
			assert.GreaterOrEqual(t, p, prev[typ], "%s aging went down at %v", typ, wait)
			prev[typ] = p
		}
	}
}

func TestIdempotent(t *testing.T) {
	created := now.Add(-35 * time.Minute)
	first := Calculate(models.OrderTypeTakeout, created, now)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Calculate(models.OrderTypeTakeout, created, now))
	}
}

func TestUnknownTypePanics(t *testing.T) {
	assert.Panics(t, func() { Calculate(models.OrderType("drone"), now, now) })
}
