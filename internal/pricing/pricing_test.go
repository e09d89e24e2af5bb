package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLine(t *testing.T) {
	tests := []struct {
		name      string
		price     string
		rate      string
		qty       int64
		wantSub   string
		wantTax   string
		wantTotal string
	}{
		{
			name:      "eighteen percent",
			price:     "50000.00",
			rate:      "18",
			qty:       1,
			wantSub:   "50000",
			wantTax:   "9000",
			wantTotal: "59000",
		},
		{
			name:      "zero tax",
			price:     "12.50",
			rate:      "0",
			qty:       3,
			wantSub:   "37.5",
			wantTax:   "0",
			wantTotal: "37.5",
		},
		{
			name:      "sub-cent tax kept exact",
			price:     "0.05",
			rate:      "18",
			qty:       1,
			wantSub:   "0.05",
			wantTax:   "0.009",
			wantTotal: "0.059",
		},
		{
			name:      "fractional rate",
			price:     "99.99",
			rate:      "12.5",
			qty:       2,
			wantSub:   "199.98",
			wantTax:   "24.9975",
			wantTotal: "224.9775",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Line(dec(tt.price), dec(tt.rate), tt.qty)

			assert.True(t, got.Subtotal.Equal(dec(tt.wantSub)), "subtotal = %s", got.Subtotal)
			assert.True(t, got.TaxAmount.Equal(dec(tt.wantTax)), "tax = %s", got.TaxAmount)
			assert.True(t, got.Total.Equal(dec(tt.wantTotal)), "total = %s", got.Total)
		})
	}
}

func TestTotals_CeilRounding(t *testing.T) {
	lines := []LineAmounts{
		Line(dec("10.10"), dec("5"), 1),
		Line(dec("3.33"), dec("0"), 3),
	}

	got := Totals(lines)

	assert.True(t, got.Subtotal.Equal(dec("20.09")), "subtotal = %s", got.Subtotal)
	assert.True(t, got.TaxTotal.Equal(dec("0.505")), "tax = %s", got.TaxTotal)
	assert.True(t, got.NetTotal.Equal(dec("20.595")), "net = %s", got.NetTotal)
	assert.True(t, got.RoundedTotal.Equal(dec("21")), "rounded = %s", got.RoundedTotal)
}

func TestTotals_WholeNetIsNotRoundedUp(t *testing.T) {
	got := Totals([]LineAmounts{Line(dec("50000.00"), dec("18"), 1)})

	assert.True(t, got.NetTotal.Equal(dec("59000")))
	assert.True(t, got.RoundedTotal.Equal(dec("59000")))
}

func TestTotals_SubCentTaxCrossesWholeUnit(t *testing.T) {
	got := Totals([]LineAmounts{Line(dec("1.00"), dec("0.25"), 1)})

	assert.True(t, got.TaxTotal.Equal(dec("0.0025")), "tax = %s", got.TaxTotal)
	assert.True(t, got.NetTotal.Equal(dec("1.0025")), "net = %s", got.NetTotal)
	assert.True(t, got.RoundedTotal.Equal(dec("2")), "rounded = %s", got.RoundedTotal)
}

func TestTotals_LineTotalsSumToNet(t *testing.T) {
	lines := []LineAmounts{
		Line(dec("0.07"), dec("18"), 7),
		Line(dec("19.99"), dec("12"), 3),
		Line(dec("1.01"), dec("28"), 11),
	}

	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Total)
	}

	got := Totals(lines)
	assert.True(t, sum.Equal(got.NetTotal), "sum %s != net %s", sum, got.NetTotal)
	assert.True(t, got.RoundedTotal.Equal(got.NetTotal.Ceil()))
}

func TestTotals_Empty(t *testing.T) {
	got := Totals(nil)
	assert.True(t, got.NetTotal.IsZero())
	assert.True(t, got.RoundedTotal.IsZero())
}
