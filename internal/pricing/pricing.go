// Package pricing считает суммы строк чека, налог и итог с округлением.
package pricing

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// LineAmounts содержит суммы одной строки чека.
type LineAmounts struct {
	Subtotal  decimal.Decimal
	TaxAmount decimal.Decimal
	Total     decimal.Decimal
}

// InvoiceTotals содержит итоговые суммы чека.
type InvoiceTotals struct {
	Subtotal     decimal.Decimal
	TaxTotal     decimal.Decimal
	NetTotal     decimal.Decimal
	RoundedTotal decimal.Decimal
}

// Line считает строку: цена × количество, налог по ставке в процентах и сумму с налогом.
// Налог не округляется: округление вверх применяется только к итогу чека в Totals.
func Line(unitPrice, taxRatePercent decimal.Decimal, quantity int64) LineAmounts {
	subtotal := unitPrice.Mul(decimal.NewFromInt(quantity))
	tax := subtotal.Mul(taxRatePercent).Div(hundred)

	return LineAmounts{
		Subtotal:  subtotal,
		TaxAmount: tax,
		Total:     subtotal.Add(tax),
	}
}

// Totals агрегирует строки чека. RoundedTotal округляется вверх до целой единицы валюты.
func Totals(lines []LineAmounts) InvoiceTotals {
	subtotal := decimal.Zero
	tax := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Subtotal)
		tax = tax.Add(l.TaxAmount)
	}

	net := subtotal.Add(tax)

	return InvoiceTotals{
		Subtotal:     subtotal,
		TaxTotal:     tax,
		NetTotal:     net,
		RoundedTotal: net.Ceil(),
	}
}
