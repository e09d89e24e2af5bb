// Package model содержит доменные сущности сервиса расчёта чеков.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product описывает товар каталога и его остаток на складе.
type Product struct {
	ProductID      string          `json:"product_id"`
	Name           string          `json:"name"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	TaxRatePercent decimal.Decimal `json:"tax_rate_percent"`
	StockOnHand    int64           `json:"stock_on_hand"`
}

// Denomination описывает номинал купюры или монеты и их количество в кассе.
type Denomination struct {
	FaceValue   int64 `json:"face_value"`
	CountOnHand int64 `json:"count_on_hand"`
}

// CartLine - строка корзины в запросе на расчёт.
type CartLine struct {
	ProductID string `json:"product_id" validate:"required,max=50"`
	Quantity  int64  `json:"quantity" validate:"gte=1"`
}

// SettleRequest содержит всё, что нужно для проведения продажи.
// TopUp - купюры, которые покупатель положил в кассу, по номиналу.
type SettleRequest struct {
	CustomerEmail  string          `validate:"required,email"`
	Cart           []CartLine      `validate:"required,min=1,dive"`
	TopUp          map[int64]int64 `validate:"dive,keys,gt=0,endkeys,gte=0"`
	AmountTendered decimal.Decimal
}

// Invoice - итоговый чек. После сохранения не изменяется.
type Invoice struct {
	ID             uuid.UUID       `json:"id"`
	CustomerEmail  string          `json:"customer_email"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxTotal       decimal.Decimal `json:"tax_total"`
	NetTotal       decimal.Decimal `json:"net_total"`
	RoundedTotal   decimal.Decimal `json:"rounded_total"`
	AmountTendered decimal.Decimal `json:"amount_tendered"`
	ChangeDue      decimal.Decimal `json:"change_due"`
	Lines          []InvoiceLine   `json:"lines"`
	Change         []ChangeEntry   `json:"change"`
	CreatedAt      time.Time       `json:"created_at"`
}

// InvoiceLine - строка чека. Цена и ставка налога фиксируются на момент продажи.
type InvoiceLine struct {
	ProductID      string          `json:"product_id"`
	ProductName    string          `json:"product_name"`
	Quantity       int64           `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	TaxRatePercent decimal.Decimal `json:"tax_rate_percent"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	LineTotal      decimal.Decimal `json:"line_total"`
}

// ChangeEntry - сколько купюр одного номинала выдано покупателю в качестве сдачи.
type ChangeEntry struct {
	FaceValue int64 `json:"face_value"`
	Count     int64 `json:"count"`
}

// InvoiceFilter ограничивает выборку чеков.
type InvoiceFilter struct {
	CustomerEmail string
	Limit         int
}
