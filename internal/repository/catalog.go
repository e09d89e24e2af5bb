package repository

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/billing-system/internal/model"
)

var minUnitPrice = decimal.RequireFromString("0.01")

// Catalog описывает начальное состояние in-memory хранилища.
type Catalog struct {
	Products      []model.Product      `json:"products"`
	Denominations []model.Denomination `json:"denominations"`
}

// LoadCatalog читает каталог товаров и содержимое кассы из JSON-файла.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	seen := make(map[int64]struct{}, len(c.Denominations))
	for _, d := range c.Denominations {
		if d.FaceValue <= 0 || d.CountOnHand < 0 {
			return nil, fmt.Errorf("invalid denomination %d x %d", d.FaceValue, d.CountOnHand)
		}
		if _, dup := seen[d.FaceValue]; dup {
			return nil, fmt.Errorf("duplicate denomination %d", d.FaceValue)
		}
		seen[d.FaceValue] = struct{}{}
	}

	for _, p := range c.Products {
		if p.ProductID == "" || p.StockOnHand < 0 || p.TaxRatePercent.IsNegative() || p.UnitPrice.LessThan(minUnitPrice) {
			return nil, fmt.Errorf("invalid product %q", p.ProductID)
		}
	}

	return &c, nil
}
