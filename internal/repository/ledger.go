package repository

import (
	"context"
	"errors"

	"github.com/mmeshcher/billing-system/internal/model"
)

var (
	// ErrProductNotFound возвращается, если товара с таким product_id нет в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrInvoiceNotFound возвращается, если чек не найден.
	ErrInvoiceNotFound = errors.New("invoice not found")
	// ErrUnknownDenomination возвращается при изменении номинала, которого нет в кассе.
	ErrUnknownDenomination = errors.New("unknown denomination")
	// ErrInventoryUnderflow возвращается, если изменение сделало бы остаток отрицательным.
	ErrInventoryUnderflow = errors.New("inventory would become negative")
	// ErrRetryLater возвращается при таймауте ожидания блокировки или конфликте транзакций.
	// Ничего не зафиксировано, запрос можно повторить.
	ErrRetryLater = errors.New("lock contention, retry later")
)

// SettlementTx - операции с остатками внутри одной транзакции расчёта.
// Чтения видят собственные незафиксированные изменения транзакции.
// Заблокированные строки не меняются другими транзакциями до её завершения.
type SettlementTx interface {
	// LockProduct блокирует строку товара и возвращает её текущее состояние.
	LockProduct(ctx context.Context, productID string) (*model.Product, error)
	// AdjustStock изменяет остаток товара на delta и возвращает новый остаток.
	AdjustStock(ctx context.Context, productID string, delta int64) (int64, error)
	// LockDenominations блокирует весь набор номиналов кассы.
	LockDenominations(ctx context.Context) ([]model.Denomination, error)
	// AdjustDenomination изменяет количество купюр номинала на delta.
	AdjustDenomination(ctx context.Context, faceValue int64, delta int64) (int64, error)
	// SaveInvoice сохраняет чек со строками и сдачей.
	SaveInvoice(ctx context.Context, inv *model.Invoice) error
}

// SettlementFunc выполняет расчёт внутри транзакции. Любая ошибка откатывает все изменения.
type SettlementFunc func(tx SettlementTx) error
