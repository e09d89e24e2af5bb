package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/billing-system/internal/model"
)

var errNotLocked = errors.New("row is not locked by this transaction")

// MemoryRepository хранит данные в памяти процесса с тем же контрактом, что и PostgresRepository:
// блокировка на каждый товар, одна блокировка на всю кассу, изменения транзакции
// применяются целиком при фиксации.
type MemoryRepository struct {
	mu sync.RWMutex

	products      map[string]model.Product
	productLocks  map[string]chan struct{}
	denominations map[int64]int64
	poolLock      chan struct{}

	invoices     map[uuid.UUID]model.Invoice
	invoiceOrder []uuid.UUID

	lockTimeout time.Duration
}

// NewMemoryRepository создаёт хранилище с начальным каталогом и содержимым кассы.
// lockTimeout ограничивает ожидание блокировок, 0 - ждать до отмены контекста.
func NewMemoryRepository(lockTimeout time.Duration, products []model.Product, denominations []model.Denomination) *MemoryRepository {
	r := &MemoryRepository{
		products:      make(map[string]model.Product, len(products)),
		productLocks:  make(map[string]chan struct{}, len(products)),
		denominations: make(map[int64]int64, len(denominations)),
		poolLock:      make(chan struct{}, 1),
		invoices:      make(map[uuid.UUID]model.Invoice),
		lockTimeout:   lockTimeout,
	}

	for _, p := range products {
		r.products[p.ProductID] = p
		r.productLocks[p.ProductID] = make(chan struct{}, 1)
	}
	for _, d := range denominations {
		r.denominations[d.FaceValue] = d.CountOnHand
	}

	return r
}

// Close ничего не освобождает и нужен для совместимости с PostgresRepository.
func (r *MemoryRepository) Close() error {
	return nil
}

// Ping всегда успешен.
func (r *MemoryRepository) Ping(context.Context) error {
	return nil
}

func (r *MemoryRepository) acquire(ctx context.Context, lock chan struct{}) error {
	select {
	case lock <- struct{}{}:
		return nil
	default:
	}

	var timeout <-chan time.Time
	if r.lockTimeout > 0 {
		timer := time.NewTimer(r.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case lock <- struct{}{}:
		return nil
	case <-timeout:
		return ErrRetryLater
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WithinSettlement выполняет fn в транзакции. Блокировки снимаются при любом исходе.
func (r *MemoryRepository) WithinSettlement(ctx context.Context, fn SettlementFunc) error {
	tx := &memTx{
		repo:   r,
		locked: make(map[string]struct{}),
		stock:  make(map[string]int64),
		denoms: make(map[int64]int64),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}

	tx.commit()
	return nil
}

type memTx struct {
	repo *MemoryRepository

	held     []chan struct{}
	locked   map[string]struct{}
	poolHeld bool

	stock   map[string]int64
	denoms  map[int64]int64
	invoice *model.Invoice
}

func (t *memTx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		<-t.held[i]
	}
	t.held = nil
}

func (t *memTx) commit() {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, stock := range t.stock {
		p := r.products[id]
		p.StockOnHand = stock
		r.products[id] = p
	}
	for face, count := range t.denoms {
		r.denominations[face] = count
	}
	if t.invoice != nil {
		r.invoices[t.invoice.ID] = *t.invoice
		r.invoiceOrder = append(r.invoiceOrder, t.invoice.ID)
	}
}

func (t *memTx) LockProduct(ctx context.Context, productID string) (*model.Product, error) {
	r := t.repo

	if _, ok := t.locked[productID]; !ok {
		r.mu.RLock()
		lock, exists := r.productLocks[productID]
		r.mu.RUnlock()
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}

		if err := r.acquire(ctx, lock); err != nil {
			return nil, fmt.Errorf("lock product %s: %w", productID, err)
		}
		t.held = append(t.held, lock)
		t.locked[productID] = struct{}{}
	}

	r.mu.RLock()
	p := r.products[productID]
	r.mu.RUnlock()

	if staged, ok := t.stock[productID]; ok {
		p.StockOnHand = staged
	}
	return &p, nil
}

func (t *memTx) AdjustStock(ctx context.Context, productID string, delta int64) (int64, error) {
	if _, ok := t.locked[productID]; !ok {
		return 0, fmt.Errorf("adjust stock %s: %w", productID, errNotLocked)
	}

	p, err := t.LockProduct(ctx, productID)
	if err != nil {
		return 0, err
	}

	stock := p.StockOnHand + delta
	if stock < 0 {
		return 0, fmt.Errorf("%w: product %s", ErrInventoryUnderflow, productID)
	}

	t.stock[productID] = stock
	return stock, nil
}

func (t *memTx) LockDenominations(ctx context.Context) ([]model.Denomination, error) {
	r := t.repo

	if !t.poolHeld {
		if err := r.acquire(ctx, r.poolLock); err != nil {
			return nil, fmt.Errorf("lock denominations: %w", err)
		}
		t.held = append(t.held, r.poolLock)
		t.poolHeld = true
	}

	r.mu.RLock()
	res := make([]model.Denomination, 0, len(r.denominations))
	for face, count := range r.denominations {
		if staged, ok := t.denoms[face]; ok {
			count = staged
		}
		res = append(res, model.Denomination{FaceValue: face, CountOnHand: count})
	}
	r.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool { return res[i].FaceValue > res[j].FaceValue })
	return res, nil
}

func (t *memTx) AdjustDenomination(_ context.Context, faceValue int64, delta int64) (int64, error) {
	if !t.poolHeld {
		return 0, fmt.Errorf("adjust denomination %d: %w", faceValue, errNotLocked)
	}

	r := t.repo
	r.mu.RLock()
	count, exists := r.denominations[faceValue]
	r.mu.RUnlock()
	if !exists {
		return 0, fmt.Errorf("%w: %d", ErrUnknownDenomination, faceValue)
	}

	if staged, ok := t.denoms[faceValue]; ok {
		count = staged
	}

	count += delta
	if count < 0 {
		return 0, fmt.Errorf("%w: denomination %d", ErrInventoryUnderflow, faceValue)
	}

	t.denoms[faceValue] = count
	return count, nil
}

func (t *memTx) SaveInvoice(_ context.Context, inv *model.Invoice) error {
	if t.invoice != nil {
		return errors.New("invoice already saved in this transaction")
	}

	t.repo.mu.RLock()
	_, exists := t.repo.invoices[inv.ID]
	t.repo.mu.RUnlock()
	if exists {
		return fmt.Errorf("invoice %s already exists", inv.ID)
	}

	stored := cloneInvoice(*inv)
	t.invoice = &stored
	return nil
}

func cloneInvoice(inv model.Invoice) model.Invoice {
	inv.Lines = append([]model.InvoiceLine{}, inv.Lines...)
	inv.Change = append([]model.ChangeEntry{}, inv.Change...)
	return inv
}

// GetInvoice возвращает чек по идентификатору.
func (r *MemoryRepository) GetInvoice(_ context.Context, id uuid.UUID) (*model.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, ok := r.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	res := cloneInvoice(inv)
	return &res, nil
}

// ListInvoices возвращает чеки, начиная с последних.
func (r *MemoryRepository) ListInvoices(_ context.Context, filter model.InvoiceFilter) ([]model.Invoice, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.Invoice
	for i := len(r.invoiceOrder) - 1; i >= 0 && len(res) < limit; i-- {
		inv := r.invoices[r.invoiceOrder[i]]
		if filter.CustomerEmail != "" && inv.CustomerEmail != filter.CustomerEmail {
			continue
		}
		res = append(res, cloneInvoice(inv))
	}
	return res, nil
}

// ListProducts возвращает каталог, отсортированный по названию.
func (r *MemoryRepository) ListProducts(_ context.Context) ([]model.Product, error) {
	r.mu.RLock()
	res := make([]model.Product, 0, len(r.products))
	for _, p := range r.products {
		res = append(res, p)
	}
	r.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool {
		if res[i].Name == res[j].Name {
			return res[i].ProductID < res[j].ProductID
		}
		return res[i].Name < res[j].Name
	})
	return res, nil
}

// GetProduct возвращает товар по внешнему идентификатору.
func (r *MemoryRepository) GetProduct(_ context.Context, productID string) (*model.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[productID]
	if !ok {
		return nil, ErrProductNotFound
	}
	return &p, nil
}

// ListDenominations возвращает содержимое кассы по убыванию номинала.
func (r *MemoryRepository) ListDenominations(_ context.Context) ([]model.Denomination, error) {
	r.mu.RLock()
	res := make([]model.Denomination, 0, len(r.denominations))
	for face, count := range r.denominations {
		res = append(res, model.Denomination{FaceValue: face, CountOnHand: count})
	}
	r.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool { return res[i].FaceValue > res[j].FaceValue })
	return res, nil
}
