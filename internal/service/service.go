// Package service реализует проведение продажи и чтение чеков, товаров и содержимого кассы.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/billing-system/internal/change"
	"github.com/mmeshcher/billing-system/internal/model"
	"github.com/mmeshcher/billing-system/internal/pricing"
	"github.com/mmeshcher/billing-system/internal/repository"
	"github.com/mmeshcher/billing-system/internal/validation"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	Ping(ctx context.Context) error
	WithinSettlement(ctx context.Context, fn repository.SettlementFunc) error
	GetInvoice(ctx context.Context, id uuid.UUID) (*model.Invoice, error)
	ListInvoices(ctx context.Context, filter model.InvoiceFilter) ([]model.Invoice, error)
	ListProducts(ctx context.Context) ([]model.Product, error)
	GetProduct(ctx context.Context, productID string) (*model.Product, error)
	ListDenominations(ctx context.Context) ([]model.Denomination, error)
}

// Notifier доставляет готовый чек покупателю. Ошибка доставки не влияет на продажу.
type Notifier interface {
	Deliver(ctx context.Context, inv *model.Invoice) error
}

// Service содержит бизнес-логику расчёта чеков.
type Service struct {
	repo     Repository
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewService создаёт сервис. notifier может быть nil.
func NewService(repo Repository, notifier Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// Settle проводит продажу одной транзакцией: пополняет кассу купюрами покупателя,
// списывает товары, считает чек, выдаёт сдачу и сохраняет чек.
// При любой ошибке изменения не фиксируются.
func (s *Service) Settle(ctx context.Context, req model.SettleRequest) (*model.Invoice, error) {
	if err := validation.ValidateSettleRequest(req); err != nil {
		return nil, newError(CodeInvalidRequest, err)
	}

	var inv *model.Invoice
	err := s.repo.WithinSettlement(ctx, func(tx repository.SettlementTx) error {
		var err error
		inv, err = s.settle(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, s.settlementError(err)
	}

	s.logger.Info("bill settled",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("customer_email", inv.CustomerEmail),
		zap.String("rounded_total", inv.RoundedTotal.String()),
		zap.String("change_due", inv.ChangeDue.String()),
	)

	if s.notifier != nil {
		if err := s.notifier.Deliver(ctx, inv); err != nil {
			s.logger.Warn("invoice delivery failed",
				zap.String("invoice_id", inv.ID.String()), zap.Error(err))
		}
	}

	return inv, nil
}

func (s *Service) settle(ctx context.Context, tx repository.SettlementTx, req model.SettleRequest) (*model.Invoice, error) {
	// Блокировки берутся в одном порядке во всех расчётах: товары по возрастанию id, затем касса.
	products := make(map[string]*model.Product, len(req.Cart))
	for _, id := range uniqueProductIDs(req.Cart) {
		p, err := tx.LockProduct(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrProductNotFound) {
				return nil, &SettlementError{Code: CodeProductNotFound, ProductID: id}
			}
			return nil, err
		}
		products[id] = p
	}

	denoms, err := tx.LockDenominations(ctx)
	if err != nil {
		return nil, err
	}
	pool := make(map[int64]int64, len(denoms))
	for _, d := range denoms {
		pool[d.FaceValue] = d.CountOnHand
	}

	if err := applyTopUp(ctx, tx, req.TopUp, pool); err != nil {
		return nil, err
	}

	lines := make([]model.InvoiceLine, 0, len(req.Cart))
	amounts := make([]pricing.LineAmounts, 0, len(req.Cart))
	for _, item := range req.Cart {
		p := products[item.ProductID]
		if p.StockOnHand < item.Quantity {
			return nil, &SettlementError{
				Code:      CodeOutOfStock,
				ProductID: item.ProductID,
				Requested: item.Quantity,
				Available: p.StockOnHand,
			}
		}

		stock, err := tx.AdjustStock(ctx, item.ProductID, -item.Quantity)
		if err != nil {
			return nil, err
		}
		p.StockOnHand = stock

		a := pricing.Line(p.UnitPrice, p.TaxRatePercent, item.Quantity)
		amounts = append(amounts, a)
		lines = append(lines, model.InvoiceLine{
			ProductID:      p.ProductID,
			ProductName:    p.Name,
			Quantity:       item.Quantity,
			UnitPrice:      p.UnitPrice,
			TaxRatePercent: p.TaxRatePercent,
			TaxAmount:      a.TaxAmount,
			LineTotal:      a.Total,
		})
	}

	totals := pricing.Totals(amounts)
	changeDue := req.AmountTendered.Sub(totals.RoundedTotal)
	if changeDue.IsNegative() {
		return nil, newError(CodeInsufficientPayment,
			fmt.Errorf("tendered %s, due %s", req.AmountTendered, totals.RoundedTotal))
	}

	entries, err := change.Make(changeDue.IntPart(), pool)
	if err != nil {
		if errors.Is(err, change.ErrInsufficientDenominations) {
			return nil, newError(CodeInsufficientDenominations,
				fmt.Errorf("cannot make change of %s", changeDue))
		}
		return nil, err
	}

	for _, e := range entries {
		if _, err := tx.AdjustDenomination(ctx, e.FaceValue, -e.Count); err != nil {
			return nil, err
		}
	}

	inv := &model.Invoice{
		ID:             uuid.New(),
		CustomerEmail:  req.CustomerEmail,
		Subtotal:       totals.Subtotal,
		TaxTotal:       totals.TaxTotal,
		NetTotal:       totals.NetTotal,
		RoundedTotal:   totals.RoundedTotal,
		AmountTendered: req.AmountTendered,
		ChangeDue:      changeDue,
		Lines:          lines,
		Change:         entries,
		CreatedAt:      s.now(),
	}

	if err := tx.SaveInvoice(ctx, inv); err != nil {
		return nil, err
	}

	return inv, nil
}

func applyTopUp(ctx context.Context, tx repository.SettlementTx, topUp map[int64]int64, pool map[int64]int64) error {
	faces := make([]int64, 0, len(topUp))
	for face := range topUp {
		faces = append(faces, face)
	}
	sort.Slice(faces, func(i, j int) bool { return faces[i] > faces[j] })

	for _, face := range faces {
		count := topUp[face]
		if _, ok := pool[face]; !ok {
			return newError(CodeInvalidRequest, fmt.Errorf("unknown denomination %d", face))
		}
		if count == 0 {
			continue
		}

		updated, err := tx.AdjustDenomination(ctx, face, count)
		if err != nil {
			return err
		}
		pool[face] = updated
	}
	return nil
}

func uniqueProductIDs(cart []model.CartLine) []string {
	seen := make(map[string]struct{}, len(cart))
	ids := make([]string, 0, len(cart))
	for _, item := range cart {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	sort.Strings(ids)
	return ids
}

func (s *Service) settlementError(err error) error {
	var se *SettlementError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, repository.ErrRetryLater) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newError(CodeRetryLater, err)
	}
	if errors.Is(err, repository.ErrUnknownDenomination) {
		return newError(CodeInvalidRequest, err)
	}
	return fmt.Errorf("settle: %w", err)
}

// GetInvoice возвращает сохранённый чек.
func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*model.Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// ListInvoices возвращает чеки покупателя или все чеки, начиная с последних.
func (s *Service) ListInvoices(ctx context.Context, filter model.InvoiceFilter) ([]model.Invoice, error) {
	return s.repo.ListInvoices(ctx, filter)
}

// ListProducts возвращает каталог товаров.
func (s *Service) ListProducts(ctx context.Context) ([]model.Product, error) {
	return s.repo.ListProducts(ctx)
}

// GetProduct возвращает товар каталога.
func (s *Service) GetProduct(ctx context.Context, productID string) (*model.Product, error) {
	return s.repo.GetProduct(ctx, productID)
}

// ListDenominations возвращает содержимое кассы.
func (s *Service) ListDenominations(ctx context.Context) ([]model.Denomination, error) {
	return s.repo.ListDenominations(ctx)
}
