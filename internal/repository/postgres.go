// Package repository содержит хранилища остатков, кассы и чеков: PostgreSQL и in-memory.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/billing-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const defaultListLimit = 100

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
// lockTimeout ограничивает ожидание блокировок строк в транзакции расчёта, 0 - без ограничения.
func NewPostgresRepository(dsn string, lockTimeout time.Duration) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool, lockTimeout: lockTimeout}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет только читающие запросы. Транзакция расчёта не повторяется:
// решение о повторе принимает вызывающий по ErrRetryLater.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if (isContentionError(err) || isConnectionError(err)) && i < len(delays) {
			timer := time.NewTimer(delays[i])
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			continue
		}

		break
	}
	return err
}

func isContentionError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgerrcode.LockNotAvailable, pgerrcode.DeadlockDetected, pgerrcode.SerializationFailure:
		return true
	}
	return false
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// classify переводит ошибки конкуренции за блокировки в ErrRetryLater,
// а нарушение CHECK-ограничений остатков в ErrInventoryUnderflow.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isContentionError(err) {
		return fmt.Errorf("%w: %v", ErrRetryLater, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation {
		return fmt.Errorf("%w: %s", ErrInventoryUnderflow, pgErr.ConstraintName)
	}
	return err
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Ping проверяет доступность базы данных.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// WithinSettlement выполняет fn в одной транзакции. Ошибка fn или фиксации откатывает всё.
func (r *PostgresRepository) WithinSettlement(ctx context.Context, fn SettlementFunc) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if r.lockTimeout > 0 {
		_, err = tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`,
			fmt.Sprintf("%dms", r.lockTimeout.Milliseconds()))
		if err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	if err := fn(&pgSettlementTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", classify(err))
	}

	return nil
}

type pgSettlementTx struct {
	tx pgx.Tx
}

func (t *pgSettlementTx) LockProduct(ctx context.Context, productID string) (*model.Product, error) {
	var p model.Product
	err := t.tx.QueryRow(ctx,
		`SELECT product_id, name, unit_price, tax_rate_percent, stock_on_hand
		 FROM products
		 WHERE product_id = $1
		 FOR UPDATE`,
		productID,
	).Scan(&p.ProductID, &p.Name, &p.UnitPrice, &p.TaxRatePercent, &p.StockOnHand)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		return nil, fmt.Errorf("lock product %s: %w", productID, classify(err))
	}
	return &p, nil
}

func (t *pgSettlementTx) AdjustStock(ctx context.Context, productID string, delta int64) (int64, error) {
	var stock int64
	err := t.tx.QueryRow(ctx,
		`UPDATE products
		 SET stock_on_hand = stock_on_hand + $2, updated_at = now()
		 WHERE product_id = $1
		 RETURNING stock_on_hand`,
		productID, delta,
	).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		return 0, fmt.Errorf("adjust stock %s: %w", productID, classify(err))
	}
	return stock, nil
}

func (t *pgSettlementTx) LockDenominations(ctx context.Context) ([]model.Denomination, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT face_value, count_on_hand
		 FROM denominations
		 ORDER BY face_value DESC
		 FOR UPDATE`,
	)
	if err != nil {
		return nil, fmt.Errorf("lock denominations: %w", classify(err))
	}
	defer rows.Close()

	var res []model.Denomination
	for rows.Next() {
		var d model.Denomination
		if err := rows.Scan(&d.FaceValue, &d.CountOnHand); err != nil {
			return nil, fmt.Errorf("scan denomination: %w", err)
		}
		res = append(res, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lock denominations: %w", classify(err))
	}

	return res, nil
}

func (t *pgSettlementTx) AdjustDenomination(ctx context.Context, faceValue int64, delta int64) (int64, error) {
	var count int64
	err := t.tx.QueryRow(ctx,
		`UPDATE denominations
		 SET count_on_hand = count_on_hand + $2, updated_at = now()
		 WHERE face_value = $1
		 RETURNING count_on_hand`,
		faceValue, delta,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %d", ErrUnknownDenomination, faceValue)
		}
		return 0, fmt.Errorf("adjust denomination %d: %w", faceValue, classify(err))
	}
	return count, nil
}

func (t *pgSettlementTx) SaveInvoice(ctx context.Context, inv *model.Invoice) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO invoices (id, customer_email, subtotal, tax_total, net_total, rounded_total,
		                       amount_tendered, change_due, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		inv.ID, inv.CustomerEmail, inv.Subtotal, inv.TaxTotal, inv.NetTotal, inv.RoundedTotal,
		inv.AmountTendered, inv.ChangeDue, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", classify(err))
	}

	batch := &pgx.Batch{}
	for i, l := range inv.Lines {
		batch.Queue(
			`INSERT INTO invoice_lines (invoice_id, position, product_id, product_name, quantity,
			                            unit_price, tax_rate_percent, tax_amount, line_total)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			inv.ID, i, l.ProductID, l.ProductName, l.Quantity,
			l.UnitPrice, l.TaxRatePercent, l.TaxAmount, l.LineTotal,
		)
	}
	for _, c := range inv.Change {
		batch.Queue(
			`INSERT INTO invoice_change (invoice_id, face_value, count) VALUES ($1, $2, $3)`,
			inv.ID, c.FaceValue, c.Count,
		)
	}

	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert invoice details: %w", classify(err))
	}

	return nil
}

// GetInvoice возвращает чек со строками и сдачей.
func (r *PostgresRepository) GetInvoice(ctx context.Context, id uuid.UUID) (*model.Invoice, error) {
	var invoices []model.Invoice
	err := r.withRetry(ctx, func() error {
		var err error
		invoices, err = r.queryInvoices(ctx,
			`SELECT id, customer_email, subtotal, tax_total, net_total, rounded_total,
			        amount_tendered, change_due, created_at
			 FROM invoices
			 WHERE id = $1`,
			id,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, ErrInvoiceNotFound
	}
	return &invoices[0], nil
}

// ListInvoices возвращает чеки, начиная с последних. Пустой email - все покупатели.
func (r *PostgresRepository) ListInvoices(ctx context.Context, filter model.InvoiceFilter) ([]model.Invoice, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var invoices []model.Invoice
	err := r.withRetry(ctx, func() error {
		var err error
		invoices, err = r.queryInvoices(ctx,
			`SELECT id, customer_email, subtotal, tax_total, net_total, rounded_total,
			        amount_tendered, change_due, created_at
			 FROM invoices
			 WHERE $1 = '' OR customer_email = $1
			 ORDER BY created_at DESC
			 LIMIT $2`,
			filter.CustomerEmail, limit,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *PostgresRepository) queryInvoices(ctx context.Context, query string, args ...any) ([]model.Invoice, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select invoices: %w", err)
	}
	defer rows.Close()

	var res []model.Invoice
	for rows.Next() {
		var inv model.Invoice
		if err := rows.Scan(&inv.ID, &inv.CustomerEmail, &inv.Subtotal, &inv.TaxTotal, &inv.NetTotal,
			&inv.RoundedTotal, &inv.AmountTendered, &inv.ChangeDue, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		res = append(res, inv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if len(res) == 0 {
		return res, nil
	}

	if err := r.loadInvoiceDetails(ctx, res); err != nil {
		return nil, err
	}

	return res, nil
}

func (r *PostgresRepository) loadInvoiceDetails(ctx context.Context, invoices []model.Invoice) error {
	ids := make([]string, 0, len(invoices))
	byID := make(map[uuid.UUID]*model.Invoice, len(invoices))
	for i := range invoices {
		ids = append(ids, invoices[i].ID.String())
		byID[invoices[i].ID] = &invoices[i]
		invoices[i].Lines = []model.InvoiceLine{}
		invoices[i].Change = []model.ChangeEntry{}
	}

	rows, err := r.pool.Query(ctx,
		`SELECT invoice_id, product_id, product_name, quantity, unit_price, tax_rate_percent,
		        tax_amount, line_total
		 FROM invoice_lines
		 WHERE invoice_id = ANY($1::uuid[])
		 ORDER BY invoice_id, position`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("select invoice lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			invoiceID uuid.UUID
			l         model.InvoiceLine
		)
		if err := rows.Scan(&invoiceID, &l.ProductID, &l.ProductName, &l.Quantity, &l.UnitPrice,
			&l.TaxRatePercent, &l.TaxAmount, &l.LineTotal); err != nil {
			return fmt.Errorf("scan invoice line: %w", err)
		}
		if inv, ok := byID[invoiceID]; ok {
			inv.Lines = append(inv.Lines, l)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	changeRows, err := r.pool.Query(ctx,
		`SELECT invoice_id, face_value, count
		 FROM invoice_change
		 WHERE invoice_id = ANY($1::uuid[])
		 ORDER BY invoice_id, face_value DESC`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("select invoice change: %w", err)
	}
	defer changeRows.Close()

	for changeRows.Next() {
		var (
			invoiceID uuid.UUID
			c         model.ChangeEntry
		)
		if err := changeRows.Scan(&invoiceID, &c.FaceValue, &c.Count); err != nil {
			return fmt.Errorf("scan invoice change: %w", err)
		}
		if inv, ok := byID[invoiceID]; ok {
			inv.Change = append(inv.Change, c)
		}
	}
	if err := changeRows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	return nil
}

// ListProducts возвращает каталог товаров, отсортированный по названию.
func (r *PostgresRepository) ListProducts(ctx context.Context) ([]model.Product, error) {
	var res []model.Product
	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT product_id, name, unit_price, tax_rate_percent, stock_on_hand
			 FROM products
			 ORDER BY name`,
		)
		if err != nil {
			return fmt.Errorf("select products: %w", err)
		}
		defer rows.Close()

		res = res[:0]
		for rows.Next() {
			var p model.Product
			if err := rows.Scan(&p.ProductID, &p.Name, &p.UnitPrice, &p.TaxRatePercent, &p.StockOnHand); err != nil {
				return fmt.Errorf("scan product: %w", err)
			}
			res = append(res, p)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GetProduct возвращает товар по внешнему идентификатору.
func (r *PostgresRepository) GetProduct(ctx context.Context, productID string) (*model.Product, error) {
	var p model.Product
	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`SELECT product_id, name, unit_price, tax_rate_percent, stock_on_hand
			 FROM products
			 WHERE product_id = $1`,
			productID,
		).Scan(&p.ProductID, &p.Name, &p.UnitPrice, &p.TaxRatePercent, &p.StockOnHand)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

// ListDenominations возвращает содержимое кассы по убыванию номинала.
func (r *PostgresRepository) ListDenominations(ctx context.Context) ([]model.Denomination, error) {
	var res []model.Denomination
	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT face_value, count_on_hand FROM denominations ORDER BY face_value DESC`,
		)
		if err != nil {
			return fmt.Errorf("select denominations: %w", err)
		}
		defer rows.Close()

		res = res[:0]
		for rows.Next() {
			var d model.Denomination
			if err := rows.Scan(&d.FaceValue, &d.CountOnHand); err != nil {
				return fmt.Errorf("scan denomination: %w", err)
			}
			res = append(res, d)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
