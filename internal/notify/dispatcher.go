package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/billing-system/internal/model"
)

// Sender - один канал доставки чека: почта, вебхук.
type Sender interface {
	Name() string
	Send(ctx context.Context, inv *model.Invoice) error
}

// retryAfter реализуют ошибки, в которых получатель сам назначил паузу перед повтором.
type retryAfter interface {
	RetryAfter() time.Duration
}

// Dispatcher принимает чеки в очередь и доставляет их пулом обработчиков.
type Dispatcher struct {
	queue       Queue
	senders     []Sender
	logger      *zap.Logger
	workers     int
	maxAttempts int
	backoff     time.Duration
}

// Option настраивает Dispatcher.
type Option func(*Dispatcher)

// WithWorkers задаёт число обработчиков.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithMaxAttempts задаёт число попыток отправки в каждый канал.
func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithBackoff задаёт шаг линейной паузы между попытками.
func WithBackoff(step time.Duration) Option {
	return func(d *Dispatcher) {
		d.backoff = step
	}
}

// NewDispatcher создаёт диспетчер доставки чеков.
func NewDispatcher(queue Queue, senders []Sender, logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		queue:       queue,
		senders:     senders,
		logger:      logger,
		workers:     4,
		maxAttempts: 3,
		backoff:     2 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver ставит чек в очередь и сразу возвращает управление.
func (d *Dispatcher) Deliver(ctx context.Context, inv *model.Invoice) error {
	if len(d.senders) == 0 {
		return nil
	}
	if err := d.queue.Push(ctx, Job{Invoice: *inv, EnqueuedAt: time.Now().UTC()}); err != nil {
		return fmt.Errorf("enqueue invoice %s: %w", inv.ID, err)
	}
	return nil
}

// Run запускает обработчики и блокируется до отмены ctx.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.runWorker(ctx, id)
		}(i)
	}
	d.logger.Info("notification workers started", zap.Int("workers", d.workers))

	wg.Wait()
	d.logger.Info("notification workers stopped")
	return nil
}

func (d *Dispatcher) runWorker(ctx context.Context, id int) {
	for {
		job, err := d.queue.Pop(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			d.logger.Error("pop notification job", zap.Int("worker", id), zap.Error(err))
			if !sleep(ctx, time.Second) {
				return
			}
			continue
		}
		if job == nil {
			continue
		}

		d.process(ctx, job)
	}
}

func (d *Dispatcher) process(ctx context.Context, job *Job) {
	inv := &job.Invoice
	for _, s := range d.senders {
		attempts, err := d.sendWithRetry(ctx, s, inv)
		if err == nil {
			d.logger.Info("invoice delivered",
				zap.String("invoice_id", inv.ID.String()),
				zap.String("sender", s.Name()),
				zap.Int("attempts", attempts))
			continue
		}
		if ctx.Err() != nil {
			return
		}
		d.deadLetter(ctx, job, s.Name(), err, attempts)
	}
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, s Sender, inv *model.Invoice) (int, error) {
	var err error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if err = s.Send(ctx, inv); err == nil {
			return attempt, nil
		}

		d.logger.Warn("invoice delivery attempt failed",
			zap.String("invoice_id", inv.ID.String()),
			zap.String("sender", s.Name()),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == d.maxAttempts {
			return attempt, err
		}

		delay := d.backoff * time.Duration(attempt)
		var ra retryAfter
		if errors.As(err, &ra) && ra.RetryAfter() > delay {
			delay = ra.RetryAfter()
		}
		if !sleep(ctx, delay) {
			return attempt, ctx.Err()
		}
	}
	return d.maxAttempts, err
}

func (d *Dispatcher) deadLetter(ctx context.Context, job *Job, sender string, cause error, attempts int) {
	payload, err := json.Marshal(job.Invoice)
	if err != nil {
		d.logger.Error("encode dead letter", zap.Error(err))
		return
	}

	entry := DeadLetter{
		OriginalQueue: QueueInvoiceEmail,
		Sender:        sender,
		InvoiceID:     job.Invoice.ID.String(),
		Payload:       payload,
		Reason:        cause.Error(),
		FailedAt:      time.Now().UTC().Format(time.RFC3339),
		Attempts:      attempts,
	}
	if err := d.queue.DeadLetter(ctx, entry); err != nil {
		d.logger.Error("push dead letter", zap.String("invoice_id", entry.InvoiceID), zap.Error(err))
		return
	}

	d.logger.Warn("invoice moved to dead letter queue",
		zap.String("invoice_id", entry.InvoiceID),
		zap.String("sender", sender),
		zap.String("reason", entry.Reason),
		zap.Int("attempts", attempts))
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
