package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jordan-wright/email"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/billing-system/internal/model"
)

func testInvoice() *model.Invoice {
	return &model.Invoice{
		ID:             uuid.MustParse("6f1c1e1a-2b3c-4d5e-8f90-a1b2c3d4e5f6"),
		CustomerEmail:  "buyer@example.com",
		Subtotal:       decimal.RequireFromString("50000.00"),
		TaxTotal:       decimal.RequireFromString("9000.00"),
		NetTotal:       decimal.RequireFromString("59000.00"),
		RoundedTotal:   decimal.RequireFromString("59000"),
		AmountTendered: decimal.RequireFromString("60000"),
		ChangeDue:      decimal.RequireFromString("1000"),
		Lines: []model.InvoiceLine{{
			ProductID:      "P001",
			ProductName:    "Laptop",
			Quantity:       1,
			UnitPrice:      decimal.RequireFromString("50000.00"),
			TaxRatePercent: decimal.NewFromInt(18),
			TaxAmount:      decimal.RequireFromString("9000.00"),
			LineTotal:      decimal.RequireFromString("59000.00"),
		}},
		Change:    []model.ChangeEntry{{FaceValue: 500, Count: 2}},
		CreatedAt: time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC),
	}
}

type stubSender struct {
	name string

	mu       sync.Mutex
	calls    int
	failures int
	err      error
	sent     chan *model.Invoice
}

func (s *stubSender) Name() string { return s.name }

func (s *stubSender) Send(_ context.Context, inv *model.Invoice) error {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	s.mu.Unlock()

	if fail {
		return s.err
	}
	if s.sent != nil {
		s.sent <- inv
	}
	return nil
}

func (s *stubSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type rateLimited struct{ delay time.Duration }

func (e rateLimited) Error() string { return "rate limited" }
func (e rateLimited) RetryAfter() time.Duration { return e.delay }

func TestRenderInvoice(t *testing.T) {
	body, err := RenderInvoice(testInvoice())
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "Invoice #: 6f1c1e1a-2b3c-4d5e-8f90-a1b2c3d4e5f6")
	assert.Contains(t, text, "Date: 2024-03-01 12:30:00")
	assert.Contains(t, text, "  Laptop x 1 @ ₹50000.00 = ₹59000.00\n")
	assert.Contains(t, text, "Total Tax: ₹9000.00\n")
	assert.Contains(t, text, "Rounded Price: ₹59000.00\n")
	assert.Contains(t, text, "Balance: ₹1000.00\n\nBalance Denominations:\n  ₹500 x 2\n")
	assert.True(t, strings.HasSuffix(text, "Billing System\n"))
}

func TestRenderInvoice_NoChange(t *testing.T) {
	inv := testInvoice()
	inv.ChangeDue = decimal.Zero
	inv.Change = nil

	body, err := RenderInvoice(inv)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "Balance Denominations")
	assert.Contains(t, string(body), "Balance: ₹0.00\n\nThank you for shopping with us!")
}

func TestMailer_Send(t *testing.T) {
	m := NewMailer(MailerConfig{Host: "smtp.example.com", Port: 587, User: "shop@example.com", Password: "secret"})

	var (
		sent     *email.Email
		sentAddr string
		sentAuth smtp.Auth
	)
	m.transport = func(e *email.Email, addr string, auth smtp.Auth) error {
		sent, sentAddr, sentAuth = e, addr, auth
		return nil
	}

	require.NoError(t, m.Send(context.Background(), testInvoice()))
	require.NotNil(t, sent)
	assert.Equal(t, "smtp.example.com:587", sentAddr)
	assert.NotNil(t, sentAuth)
	assert.Equal(t, "shop@example.com", sent.From)
	assert.Equal(t, []string{"buyer@example.com"}, sent.To)
	assert.Equal(t, "Invoice #6f1c1e1a-2b3c-4d5e-8f90-a1b2c3d4e5f6 - Thank you for your purchase", sent.Subject)
	assert.Contains(t, string(sent.Text), "Thank you for your purchase!")

	m.transport = func(*email.Email, string, smtp.Auth) error { return errors.New("connection refused") }
	assert.Error(t, m.Send(context.Background(), testInvoice()))
}

func TestDispatcher_DeliversToAllSenders(t *testing.T) {
	queue := NewMemoryQueue(10)
	mail := &stubSender{name: "email", sent: make(chan *model.Invoice, 1)}
	hook := &stubSender{name: "webhook", sent: make(chan *model.Invoice, 1)}
	d := NewDispatcher(queue, []Sender{mail, hook}, nil, WithWorkers(2), WithBackoff(0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	inv := testInvoice()
	require.NoError(t, d.Deliver(context.Background(), inv))

	for _, ch := range []chan *model.Invoice{mail.sent, hook.sent} {
		select {
		case got := <-ch:
			assert.Equal(t, inv.ID, got.ID)
		case <-time.After(2 * time.Second):
			t.Fatal("invoice was not delivered")
		}
	}

	cancel()
	<-done
	assert.Empty(t, queue.DeadLetters())
}

func TestDispatcher_RetriesThenSucceeds(t *testing.T) {
	queue := NewMemoryQueue(1)
	s := &stubSender{name: "webhook", failures: 2, err: rateLimited{delay: time.Millisecond}}
	d := NewDispatcher(queue, []Sender{s}, nil, WithMaxAttempts(3), WithBackoff(time.Millisecond))

	d.process(context.Background(), &Job{Invoice: *testInvoice()})

	assert.Equal(t, 3, s.Calls())
	assert.Empty(t, queue.DeadLetters())
}

func TestDispatcher_DeadLetterAfterMaxAttempts(t *testing.T) {
	queue := NewMemoryQueue(1)
	failing := &stubSender{name: "email", failures: 100, err: errors.New("smtp down")}
	ok := &stubSender{name: "webhook"}
	d := NewDispatcher(queue, []Sender{failing, ok}, nil, WithMaxAttempts(2), WithBackoff(time.Millisecond))

	inv := testInvoice()
	d.process(context.Background(), &Job{Invoice: *inv})

	assert.Equal(t, 2, failing.Calls())
	assert.Equal(t, 1, ok.Calls())

	dead := queue.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, QueueInvoiceEmail, dead[0].OriginalQueue)
	assert.Equal(t, "email", dead[0].Sender)
	assert.Equal(t, inv.ID.String(), dead[0].InvoiceID)
	assert.Equal(t, "smtp down", dead[0].Reason)
	assert.Equal(t, 2, dead[0].Attempts)
	assert.Contains(t, string(dead[0].Payload), inv.ID.String())
}

func TestDispatcher_DeliverWithoutSendersIsNoop(t *testing.T) {
	queue := NewMemoryQueue(1)
	d := NewDispatcher(queue, nil, nil)

	require.NoError(t, d.Deliver(context.Background(), testInvoice()))
	require.NoError(t, d.Deliver(context.Background(), testInvoice()))
}

func TestMemoryQueue_Full(t *testing.T) {
	queue := NewMemoryQueue(1)
	d := NewDispatcher(queue, []Sender{&stubSender{name: "email"}}, nil)

	require.NoError(t, d.Deliver(context.Background(), testInvoice()))
	err := d.Deliver(context.Background(), testInvoice())
	assert.ErrorIs(t, err, ErrQueueFull)

	ctx, cancel := context.WithCancel(context.Background())
	job, err := queue.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	cancel()
	_, err = queue.Pop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
