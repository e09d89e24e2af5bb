package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strconv"
	"text/template"

	"github.com/jordan-wright/email"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/billing-system/internal/model"
)

var invoiceTemplate = template.Must(template.New("invoice").Funcs(template.FuncMap{
	"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
}).Parse(`Dear Customer,

Thank you for your purchase!

Invoice #: {{.ID}}
Date: {{.CreatedAt.Format "2006-01-02 15:04:05"}}

Items Purchased:
{{range .Lines}}  {{.ProductName}} x {{.Quantity}} @ ₹{{money .UnitPrice}} = ₹{{money .LineTotal}}
{{end}}
Total (without tax): ₹{{money .Subtotal}}
Total Tax: ₹{{money .TaxTotal}}
Net Price: ₹{{money .NetTotal}}
Rounded Price: ₹{{money .RoundedTotal}}
Amount Paid: ₹{{money .AmountTendered}}
Balance: ₹{{money .ChangeDue}}
{{if .Change}}
Balance Denominations:
{{range .Change}}  ₹{{.FaceValue}} x {{.Count}}
{{end}}{{end}}
Thank you for shopping with us!

Best regards,
Billing System
`))

// MailerConfig - параметры SMTP-сервера.
type MailerConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// Mailer отправляет чек покупателю письмом через SMTP.
type Mailer struct {
	host     string
	user     string
	password string
	from     string
	addr     string

	transport func(e *email.Email, addr string, auth smtp.Auth) error
}

// NewMailer создаёт отправителя писем. Если From не задан, используется User.
func NewMailer(cfg MailerConfig) *Mailer {
	from := cfg.From
	if from == "" {
		from = cfg.User
	}
	return &Mailer{
		host:     cfg.Host,
		user:     cfg.User,
		password: cfg.Password,
		from:     from,
		addr:     cfg.Host + ":" + strconv.Itoa(cfg.Port),
		transport: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

func (m *Mailer) Name() string {
	return "email"
}

// Send отправляет письмо с чеком на адрес покупателя.
func (m *Mailer) Send(ctx context.Context, inv *model.Invoice) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := RenderInvoice(inv)
	if err != nil {
		return err
	}

	e := email.NewEmail()
	e.From = m.from
	e.To = []string{inv.CustomerEmail}
	e.Subject = Subject(inv)
	e.Text = body

	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.password, m.host)
	}

	if err := m.transport(e, m.addr, auth); err != nil {
		return fmt.Errorf("mailer: send invoice %s: %w", inv.ID, err)
	}
	return nil
}

// Subject возвращает тему письма с чеком.
func Subject(inv *model.Invoice) string {
	return fmt.Sprintf("Invoice #%s - Thank you for your purchase", inv.ID)
}

// RenderInvoice формирует текст письма с чеком.
func RenderInvoice(inv *model.Invoice) ([]byte, error) {
	var buf bytes.Buffer
	if err := invoiceTemplate.Execute(&buf, inv); err != nil {
		return nil, fmt.Errorf("render invoice: %w", err)
	}
	return buf.Bytes(), nil
}
