// Package webhook отправляет готовые чеки на внешний HTTP-адрес.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/billing-system/internal/model"
)

// RetryAfterError возвращается, если получатель ответил 429.
type RetryAfterError struct {
	Delay time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("webhook rate limited, retry after %s", e.Delay)
}

// RetryAfter сообщает, через сколько можно повторить отправку.
func (e *RetryAfterError) RetryAfter() time.Duration {
	return e.Delay
}

// Client инкапсулирует HTTP-взаимодействие с получателем чеков.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient создаёт клиент для отправки чеков по указанному адресу.
func NewClient(url string) *Client {
	url = strings.TrimSpace(url)
	if url != "" && !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}

	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Name возвращает имя канала доставки для логов.
func (c *Client) Name() string {
	return "webhook"
}

// Send отправляет чек в формате JSON. Успехом считается любой ответ 2xx.
func (c *Client) Send(ctx context.Context, inv *model.Invoice) error {
	if c == nil || c.url == "" {
		return fmt.Errorf("webhook client not configured")
	}

	body, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("encode invoice: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "billing-system-webhook/1.0")
	req.Header.Set("X-Invoice-ID", inv.ID.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		var delay time.Duration
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				delay = time.Duration(seconds) * time.Second
			}
		}
		return &RetryAfterError{Delay: delay}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
