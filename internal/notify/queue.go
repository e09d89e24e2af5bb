// Package notify доставляет готовые чеки покупателям в фоне: очередь заданий,
// пул обработчиков, повторы и очередь недоставленных.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mmeshcher/billing-system/internal/model"
)

const (
	// QueueInvoiceEmail - Redis-список заданий на доставку чеков.
	QueueInvoiceEmail = "jobs:invoice-email"
	// DLQPrefix - префикс списка недоставленных заданий.
	DLQPrefix = "dlq:"
)

// ErrQueueFull возвращается, если в очереди в памяти нет места.
var ErrQueueFull = errors.New("notification queue is full")

// Job - задание на доставку одного чека.
type Job struct {
	Invoice    model.Invoice `json:"invoice"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
}

// DeadLetter - задание, которое не удалось доставить после всех попыток.
type DeadLetter struct {
	OriginalQueue string          `json:"original_queue"`
	Sender        string          `json:"sender"`
	InvoiceID     string          `json:"invoice_id"`
	Payload       json.RawMessage `json:"payload"`
	Reason        string          `json:"reason"`
	FailedAt      string          `json:"failed_at"`
	Attempts      int             `json:"attempts"`
}

// Queue - очередь заданий на доставку.
type Queue interface {
	// Push ставит задание в очередь.
	Push(ctx context.Context, job Job) error
	// Pop ждёт следующее задание. (nil, nil) означает, что за время ожидания заданий не было.
	Pop(ctx context.Context) (*Job, error)
	// DeadLetter откладывает недоставленное задание для ручного разбора.
	DeadLetter(ctx context.Context, entry DeadLetter) error
}

// MemoryQueue - очередь в памяти процесса. Задания теряются при перезапуске.
type MemoryQueue struct {
	jobs chan Job

	mu   sync.Mutex
	dead []DeadLetter
}

// NewMemoryQueue создаёт очередь на size заданий.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1
	}
	return &MemoryQueue{jobs: make(chan Job, size)}
}

func (q *MemoryQueue) Push(_ context.Context, job Job) error {
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Pop(ctx context.Context) (*Job, error) {
	select {
	case job := <-q.jobs:
		return &job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) DeadLetter(_ context.Context, entry DeadLetter) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, entry)
	return nil
}

// DeadLetters возвращает копию недоставленных заданий.
func (q *MemoryQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}

// RedisQueue хранит задания в Redis-списке: LPUSH на запись, BRPOP на чтение.
type RedisQueue struct {
	rdb         *redis.Client
	key         string
	pollTimeout time.Duration
}

// NewRedisQueue подключается к Redis по URL вида redis://host:port/db.
func NewRedisQueue(ctx context.Context, url string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisQueue{rdb: rdb, key: QueueInvoiceEmail, pollTimeout: 5 * time.Second}, nil
}

// Close закрывает соединение с Redis.
func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}

func (q *RedisQueue) Push(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context) (*Job, error) {
	// Ожидание ограничено pollTimeout, чтобы обработчик регулярно проверял ctx.
	result, err := q.rdb.BRPop(ctx, q.pollTimeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("pop job: %w", err)
	}
	if len(result) < 2 {
		return nil, nil
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

func (q *RedisQueue) DeadLetter(ctx context.Context, entry DeadLetter) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	if err := q.rdb.LPush(ctx, DLQPrefix+q.key, data).Err(); err != nil {
		return fmt.Errorf("push dead letter: %w", err)
	}
	return nil
}

// DLQLength возвращает число недоставленных заданий.
func (q *RedisQueue) DLQLength(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, DLQPrefix+q.key).Result()
}
