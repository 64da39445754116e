package feed

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"sync"
)

// RedisClient abstracts the Redis operations used by RedisWriter.
// In production this is satisfied by *redis.Client; in tests by a mock.
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...any) error
}

// RedisWriter subscribes to a Broadcaster's unified stream and persists
// the latest state of every order into Redis using the schema:
//
//	Key:    order:{order_id}
//	Fields: status, seller, token, token_id, amount, price, ts
//
// Writes are non-blocking: events are buffered in an internal channel and
// flushed by a dedicated goroutine. Repeated events that would not change
// the stored status are suppressed.
type RedisWriter struct {
	client RedisClient
	feed   <-chan Event
	buf    chan Event

	mu   sync.Mutex
	last map[string]EventType // keyed by Redis key
}

// NewRedisWriter creates a RedisWriter that reads from the Broadcaster's
// SubscribeAll channel and writes to the given Redis client.
func NewRedisWriter(client RedisClient, feed <-chan Event) *RedisWriter {
	return &RedisWriter{
		client: client,
		feed:   feed,
		buf:    make(chan Event, 1024),
		last:   make(map[string]EventType),
	}
}

// Run starts two goroutines: one to drain the Broadcaster feed into an
// internal buffer, and one to flush buffered events to Redis. It blocks
// until ctx is cancelled.
func (rw *RedisWriter) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	// Ingestion: drain the Broadcaster feed into the internal buffer
	// so we never block the Broadcaster.
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-rw.feed:
				if !ok {
					return
				}
				select {
				case rw.buf <- ev:
				default:
					// Buffer full — drop to keep up.
				}
			}
		}
	}()

	// Flusher: write buffered events to Redis.
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-rw.buf:
				if !ok {
					return
				}
				rw.write(ctx, ev)
			}
		}
	}()

	wg.Wait()
}

// write persists the order state change, skipping duplicates.
func (rw *RedisWriter) write(ctx context.Context, ev Event) {
	if ev.OrderID == 0 {
		return // swap and fee events have no order row
	}

	key := fmt.Sprintf("order:%d", ev.OrderID)

	rw.mu.Lock()
	prev, exists := rw.last[key]
	if exists && prev == ev.Type {
		rw.mu.Unlock()
		return
	}
	rw.last[key] = ev.Type
	rw.mu.Unlock()

	ts := strconv.FormatInt(ev.Timestamp.UnixMilli(), 10)
	rw.client.HSet(ctx, key,
		"status", string(ev.Type),
		"seller", ev.Seller.Hex(),
		"token", ev.Token.Hex(),
		"token_id", bigString(ev.TokenID),
		"amount", bigString(ev.Amount),
		"price", bigString(ev.Price),
		"ts", ts,
	)
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
