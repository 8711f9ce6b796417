package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisOutboxSize = 256

type redisOutbound struct {
	channel string
	data    []byte
}

// RedisBroker implements EventBroker over Redis Pub/Sub so several API
// replicas can share live updates. Publish only queues the event; a single
// goroutine sends them in order, so callers never wait on Redis.
type RedisBroker struct {
	rdb *redis.Client
	log zerolog.Logger

	mu   sync.Mutex
	subs map[chan SSEEvent]*redis.PubSub

	out       chan redisOutbound
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewRedisBroker(url string, log zerolog.Logger) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewRedisBrokerClient(redis.NewClient(opt), log), nil
}

func NewRedisBrokerClient(rdb *redis.Client, log zerolog.Logger) *RedisBroker {
	b := &RedisBroker{
		rdb:  rdb,
		log:  log.With().Str("component", "redis_broker").Logger(),
		subs: map[chan SSEEvent]*redis.PubSub{},
		out:  make(chan redisOutbound, redisOutboxSize),
		stop: make(chan struct{}),
	}
	b.wg.Add(1)
	go b.sendLoop()
	return b
}

func (b *RedisBroker) sendLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stop:
			return
		case m := <-b.out:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := b.rdb.Publish(ctx, m.channel, m.data).Err(); err != nil {
				b.log.Warn().Err(err).Str("channel", m.channel).Msg("publish event")
			}
			cancel()
		}
	}
}

func (b *RedisBroker) Subscribe(tenantID string) chan SSEEvent {
	ch := make(chan SSEEvent, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, b.chanName(tenantID))
	// initial consume to ensure subscription
	_, _ = ps.Receive(ctx)

	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()

	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt SSEEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
				select {
				case ch <- evt:
				default:
				}
			}
		}
	}()
	return ch
}

// Unsubscribe closes the underlying PubSub; ch is closed once its reader goroutine exits.
func (b *RedisBroker) Unsubscribe(tenantID string, ch chan SSEEvent) {
	b.mu.Lock()
	ps, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		_ = ps.Close()
	}
}

// Publish queues evt for delivery. A full queue drops the event.
func (b *RedisBroker) Publish(tenantID string, evt SSEEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		b.log.Error().Err(err).Str("tenant", tenantID).Msg("encode event")
		return
	}
	select {
	case b.out <- redisOutbound{channel: b.chanName(tenantID), data: data}:
	case <-b.stop:
	default:
		b.log.Warn().Str("tenant", tenantID).Str("type", evt.Type).Msg("event queue full, dropping")
	}
}

func (b *RedisBroker) Ping(ctx context.Context) error { return b.rdb.Ping(ctx).Err() }

// Close stops the sender and closes the client. Queued events not yet sent are dropped.
func (b *RedisBroker) Close() error {
	b.closeOnce.Do(func() { close(b.stop) })
	b.wg.Wait()
	return b.rdb.Close()
}

func (b *RedisBroker) chanName(tenantID string) string { return "routedesk:events:" + tenantID }
