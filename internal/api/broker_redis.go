package api

import (
    "context"
    "encoding/json"
    "os"
    "sync"
    "time"

    redis "github.com/redis/go-redis/v9"
)

// RedisBroker implements EventBroker over Redis Pub/Sub so delivery events
// reach dashboards connected to any API instance.
type RedisBroker struct {
    rdb *redis.Client

    mu  sync.Mutex
    pss map[chan SSEEvent]*redis.PubSub
}

func NewRedisBroker() (*RedisBroker, error) {
    url := os.Getenv("REDIS_URL")
    opt, err := redis.ParseURL(url)
    if err != nil { return nil, err }
    return &RedisBroker{rdb: redis.NewClient(opt), pss: map[chan SSEEvent]*redis.PubSub{}}, nil
}

func (b *RedisBroker) Subscribe(key string) chan SSEEvent {
    ch := make(chan SSEEvent, 16)
    ctx := context.Background()
    ps := b.rdb.Subscribe(ctx, b.chanName(key))
    // initial consume to ensure subscription
    _, _ = ps.Receive(ctx)
    b.mu.Lock()
    b.pss[ch] = ps
    b.mu.Unlock()
    go func() {
        // ch is closed here and only here, after ps.Channel drains on close
        defer close(ch)
        for msg := range ps.Channel() {
            var evt SSEEvent
            if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
                select { case ch <- evt: default: }
            }
        }
    }()
    return ch
}

func (b *RedisBroker) Unsubscribe(key string, ch chan SSEEvent) {
    b.mu.Lock()
    ps := b.pss[ch]
    delete(b.pss, ch)
    b.mu.Unlock()
    if ps != nil { _ = ps.Close() }
}

func (b *RedisBroker) Publish(key string, evt SSEEvent) {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    data, _ := json.Marshal(evt)
    _ = b.rdb.Publish(ctx, b.chanName(key), data).Err()
    if key != Firehose {
        _ = b.rdb.Publish(ctx, b.chanName(Firehose), data).Err()
    }
}

func (b *RedisBroker) chanName(key string) string {
    if key == Firehose { return "deliveries:_all" }
    return "deliveries:" + key
}
