package api

import (
    "sync"
)

// Firehose is the subscription key that receives every delivery event.
const Firehose = "*"

type SSEEvent struct {
    Type string
    Data map[string]any
}

// EventBroker fans delivery outcomes out to dashboard streams (SSE/WS).
type EventBroker interface {
    Subscribe(key string) chan SSEEvent
    Unsubscribe(key string, ch chan SSEEvent)
    Publish(key string, evt SSEEvent)
}

// Broker is the in-memory EventBroker.
type Broker struct {
    mu   sync.Mutex
    subs map[string]map[chan SSEEvent]struct{} // subscription id (or Firehose) -> set of channels
}

func NewBroker() *Broker {
    return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(key string) chan SSEEvent {
    ch := make(chan SSEEvent, 8)
    b.mu.Lock()
    if b.subs[key] == nil { b.subs[key] = map[chan SSEEvent]struct{}{} }
    b.subs[key][ch] = struct{}{}
    b.mu.Unlock()
    return ch
}

func (b *Broker) Unsubscribe(key string, ch chan SSEEvent) {
    b.mu.Lock()
    if m := b.subs[key]; m != nil {
        delete(m, ch)
        if len(m) == 0 { delete(b.subs, key) }
    }
    b.mu.Unlock()
    close(ch)
}

func (b *Broker) Publish(key string, evt SSEEvent) {
    b.mu.Lock()
    for _, k := range []string{key, Firehose} {
        for ch := range b.subs[k] {
            select { case ch <- evt: default: }
        }
    }
    b.mu.Unlock()
}
