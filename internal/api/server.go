package api

import (
    "os"
    "strings"

    "sitewatch/internal/auth"
    "sitewatch/internal/store"
    "sitewatch/internal/webhooks"
)

type Server struct {
    Store  store.Store
    Pub    *webhooks.Publisher
    Auth   *auth.Verifier
    Broker EventBroker
}

// NewServer creates a Server. If DATABASE_URL is unset, uses in-memory store.
func NewServer() (*Server, error) {
    dsn := os.Getenv("DATABASE_URL")
    var s store.Store
    if strings.TrimSpace(dsn) == "" {
        s = store.NewMemory()
    } else {
        sp, err := store.NewPostgres(dsn)
        if err != nil {
            return nil, err
        }
        // Run migrations (dev helper)
        if os.Getenv("DB_MIGRATE") != "false" {
            _ = sp.MigrateDir("db/migrations")
        }
        s = sp
    }
    // Broker selection
    var broker EventBroker
    if os.Getenv("REDIS_URL") != "" {
        if rb, err := NewRedisBroker(); err == nil { broker = rb } else { broker = NewBroker() }
    } else {
        broker = NewBroker()
    }
    return &Server{Store: s, Pub: webhooks.NewPublisher(s), Auth: auth.NewVerifierFromEnv(), Broker: broker}, nil
}

// NewWebhookWorker creates a background worker for webhook deliveries, wired
// to the broker so dashboards see outcomes live.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
    w := webhooks.NewWorker(s.Store)
    w.Notifier = brokerNotifier{s.Broker}
    return w
}

// brokerNotifier adapts the EventBroker to the worker's Notifier interface.
type brokerNotifier struct {
    broker EventBroker
}

func (n brokerNotifier) DeliveryAttempted(subscriptionID string, data map[string]any) {
    n.broker.Publish(subscriptionID, SSEEvent{Type: "delivery.attempted", Data: data})
}
