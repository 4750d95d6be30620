package store

import (
    "context"
    "errors"
    "time"

    "sitewatch/internal/model"
)

// Store is the persistence interface used by the API server and the webhook
// delivery engine.
type Store interface {
    // Sites
    CreateSite(ctx context.Context, tenantID string, req model.SiteRequest) (model.Site, error)
    GetSite(ctx context.Context, tenantID, id string) (model.Site, error)
    ListSites(ctx context.Context, tenantID, cursor string, limit int) ([]model.Site, string, error)
    UpdateSiteStatus(ctx context.Context, tenantID, id, status string, checkedAt time.Time) (model.Site, error)

    // Alerts
    CreateAlert(ctx context.Context, tenantID string, req model.AlertRequest) (model.Alert, error)
    GetAlert(ctx context.Context, tenantID, id string) (model.Alert, error)
    ListAlerts(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.Alert, string, error)
    ResolveAlert(ctx context.Context, tenantID, id, note string) (model.Alert, error)

    // Subscriptions (destination registry; read-only to the delivery path)
    CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
    GetSubscription(ctx context.Context, tenantID, id string) (model.Subscription, error)
    GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
    ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error)
    PatchSubscription(ctx context.Context, tenantID, id string, patch model.SubscriptionPatch) (model.Subscription, error)
    DeleteSubscription(ctx context.Context, tenantID, id string) error
    TouchSubscription(ctx context.Context, id string, at time.Time) error

    // Webhook delivery queue
    EnqueueDelivery(ctx context.Context, d WebhookDelivery) (string, error)
    FetchDueDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
    MarkDeliveryDelivered(ctx context.Context, id string) error
    MarkDeliveryRetry(ctx context.Context, id string, nextAttemptAt time.Time, lastError string) error
    MarkDeliveryExhausted(ctx context.Context, id string, lastError string) error
    ListDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]WebhookDelivery, string, error)
    RetryDelivery(ctx context.Context, tenantID, id string) error

    // Delivery attempt log (append-only)
    InsertDeliveryAttempt(ctx context.Context, a model.DeliveryAttempt) (string, error)
    ListDeliveryAttempts(ctx context.Context, tenantID string, f AttemptFilter) ([]model.DeliveryAttempt, string, error)
    DeliveryStats(ctx context.Context, tenantID string, since time.Time) (map[string]any, error)
}

// AttemptFilter narrows ListDeliveryAttempts. Zero values mean "no filter".
type AttemptFilter struct {
    SubscriptionID string
    EventType      string
    Success        *bool
    Cursor         string
    Limit          int
}

var ErrNotFound = errors.New("not found")
