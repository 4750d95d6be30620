package webhooks

import (
    "context"
    "errors"
    "fmt"
    "net/url"
    "time"

    "sitewatch/internal/metrics"
    "sitewatch/internal/model"
    "sitewatch/internal/store"
)

// Publisher fans a domain event out to matching subscriptions. Enqueue only;
// the actual HTTP delivery happens in the Worker.
type Publisher struct {
    Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
    return &Publisher{Store: s}
}

// Emit routes the event to all active matching subscriptions, renders one
// payload per destination and enqueues a delivery task for each. It returns
// immediately without waiting for any delivery outcome.
//
// Configuration errors (missing/invalid endpoint URL) are the one class
// surfaced synchronously: the affected task is not enqueued and the error is
// returned to the caller. Delivery failures are recorded asynchronously in the
// attempt log and never propagate back here.
func (p *Publisher) Emit(ctx context.Context, tenantID, eventType string, alert model.Alert) error {
    if eventType == "" {
        return errors.New("event type required")
    }
    subs, err := p.Store.GetSubscriptionsForEvent(ctx, tenantID, eventType)
    if err != nil {
        return fmt.Errorf("route event %s: %w", eventType, err)
    }
    now := time.Now().UTC()
    evt := Event{Type: eventType, At: now, Alert: alert}
    var errs []error
    for _, sub := range subs {
        if err := ValidateEndpoint(sub.URL); err != nil {
            errs = append(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
            continue
        }
        payload := Render(evt, sub)
        _, err := p.Store.EnqueueDelivery(ctx, store.WebhookDelivery{
            TenantID:       tenantID,
            SubscriptionID: sub.ID,
            EventType:      eventType,
            URL:            sub.URL,
            Secret:         sub.Secret,
            Payload:        payload,
            MaxAttempts:    sub.MaxRetries,
        })
        if err != nil {
            errs = append(errs, fmt.Errorf("enqueue for subscription %s: %w", sub.ID, err))
            continue
        }
        // Display-only timestamp, owned by the dispatcher.
        _ = p.Store.TouchSubscription(ctx, sub.ID, now)
        metrics.EventsEnqueued.WithLabelValues(eventType).Inc()
    }
    return errors.Join(errs...)
}

// ValidateEndpoint checks that a destination URL is usable for delivery.
func ValidateEndpoint(raw string) error {
    if raw == "" {
        return errors.New("endpoint URL is empty")
    }
    u, err := url.Parse(raw)
    if err != nil {
        return fmt.Errorf("invalid endpoint URL: %w", err)
    }
    if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
        return fmt.Errorf("invalid endpoint URL: %s", raw)
    }
    return nil
}
