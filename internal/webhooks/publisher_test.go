package webhooks

import (
    "context"
    "testing"

    "sitewatch/internal/model"
    "sitewatch/internal/store"
)

func mkSub(t *testing.T, m *store.Memory, url string, events []string, active bool) model.Subscription {
    t.Helper()
    sub, err := m.CreateSubscription(context.Background(), model.SubscriptionRequest{
        TenantID: "t1",
        Name:     "test",
        URL:      url,
        Events:   events,
        Active:   &active,
    })
    if err != nil { t.Fatalf("create subscription: %v", err) }
    return sub
}

func TestEmitEnqueuesForMatchingSubscriptions(t *testing.T) {
    m := store.NewMemory()
    matched := mkSub(t, m, "https://a.example.com/hook", []string{"alert_created"}, true)
    mkSub(t, m, "https://b.example.com/hook", []string{"site_down"}, true)
    wildcard := mkSub(t, m, "https://c.example.com/hook", []string{"*"}, true)
    mkSub(t, m, "https://d.example.com/hook", []string{"alert_created"}, false)

    p := NewPublisher(m)
    if err := p.Emit(context.Background(), "t1", "alert_created", model.Alert{ID: "a1", Title: "x"}); err != nil {
        t.Fatalf("emit: %v", err)
    }

    items, _, err := m.ListDeliveries(context.Background(), "t1", "", "", 10)
    if err != nil { t.Fatalf("list: %v", err) }
    if len(items) != 2 { t.Fatalf("expected 2 deliveries, got %d", len(items)) }
    got := map[string]bool{}
    for _, d := range items {
        got[d.SubscriptionID] = true
        if d.EventType != "alert_created" { t.Fatalf("event type: %q", d.EventType) }
        if d.Status != store.DeliveryPending { t.Fatalf("status: %q", d.Status) }
    }
    if !got[matched.ID] || !got[wildcard.ID] {
        t.Fatalf("wrong subscriptions matched: %v", got)
    }
}

func TestEmitIsTenantScoped(t *testing.T) {
    m := store.NewMemory()
    if _, err := m.CreateSubscription(context.Background(), model.SubscriptionRequest{
        TenantID: "t2", URL: "https://other.example.com/hook", Events: []string{"*"},
    }); err != nil {
        t.Fatalf("create: %v", err)
    }

    p := NewPublisher(m)
    if err := p.Emit(context.Background(), "t1", "alert_created", model.Alert{ID: "a1"}); err != nil {
        t.Fatalf("emit: %v", err)
    }
    items, _, _ := m.ListDeliveries(context.Background(), "t2", "", "", 10)
    if len(items) != 0 { t.Fatalf("cross-tenant deliveries: %d", len(items)) }
}

func TestEmitInvalidEndpointSurfacesError(t *testing.T) {
    m := store.NewMemory()
    mkSub(t, m, "not a url", []string{"alert_created"}, true)
    good := mkSub(t, m, "https://ok.example.com/hook", []string{"alert_created"}, true)

    p := NewPublisher(m)
    err := p.Emit(context.Background(), "t1", "alert_created", model.Alert{ID: "a1"})
    if err == nil { t.Fatal("expected a configuration error") }

    // The valid destination is still enqueued.
    items, _, _ := m.ListDeliveries(context.Background(), "t1", "", "", 10)
    if len(items) != 1 || items[0].SubscriptionID != good.ID {
        t.Fatalf("deliveries: %+v", items)
    }
}

func TestEmitRequiresEventType(t *testing.T) {
    p := NewPublisher(store.NewMemory())
    if err := p.Emit(context.Background(), "t1", "", model.Alert{}); err == nil {
        t.Fatal("expected error for empty event type")
    }
}

func TestEmitTouchesLastTriggered(t *testing.T) {
    m := store.NewMemory()
    sub := mkSub(t, m, "https://ok.example.com/hook", []string{"*"}, true)

    p := NewPublisher(m)
    if err := p.Emit(context.Background(), "t1", "site_down", model.Alert{ID: "a1"}); err != nil {
        t.Fatalf("emit: %v", err)
    }
    got, err := m.GetSubscription(context.Background(), "t1", sub.ID)
    if err != nil { t.Fatalf("get: %v", err) }
    if got.LastTriggeredAt == nil { t.Fatal("lastTriggeredAt not set") }
}

func TestValidateEndpoint(t *testing.T) {
    bad := []string{"", "not a url", "ftp://example.com/x", "https://"}
    for _, u := range bad {
        if err := ValidateEndpoint(u); err == nil {
            t.Fatalf("expected error for %q", u)
        }
    }
    good := []string{"http://example.com/hook", "https://hooks.slack.com/services/T/B/x"}
    for _, u := range good {
        if err := ValidateEndpoint(u); err != nil {
            t.Fatalf("unexpected error for %q: %v", u, err)
        }
    }
}
