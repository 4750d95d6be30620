package store

import (
    "context"
    "testing"
    "time"

    "sitewatch/internal/model"
)

func TestSubscriptionRouting(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    active := true
    inactive := false

    s1, _ := m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "https://a/h", Events: []string{"alert_created", "site_down"}, Active: &active})
    s2, _ := m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "https://b/h", Events: []string{"*"}, Active: &active})
    m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "https://c/h", Events: []string{"alert_created"}, Active: &inactive})
    m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t2", URL: "https://d/h", Events: []string{"alert_created"}, Active: &active})

    subs, err := m.GetSubscriptionsForEvent(ctx, "t1", "alert_created")
    if err != nil { t.Fatalf("route: %v", err) }
    if len(subs) != 2 { t.Fatalf("expected 2 matches, got %d", len(subs)) }
    ids := map[string]bool{subs[0].ID: true, subs[1].ID: true}
    if !ids[s1.ID] || !ids[s2.ID] { t.Fatalf("wrong matches: %v", ids) }

    subs, _ = m.GetSubscriptionsForEvent(ctx, "t1", "site_recovered")
    if len(subs) != 1 || subs[0].ID != s2.ID {
        t.Fatalf("wildcard only: %+v", subs)
    }
}

func TestSubscriptionPatchAndDelete(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    sub, _ := m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "https://a/h", Events: []string{"*"}})

    newURL := "https://new/h"
    off := false
    got, err := m.PatchSubscription(ctx, "t1", sub.ID, model.SubscriptionPatch{URL: &newURL, Active: &off})
    if err != nil { t.Fatalf("patch: %v", err) }
    if got.URL != newURL || got.Active { t.Fatalf("patched: %+v", got) }

    // Deactivated subscriptions drop out of routing.
    subs, _ := m.GetSubscriptionsForEvent(ctx, "t1", "alert_created")
    if len(subs) != 0 { t.Fatalf("inactive matched: %d", len(subs)) }

    if err := m.DeleteSubscription(ctx, "t1", sub.ID); err != nil { t.Fatalf("delete: %v", err) }
    if _, err := m.GetSubscription(ctx, "t1", sub.ID); err != ErrNotFound {
        t.Fatalf("expected ErrNotFound, got %v", err)
    }
    if err := m.DeleteSubscription(ctx, "t1", sub.ID); err != ErrNotFound {
        t.Fatalf("double delete: %v", err)
    }
}

func TestDeliveryQueueLifecycle(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    id, err := m.EnqueueDelivery(ctx, WebhookDelivery{TenantID: "t1", SubscriptionID: "s1", EventType: "alert_created", URL: "https://a/h", Payload: []byte(`{}`), MaxAttempts: 3})
    if err != nil { t.Fatalf("enqueue: %v", err) }

    due, err := m.FetchDueDeliveries(ctx, 10)
    if err != nil { t.Fatalf("fetch: %v", err) }
    if len(due) != 1 || due[0].ID != id || due[0].Status != DeliveryAttempting {
        t.Fatalf("due: %+v", due)
    }
    // A claimed row is not handed out twice.
    again, _ := m.FetchDueDeliveries(ctx, 10)
    if len(again) != 0 { t.Fatalf("double claim: %+v", again) }

    if err := m.MarkDeliveryRetry(ctx, id, time.Now().Add(-time.Second), "status 500"); err != nil {
        t.Fatalf("retry: %v", err)
    }
    due, _ = m.FetchDueDeliveries(ctx, 10)
    if len(due) != 1 || due[0].Attempts != 1 { t.Fatalf("retry due: %+v", due) }

    if err := m.MarkDeliveryDelivered(ctx, id); err != nil { t.Fatalf("delivered: %v", err) }
    items, _, _ := m.ListDeliveries(ctx, "t1", DeliveryDelivered, "", 10)
    if len(items) != 1 || items[0].Attempts != 2 || items[0].DeliveredAt == nil {
        t.Fatalf("delivered row: %+v", items)
    }
    // List view omits payload bodies.
    if items[0].Payload != nil { t.Fatal("list leaked payload") }
}

func TestDeliveryRetrySkipsFutureRows(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    id, _ := m.EnqueueDelivery(ctx, WebhookDelivery{TenantID: "t1", SubscriptionID: "s1", EventType: "e", URL: "u", Payload: []byte(`{}`)})
    due, _ := m.FetchDueDeliveries(ctx, 10)
    if len(due) != 1 { t.Fatalf("due: %d", len(due)) }
    _ = m.MarkDeliveryRetry(ctx, id, time.Now().Add(time.Hour), "later")
    due, _ = m.FetchDueDeliveries(ctx, 10)
    if len(due) != 0 { t.Fatalf("future row fetched: %+v", due) }
}

func TestRequeueExhaustedDelivery(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    id, _ := m.EnqueueDelivery(ctx, WebhookDelivery{TenantID: "t1", SubscriptionID: "s1", EventType: "e", URL: "u", Payload: []byte(`{}`), MaxAttempts: 1})
    _, _ = m.FetchDueDeliveries(ctx, 10)
    _ = m.MarkDeliveryExhausted(ctx, id, "status 500")

    if err := m.RetryDelivery(ctx, "t2", id); err != ErrNotFound {
        t.Fatalf("cross tenant retry: %v", err)
    }
    if err := m.RetryDelivery(ctx, "t1", id); err != nil { t.Fatalf("retry: %v", err) }
    due, _ := m.FetchDueDeliveries(ctx, 10)
    if len(due) != 1 || due[0].Attempts != 0 { t.Fatalf("requeued: %+v", due) }
}

func TestAttemptLogAppendOnlyAndFilters(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    ok := true
    no := false
    mk := func(sub, event string, success bool, n int) {
        if _, err := m.InsertDeliveryAttempt(ctx, model.DeliveryAttempt{
            TenantID: "t1", SubscriptionID: sub, DeliveryID: "d", EventType: event,
            Payload: []byte(`{}`), Success: success, AttemptNumber: n,
        }); err != nil {
            t.Fatalf("insert: %v", err)
        }
    }
    mk("s1", "alert_created", false, 1)
    mk("s1", "alert_created", true, 2)
    mk("s2", "site_down", false, 1)

    all, _, err := m.ListDeliveryAttempts(ctx, "t1", AttemptFilter{})
    if err != nil { t.Fatalf("list: %v", err) }
    if len(all) != 3 { t.Fatalf("all: %d", len(all)) }

    bySub, _, _ := m.ListDeliveryAttempts(ctx, "t1", AttemptFilter{SubscriptionID: "s1"})
    if len(bySub) != 2 { t.Fatalf("by sub: %d", len(bySub)) }

    byEvent, _, _ := m.ListDeliveryAttempts(ctx, "t1", AttemptFilter{EventType: "site_down"})
    if len(byEvent) != 1 { t.Fatalf("by event: %d", len(byEvent)) }

    succ, _, _ := m.ListDeliveryAttempts(ctx, "t1", AttemptFilter{Success: &ok})
    if len(succ) != 1 { t.Fatalf("success filter: %d", len(succ)) }
    failed, _, _ := m.ListDeliveryAttempts(ctx, "t1", AttemptFilter{Success: &no})
    if len(failed) != 2 { t.Fatalf("failure filter: %d", len(failed)) }

    stats, err := m.DeliveryStats(ctx, "t1", time.Now().Add(-time.Minute))
    if err != nil { t.Fatalf("stats: %v", err) }
    if stats["attempts"] != 3 || stats["succeeded"] != 1 || stats["failed"] != 2 {
        t.Fatalf("stats: %+v", stats)
    }
}

func TestAttemptLogPaginationCoversAllRows(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    const total = 30
    for i := 0; i < total; i++ {
        if _, err := m.InsertDeliveryAttempt(ctx, model.DeliveryAttempt{
            TenantID: "t1", SubscriptionID: "s1", DeliveryID: "d", EventType: "alert_created",
            Payload: []byte(`{}`), AttemptNumber: 1,
        }); err != nil {
            t.Fatalf("insert: %v", err)
        }
    }
    seen := map[string]bool{}
    cursor := ""
    for {
        page, next, err := m.ListDeliveryAttempts(ctx, "t1", AttemptFilter{Cursor: cursor, Limit: 10})
        if err != nil { t.Fatalf("list: %v", err) }
        for _, a := range page {
            if seen[a.ID] { t.Fatalf("row %s returned twice", a.ID) }
            seen[a.ID] = true
        }
        if next == "" { break }
        cursor = next
    }
    if len(seen) != total {
        t.Fatalf("pagination returned %d of %d rows", len(seen), total)
    }
}

func TestDeleteSubscriptionDropsQueuedDeliveries(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    sub, _ := m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "https://a/h", Events: []string{"*"}})
    if _, err := m.EnqueueDelivery(ctx, WebhookDelivery{TenantID: "t1", SubscriptionID: sub.ID, EventType: "e", URL: "u", Payload: []byte(`{}`)}); err != nil {
        t.Fatalf("enqueue: %v", err)
    }
    if _, err := m.InsertDeliveryAttempt(ctx, model.DeliveryAttempt{TenantID: "t1", SubscriptionID: sub.ID, DeliveryID: "d", EventType: "e", Payload: []byte(`{}`), AttemptNumber: 1}); err != nil {
        t.Fatalf("insert attempt: %v", err)
    }

    if err := m.DeleteSubscription(ctx, "t1", sub.ID); err != nil { t.Fatalf("delete: %v", err) }

    due, _ := m.FetchDueDeliveries(ctx, 10)
    if len(due) != 0 { t.Fatalf("deleted subscription still due: %+v", due) }
    items, _, _ := m.ListDeliveries(ctx, "t1", "", "", 10)
    if len(items) != 0 { t.Fatalf("deleted subscription still listed: %+v", items) }
    // The audit log outlives the subscription.
    atts, _, _ := m.ListDeliveryAttempts(ctx, "t1", AttemptFilter{SubscriptionID: sub.ID})
    if len(atts) != 1 { t.Fatalf("attempt log rows: %d", len(atts)) }
}

func TestAlertsLifecycle(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    site, _ := m.CreateSite(ctx, "t1", model.SiteRequest{Name: "Acme", URL: "https://acme.example.com"})
    a, err := m.CreateAlert(ctx, "t1", model.AlertRequest{SiteID: site.ID, Title: "down", Severity: "critical"})
    if err != nil { t.Fatalf("create alert: %v", err) }
    if a.SiteName != "Acme" || a.SiteURL != "https://acme.example.com" {
        t.Fatalf("denormalized site fields: %+v", a)
    }
    if a.Status != "open" { t.Fatalf("status: %q", a.Status) }

    open, _, _ := m.ListAlerts(ctx, "t1", "open", "", 10)
    if len(open) != 1 { t.Fatalf("open alerts: %d", len(open)) }

    r, err := m.ResolveAlert(ctx, "t1", a.ID, "fixed")
    if err != nil { t.Fatalf("resolve: %v", err) }
    if r.Status != "resolved" || r.ResolvedAt == nil || r.ResolutionNote != "fixed" {
        t.Fatalf("resolved: %+v", r)
    }
    open, _, _ = m.ListAlerts(ctx, "t1", "open", "", 10)
    if len(open) != 0 { t.Fatalf("open after resolve: %d", len(open)) }
}

func TestListPagination(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    for i := 0; i < 5; i++ {
        if _, err := m.CreateSite(ctx, "t1", model.SiteRequest{Name: "s", URL: "u"}); err != nil {
            t.Fatalf("create: %v", err)
        }
    }
    seen := map[string]bool{}
    cursor := ""
    for {
        page, next, err := m.ListSites(ctx, "t1", cursor, 2)
        if err != nil { t.Fatalf("list: %v", err) }
        for _, s := range page {
            if seen[s.ID] { t.Fatalf("duplicate %s", s.ID) }
            seen[s.ID] = true
        }
        if next == "" { break }
        cursor = next
    }
    if len(seen) != 5 { t.Fatalf("paginated total: %d", len(seen)) }
}
