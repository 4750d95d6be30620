package store

import (
    "context"
    "sort"
    "sync"
    "time"

    "github.com/google/uuid"

    "sitewatch/internal/model"
)

// Memory is an in-memory Store used for dev mode and tests.
type Memory struct {
    mu sync.Mutex

    sites  map[string]*model.Site
    alerts map[string]*model.Alert
    subs   map[string]*model.Subscription

    deliveries map[string]*WebhookDelivery
    attempts   []model.DeliveryAttempt

    siteOrder     []string
    alertOrder    []string
    subOrder      []string
    deliveryOrder []string
}

func NewMemory() *Memory {
    return &Memory{
        sites:      map[string]*model.Site{},
        alerts:     map[string]*model.Alert{},
        subs:       map[string]*model.Subscription{},
        deliveries: map[string]*WebhookDelivery{},
    }
}

// Sites

func (m *Memory) CreateSite(ctx context.Context, tenantID string, req model.SiteRequest) (model.Site, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s := model.Site{ID: uuid.New().String(), TenantID: tenantID, Name: req.Name, URL: req.URL, Status: "up", CreatedAt: time.Now().UTC()}
    m.sites[s.ID] = &s
    m.siteOrder = append(m.siteOrder, s.ID)
    return s, nil
}

func (m *Memory) GetSite(ctx context.Context, tenantID, id string) (model.Site, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s := m.sites[id]
    if s == nil || s.TenantID != tenantID { return model.Site{}, ErrNotFound }
    return *s, nil
}

// sortedIDs returns a sorted copy so cursor pagination matches the SQL
// store's ORDER BY id.
func sortedIDs(ids []string) []string {
    cp := append([]string(nil), ids...)
    sort.Strings(cp)
    return cp
}

func (m *Memory) ListSites(ctx context.Context, tenantID, cursor string, limit int) ([]model.Site, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if limit <= 0 || limit > 500 { limit = 100 }
    out := []model.Site{}
    last := ""
    for _, id := range sortedIDs(m.siteOrder) {
        if cursor != "" && id <= cursor { continue }
        s := m.sites[id]
        if s == nil || s.TenantID != tenantID { continue }
        out = append(out, *s)
        last = id
        if len(out) >= limit { break }
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (m *Memory) UpdateSiteStatus(ctx context.Context, tenantID, id, status string, checkedAt time.Time) (model.Site, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s := m.sites[id]
    if s == nil || s.TenantID != tenantID { return model.Site{}, ErrNotFound }
    s.Status = status
    t := checkedAt
    s.LastCheckedAt = &t
    return *s, nil
}

// Alerts

func (m *Memory) CreateAlert(ctx context.Context, tenantID string, req model.AlertRequest) (model.Alert, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    a := model.Alert{
        ID:       uuid.New().String(),
        TenantID: tenantID,
        SiteID:   req.SiteID,
        Title:    req.Title,
        Type:     req.Type,
        Severity: req.Severity,
        Message:  req.Message,
        Status:   "open",
        CreatedAt: time.Now().UTC(),
    }
    if s := m.sites[req.SiteID]; s != nil && s.TenantID == tenantID {
        a.SiteName = s.Name
        a.SiteURL = s.URL
    }
    m.alerts[a.ID] = &a
    m.alertOrder = append(m.alertOrder, a.ID)
    return a, nil
}

func (m *Memory) GetAlert(ctx context.Context, tenantID, id string) (model.Alert, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    a := m.alerts[id]
    if a == nil || a.TenantID != tenantID { return model.Alert{}, ErrNotFound }
    return *a, nil
}

func (m *Memory) ListAlerts(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.Alert, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if limit <= 0 || limit > 500 { limit = 100 }
    out := []model.Alert{}
    last := ""
    for _, id := range sortedIDs(m.alertOrder) {
        if cursor != "" && id <= cursor { continue }
        a := m.alerts[id]
        if a == nil || a.TenantID != tenantID { continue }
        if status != "" && a.Status != status { continue }
        out = append(out, *a)
        last = id
        if len(out) >= limit { break }
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (m *Memory) ResolveAlert(ctx context.Context, tenantID, id, note string) (model.Alert, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    a := m.alerts[id]
    if a == nil || a.TenantID != tenantID || a.Status != "open" { return model.Alert{}, ErrNotFound }
    now := time.Now().UTC()
    a.Status = "resolved"
    a.ResolutionNote = note
    a.ResolvedAt = &now
    return *a, nil
}

// Subscriptions

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    active := true
    if req.Active != nil { active = *req.Active }
    maxRetries := req.MaxRetries
    if maxRetries <= 0 { maxRetries = 3 }
    s := model.Subscription{
        ID:         uuid.New().String(),
        TenantID:   req.TenantID,
        Name:       req.Name,
        URL:        req.URL,
        Events:     append([]string(nil), req.Events...),
        Active:     active,
        Secret:     req.Secret,
        MaxRetries: maxRetries,
        CreatedAt:  time.Now().UTC(),
    }
    m.subs[s.ID] = &s
    m.subOrder = append(m.subOrder, s.ID)
    return s, nil
}

func (m *Memory) GetSubscription(ctx context.Context, tenantID, id string) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s := m.subs[id]
    if s == nil || s.TenantID != tenantID { return model.Subscription{}, ErrNotFound }
    return *s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    var out []model.Subscription
    for _, id := range m.subOrder {
        s := m.subs[id]
        if s == nil || s.TenantID != tenantID || !s.Active { continue }
        if matchesEvent(s.Events, eventType) { out = append(out, *s) }
    }
    return out, nil
}

// matchesEvent reports whether the filter contains the event type or the "*"
// wildcard.
func matchesEvent(filter []string, eventType string) bool {
    for _, e := range filter {
        if e == eventType || e == "*" { return true }
    }
    return false
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if limit <= 0 || limit > 500 { limit = 100 }
    out := []model.Subscription{}
    last := ""
    for _, id := range sortedIDs(m.subOrder) {
        if cursor != "" && id <= cursor { continue }
        s := m.subs[id]
        if s == nil || s.TenantID != tenantID { continue }
        out = append(out, *s)
        last = id
        if len(out) >= limit { break }
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (m *Memory) PatchSubscription(ctx context.Context, tenantID, id string, patch model.SubscriptionPatch) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s := m.subs[id]
    if s == nil || s.TenantID != tenantID { return model.Subscription{}, ErrNotFound }
    if patch.Name != nil { s.Name = *patch.Name }
    if patch.URL != nil { s.URL = *patch.URL }
    if patch.Events != nil { s.Events = append([]string(nil), (*patch.Events)...) }
    if patch.Secret != nil { s.Secret = *patch.Secret }
    if patch.Active != nil { s.Active = *patch.Active }
    if patch.MaxRetries != nil && *patch.MaxRetries > 0 { s.MaxRetries = *patch.MaxRetries }
    return *s, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    s := m.subs[id]
    if s == nil || s.TenantID != tenantID { return ErrNotFound }
    delete(m.subs, id)
    m.subOrder = removeID(m.subOrder, id)
    // Queue rows go with the subscription, like the SQL ON DELETE CASCADE.
    // The append-only attempt log stays.
    for did, d := range m.deliveries {
        if d.SubscriptionID == id {
            delete(m.deliveries, did)
            m.deliveryOrder = removeID(m.deliveryOrder, did)
        }
    }
    return nil
}

func removeID(ids []string, id string) []string {
    out := ids[:0]
    for _, v := range ids {
        if v != id { out = append(out, v) }
    }
    return out
}

func (m *Memory) TouchSubscription(ctx context.Context, id string, at time.Time) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if s := m.subs[id]; s != nil {
        t := at
        s.LastTriggeredAt = &t
    }
    return nil
}

// Webhook delivery queue

func (m *Memory) EnqueueDelivery(ctx context.Context, d WebhookDelivery) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    d.ID = uuid.New().String()
    d.Status = DeliveryPending
    d.Attempts = 0
    if d.MaxAttempts <= 0 { d.MaxAttempts = 3 }
    d.NextAttemptAt = time.Now()
    d.CreatedAt = time.Now().UTC()
    cp := d
    m.deliveries[d.ID] = &cp
    m.deliveryOrder = append(m.deliveryOrder, d.ID)
    return d.ID, nil
}

// FetchDueDeliveries returns due pending/retry deliveries and transitions them
// to attempting so concurrent workers never pick up the same row twice.
func (m *Memory) FetchDueDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := time.Now()
    out := []WebhookDelivery{}
    for _, id := range sortedIDs(m.deliveryOrder) {
        d := m.deliveries[id]
        if d == nil { continue }
        if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) {
            d.Status = DeliveryAttempting
            out = append(out, *d)
            if limit > 0 && len(out) >= limit { break }
        }
    }
    return out, nil
}

func (m *Memory) MarkDeliveryDelivered(ctx context.Context, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return ErrNotFound }
    d.Attempts++
    d.Status = DeliveryDelivered
    now := time.Now().UTC()
    d.DeliveredAt = &now
    return nil
}

func (m *Memory) MarkDeliveryRetry(ctx context.Context, id string, nextAttemptAt time.Time, lastError string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return ErrNotFound }
    d.Attempts++
    d.Status = DeliveryRetry
    d.LastError = lastError
    d.NextAttemptAt = nextAttemptAt
    return nil
}

func (m *Memory) MarkDeliveryExhausted(ctx context.Context, id string, lastError string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return ErrNotFound }
    d.Attempts++
    d.Status = DeliveryExhausted
    d.LastError = lastError
    return nil
}

func (m *Memory) ListDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]WebhookDelivery, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if limit <= 0 || limit > 500 { limit = 100 }
    out := []WebhookDelivery{}
    last := ""
    for _, id := range sortedIDs(m.deliveryOrder) {
        if cursor != "" && id <= cursor { continue }
        d := m.deliveries[id]
        if d == nil || d.TenantID != tenantID { continue }
        if status != "" && d.Status != status { continue }
        cp := *d
        cp.Payload = nil // list view omits bodies
        out = append(out, cp)
        last = id
        if len(out) >= limit { break }
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (m *Memory) RetryDelivery(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil || d.TenantID != tenantID { return ErrNotFound }
    d.Status = DeliveryPending
    d.Attempts = 0
    d.NextAttemptAt = time.Now()
    return nil
}

// Delivery attempt log

func (m *Memory) InsertDeliveryAttempt(ctx context.Context, a model.DeliveryAttempt) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    a.ID = uuid.New().String()
    if a.CreatedAt.IsZero() { a.CreatedAt = time.Now().UTC() }
    m.attempts = append(m.attempts, a)
    return a.ID, nil
}

func (m *Memory) ListDeliveryAttempts(ctx context.Context, tenantID string, f AttemptFilter) ([]model.DeliveryAttempt, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    limit := f.Limit
    if limit <= 0 || limit > 500 { limit = 100 }
    atts := append([]model.DeliveryAttempt(nil), m.attempts...)
    sort.Slice(atts, func(i, j int) bool { return atts[i].ID < atts[j].ID })
    out := []model.DeliveryAttempt{}
    last := ""
    for _, a := range atts {
        if a.TenantID != tenantID { continue }
        if f.Cursor != "" && a.ID <= f.Cursor { continue }
        if f.SubscriptionID != "" && a.SubscriptionID != f.SubscriptionID { continue }
        if f.EventType != "" && a.EventType != f.EventType { continue }
        if f.Success != nil && a.Success != *f.Success { continue }
        out = append(out, a)
        last = a.ID
        if len(out) >= limit { break }
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (m *Memory) DeliveryStats(ctx context.Context, tenantID string, since time.Time) (map[string]any, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    total, ok, failed := 0, 0, 0
    byType := map[string]int{}
    for _, a := range m.attempts {
        if a.TenantID != tenantID || a.CreatedAt.Before(since) { continue }
        total++
        if a.Success { ok++ } else { failed++ }
        byType[a.EventType]++
    }
    return map[string]any{"attempts": total, "succeeded": ok, "failed": failed, "byEventType": byType}, nil
}
