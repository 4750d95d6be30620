package store

import (
    "context"
    "database/sql"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "sitewatch/internal/model"
)

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

// MigrateDir applies all .sql files in dir in lexical order (dev helper).
func (p *Postgres) MigrateDir(dir string) error {
    entries, err := os.ReadDir(dir)
    if err != nil { return err }
    names := []string{}
    for _, e := range entries {
        if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") { names = append(names, e.Name()) }
    }
    sort.Strings(names)
    for _, n := range names {
        b, err := os.ReadFile(filepath.Join(dir, n))
        if err != nil { return err }
        if _, err := p.db.Exec(string(b)); err != nil {
            return fmt.Errorf("migration %s: %w", n, err)
        }
    }
    return nil
}

// Sites

func (p *Postgres) CreateSite(ctx context.Context, tenantID string, req model.SiteRequest) (model.Site, error) {
    s := model.Site{ID: uuid.New().String(), TenantID: tenantID, Name: req.Name, URL: req.URL, Status: "up", CreatedAt: time.Now().UTC()}
    _, err := p.db.ExecContext(ctx, `INSERT INTO sites (id, tenant_id, name, url, status, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
        s.ID, tenantID, s.Name, s.URL, s.Status, s.CreatedAt)
    if err != nil { return model.Site{}, err }
    return s, nil
}

func (p *Postgres) GetSite(ctx context.Context, tenantID, id string) (model.Site, error) {
    row := p.db.QueryRowContext(ctx, `SELECT id::text, name, url, status, last_checked_at, created_at FROM sites WHERE tenant_id=$1 AND id=$2`, tenantID, id)
    var s model.Site
    var checked sql.NullTime
    if err := row.Scan(&s.ID, &s.Name, &s.URL, &s.Status, &checked, &s.CreatedAt); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return model.Site{}, ErrNotFound }
        return model.Site{}, err
    }
    s.TenantID = tenantID
    if checked.Valid { s.LastCheckedAt = &checked.Time }
    return s, nil
}

func (p *Postgres) ListSites(ctx context.Context, tenantID, cursor string, limit int) ([]model.Site, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, name, url, status, last_checked_at, created_at FROM sites WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, name, url, status, last_checked_at, created_at FROM sites WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Site{}
    var last string
    for rows.Next() {
        var s model.Site
        var checked sql.NullTime
        if err := rows.Scan(&s.ID, &s.Name, &s.URL, &s.Status, &checked, &s.CreatedAt); err != nil { return nil, "", err }
        s.TenantID = tenantID
        if checked.Valid { s.LastCheckedAt = &checked.Time }
        out = append(out, s)
        last = s.ID
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) UpdateSiteStatus(ctx context.Context, tenantID, id, status string, checkedAt time.Time) (model.Site, error) {
    res, err := p.db.ExecContext(ctx, `UPDATE sites SET status=$3, last_checked_at=$4 WHERE tenant_id=$1 AND id=$2`, tenantID, id, status, checkedAt)
    if err != nil { return model.Site{}, err }
    if n, _ := res.RowsAffected(); n == 0 { return model.Site{}, ErrNotFound }
    return p.GetSite(ctx, tenantID, id)
}

// Alerts

func (p *Postgres) CreateAlert(ctx context.Context, tenantID string, req model.AlertRequest) (model.Alert, error) {
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
    if req.SiteID != "" {
        if s, err := p.GetSite(ctx, tenantID, req.SiteID); err == nil {
            a.SiteName = s.Name
            a.SiteURL = s.URL
        }
    }
    _, err := p.db.ExecContext(ctx, `INSERT INTO alerts (id, tenant_id, site_id, title, type, severity, message, status, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,'open',$8)`,
        a.ID, tenantID, nullIfEmpty(req.SiteID), a.Title, a.Type, a.Severity, a.Message, a.CreatedAt)
    if err != nil { return model.Alert{}, err }
    return a, nil
}

func (p *Postgres) GetAlert(ctx context.Context, tenantID, id string) (model.Alert, error) {
    row := p.db.QueryRowContext(ctx, `SELECT a.id::text, COALESCE(a.site_id::text,''), COALESCE(s.name,''), COALESCE(s.url,''),
        a.title, a.type, a.severity, a.message, a.status, COALESCE(a.resolution_note,''), a.resolved_at, a.created_at
        FROM alerts a LEFT JOIN sites s ON s.id = a.site_id
        WHERE a.tenant_id=$1 AND a.id=$2`, tenantID, id)
    return scanAlert(row, tenantID)
}

func scanAlert(row *sql.Row, tenantID string) (model.Alert, error) {
    var a model.Alert
    var resolved sql.NullTime
    err := row.Scan(&a.ID, &a.SiteID, &a.SiteName, &a.SiteURL, &a.Title, &a.Type, &a.Severity, &a.Message, &a.Status, &a.ResolutionNote, &resolved, &a.CreatedAt)
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) { return model.Alert{}, ErrNotFound }
        return model.Alert{}, err
    }
    a.TenantID = tenantID
    if resolved.Valid { a.ResolvedAt = &resolved.Time }
    return a, nil
}

func (p *Postgres) ListAlerts(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.Alert, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    q := `SELECT a.id::text, COALESCE(a.site_id::text,''), COALESCE(s.name,''), COALESCE(s.url,''),
        a.title, a.type, a.severity, a.message, a.status, COALESCE(a.resolution_note,''), a.resolved_at, a.created_at
        FROM alerts a LEFT JOIN sites s ON s.id = a.site_id WHERE a.tenant_id=$1`
    args := []any{tenantID}
    if status != "" {
        args = append(args, status)
        q += fmt.Sprintf(" AND a.status=$%d", len(args))
    }
    if cursor != "" {
        args = append(args, cursor)
        q += fmt.Sprintf(" AND a.id::text > $%d", len(args))
    }
    args = append(args, limit)
    q += fmt.Sprintf(" ORDER BY a.id LIMIT $%d", len(args))
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Alert{}
    var last string
    for rows.Next() {
        var a model.Alert
        var resolved sql.NullTime
        if err := rows.Scan(&a.ID, &a.SiteID, &a.SiteName, &a.SiteURL, &a.Title, &a.Type, &a.Severity, &a.Message, &a.Status, &a.ResolutionNote, &resolved, &a.CreatedAt); err != nil { return nil, "", err }
        a.TenantID = tenantID
        if resolved.Valid { a.ResolvedAt = &resolved.Time }
        out = append(out, a)
        last = a.ID
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) ResolveAlert(ctx context.Context, tenantID, id, note string) (model.Alert, error) {
    res, err := p.db.ExecContext(ctx, `UPDATE alerts SET status='resolved', resolution_note=$3, resolved_at=now() WHERE tenant_id=$1 AND id=$2 AND status='open'`, tenantID, id, nullIfEmpty(note))
    if err != nil { return model.Alert{}, err }
    if n, _ := res.RowsAffected(); n == 0 { return model.Alert{}, ErrNotFound }
    return p.GetAlert(ctx, tenantID, id)
}

// Subscriptions

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    active := true
    if req.Active != nil { active = *req.Active }
    maxRetries := req.MaxRetries
    if maxRetries <= 0 { maxRetries = 3 }
    s := model.Subscription{
        ID:         uuid.New().String(),
        TenantID:   req.TenantID,
        Name:       req.Name,
        URL:        req.URL,
        Events:     req.Events,
        Active:     active,
        Secret:     req.Secret,
        MaxRetries: maxRetries,
        CreatedAt:  time.Now().UTC(),
    }
    ev, _ := json.Marshal(req.Events)
    _, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, tenant_id, name, url, events, active, secret, max_retries, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
        s.ID, req.TenantID, nullIfEmpty(req.Name), req.URL, ev, active, nullIfEmpty(req.Secret), maxRetries, s.CreatedAt)
    if err != nil { return model.Subscription{}, err }
    return s, nil
}

func (p *Postgres) GetSubscription(ctx context.Context, tenantID, id string) (model.Subscription, error) {
    row := p.db.QueryRowContext(ctx, `SELECT id::text, COALESCE(name,''), url, events, active, COALESCE(secret,''), max_retries, last_triggered_at, created_at
        FROM subscriptions WHERE tenant_id=$1 AND id=$2`, tenantID, id)
    var s model.Subscription
    var ev []byte
    var lastAt sql.NullTime
    if err := row.Scan(&s.ID, &s.Name, &s.URL, &ev, &s.Active, &s.Secret, &s.MaxRetries, &lastAt, &s.CreatedAt); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return model.Subscription{}, ErrNotFound }
        return model.Subscription{}, err
    }
    s.TenantID = tenantID
    _ = json.Unmarshal(ev, &s.Events)
    if lastAt.Valid { s.LastTriggeredAt = &lastAt.Time }
    return s, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
    filter, _ := json.Marshal([]string{eventType})
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, COALESCE(name,''), url, events, COALESCE(secret,''), max_retries
        FROM subscriptions WHERE tenant_id=$1 AND active AND (events @> $2::jsonb OR events @> '["*"]'::jsonb)`, tenantID, filter)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.Name, &s.URL, &ev, &s.Secret, &s.MaxRetries); err != nil { return nil, err }
        s.TenantID = tenantID
        s.Active = true
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
    }
    return out, nil
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var rows *sql.Rows
    var err error
    q := `SELECT id::text, COALESCE(name,''), url, events, active, COALESCE(secret,''), max_retries, last_triggered_at, created_at FROM subscriptions WHERE tenant_id=$1`
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, q+` AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, q+` ORDER BY id LIMIT $2`, tenantID, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    var out []model.Subscription
    var last string
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        var lastAt sql.NullTime
        if err := rows.Scan(&s.ID, &s.Name, &s.URL, &ev, &s.Active, &s.Secret, &s.MaxRetries, &lastAt, &s.CreatedAt); err != nil { return nil, "", err }
        s.TenantID = tenantID
        _ = json.Unmarshal(ev, &s.Events)
        if lastAt.Valid { s.LastTriggeredAt = &lastAt.Time }
        out = append(out, s)
        last = s.ID
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) PatchSubscription(ctx context.Context, tenantID, id string, patch model.SubscriptionPatch) (model.Subscription, error) {
    sets := []string{}
    args := []any{tenantID, id}
    add := func(expr string, v any) {
        args = append(args, v)
        sets = append(sets, fmt.Sprintf(expr, len(args)))
    }
    if patch.Name != nil { add("name=$%d", *patch.Name) }
    if patch.URL != nil { add("url=$%d", *patch.URL) }
    if patch.Events != nil {
        ev, _ := json.Marshal(*patch.Events)
        add("events=$%d", ev)
    }
    if patch.Secret != nil { add("secret=$%d", nullIfEmpty(*patch.Secret)) }
    if patch.Active != nil { add("active=$%d", *patch.Active) }
    if patch.MaxRetries != nil && *patch.MaxRetries > 0 { add("max_retries=$%d", *patch.MaxRetries) }
    if len(sets) > 0 {
        q := `UPDATE subscriptions SET ` + strings.Join(sets, ", ") + ` WHERE tenant_id=$1 AND id=$2`
        res, err := p.db.ExecContext(ctx, q, args...)
        if err != nil { return model.Subscription{}, err }
        if n, _ := res.RowsAffected(); n == 0 { return model.Subscription{}, ErrNotFound }
    }
    return p.GetSubscription(ctx, tenantID, id)
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id=$1 AND id=$2`, tenantID, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) TouchSubscription(ctx context.Context, id string, at time.Time) error {
    _, err := p.db.ExecContext(ctx, `UPDATE subscriptions SET last_triggered_at=$2 WHERE id=$1`, id, at)
    return err
}

// Webhook delivery queue

func (p *Postgres) EnqueueDelivery(ctx context.Context, d WebhookDelivery) (string, error) {
    id := uuid.New().String()
    if d.MaxAttempts <= 0 { d.MaxAttempts = 3 }
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, max_attempts, next_attempt_at, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,$8,now(),now())`,
        id, d.TenantID, d.SubscriptionID, d.EventType, d.URL, nullIfEmpty(d.Secret), d.Payload, d.MaxAttempts)
    if err != nil { return "", err }
    return id, nil
}

// FetchDueDeliveries claims due rows by flipping them to attempting inside one
// statement, so multiple worker instances can poll the same database.
func (p *Postgres) FetchDueDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    rows, err := p.db.QueryContext(ctx, `UPDATE webhook_deliveries SET status='attempting', updated_at=now()
        WHERE id IN (
            SELECT id FROM webhook_deliveries
            WHERE status IN ('pending','retry') AND next_attempt_at <= now()
            ORDER BY next_attempt_at ASC LIMIT $1
            FOR UPDATE SKIP LOCKED)
        RETURNING id::text, tenant_id::text, subscription_id::text, event_type, url, COALESCE(secret,''), payload, attempts, max_attempts`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Attempts, &d.MaxAttempts); err != nil { return nil, err }
        d.Status = DeliveryAttempting
        out = append(out, d)
    }
    return out, nil
}

func (p *Postgres) MarkDeliveryDelivered(ctx context.Context, id string) error {
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now() WHERE id=$1`, id)
    return err
}

func (p *Postgres) MarkDeliveryRetry(ctx context.Context, id string, nextAttemptAt time.Time, lastError string) error {
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now() WHERE id=$1`, id, nullIfEmpty(lastError), nextAttemptAt)
    return err
}

func (p *Postgres) MarkDeliveryExhausted(ctx context.Context, id string, lastError string) error {
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='exhausted', last_error=$2, updated_at=now() WHERE id=$1`, id, nullIfEmpty(lastError))
    return err
}

func (p *Postgres) ListDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]WebhookDelivery, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    q := `SELECT id::text, subscription_id::text, event_type, url, status, attempts, max_attempts, COALESCE(last_error,''), next_attempt_at, delivered_at, created_at
        FROM webhook_deliveries WHERE tenant_id=$1`
    args := []any{tenantID}
    if status != "" {
        args = append(args, status)
        q += fmt.Sprintf(" AND status=$%d", len(args))
    }
    if cursor != "" {
        args = append(args, cursor)
        q += fmt.Sprintf(" AND id::text > $%d", len(args))
    }
    args = append(args, limit)
    q += fmt.Sprintf(" ORDER BY id LIMIT $%d", len(args))
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []WebhookDelivery{}
    var last string
    for rows.Next() {
        var d WebhookDelivery
        var deliveredAt sql.NullTime
        if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Status, &d.Attempts, &d.MaxAttempts, &d.LastError, &d.NextAttemptAt, &deliveredAt, &d.CreatedAt); err != nil { return nil, "", err }
        d.TenantID = tenantID
        if deliveredAt.Valid { d.DeliveredAt = &deliveredAt.Time }
        out = append(out, d)
        last = d.ID
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) RetryDelivery(ctx context.Context, tenantID, id string) error {
    res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', attempts=0, next_attempt_at=now(), updated_at=now() WHERE tenant_id=$1 AND id=$2`, tenantID, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

// Delivery attempt log

func (p *Postgres) InsertDeliveryAttempt(ctx context.Context, a model.DeliveryAttempt) (string, error) {
    id := uuid.New().String()
    _, err := p.db.ExecContext(ctx, `INSERT INTO delivery_attempts (id, tenant_id, subscription_id, delivery_id, event_type, payload, response_status, response_body, attempt_number, success, error_message, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())`,
        id, a.TenantID, a.SubscriptionID, a.DeliveryID, a.EventType, a.Payload, a.ResponseStatus, a.ResponseBody, a.AttemptNumber, a.Success, a.ErrorMessage)
    if err != nil { return "", err }
    return id, nil
}

func (p *Postgres) ListDeliveryAttempts(ctx context.Context, tenantID string, f AttemptFilter) ([]model.DeliveryAttempt, string, error) {
    limit := f.Limit
    if limit <= 0 || limit > 500 { limit = 100 }
    q := `SELECT id::text, subscription_id::text, delivery_id::text, event_type, payload, response_status, response_body, attempt_number, success, error_message, created_at
        FROM delivery_attempts WHERE tenant_id=$1`
    args := []any{tenantID}
    if f.SubscriptionID != "" {
        args = append(args, f.SubscriptionID)
        q += fmt.Sprintf(" AND subscription_id=$%d", len(args))
    }
    if f.EventType != "" {
        args = append(args, f.EventType)
        q += fmt.Sprintf(" AND event_type=$%d", len(args))
    }
    if f.Success != nil {
        args = append(args, *f.Success)
        q += fmt.Sprintf(" AND success=$%d", len(args))
    }
    if f.Cursor != "" {
        args = append(args, f.Cursor)
        q += fmt.Sprintf(" AND id::text > $%d", len(args))
    }
    args = append(args, limit)
    q += fmt.Sprintf(" ORDER BY id LIMIT $%d", len(args))
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.DeliveryAttempt{}
    var last string
    for rows.Next() {
        var a model.DeliveryAttempt
        var respStatus sql.NullInt64
        var respBody, errMsg sql.NullString
        if err := rows.Scan(&a.ID, &a.SubscriptionID, &a.DeliveryID, &a.EventType, &a.Payload, &respStatus, &respBody, &a.AttemptNumber, &a.Success, &errMsg, &a.CreatedAt); err != nil { return nil, "", err }
        a.TenantID = tenantID
        if respStatus.Valid {
            v := int(respStatus.Int64)
            a.ResponseStatus = &v
        }
        if respBody.Valid { a.ResponseBody = &respBody.String }
        if errMsg.Valid { a.ErrorMessage = &errMsg.String }
        out = append(out, a)
        last = a.ID
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) DeliveryStats(ctx context.Context, tenantID string, since time.Time) (map[string]any, error) {
    row := p.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END),0)
        FROM delivery_attempts WHERE tenant_id=$1 AND created_at >= $2`, tenantID, since)
    var total, ok int
    if err := row.Scan(&total, &ok); err != nil { return nil, err }
    byType := map[string]int{}
    rows, err := p.db.QueryContext(ctx, `SELECT event_type, COUNT(*) FROM delivery_attempts WHERE tenant_id=$1 AND created_at >= $2 GROUP BY event_type`, tenantID, since)
    if err != nil { return nil, err }
    defer rows.Close()
    for rows.Next() {
        var et string
        var n int
        if err := rows.Scan(&et, &n); err != nil { return nil, err }
        byType[et] = n
    }
    return map[string]any{"attempts": total, "succeeded": ok, "failed": total - ok, "byEventType": byType}, nil
}

// nullIfEmpty maps "" to SQL NULL.
func nullIfEmpty(s string) any {
    if s == "" { return nil }
    return s
}
