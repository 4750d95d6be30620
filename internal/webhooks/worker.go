package webhooks

import (
    "bytes"
    "context"
    "fmt"
    "io"
    "log"
    "net/http"
    "net/url"
    "os"
    "strconv"
    "sync"
    "time"

    "golang.org/x/time/rate"

    "sitewatch/internal/metrics"
    "sitewatch/internal/model"
    "sitewatch/internal/store"
)

const maxResponseBody = 4 * 1024

// Notifier receives delivery outcomes for live dashboard streams. Optional.
type Notifier interface {
    DeliveryAttempted(subscriptionID string, data map[string]any)
}

// Worker drains the delivery queue: one HTTP POST per due delivery, one
// attempt row per POST, exponential backoff between retries.
type Worker struct {
    Store       store.Store
    HTTP        *http.Client
    Stop        chan struct{}
    Notifier    Notifier
    Concurrency int
    // Backoff computes the delay after a failed attempt (1-based). Overridable
    // in tests; defaults to nextBackoff.
    Backoff func(attempt int) time.Duration

    rps   rate.Limit
    burst int
    limMu sync.Mutex
    lims  map[string]*rate.Limiter
}

func NewWorker(s store.Store) *Worker {
    timeout := 10 * time.Second
    if v := os.Getenv("WEBHOOK_TIMEOUT_MS"); v != "" {
        if n, err := strconv.Atoi(v); err == nil && n > 0 { timeout = time.Duration(n) * time.Millisecond }
    }
    rps := 0.0
    if v := os.Getenv("WEBHOOK_RATE_RPS"); v != "" {
        if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 { rps = f }
    }
    burst := 10
    if v := os.Getenv("WEBHOOK_RATE_BURST"); v != "" {
        if n, err := strconv.Atoi(v); err == nil && n > 0 { burst = n }
    }
    return &Worker{
        Store:       s,
        HTTP:        &http.Client{Timeout: timeout},
        Stop:        make(chan struct{}),
        Concurrency: 8,
        Backoff:     nextBackoff,
        rps:         rate.Limit(rps),
        burst:       burst,
        lims:        map[string]*rate.Limiter{},
    }
}

func (w *Worker) Start() {
    go func() {
        ticker := time.NewTicker(1 * time.Second)
        defer ticker.Stop()
        for {
            select {
            case <-w.Stop:
                return
            case <-ticker.C:
                w.processOnce()
            }
        }
    }()
}

// processOnce claims a batch of due deliveries and runs them concurrently.
// Retries of a single delivery are strictly sequential: the row only becomes
// due again after its attempt is recorded and rescheduled.
func (w *Worker) processOnce() {
    ctx := context.Background()
    items, err := w.Store.FetchDueDeliveries(ctx, 50)
    if err != nil || len(items) == 0 { return }
    conc := w.Concurrency
    if conc <= 0 { conc = 1 }
    sem := make(chan struct{}, conc)
    var wg sync.WaitGroup
    for _, it := range items {
        wg.Add(1)
        sem <- struct{}{}
        go func(it store.WebhookDelivery) {
            defer wg.Done()
            defer func() { <-sem }()
            w.attempt(ctx, it)
        }(it)
    }
    wg.Wait()
}

func (w *Worker) attempt(ctx context.Context, it store.WebhookDelivery) {
    attemptNo := it.Attempts + 1
    timeout := w.HTTP.Timeout
    if timeout <= 0 { timeout = 10 * time.Second }
    actx, cancel := context.WithTimeout(ctx, timeout)
    defer cancel()

    if lim := w.limiterFor(it.URL); lim != nil {
        _ = lim.Wait(actx)
    }

    att := model.DeliveryAttempt{
        TenantID:       it.TenantID,
        SubscriptionID: it.SubscriptionID,
        DeliveryID:     it.ID,
        EventType:      it.EventType,
        Payload:        it.Payload,
        AttemptNumber:  attemptNo,
        CreatedAt:      time.Now().UTC(),
    }
    success := false
    errMsg := ""
    latency := 0

    req, err := http.NewRequestWithContext(actx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
    if err != nil {
        errMsg = "build request: " + err.Error()
    } else {
        req.Header.Set("Content-Type", "application/json")
        req.Header.Set("X-Event-Type", it.EventType)
        if it.Secret != "" {
            req.Header.Set("X-Signature", SignHMAC(it.Secret, it.Payload))
        }
        start := time.Now()
        resp, derr := w.HTTP.Do(req)
        latency = int(time.Since(start).Milliseconds())
        if derr != nil {
            // No response received: responseStatus stays null.
            errMsg = derr.Error()
        } else {
            code := resp.StatusCode
            att.ResponseStatus = &code
            if resp.Body != nil {
                b, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
                _ = resp.Body.Close()
                if len(b) > 0 {
                    s := string(b)
                    att.ResponseBody = &s
                }
            }
            if code >= 200 && code < 300 {
                success = true
            } else {
                errMsg = fmt.Sprintf("unexpected status %d", code)
            }
        }
    }
    att.Success = success
    if errMsg != "" { att.ErrorMessage = &errMsg }

    // The attempt row is the authoritative record; it lands before the queue
    // row is rescheduled, so attempt N+1 never starts before N is recorded.
    if _, err := w.Store.InsertDeliveryAttempt(ctx, att); err != nil {
        log.Printf("record delivery attempt %d for %s: %v", attemptNo, it.ID, err)
    }

    outcome := store.DeliveryDelivered
    switch {
    case success:
        _ = w.Store.MarkDeliveryDelivered(ctx, it.ID)
    case attemptNo >= it.MaxAttempts:
        outcome = store.DeliveryExhausted
        _ = w.Store.MarkDeliveryExhausted(ctx, it.ID, errMsg)
    default:
        outcome = store.DeliveryRetry
        _ = w.Store.MarkDeliveryRetry(ctx, it.ID, time.Now().Add(w.Backoff(attemptNo)), errMsg)
    }

    metrics.WebhookDeliveries.WithLabelValues(it.EventType, outcome).Inc()
    metrics.WebhookLatency.WithLabelValues(it.EventType, outcome).Observe(float64(latency))

    if w.Notifier != nil {
        data := map[string]any{
            "deliveryId":    it.ID,
            "eventType":     it.EventType,
            "attemptNumber": attemptNo,
            "success":       success,
            "status":        outcome,
            "latencyMs":     latency,
        }
        if att.ResponseStatus != nil { data["responseStatus"] = *att.ResponseStatus }
        if errMsg != "" { data["error"] = errMsg }
        w.Notifier.DeliveryAttempted(it.SubscriptionID, data)
    }
}

// limiterFor returns the per-destination-host limiter, or nil when rate
// limiting is disabled.
func (w *Worker) limiterFor(rawURL string) *rate.Limiter {
    if w.rps <= 0 { return nil }
    u, err := url.Parse(rawURL)
    if err != nil { return nil }
    host := u.Host
    w.limMu.Lock()
    defer w.limMu.Unlock()
    lim := w.lims[host]
    if lim == nil {
        lim = rate.NewLimiter(w.rps, w.burst)
        w.lims[host] = lim
    }
    return lim
}

// nextBackoff doubles from a 1s base per failed attempt, capped at one hour.
func nextBackoff(attempt int) time.Duration {
    if attempt < 1 { attempt = 1 }
    if attempt > 12 { attempt = 12 }
    d := time.Second << (attempt - 1)
    if d > time.Hour { d = time.Hour }
    return d
}
