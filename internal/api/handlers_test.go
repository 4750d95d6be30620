package api

import (
    "bytes"
    "context"
    "encoding/json"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
)

func newTestServer(t *testing.T) *Server {
    t.Helper()
    s, err := NewServer()
    if err != nil { t.Fatalf("NewServer: %v", err) }
    return s
}

func doJSON(t *testing.T, h http.HandlerFunc, method, path string, body string) *httptest.ResponseRecorder {
    t.Helper()
    var rd *bytes.Reader
    if body != "" { rd = bytes.NewReader([]byte(body)) } else { rd = bytes.NewReader(nil) }
    req := httptest.NewRequest(method, path, rd)
    req.Header.Set("Content-Type", "application/json")
    rr := httptest.NewRecorder()
    h(rr, req)
    return rr
}

func TestHealthReady(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
    if rr.Code != 200 { t.Fatalf("health: got %d", rr.Code) }
    rr = httptest.NewRecorder()
    s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
    if rr.Code != 200 { t.Fatalf("ready: got %d", rr.Code) }
}

func TestSitesCreateGetList(t *testing.T) {
    s := newTestServer(t)
    rr := doJSON(t, s.SitesHandler, http.MethodPost, "/v1/sites", `{"name":"Acme","url":"https://acme.example.com"}`)
    if rr.Code != http.StatusCreated { t.Fatalf("create: %d %s", rr.Code, rr.Body.String()) }
    var site struct {
        ID     string `json:"id"`
        Status string `json:"status"`
    }
    if err := json.Unmarshal(rr.Body.Bytes(), &site); err != nil { t.Fatalf("decode: %v", err) }
    if site.ID == "" || site.Status != "up" { t.Fatalf("site: %+v", site) }

    rr = doJSON(t, s.SiteByIDHandler, http.MethodGet, "/v1/sites/"+site.ID, "")
    if rr.Code != 200 { t.Fatalf("get: %d", rr.Code) }

    rr = doJSON(t, s.SitesHandler, http.MethodGet, "/v1/sites", "")
    if rr.Code != 200 { t.Fatalf("list: %d", rr.Code) }
    if !strings.Contains(rr.Body.String(), site.ID) { t.Fatalf("list body: %s", rr.Body.String()) }

    rr = doJSON(t, s.SitesHandler, http.MethodPost, "/v1/sites", `{"name":"","url":""}`)
    if rr.Code != http.StatusBadRequest { t.Fatalf("invalid create: %d", rr.Code) }
}

func TestSiteStatusTransitionEnqueuesWebhook(t *testing.T) {
    s := newTestServer(t)
    rr := doJSON(t, s.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions",
        `{"name":"ops","url":"https://ops.example.com/hook","events":["site_down","site_recovered"]}`)
    if rr.Code != http.StatusCreated { t.Fatalf("subscription: %d %s", rr.Code, rr.Body.String()) }

    rr = doJSON(t, s.SitesHandler, http.MethodPost, "/v1/sites", `{"name":"Acme","url":"https://acme.example.com"}`)
    var site struct{ ID string `json:"id"` }
    _ = json.Unmarshal(rr.Body.Bytes(), &site)

    rr = doJSON(t, s.SiteByIDHandler, http.MethodPost, "/v1/sites/"+site.ID+"/status", `{"status":"down"}`)
    if rr.Code != 200 { t.Fatalf("status: %d %s", rr.Code, rr.Body.String()) }

    items, _, err := s.Store.ListDeliveries(context.Background(), "t_demo", "", "", 10)
    if err != nil { t.Fatalf("deliveries: %v", err) }
    if len(items) != 1 || items[0].EventType != "site_down" {
        t.Fatalf("expected one site_down delivery: %+v", items)
    }

    // down -> up raises site_recovered
    rr = doJSON(t, s.SiteByIDHandler, http.MethodPost, "/v1/sites/"+site.ID+"/status", `{"status":"up"}`)
    if rr.Code != 200 { t.Fatalf("recover: %d", rr.Code) }
    items, _, _ = s.Store.ListDeliveries(context.Background(), "t_demo", "", "", 10)
    if len(items) != 2 { t.Fatalf("deliveries after recover: %d", len(items)) }

    // same status again raises nothing
    rr = doJSON(t, s.SiteByIDHandler, http.MethodPost, "/v1/sites/"+site.ID+"/status", `{"status":"up"}`)
    if rr.Code != 200 { t.Fatalf("idempotent status: %d", rr.Code) }
    items, _, _ = s.Store.ListDeliveries(context.Background(), "t_demo", "", "", 10)
    if len(items) != 2 { t.Fatalf("deliveries after no-op: %d", len(items)) }
}

func TestAlertsCreateResolveEnqueue(t *testing.T) {
    s := newTestServer(t)
    rr := doJSON(t, s.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions",
        `{"name":"all","url":"https://ops.example.com/hook","events":["*"]}`)
    if rr.Code != http.StatusCreated { t.Fatalf("subscription: %d", rr.Code) }

    rr = doJSON(t, s.AlertsHandler, http.MethodPost, "/v1/alerts", `{"title":"High latency","severity":"high","message":"p95 over 2s"}`)
    if rr.Code != http.StatusCreated { t.Fatalf("alert: %d %s", rr.Code, rr.Body.String()) }
    var alert struct{ ID string `json:"id"` }
    _ = json.Unmarshal(rr.Body.Bytes(), &alert)

    rr = doJSON(t, s.AlertByIDHandler, http.MethodPost, "/v1/alerts/"+alert.ID+"/resolve", `{"note":"restarted"}`)
    if rr.Code != 200 { t.Fatalf("resolve: %d %s", rr.Code, rr.Body.String()) }
    if !strings.Contains(rr.Body.String(), "resolved") { t.Fatalf("resolve body: %s", rr.Body.String()) }

    items, _, _ := s.Store.ListDeliveries(context.Background(), "t_demo", "", "", 10)
    if len(items) != 2 { t.Fatalf("deliveries: %d", len(items)) }
    types := map[string]bool{}
    for _, d := range items { types[d.EventType] = true }
    if !types["alert_created"] || !types["alert_resolved"] {
        t.Fatalf("event types: %v", types)
    }

    // resolving twice is a 404 (no longer open) and raises no extra event
    rr = doJSON(t, s.AlertByIDHandler, http.MethodPost, "/v1/alerts/"+alert.ID+"/resolve", `{}`)
    if rr.Code != http.StatusNotFound { t.Fatalf("double resolve: %d", rr.Code) }
    items, _, _ = s.Store.ListDeliveries(context.Background(), "t_demo", "", "", 10)
    if len(items) != 2 { t.Fatalf("deliveries after double resolve: %d", len(items)) }
}

func TestSubscriptionsValidationAndSecretHidden(t *testing.T) {
    s := newTestServer(t)
    rr := doJSON(t, s.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions",
        `{"name":"x","url":"ftp://bad","events":["*"]}`)
    if rr.Code != http.StatusBadRequest { t.Fatalf("bad url: %d", rr.Code) }

    rr = doJSON(t, s.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions",
        `{"name":"x","url":"https://ok.example.com/h","events":["nope"]}`)
    if rr.Code != http.StatusBadRequest { t.Fatalf("bad event: %d", rr.Code) }

    rr = doJSON(t, s.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions",
        `{"name":"x","url":"https://ok.example.com/h","events":["alert_created"],"secret":"topsecret"}`)
    if rr.Code != http.StatusCreated { t.Fatalf("create: %d %s", rr.Code, rr.Body.String()) }
    if strings.Contains(rr.Body.String(), "topsecret") {
        t.Fatal("secret leaked in response")
    }
    var sub struct{ ID string `json:"id"` }
    _ = json.Unmarshal(rr.Body.Bytes(), &sub)

    rr = doJSON(t, s.SubscriptionByIDHandler, http.MethodPatch, "/v1/subscriptions/"+sub.ID, `{"active":false}`)
    if rr.Code != 200 { t.Fatalf("patch: %d %s", rr.Code, rr.Body.String()) }
    if !strings.Contains(rr.Body.String(), `"active":false`) { t.Fatalf("patch body: %s", rr.Body.String()) }

    rr = doJSON(t, s.SubscriptionByIDHandler, http.MethodPatch, "/v1/subscriptions/"+sub.ID, `{"url":"nonsense"}`)
    if rr.Code != http.StatusBadRequest { t.Fatalf("patch bad url: %d", rr.Code) }

    rr = doJSON(t, s.SubscriptionByIDHandler, http.MethodDelete, "/v1/subscriptions/"+sub.ID, "")
    if rr.Code != http.StatusNoContent { t.Fatalf("delete: %d", rr.Code) }
    rr = doJSON(t, s.SubscriptionByIDHandler, http.MethodGet, "/v1/subscriptions/"+sub.ID, "")
    if rr.Code != http.StatusNotFound { t.Fatalf("get deleted: %d", rr.Code) }
}

func TestSubscriptionsRequireAdmin(t *testing.T) {
    s := newTestServer(t)
    req := httptest.NewRequest(http.MethodGet, "/v1/subscriptions", nil)
    req.Header.Set("X-Role", "viewer")
    rr := httptest.NewRecorder()
    s.SubscriptionsHandler(rr, req)
    if rr.Code != http.StatusForbidden { t.Fatalf("viewer list: %d", rr.Code) }
}

func TestAttemptsStreamIsTenantScoped(t *testing.T) {
    s := newTestServer(t)
    rr := doJSON(t, s.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions",
        `{"name":"all","url":"https://ops.example.com/hook","events":["*"]}`)
    if rr.Code != http.StatusCreated { t.Fatalf("subscription: %d", rr.Code) }
    var sub struct{ ID string `json:"id"` }
    _ = json.Unmarshal(rr.Body.Bytes(), &sub)

    // Another tenant's admin cannot open the stream.
    req := httptest.NewRequest(http.MethodGet, "/v1/subscriptions/"+sub.ID+"/attempts/stream", nil)
    req.Header.Set("X-Tenant-Id", "t_other")
    req.Header.Set("X-Role", "admin")
    rr = httptest.NewRecorder()
    s.SubscriptionByIDHandler(rr, req)
    if rr.Code != http.StatusNotFound { t.Fatalf("cross-tenant stream: %d", rr.Code) }

    // The owner can; a canceled request returns immediately with SSE headers.
    ctx, cancel := context.WithCancel(context.Background())
    cancel()
    req = httptest.NewRequest(http.MethodGet, "/v1/subscriptions/"+sub.ID+"/attempts/stream", nil).WithContext(ctx)
    rr = httptest.NewRecorder()
    s.SubscriptionByIDHandler(rr, req)
    if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
        t.Fatalf("stream content type: %q (code %d)", ct, rr.Code)
    }
}

func TestAdminDeliveryEndpoints(t *testing.T) {
    s := newTestServer(t)
    rr := doJSON(t, s.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions",
        `{"name":"all","url":"https://ops.example.com/hook","events":["*"]}`)
    if rr.Code != http.StatusCreated { t.Fatalf("subscription: %d", rr.Code) }
    var sub struct{ ID string `json:"id"` }
    _ = json.Unmarshal(rr.Body.Bytes(), &sub)

    rr = doJSON(t, s.AlertsHandler, http.MethodPost, "/v1/alerts", `{"title":"x"}`)
    if rr.Code != http.StatusCreated { t.Fatalf("alert: %d", rr.Code) }

    rr = doJSON(t, s.WebhookDeliveriesHandler, http.MethodGet, "/v1/admin/webhook-deliveries?status=pending", "")
    if rr.Code != 200 { t.Fatalf("deliveries: %d", rr.Code) }
    var list struct {
        Items []struct{ ID string `json:"id"` } `json:"items"`
    }
    if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil { t.Fatalf("decode: %v", err) }
    if len(list.Items) != 1 { t.Fatalf("pending deliveries: %d", len(list.Items)) }

    rr = doJSON(t, s.WebhookDeliveryRetryHandler, http.MethodPost, "/v1/admin/webhook-deliveries/"+list.Items[0].ID+"/retry", "")
    if rr.Code != http.StatusAccepted { t.Fatalf("retry: %d %s", rr.Code, rr.Body.String()) }

    rr = doJSON(t, s.WebhookDeliveryRetryHandler, http.MethodPost, "/v1/admin/webhook-deliveries/unknown/retry", "")
    if rr.Code != http.StatusNotFound { t.Fatalf("retry unknown: %d", rr.Code) }

    rr = doJSON(t, s.DeliveryAttemptsHandler, http.MethodGet, "/v1/admin/delivery-attempts?subscriptionId="+sub.ID, "")
    if rr.Code != 200 { t.Fatalf("attempts: %d", rr.Code) }

    rr = doJSON(t, s.WebhookStatsHandler, http.MethodGet, "/v1/admin/webhook-stats", "")
    if rr.Code != 200 { t.Fatalf("stats: %d", rr.Code) }
}

func TestDebugAndProblemFormat(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    s.DebugJSON(rr, httptest.NewRequest(http.MethodGet, "/debug/info", nil))
    if rr.Code != 200 { t.Fatalf("debug: %d", rr.Code) }

    rr = doJSON(t, s.SiteByIDHandler, http.MethodGet, "/v1/sites/nope", "")
    if rr.Code != http.StatusNotFound { t.Fatalf("missing site: %d", rr.Code) }
    if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/problem+json") {
        t.Fatalf("problem content type: %q", ct)
    }
}
