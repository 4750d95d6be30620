package api

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "net/http"
    "strings"
    "time"

    "sitewatch/internal/model"
    "sitewatch/internal/store"
)

// SitesHandler handles POST/GET /v1/sites
func (s *Server) SitesHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    switch r.Method {
    case http.MethodPost:
        if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
        var req model.SiteRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if req.Name == "" || req.URL == "" {
            writeProblem(w, http.StatusBadRequest, "Invalid site", "name and url are required", r.URL.Path)
            return
        }
        site, err := s.Store.CreateSite(r.Context(), p.Tenant, req)
        if err != nil { writeProblem(w, 500, "Create site failed", err.Error(), r.URL.Path); return }
        writeJSON(w, http.StatusCreated, site)
    case http.MethodGet:
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListSites(r.Context(), p.Tenant, cursor, limit)
        if err != nil { writeProblem(w, 500, "List sites failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// SiteByIDHandler handles /v1/sites/{id} and /v1/sites/{id}/status
func (s *Server) SiteByIDHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    rest := strings.TrimPrefix(r.URL.Path, "/v1/sites/")
    parts := strings.Split(rest, "/")
    id := parts[0]
    if id == "" { writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path); return }

    if len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodPost {
        var req struct {
            Status string `json:"status"`
        }
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if req.Status != "up" && req.Status != "degraded" && req.Status != "down" {
            writeProblem(w, http.StatusBadRequest, "Invalid status", "status must be up, degraded or down", r.URL.Path)
            return
        }
        prev, err := s.Store.GetSite(r.Context(), p.Tenant, id)
        if err != nil { s.storeProblem(w, r, "Get site failed", err); return }
        site, err := s.Store.UpdateSiteStatus(r.Context(), p.Tenant, id, req.Status, time.Now().UTC())
        if err != nil { s.storeProblem(w, r, "Update site failed", err); return }
        // Status transitions raise site events through the same delivery engine.
        if prev.Status != site.Status {
            if evt := siteEventFor(prev.Status, site.Status); evt != "" {
                s.emit(r.Context(), p.Tenant, evt, model.Alert{
                    SiteID:    site.ID,
                    SiteName:  site.Name,
                    SiteURL:   site.URL,
                    Title:     "Site " + site.Status,
                    Type:      "uptime",
                    Severity:  siteSeverityFor(site.Status),
                    Message:   fmt.Sprintf("%s changed from %s to %s", site.Name, prev.Status, site.Status),
                    Status:    "open",
                    CreatedAt: time.Now().UTC(),
                })
            }
        }
        writeJSON(w, 200, site)
        return
    }

    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    site, err := s.Store.GetSite(r.Context(), p.Tenant, id)
    if err != nil { s.storeProblem(w, r, "Get site failed", err); return }
    writeJSON(w, 200, site)
}

func siteEventFor(prev, next string) string {
    if next == "down" { return "site_down" }
    if prev == "down" && next == "up" { return "site_recovered" }
    return ""
}

func siteSeverityFor(status string) string {
    if status == "down" { return "critical" }
    return "low"
}

// AlertsHandler handles POST/GET /v1/alerts
func (s *Server) AlertsHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    switch r.Method {
    case http.MethodPost:
        var req model.AlertRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if req.Title == "" {
            writeProblem(w, http.StatusBadRequest, "Invalid alert", "title is required", r.URL.Path)
            return
        }
        alert, err := s.Store.CreateAlert(r.Context(), p.Tenant, req)
        if err != nil { writeProblem(w, 500, "Create alert failed", err.Error(), r.URL.Path); return }
        s.emit(r.Context(), p.Tenant, "alert_created", alert)
        writeJSON(w, http.StatusCreated, alert)
    case http.MethodGet:
        status := r.URL.Query().Get("status")
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListAlerts(r.Context(), p.Tenant, status, cursor, limit)
        if err != nil { writeProblem(w, 500, "List alerts failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// AlertByIDHandler handles /v1/alerts/{id} and /v1/alerts/{id}/resolve
func (s *Server) AlertByIDHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    rest := strings.TrimPrefix(r.URL.Path, "/v1/alerts/")
    parts := strings.Split(rest, "/")
    id := parts[0]
    if id == "" { writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path); return }

    if len(parts) == 2 && parts[1] == "resolve" && r.Method == http.MethodPost {
        var req struct {
            Note string `json:"note"`
        }
        _ = json.NewDecoder(r.Body).Decode(&req)
        alert, err := s.Store.ResolveAlert(r.Context(), p.Tenant, id, req.Note)
        if err != nil { s.storeProblem(w, r, "Resolve alert failed", err); return }
        s.emit(r.Context(), p.Tenant, "alert_resolved", alert)
        writeJSON(w, 200, alert)
        return
    }

    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    alert, err := s.Store.GetAlert(r.Context(), p.Tenant, id)
    if err != nil { s.storeProblem(w, r, "Get alert failed", err); return }
    writeJSON(w, 200, alert)
}

// emit dispatches a domain event; delivery outcomes are async, only
// configuration errors come back and those are logged, not surfaced.
func (s *Server) emit(ctx context.Context, tenant, eventType string, alert model.Alert) {
    if err := s.Pub.Emit(ctx, tenant, eventType, alert); err != nil {
        log.Printf("webhook dispatch %s: %v", eventType, err)
    }
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    switch r.Method {
    case http.MethodPost:
        var req model.SubscriptionRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        req.TenantID = p.Tenant
        if err := validateSubscriptionRequest(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid subscription", err.Error(), r.URL.Path)
            return
        }
        sub, err := s.Store.CreateSubscription(r.Context(), req)
        if err != nil { writeProblem(w, 500, "Create subscription failed", err.Error(), r.URL.Path); return }
        writeJSON(w, http.StatusCreated, sub)
    case http.MethodGet:
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListSubscriptions(r.Context(), p.Tenant, cursor, limit)
        if err != nil { writeProblem(w, 500, "List subscriptions failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// SubscriptionByIDHandler handles GET/PATCH/DELETE /v1/subscriptions/{id}
// and GET /v1/subscriptions/{id}/attempts/stream (SSE).
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    rest := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
    parts := strings.Split(rest, "/")
    id := parts[0]
    if id == "" { writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path); return }

    if len(parts) == 3 && parts[1] == "attempts" && parts[2] == "stream" {
        // The stream key is the raw id; confirm it belongs to this tenant first.
        if _, err := s.Store.GetSubscription(r.Context(), p.Tenant, id); err != nil {
            s.storeProblem(w, r, "Get subscription failed", err)
            return
        }
        s.attemptsStream(w, r, id)
        return
    }

    switch r.Method {
    case http.MethodGet:
        sub, err := s.Store.GetSubscription(r.Context(), p.Tenant, id)
        if err != nil { s.storeProblem(w, r, "Get subscription failed", err); return }
        writeJSON(w, 200, sub)
    case http.MethodPatch:
        var patch model.SubscriptionPatch
        if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if patch.URL != nil {
            if err := validateEndpointURL(*patch.URL); err != nil {
                writeProblem(w, http.StatusBadRequest, "Invalid subscription", err.Error(), r.URL.Path)
                return
            }
        }
        sub, err := s.Store.PatchSubscription(r.Context(), p.Tenant, id, patch)
        if err != nil { s.storeProblem(w, r, "Patch subscription failed", err); return }
        writeJSON(w, 200, sub)
    case http.MethodDelete:
        if err := s.Store.DeleteSubscription(r.Context(), p.Tenant, id); err != nil {
            s.storeProblem(w, r, "Delete subscription failed", err)
            return
        }
        w.WriteHeader(http.StatusNoContent)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// attemptsStream pushes live delivery outcomes for one subscription over SSE.
func (s *Server) attemptsStream(w http.ResponseWriter, r *http.Request, subscriptionID string) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    fl, ok := w.(http.Flusher)
    if !ok {
        writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path)
        return
    }
    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    ch := s.Broker.Subscribe(subscriptionID)
    defer s.Broker.Unsubscribe(subscriptionID, ch)
    for {
        select {
        case <-r.Context().Done():
            return
        case evt, ok := <-ch:
            if !ok { return }
            data, _ := json.Marshal(evt.Data)
            fmt.Fprintf(w, "event: %s\n", evt.Type)
            fmt.Fprintf(w, "data: %s\n\n", data)
            fl.Flush()
        }
    }
}

// WebhookDeliveriesHandler handles GET /v1/admin/webhook-deliveries
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    status := r.URL.Query().Get("status")
    cursor := r.URL.Query().Get("cursor")
    limit := 100
    if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
    items, next, err := s.Store.ListDeliveries(r.Context(), p.Tenant, status, cursor, limit)
    if err != nil { writeProblem(w, 500, "List deliveries failed", err.Error(), r.URL.Path); return }
    writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

// WebhookDeliveryRetryHandler handles POST /v1/admin/webhook-deliveries/{id}/retry
func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    rest := strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/")
    id := strings.TrimSuffix(rest, "/retry")
    if id == "" || id == rest {
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
        return
    }
    if err := s.Store.RetryDelivery(r.Context(), p.Tenant, id); err != nil {
        s.storeProblem(w, r, "Retry delivery failed", err)
        return
    }
    writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "status": store.DeliveryPending})
}

// DeliveryAttemptsHandler handles GET /v1/admin/delivery-attempts
func (s *Server) DeliveryAttemptsHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    f := store.AttemptFilter{
        SubscriptionID: r.URL.Query().Get("subscriptionId"),
        EventType:      r.URL.Query().Get("eventType"),
        Cursor:         r.URL.Query().Get("cursor"),
        Limit:          100,
    }
    if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &f.Limit) }
    if v := r.URL.Query().Get("success"); v != "" {
        ok := v == "true"
        f.Success = &ok
    }
    items, next, err := s.Store.ListDeliveryAttempts(r.Context(), p.Tenant, f)
    if err != nil { writeProblem(w, 500, "List attempts failed", err.Error(), r.URL.Path); return }
    writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

// WebhookStatsHandler handles GET /v1/admin/webhook-stats
func (s *Server) WebhookStatsHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    since := time.Now().Add(-24 * time.Hour)
    if v := r.URL.Query().Get("since"); v != "" {
        if t, err := time.Parse(time.RFC3339, v); err == nil { since = t }
    }
    stats, err := s.Store.DeliveryStats(r.Context(), p.Tenant, since)
    if err != nil { writeProblem(w, 500, "Stats failed", err.Error(), r.URL.Path); return }
    writeJSON(w, 200, stats)
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]string{"status": "ready"})
}

// storeProblem maps store errors onto problem responses.
func (s *Server) storeProblem(w http.ResponseWriter, r *http.Request, title string, err error) {
    if errors.Is(err, store.ErrNotFound) {
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
        return
    }
    writeProblem(w, http.StatusInternalServerError, title, err.Error(), r.URL.Path)
}
