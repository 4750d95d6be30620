package model

import "time"

// Core domain types for the monitoring dashboard.

// Site is a monitored client website.
type Site struct {
    ID            string     `json:"id"`
    TenantID      string     `json:"tenantId,omitempty"`
    Name          string     `json:"name"`
    URL           string     `json:"url"`
    Status        string     `json:"status"` // up, degraded, down
    LastCheckedAt *time.Time `json:"lastCheckedAt,omitempty"`
    CreatedAt     time.Time  `json:"createdAt"`
}

type SiteRequest struct {
    Name string `json:"name"`
    URL  string `json:"url"`
}

// Alert is the entity carried by webhook events. Site fields are denormalized
// so the delivery path never needs a second lookup.
type Alert struct {
    ID             string     `json:"id"`
    TenantID       string     `json:"tenantId,omitempty"`
    SiteID         string     `json:"siteId,omitempty"`
    SiteName       string     `json:"siteName,omitempty"`
    SiteURL        string     `json:"siteUrl,omitempty"`
    Title          string     `json:"title"`
    Type           string     `json:"type"`     // uptime, ssl, performance, custom
    Severity       string     `json:"severity"` // critical, high, medium, low
    Message        string     `json:"message"`
    Status         string     `json:"status"` // open, resolved
    ResolutionNote string     `json:"resolutionNote,omitempty"`
    ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
    CreatedAt      time.Time  `json:"createdAt"`
}

type AlertRequest struct {
    SiteID   string `json:"siteId"`
    Title    string `json:"title"`
    Type     string `json:"type"`
    Severity string `json:"severity"`
    Message  string `json:"message"`
}

// Subscription is a configured webhook destination.
type Subscription struct {
    ID              string     `json:"id"`
    TenantID        string     `json:"tenantId,omitempty"`
    Name            string     `json:"name,omitempty"`
    URL             string     `json:"url"`
    Events          []string   `json:"events"` // event-type filter; "*" matches all
    Active          bool       `json:"active"`
    Secret          string     `json:"-"`
    MaxRetries      int        `json:"maxRetries"`
    LastTriggeredAt *time.Time `json:"lastTriggeredAt,omitempty"`
    CreatedAt       time.Time  `json:"createdAt"`
}

type SubscriptionRequest struct {
    TenantID   string   `json:"tenantId,omitempty"`
    Name       string   `json:"name,omitempty"`
    URL        string   `json:"url"`
    Events     []string `json:"events"`
    Secret     string   `json:"secret,omitempty"`
    Active     *bool    `json:"active,omitempty"`
    MaxRetries int      `json:"maxRetries,omitempty"`
}

type SubscriptionPatch struct {
    Name       *string   `json:"name,omitempty"`
    URL        *string   `json:"url,omitempty"`
    Events     *[]string `json:"events,omitempty"`
    Secret     *string   `json:"secret,omitempty"`
    Active     *bool     `json:"active,omitempty"`
    MaxRetries *int      `json:"maxRetries,omitempty"`
}

// DeliveryAttempt is one row of the append-only delivery audit log. Rows are
// inserted once per HTTP attempt and never mutated.
type DeliveryAttempt struct {
    ID             string    `json:"id"`
    TenantID       string    `json:"tenantId,omitempty"`
    SubscriptionID string    `json:"subscriptionId"`
    DeliveryID     string    `json:"deliveryId"`
    EventType      string    `json:"eventType"`
    Payload        []byte    `json:"payload"`
    ResponseStatus *int      `json:"responseStatus,omitempty"` // nil when no response was received
    ResponseBody   *string   `json:"responseBody,omitempty"`
    AttemptNumber  int       `json:"attemptNumber"`
    Success        bool      `json:"success"`
    ErrorMessage   *string   `json:"errorMessage,omitempty"`
    CreatedAt      time.Time `json:"createdAt"`
}
