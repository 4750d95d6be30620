package store

import "time"

// Delivery queue states.
const (
    DeliveryPending    = "pending"
    DeliveryAttempting = "attempting"
    DeliveryRetry      = "retry"
    DeliveryDelivered  = "delivered"
    DeliveryExhausted  = "exhausted"
)

// WebhookDelivery is one queued (event, subscription) delivery. Payload holds
// the exact rendered bytes; the worker signs and posts them as-is.
type WebhookDelivery struct {
    ID             string     `json:"id"`
    TenantID       string     `json:"tenantId,omitempty"`
    SubscriptionID string     `json:"subscriptionId"`
    EventType      string     `json:"eventType"`
    URL            string     `json:"url"`
    Secret         string     `json:"-"`
    Payload        []byte     `json:"payload,omitempty"`
    Status         string     `json:"status"`
    Attempts       int        `json:"attempts"`
    MaxAttempts    int        `json:"maxAttempts"`
    LastError      string     `json:"lastError,omitempty"`
    NextAttemptAt  time.Time  `json:"nextAttemptAt,omitempty"`
    DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
    CreatedAt      time.Time  `json:"createdAt"`
}
