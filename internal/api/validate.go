package api

import (
    "errors"

    "sitewatch/internal/model"
    "sitewatch/internal/webhooks"
)

var knownEvents = map[string]bool{
    "*":              true,
    "alert_created":  true,
    "alert_resolved": true,
    "site_down":      true,
    "site_recovered": true,
}

func validateSubscriptionRequest(req *model.SubscriptionRequest) error {
    if req.Name == "" {
        return errors.New("name is required")
    }
    if err := validateEndpointURL(req.URL); err != nil {
        return err
    }
    if len(req.Events) == 0 {
        return errors.New("at least one event type is required")
    }
    for _, e := range req.Events {
        if !knownEvents[e] {
            return errors.New("unknown event type: " + e)
        }
    }
    if req.MaxRetries <= 0 {
        req.MaxRetries = 3
    }
    if req.MaxRetries > 10 {
        return errors.New("maxRetries must be 10 or less")
    }
    return nil
}

func validateEndpointURL(raw string) error {
    return webhooks.ValidateEndpoint(raw)
}
