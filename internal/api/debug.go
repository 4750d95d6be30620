package api

import (
    "encoding/json"
    "net/http"
    "os"
    "time"

    "sitewatch/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
    info := map[string]any{
        "build": buildinfo.Info(),
        "time":  time.Now().UTC().Format(time.RFC3339),
        "config": map[string]any{
            "PORT": os.Getenv("PORT"),
            "AUTH_MODE": os.Getenv("AUTH_MODE"),
            "WEBHOOK_TIMEOUT_MS": os.Getenv("WEBHOOK_TIMEOUT_MS"),
            "WEBHOOK_RATE_RPS": os.Getenv("WEBHOOK_RATE_RPS"),
            "WEBHOOK_RATE_BURST": os.Getenv("WEBHOOK_RATE_BURST"),
            "HAS_DATABASE_URL": os.Getenv("DATABASE_URL") != "",
            "HAS_REDIS_URL": os.Getenv("REDIS_URL") != "",
        },
    }
    w.Header().Set("Content-Type", "application/json")
    _ = json.NewEncoder(w).Encode(info)
}
