package api

import (
    "log"
    "net/http"
    "time"

    "github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
    ReadBufferSize:  1024,
    WriteBufferSize: 1024,
    CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamDeliveriesWSHandler upgrades to a WebSocket and pushes every delivery
// outcome (all subscriptions) to the client. Admin only.
func (s *Server) StreamDeliveriesWSHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    if !p.IsAdmin() {
        writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
        return
    }
    conn, err := upgrader.Upgrade(w, r, nil)
    if err != nil {
        log.Printf("ws upgrade: %v", err)
        return
    }
    defer conn.Close()

    ch := s.Broker.Subscribe(Firehose)
    defer s.Broker.Unsubscribe(Firehose, ch)

    // Reader goroutine: drains client frames and detects disconnect.
    done := make(chan struct{})
    go func() {
        defer close(done)
        for {
            if _, _, err := conn.ReadMessage(); err != nil {
                return
            }
        }
    }()

    ping := time.NewTicker(30 * time.Second)
    defer ping.Stop()
    for {
        select {
        case <-done:
            return
        case <-ping.C:
            if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
                return
            }
        case evt, ok := <-ch:
            if !ok {
                return
            }
            msg := map[string]any{"type": evt.Type, "data": evt.Data}
            if err := conn.WriteJSON(msg); err != nil {
                return
            }
        }
    }
}
