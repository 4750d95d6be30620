// Package main runs a demo: it starts a local webhook sink, registers a
// subscription pointing at it, watches the delivery firehose over WebSocket,
// and fires an alert.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Local sink that receives the webhook POSTs.
	sink := http.Server{Addr: ":9099", Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		log.Printf("webhook <- %s sig=%s body=%s", r.Header.Get("X-Event-Type"), r.Header.Get("X-Signature"), string(body))
		w.WriteHeader(http.StatusOK)
	})}
	go func() { _ = sink.ListenAndServe() }()

	// Register a subscription for all events.
	subBody := []byte(`{"name":"demo sink","url":"http://localhost:9099/hook","events":["*"],"secret":"demo-secret"}`)
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/subscriptions", bytes.NewReader(subBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_demo")
	req.Header.Set("X-Role", "admin")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var sub struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		log.Fatal(err)
	}
	log.Printf("Subscription ID: %s", sub.ID)

	// Connect to the delivery firehose.
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/stream/deliveries"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t_demo")
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m map[string]any
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			out, _ := json.Marshal(m)
			log.Printf("WS <- %s", out)
		}
	}()

	// Fire an alert to trigger a delivery.
	time.Sleep(500 * time.Millisecond)
	alertBody := []byte(`{"title":"Demo outage","severity":"critical","message":"triggered by ws_client"}`)
	alertReq, _ := http.NewRequest(http.MethodPost, base+"/v1/alerts", bytes.NewReader(alertBody))
	alertReq.Header.Set("Content-Type", "application/json")
	alertReq.Header.Set("X-Tenant-Id", "t_demo")
	alertReq.Header.Set("X-Role", "admin")
	_, _ = http.DefaultClient.Do(alertReq)

	// Wait for the worker tick and the resulting events.
	select {
	case <-time.After(5 * time.Second):
	case <-done:
	}
}
