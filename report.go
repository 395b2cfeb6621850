// report.go
// Administrative event reporting to an external webhook.
//go:build !client

package main

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"time"
)

type adminEvent struct {
	Event      string `json:"event"`
	Username   string `json:"username,omitempty"`
	RemoteAddr string `json:"remote_addr,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// report delivers ev to the configured admin webhook, or logs it when none
// is set. Delivery runs in its own goroutine so a slow endpoint never
// stalls a connection handler.
func (s *Server) report(ev adminEvent) {
	ev.Timestamp = time.Now().Unix()
	if s.cfg.AdminWebhook == "" {
		log.Printf("[Report] %+v", ev)
		return
	}
	go func() {
		b, err := json.Marshal(ev)
		if err != nil {
			log.Printf("[Report] marshal: %v", err)
			return
		}
		req, err := http.NewRequest(http.MethodPost, s.cfg.AdminWebhook, bytes.NewReader(b))
		if err != nil {
			log.Printf("[Report] request: %v", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if token := os.Getenv("WEBHOOK_SECRET"); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		client := &http.Client{Timeout: 8 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			log.Printf("[Report] webhook error: %v", err)
			return
		}
		resp.Body.Close()
		log.Printf("[Report] webhook status: %s", resp.Status)
	}()
}
