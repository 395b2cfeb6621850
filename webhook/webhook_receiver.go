// webhook_receiver.go - standalone receiver for chathub admin events, with
// email and Discord notifications.
package main

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/smtp"
	"os"
	"strings"
	"time"
)

// HubEvent mirrors the JSON the server posts for kicks, throttled logins,
// and shutdowns.
type HubEvent struct {
	Event      string `json:"event"`
	Username   string `json:"username"`
	RemoteAddr string `json:"remote_addr"`
	Reason     string `json:"reason"`
	Timestamp  int64  `json:"timestamp"`
}

type Config struct {
	Port           string
	SecretToken    string
	SMTPHost       string
	SMTPPort       string
	SMTPUser       string
	SMTPPass       string
	EmailFrom      string
	EmailTo        string
	DiscordWebhook string
}

func main() {
	port := flag.String("port", "8080", "HTTP port to listen on")
	flag.Parse()

	config := Config{
		Port:           *port,
		SecretToken:    os.Getenv("WEBHOOK_SECRET"),
		SMTPHost:       os.Getenv("SMTP_HOST"),
		SMTPPort:       os.Getenv("SMTP_PORT"),
		SMTPUser:       os.Getenv("SMTP_USER"),
		SMTPPass:       os.Getenv("SMTP_PASS"),
		EmailFrom:      os.Getenv("EMAIL_FROM"),
		EmailTo:        os.Getenv("EMAIL_TO"),
		DiscordWebhook: os.Getenv("DISCORD_WEBHOOK"),
	}

	// Guard against placeholder Discord URLs so we don't post to an
	// invalid endpoint.
	if strings.Contains(strings.ToUpper(config.DiscordWebhook), "YOUR_WEBHOOK_ID") ||
		strings.Contains(strings.ToUpper(config.DiscordWebhook), "YOUR_WEBHOOK_TOKEN") {
		log.Printf("Discord webhook looks like a placeholder; disabling Discord notifications until a real URL is set.")
		config.DiscordWebhook = ""
	}

	if config.SecretToken == "" {
		log.Fatal("WEBHOOK_SECRET environment variable is required")
	}

	http.HandleFunc("/webhook", securityMiddleware(config, handleWebhook(config)))
	http.HandleFunc("/health", handleHealth)

	log.Printf("Webhook receiver starting on port %s", config.Port)
	log.Printf("Email notifications: %v", config.EmailTo != "")
	log.Printf("Discord notifications: %v", config.DiscordWebhook != "")

	if err := http.ListenAndServe(":"+config.Port, nil); err != nil {
		log.Fatal(err)
	}
}

func securityMiddleware(config Config, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")

		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		// Constant-time token check
		authHeader := r.Header.Get("Authorization")
		expectedToken := "Bearer " + config.SecretToken
		if subtle.ConstantTimeCompare([]byte(authHeader), []byte(expectedToken)) != 1 {
			log.Printf("Unauthorized access attempt from %s", r.RemoteAddr)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if r.Header.Get("Content-Type") != "application/json" {
			http.Error(w, "Content-Type must be application/json", http.StatusBadRequest)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		next(w, r)
	}
}

func handleWebhook(config Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev HubEvent

		body, err := io.ReadAll(r.Body)
		if err != nil {
			log.Printf("Error reading body: %v", err)
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		if err := json.Unmarshal(body, &ev); err != nil {
			log.Printf("Error parsing JSON: %v", err)
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		log.Printf("Event received: event=%s user=%s addr=%s reason=%s",
			ev.Event, ev.Username, ev.RemoteAddr, ev.Reason)

		var emailErr, discordErr error
		if config.EmailTo != "" {
			emailErr = sendEmailNotification(config, ev)
			if emailErr != nil {
				log.Printf("Email notification failed: %v", emailErr)
			}
		}
		if config.DiscordWebhook != "" {
			discordErr = sendDiscordNotification(config, ev)
			if discordErr != nil {
				log.Printf("Discord notification failed: %v", discordErr)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":       "received",
			"email_sent":   emailErr == nil && config.EmailTo != "",
			"discord_sent": discordErr == nil && config.DiscordWebhook != "",
			"timestamp":    time.Now().Unix(),
		})
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func sendEmailNotification(config Config, ev HubEvent) error {
	if config.SMTPHost == "" || config.EmailTo == "" {
		return nil
	}

	timestamp := time.Unix(ev.Timestamp, 0).Format(time.RFC1123)
	subject := fmt.Sprintf("chathub alert: %s", ev.Event)
	body := fmt.Sprintf(`chathub admin alert

Event: %s
Username: %s
Remote address: %s
Reason: %s
Timestamp: %s

This is an automated notification from the chathub server.
`, ev.Event, ev.Username, ev.RemoteAddr, ev.Reason, timestamp)

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		config.EmailFrom, config.EmailTo, subject, body)

	auth := smtp.PlainAuth("", config.SMTPUser, config.SMTPPass, config.SMTPHost)
	addr := config.SMTPHost + ":" + config.SMTPPort
	return smtp.SendMail(addr, auth, config.EmailFrom, []string{config.EmailTo}, []byte(msg))
}

func sendDiscordNotification(config Config, ev HubEvent) error {
	if config.DiscordWebhook == "" {
		return nil
	}

	payload := map[string]interface{}{
		"username": "chathub admin",
		"embeds": []map[string]interface{}{
			{
				"title":       "Hub event: " + ev.Event,
				"description": ev.Reason,
				"color":       0xFF0000,
				"fields": []map[string]interface{}{
					{"name": "Username", "value": ev.Username, "inline": true},
					{"name": "Remote address", "value": ev.RemoteAddr, "inline": true},
				},
				"timestamp": time.Unix(ev.Timestamp, 0).Format(time.RFC3339),
			},
		},
	}

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := http.Post(config.DiscordWebhook, "application/json", bytes.NewBuffer(jsonPayload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord webhook returned status %d", resp.StatusCode)
	}
	return nil
}
