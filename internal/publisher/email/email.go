// Package email delivers Events as plain-text notification emails, the
// SubscriptionEmail kind: a net/smtp + crypto/tls dial (direct TLS
// first, STARTTLS fallback) rendering a fixed notification template from
// each Event, with config supplied once at construction.
package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/ternarybob/netctl/internal/models"
)

// Config is the SMTP configuration the Event Publisher's email Adapter
// sends through, sourced from the orchestrator's own configuration rather
// than per-tenant KeyValue storage.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	UseTLS   bool
}

// Adapter sends one notification email per Event to sub.Target.
type Adapter struct {
	config Config
}

// New builds an email Adapter bound to config.
func New(config Config) *Adapter {
	return &Adapter{config: config}
}

func (a *Adapter) Deliver(ctx context.Context, sub models.EventSubscription, event models.Event) error {
	if a.config.Host == "" || a.config.From == "" {
		return fmt.Errorf("email adapter not configured: missing SMTP host or from address")
	}

	subject := fmt.Sprintf("[netctl] %s", event.Type)
	body := fmt.Sprintf(
		"Event: %s\nCustomer: %s\nEvent ID: %s\nTimestamp: %s\n\nPayload:\n%v\n",
		event.Type, event.CustomerID, event.ID, event.Timestamp.Format(time.RFC3339), event.Payload)

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s <%s>\r\n", a.config.FromName, a.config.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", sub.Target))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", a.config.Host, a.config.Port)
	auth := smtp.PlainAuth("", a.config.Username, a.config.Password, a.config.Host)

	if a.config.UseTLS {
		return a.sendWithTLS(addr, auth, sub.Target, msg.String())
	}
	return smtp.SendMail(addr, auth, a.config.From, []string{sub.Target}, []byte(msg.String()))
}

func (a *Adapter) sendWithTLS(addr string, auth smtp.Auth, to, msg string) error {
	host := strings.Split(addr, ":")[0]

	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return a.sendWithSTARTTLS(addr, auth, to, msg)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("new smtp client: %w", err)
	}
	defer client.Close()

	return a.transmit(client, auth, to, msg)
}

func (a *Adapter) sendWithSTARTTLS(addr string, auth smtp.Auth, to, msg string) error {
	host := strings.Split(addr, ":")[0]

	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
		return fmt.Errorf("starttls: %w", err)
	}
	return a.transmit(client, auth, to, msg)
}

func (a *Adapter) transmit(client *smtp.Client, auth smtp.Auth, to, msg string) error {
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := client.Mail(a.config.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data writer: %w", err)
	}
	return client.Quit()
}
