package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"strings"
	"time"

	"gopkg.in/mail.v2"

	"sourceMonitor/internal/core/domain"
)

// Config holds the SMTP settings of the digest transport.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// Configured reports whether enough is set to attempt a delivery.
func (c Config) Configured() bool {
	return c.Host != "" && c.Port > 0 && len(c.To) > 0 && c.sender() != ""
}

func (c Config) sender() string {
	if c.From != "" {
		return c.From
	}
	return c.Username
}

// Notifier sends digests over SMTP. Port 465 uses implicit TLS; any other
// port requires STARTTLS, and a server that does not offer it is refused
// before anything is sent.
type Notifier struct {
	cfg  Config
	send func(m *mail.Message) error
}

var _ domain.Notifier = (*Notifier)(nil)

func NewNotifier(cfg Config) *Notifier {
	n := &Notifier{cfg: cfg}
	n.send = n.dialAndSend
	return n
}

func (n *Notifier) dialAndSend(m *mail.Message) error {
	d := mail.NewDialer(n.cfg.Host, n.cfg.Port, n.cfg.Username, n.cfg.Password)
	d.SSL = n.cfg.Port == 465
	d.StartTLSPolicy = mail.MandatoryStartTLS
	d.TLSConfig = &tls.Config{ServerName: n.cfg.Host, MinVersion: tls.VersionTLS12}
	return d.DialAndSend(m)
}

// Send delivers one HTML message to every recipient. It returns
// domain.ErrNotConfigured when SMTP is not set up.
func (n *Notifier) Send(ctx context.Context, subject, body string) error {
	if !n.cfg.Configured() {
		return fmt.Errorf("smtp: %w", domain.ErrNotConfigured)
	}
	m := mail.NewMessage()
	m.SetHeader("From", n.cfg.sender())
	m.SetHeader("To", n.cfg.To...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	// mail has no context support; the dial keeps running in the
	// background if ctx ends first.
	done := make(chan error, 1)
	go func() { done <- n.send(m) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send via %s:%d: %w", n.cfg.Host, n.cfg.Port, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DigestSubject counts alerts by severity.
func DigestSubject(alerts []domain.Alert) string {
	critical, warnings := countSeverities(alerts)
	return fmt.Sprintf("Source Monitor Digest: %d Critical, %d Warnings", critical, warnings)
}

func countSeverities(alerts []domain.Alert) (critical, warnings int) {
	for _, a := range alerts {
		switch a.Severity {
		case domain.SeverityCritical:
			critical++
		case domain.SeverityWarning:
			warnings++
		}
	}
	return critical, warnings
}

// RenderDigest builds the subject and HTML body of a digest, critical
// alerts first.
func RenderDigest(alerts []domain.Alert, now time.Time) (subject, body string) {
	subject = DigestSubject(alerts)
	if len(alerts) == 0 {
		return subject, "<html><body><p>No alerts to report.</p></body></html>"
	}
	critical, warnings := countSeverities(alerts)

	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html lang="en"><head><meta charset="UTF-8"><title>Source Monitor Digest</title>
<style>
body { font-family: sans-serif; line-height: 1.6; color: #333; }
.container { max-width: 800px; margin: 20px auto; padding: 20px; border: 1px solid #ddd; border-radius: 5px; }
.summary { background-color: #f5f5f5; padding: 15px; margin: 20px 0; }
.alert { padding: 12px; margin: 10px 0; border-left: 4px solid #ccc; }
.alert.critical { border-left-color: #f44336; background-color: #ffebee; }
.alert.warning { border-left-color: #ff9800; background-color: #fff3e0; }
.title { font-weight: bold; }
.detail { color: #666; font-size: 14px; white-space: pre-wrap; }
.url { color: #1976d2; font-size: 12px; word-break: break-all; }
</style>
</head><body><div class="container">
<h1>Source Monitor Digest</h1>`)
	fmt.Fprintf(&b, `<div class="summary"><p><strong>Total alerts:</strong> %d</p><p><strong>Critical:</strong> %d | <strong>Warnings:</strong> %d</p><p><strong>Time:</strong> %s</p></div>`,
		len(alerts), critical, warnings, now.UTC().Format("2006-01-02 15:04:05 UTC"))

	writeSection(&b, alerts, domain.SeverityCritical, "Critical Alerts")
	writeSection(&b, alerts, domain.SeverityWarning, "Warnings")

	b.WriteString(`<hr><p style="font-size: 0.8em; color: #777;">This is an automated message from the source monitor.</p></div></body></html>`)
	return subject, b.String()
}

func writeSection(b *strings.Builder, alerts []domain.Alert, severity domain.Severity, heading string) {
	var items []domain.Alert
	for _, a := range alerts {
		if a.Severity == severity {
			items = append(items, a)
		}
	}
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, `<h2>%s</h2>`, heading)
	for _, a := range items {
		fmt.Fprintf(b, `<div class="alert %s"><div class="title">%s - %s</div><div class="detail">%s</div><div class="url"><a href="%s">%s</a></div><div class="detail">%s</div></div>`,
			severity,
			html.EscapeString(a.SourceID),
			strings.ToUpper(string(a.Kind)),
			html.EscapeString(a.Message),
			html.EscapeString(a.URL),
			html.EscapeString(a.URL),
			a.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"),
		)
	}
}
