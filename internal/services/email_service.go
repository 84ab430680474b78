package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/confera-app/backend/internal/config"
)

// Email kinds, used as template names and job payload discriminators.
const (
	EmailKindReminder = "meeting-reminder"
	EmailKindMinutes  = "meeting-minutes"
)

// ReminderEmailData feeds the meeting-reminder template.
type ReminderEmailData struct {
	RecipientName string
	MeetingTitle  string
	MeetingCode   string
	StartsAt      time.Time
	MinutesBefore int
	JoinURL       string
}

// MinutesEmailData feeds the meeting-minutes template.
type MinutesEmailData struct {
	RecipientName string
	MeetingTitle  string
	MeetingDate   time.Time
	Duration      int
	Summary       string
	KeyPoints     []string
	Decisions     []string
	ActionItems   []MinutesEmailActionItem
}

type MinutesEmailActionItem struct {
	Description string
	AssignedTo  string
	Priority    string
	DueDate     string
}

var reminderTemplate = template.Must(template.New(EmailKindReminder).Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2937; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #4f46e5;">Meeting reminder</h2>
  <p>Hi {{.RecipientName}},</p>
  <p>Your meeting <strong>{{.MeetingTitle}}</strong> starts in <strong>{{.MinutesBefore}} minutes</strong>.</p>
  <table style="border-collapse: collapse; margin: 16px 0;">
    <tr><td style="padding: 4px 12px 4px 0; color: #6b7280;">When</td><td>{{.StartsAt.Format "Mon, Jan 2 2006 15:04 MST"}}</td></tr>
    <tr><td style="padding: 4px 12px 4px 0; color: #6b7280;">Code</td><td><code>{{.MeetingCode}}</code></td></tr>
  </table>
  {{if .JoinURL}}<p><a href="{{.JoinURL}}" style="background: #4f46e5; color: #fff; padding: 10px 20px; border-radius: 6px; text-decoration: none;">Join meeting</a></p>{{end}}
  <p style="color: #9ca3af; font-size: 12px;">You receive this because reminders are enabled for your account.</p>
</body>
</html>`))

var minutesTemplate = template.Must(template.New(EmailKindMinutes).Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2937; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #4f46e5;">Meeting minutes: {{.MeetingTitle}}</h2>
  <p>Hi {{.RecipientName}},</p>
  <p>{{.MeetingDate.Format "Mon, Jan 2 2006"}} &middot; {{.Duration}} minutes</p>
  <h3>Summary</h3>
  <p>{{.Summary}}</p>
  {{if .KeyPoints}}<h3>Key points</h3>
  <ul>{{range .KeyPoints}}<li>{{.}}</li>{{end}}</ul>{{end}}
  {{if .Decisions}}<h3>Decisions</h3>
  <ul>{{range .Decisions}}<li>{{.}}</li>{{end}}</ul>{{end}}
  {{if .ActionItems}}<h3>Action items</h3>
  <ul>{{range .ActionItems}}<li><strong>{{.Description}}</strong>{{if .AssignedTo}} &mdash; {{.AssignedTo}}{{end}} ({{.Priority}}{{if .DueDate}}, due {{.DueDate}}{{end}})</li>{{end}}</ul>{{end}}
  <p style="color: #9ca3af; font-size: 12px;">Generated automatically from the meeting transcript.</p>
</body>
</html>`))

// EmailService renders templates and submits them over SMTP. Each send
// opens its own connection; the worker retrying around this keeps the
// service stateless.
type EmailService struct {
	config config.EmailConfig
}

func NewEmailService(cfg config.EmailConfig) *EmailService {
	return &EmailService{config: cfg}
}

// Configured reports whether an SMTP host is set.
func (s *EmailService) Configured() bool {
	return s.config.Host != ""
}

// SendReminder renders and sends a meeting-reminder email.
func (s *EmailService) SendReminder(ctx context.Context, to string, data ReminderEmailData) error {
	subject := fmt.Sprintf("Reminder: %s starts in %d minutes", data.MeetingTitle, data.MinutesBefore)
	return s.send(ctx, to, subject, reminderTemplate, data)
}

// SendMinutes renders and sends a meeting-minutes email.
func (s *EmailService) SendMinutes(ctx context.Context, to string, data MinutesEmailData) error {
	subject := fmt.Sprintf("Minutes: %s", data.MeetingTitle)
	return s.send(ctx, to, subject, minutesTemplate, data)
}

func (s *EmailService) send(ctx context.Context, to, subject string, tmpl *template.Template, data interface{}) error {
	if !s.Configured() {
		return fmt.Errorf("smtp host not configured")
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return fmt.Errorf("render template: %w", err)
	}

	msg := composeMessage(s.config.From, to, subject, body.String())

	ctx, cancel := context.WithTimeout(ctx, s.config.SendTimeout)
	defer cancel()

	start := time.Now()
	err := s.submit(ctx, to, msg)
	fields := logrus.Fields{
		"to":       to,
		"subject":  subject,
		"duration": time.Since(start).Milliseconds(),
	}
	if err != nil {
		logrus.WithFields(fields).WithError(err).Error("Email send failed")
		return err
	}
	logrus.WithFields(fields).Info("Email sent")
	return nil
}

// submit performs the SMTP conversation. Port 465 means implicit TLS;
// anything else connects plain and upgrades with STARTTLS.
func (s *EmailService) submit(ctx context.Context, to string, msg []byte) error {
	addr := net.JoinHostPort(s.config.Host, fmt.Sprintf("%d", s.config.Port))

	dialTimeout := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < dialTimeout {
			dialTimeout = remaining
		}
	}
	dialer := &net.Dialer{Timeout: dialTimeout}

	var client *smtp.Client
	if s.config.Port == 465 {
		tlsCfg := &tls.Config{ServerName: s.config.Host}
		conn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsCfg)
		if err != nil {
			return fmt.Errorf("dial SMTPS %s: %w", addr, err)
		}
		client, err = smtp.NewClient(conn, s.config.Host)
		if err != nil {
			conn.Close()
			return fmt.Errorf("create SMTP client: %w", err)
		}
	} else {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("dial SMTP %s: %w", addr, err)
		}
		client, err = smtp.NewClient(conn, s.config.Host)
		if err != nil {
			conn.Close()
			return fmt.Errorf("create SMTP client: %w", err)
		}
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("EHLO: %w", err)
	}

	if s.config.Port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: s.config.Host}); err != nil {
				return fmt.Errorf("STARTTLS: %w", err)
			}
		}
	}

	if s.config.Username != "" && s.config.Password != "" {
		auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("AUTH: %w", err)
		}
	}

	if err := client.Mail(extractAddress(s.config.From)); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := client.Rcpt(extractAddress(to)); err != nil {
		return fmt.Errorf("RCPT TO %s: %w", to, err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close DATA: %w", err)
	}
	return client.Quit()
}

func composeMessage(from, to, subject, htmlBody string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	return []byte(b.String())
}

// extractAddress pulls the bare address out of "Name <addr>" strings.
func extractAddress(s string) string {
	if start := strings.LastIndexByte(s, '<'); start >= 0 {
		if end := strings.LastIndexByte(s, '>'); end > start {
			return s[start+1 : end]
		}
	}
	return s
}
