// internal/services/mailer.go
package services

import (
	"context"
	"fmt"
	"net/smtp"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/coop-registry/internal/config"
)

type EmailMessage struct {
	To       string
	Subject  string
	HTMLBody string
}

// Mailer is the outbound mail transport.
type Mailer interface {
	Send(ctx context.Context, msg EmailMessage) error
}

func NewMailer(cfg config.EmailConfig) Mailer {
	switch cfg.Driver {
	case "smtp":
		if cfg.SMTPHost != "" {
			return &SMTPMailer{cfg: cfg}
		}
	case "mailjet":
		if cfg.MailjetAPIKey != "" {
			return NewMailjetMailer(cfg, "https://api.mailjet.com")
		}
	}
	return &LogMailer{}
}

type SMTPMailer struct {
	cfg config.EmailConfig
}

func (m *SMTPMailer) Send(ctx context.Context, msg EmailMessage) error {
	auth := smtp.PlainAuth("", m.cfg.SMTPUsername, m.cfg.SMTPPassword, m.cfg.SMTPHost)

	body := []byte(fmt.Sprintf(
		"From: %s <%s>\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n%s",
		m.cfg.FromName, m.cfg.FromEmail, msg.To, msg.Subject, msg.HTMLBody,
	))

	addr := fmt.Sprintf("%s:%s", m.cfg.SMTPHost, m.cfg.SMTPPort)
	return smtp.SendMail(addr, auth, m.cfg.FromEmail, []string{msg.To}, body)
}

// MailjetMailer talks to the Mailjet v3.1 send API.
type MailjetMailer struct {
	client *resty.Client
	cfg    config.EmailConfig
}

func NewMailjetMailer(cfg config.EmailConfig, baseURL string) *MailjetMailer {
	client := resty.New().
		SetBaseURL(baseURL).
		SetBasicAuth(cfg.MailjetAPIKey, cfg.MailjetSecretKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(15 * time.Second)

	return &MailjetMailer{client: client, cfg: cfg}
}

type mailjetAddress struct {
	Email string `json:"Email"`
	Name  string `json:"Name,omitempty"`
}

type mailjetMessage struct {
	From     mailjetAddress   `json:"From"`
	To       []mailjetAddress `json:"To"`
	Subject  string           `json:"Subject"`
	HTMLPart string           `json:"HTMLPart"`
}

type mailjetResponse struct {
	Messages []struct {
		Status string `json:"Status"`
	} `json:"Messages"`
	ErrorMessage string `json:"ErrorMessage"`
}

func (m *MailjetMailer) Send(ctx context.Context, msg EmailMessage) error {
	var out mailjetResponse
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"Messages": []mailjetMessage{{
				From:     mailjetAddress{Email: m.cfg.FromEmail, Name: m.cfg.FromName},
				To:       []mailjetAddress{{Email: msg.To}},
				Subject:  msg.Subject,
				HTMLPart: msg.HTMLBody,
			}},
		}).
		SetResult(&out).
		SetError(&out).
		Post("/v3.1/send")
	if err != nil {
		return fmt.Errorf("mailjet request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("mailjet returned %d: %s", resp.StatusCode(), out.ErrorMessage)
	}
	for _, message := range out.Messages {
		if message.Status != "success" {
			return fmt.Errorf("mailjet rejected message with status %q", message.Status)
		}
	}
	return nil
}

// LogMailer only logs; used when no transport is configured.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, msg EmailMessage) error {
	logrus.WithFields(logrus.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info("Email transport not configured, message logged only")
	return nil
}
