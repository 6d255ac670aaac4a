package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"net/url"
	"strings"
	"time"

	"github.com/farandaway89/scada-ai-system/internal/model"
)

// Channel names used by routing policies.
const (
	ChannelWebhook = "webhook"
	ChannelEmail   = "email"
	ChannelSMS     = "sms"
	ChannelSlack   = "slack"
)

// twilioAPIBase is the production Twilio endpoint; tests override it.
const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// webhookPayload is the JSON body posted to webhook receivers.
type webhookPayload struct {
	AlertID      string  `json:"alert_id"`
	Timestamp    string  `json:"timestamp"`
	Priority     string  `json:"priority"`
	Type         string  `json:"type"`
	Message      string  `json:"message"`
	SourcePoint  string  `json:"source_point"`
	CurrentValue float64 `json:"current_value"`
}

// WebhookChannel POSTs alerts as JSON to one or more HTTP receivers.
type WebhookChannel struct {
	urls   []string
	client *http.Client
}

// NewWebhookChannel creates a webhook channel targeting the given
// URLs. Every URL is attempted on each send.
func NewWebhookChannel(urls ...string) *WebhookChannel {
	return &WebhookChannel{
		urls:   urls,
		client: &http.Client{Timeout: DefaultSendTimeout},
	}
}

func (c *WebhookChannel) Name() string { return ChannelWebhook }

func (c *WebhookChannel) Send(ctx context.Context, alert model.Alert) error {
	payload := webhookPayload{
		AlertID:      alert.ID,
		Timestamp:    alert.Timestamp.Format(time.RFC3339),
		Priority:     alert.Priority.String(),
		Type:         string(alert.Type),
		Message:      alert.Message,
		SourcePoint:  alert.SourcePoint,
		CurrentValue: alert.CurrentValue,
	}

	var errs []error
	for _, u := range c.urls {
		if err := postJSON(ctx, c.client, u, payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u, err))
		}
	}
	return errors.Join(errs...)
}

// EmailConfig configures the SMTP channel.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// EmailChannel sends alert mail over SMTP. Authentication is skipped
// when no username is configured.
type EmailChannel struct {
	config EmailConfig
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailChannel creates an email channel.
func NewEmailChannel(config EmailConfig) *EmailChannel {
	return &EmailChannel{config: config, send: smtp.SendMail}
}

func (c *EmailChannel) Name() string { return ChannelEmail }

func (c *EmailChannel) Send(ctx context.Context, alert model.Alert) error {
	var auth smtp.Auth
	if c.config.Username != "" {
		auth = smtp.PlainAuth("", c.config.Username, c.config.Password, c.config.Host)
	}

	subject := fmt.Sprintf("SCADA Alert - %s: %s", alert.Priority, alert.Type)
	body := fmt.Sprintf("Alert Type: %s\r\n"+
		"Priority: %s\r\n"+
		"Time: %s\r\n"+
		"Source Point: %s\r\n"+
		"Current Value: %g\r\n"+
		"\r\n"+
		"%s\r\n",
		alert.Type,
		alert.Priority,
		alert.Timestamp.Format("2006-01-02 15:04:05"),
		alert.SourcePoint,
		alert.CurrentValue,
		alert.Message)

	msg := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n"+
		"\r\n"+
		"%s",
		c.config.From,
		strings.Join(c.config.To, ", "),
		subject,
		body)

	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)
	return c.send(addr, auth, c.config.From, c.config.To, []byte(msg))
}

// SMSConfig configures the Twilio-backed SMS channel.
type SMSConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	To         []string
	// APIBase overrides the Twilio endpoint; empty means production.
	APIBase string
}

// SMSChannel sends short alert texts through the Twilio REST API.
type SMSChannel struct {
	config SMSConfig
	client *http.Client
}

// NewSMSChannel creates an SMS channel.
func NewSMSChannel(config SMSConfig) *SMSChannel {
	if config.APIBase == "" {
		config.APIBase = twilioAPIBase
	}
	return &SMSChannel{
		config: config,
		client: &http.Client{Timeout: DefaultSendTimeout},
	}
}

func (c *SMSChannel) Name() string { return ChannelSMS }

func (c *SMSChannel) Send(ctx context.Context, alert model.Alert) error {
	message := fmt.Sprintf("SCADA ALERT [%s]: %s at %s",
		alert.Priority, alert.Message, alert.Timestamp.Format("15:04:05"))

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.config.APIBase, c.config.AccountSID)

	var errs []error
	for _, to := range c.config.To {
		form := url.Values{}
		form.Set("To", to)
		form.Set("From", c.config.From)
		form.Set("Body", message)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(c.config.AccountSID, c.config.AuthToken)

		resp, err := c.client.Do(req)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", to, err))
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 400 {
			errs = append(errs, fmt.Errorf("%s: request failed with status: %d", to, resp.StatusCode))
		}
	}
	return errors.Join(errs...)
}

// slackAttachment mirrors the Slack incoming-webhook attachment format.
type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	TS     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// SlackChannel posts alerts to a Slack incoming webhook.
type SlackChannel struct {
	webhookURL string
	client     *http.Client
}

// NewSlackChannel creates a Slack channel.
func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: DefaultSendTimeout},
	}
}

func (c *SlackChannel) Name() string { return ChannelSlack }

func (c *SlackChannel) Send(ctx context.Context, alert model.Alert) error {
	payload := map[string][]slackAttachment{
		"attachments": {{
			Color: slackColor(alert.Priority),
			Title: string(alert.Type),
			Text:  alert.Message,
			Fields: []slackField{
				{Title: "Priority", Value: alert.Priority.String(), Short: true},
				{Title: "Source", Value: alert.SourcePoint, Short: true},
				{Title: "Time", Value: alert.Timestamp.Format("2006-01-02 15:04:05"), Short: true},
			},
			Footer: "SCADA Monitoring System",
			TS:     alert.Timestamp.Unix(),
		}},
	}
	return postJSON(ctx, c.client, c.webhookURL, payload)
}

// slackColor maps priorities onto Slack's attachment palette.
func slackColor(priority model.AlertPriority) string {
	switch priority {
	case model.PriorityCritical, model.PriorityEmergency:
		return "danger"
	case model.PriorityLow:
		return "good"
	default:
		return "warning"
	}
}

func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("request failed with status: %d", resp.StatusCode)
	}
	return nil
}
