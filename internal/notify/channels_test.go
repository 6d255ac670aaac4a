package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farandaway89/scada-ai-system/internal/model"
)

func channelAlert() model.Alert {
	return model.Alert{
		ID:           "a1b2c3",
		RuleID:       "TEMP_HIGH",
		Timestamp:    time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
		Type:         model.AlertProcessAlarm,
		Priority:     model.PriorityCritical,
		Message:      "Temperature critical: 96.5",
		SourcePoint:  "T001",
		CurrentValue: 96.5,
	}
}

func TestWebhookChannelSend(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []webhookPayload
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload webhookPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		mu.Lock()
		bodies = append(bodies, payload)
		mu.Unlock()
	}))
	defer server.Close()

	ch := NewWebhookChannel(server.URL)
	require.NoError(t, ch.Send(context.Background(), channelAlert()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 1)
	assert.Equal(t, "a1b2c3", bodies[0].AlertID)
	assert.Equal(t, "2025-03-14T09:30:00Z", bodies[0].Timestamp)
	assert.Equal(t, "CRITICAL", bodies[0].Priority)
	assert.Equal(t, "process_alarm", bodies[0].Type)
	assert.Equal(t, "Temperature critical: 96.5", bodies[0].Message)
	assert.Equal(t, "T001", bodies[0].SourcePoint)
	assert.Equal(t, 96.5, bodies[0].CurrentValue)
}

func TestWebhookChannelAttemptsEveryURL(t *testing.T) {
	var (
		mu   sync.Mutex
		hits int
	)
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
	}))
	defer good.Close()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer bad.Close()

	ch := NewWebhookChannel(bad.URL, good.URL)
	err := ch.Send(context.Background(), channelAlert())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status: 500")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, hits, "the healthy URL must still be attempted")
}

func TestEmailChannelMessage(t *testing.T) {
	var (
		gotAddr string
		gotFrom string
		gotTo   []string
		gotMsg  string
		gotAuth smtp.Auth
	)
	ch := NewEmailChannel(EmailConfig{
		Host:     "mail.example.com",
		Port:     587,
		Username: "scada",
		Password: "secret",
		From:     "scada@example.com",
		To:       []string{"ops@example.com", "oncall@example.com"},
	})
	ch.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, a, from, to, string(msg)
		return nil
	}

	require.NoError(t, ch.Send(context.Background(), channelAlert()))

	assert.Equal(t, "mail.example.com:587", gotAddr)
	assert.NotNil(t, gotAuth)
	assert.Equal(t, "scada@example.com", gotFrom)
	assert.Equal(t, []string{"ops@example.com", "oncall@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: SCADA Alert - CRITICAL: process_alarm\r\n")
	assert.Contains(t, gotMsg, "To: ops@example.com, oncall@example.com\r\n")
	assert.Contains(t, gotMsg, "Source Point: T001")
	assert.Contains(t, gotMsg, "Temperature critical: 96.5")
}

func TestEmailChannelSkipsAuthWithoutUsername(t *testing.T) {
	var gotAuth smtp.Auth = smtp.PlainAuth("", "x", "x", "x")
	ch := NewEmailChannel(EmailConfig{
		Host: "mail.example.com",
		Port: 25,
		From: "scada@example.com",
		To:   []string{"ops@example.com"},
	})
	ch.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAuth = a
		return nil
	}

	require.NoError(t, ch.Send(context.Background(), channelAlert()))
	assert.Nil(t, gotAuth)
}

func TestSMSChannelSend(t *testing.T) {
	var (
		mu       sync.Mutex
		paths    []string
		bodies   []string
		tos      []string
		authOK   bool
		formFrom string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		user, pass, ok := r.BasicAuth()

		mu.Lock()
		paths = append(paths, r.URL.Path)
		bodies = append(bodies, r.PostForm.Get("Body"))
		tos = append(tos, r.PostForm.Get("To"))
		formFrom = r.PostForm.Get("From")
		authOK = ok && user == "AC123" && pass == "token"
		mu.Unlock()

		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	ch := NewSMSChannel(SMSConfig{
		AccountSID: "AC123",
		AuthToken:  "token",
		From:       "+15550100",
		To:         []string{"+15550111", "+15550122"},
		APIBase:    server.URL,
	})

	require.NoError(t, ch.Send(context.Background(), channelAlert()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, paths, 2)
	assert.Equal(t, "/Accounts/AC123/Messages.json", paths[0])
	assert.True(t, authOK)
	assert.Equal(t, "+15550100", formFrom)
	assert.ElementsMatch(t, []string{"+15550111", "+15550122"}, tos)
	assert.Equal(t, "SCADA ALERT [CRITICAL]: Temperature critical: 96.5 at 09:30:00", bodies[0])
}

func TestSlackChannelSend(t *testing.T) {
	var payload struct {
		Attachments []slackAttachment `json:"attachments"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
	}))
	defer server.Close()

	ch := NewSlackChannel(server.URL)
	require.NoError(t, ch.Send(context.Background(), channelAlert()))

	require.Len(t, payload.Attachments, 1)
	att := payload.Attachments[0]
	assert.Equal(t, "danger", att.Color)
	assert.Equal(t, "process_alarm", att.Title)
	assert.Equal(t, "Temperature critical: 96.5", att.Text)
	assert.Equal(t, "SCADA Monitoring System", att.Footer)
	assert.Equal(t, channelAlert().Timestamp.Unix(), att.TS)
	require.Len(t, att.Fields, 3)
	assert.Equal(t, "CRITICAL", att.Fields[0].Value)
}

func TestSlackColor(t *testing.T) {
	assert.Equal(t, "good", slackColor(model.PriorityLow))
	assert.Equal(t, "warning", slackColor(model.PriorityMedium))
	assert.Equal(t, "warning", slackColor(model.PriorityHigh))
	assert.Equal(t, "danger", slackColor(model.PriorityCritical))
	assert.Equal(t, "danger", slackColor(model.PriorityEmergency))
}

func TestPostJSONRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer server.Close()

	err := postJSON(context.Background(), server.Client(), server.URL, map[string]string{"k": "v"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status: 403")
}
