package services

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confera-app/backend/internal/config"
)

func TestExtractAddress(t *testing.T) {
	assert.Equal(t, "no-reply@confera.app", extractAddress("Confera <no-reply@confera.app>"))
	assert.Equal(t, "plain@example.com", extractAddress("plain@example.com"))
	assert.Equal(t, "a@b.c", extractAddress("Weird <Name> <a@b.c>"))
	assert.Equal(t, "broken <", extractAddress("broken <"))
}

func TestComposeMessage(t *testing.T) {
	msg := string(composeMessage("Confera <no-reply@confera.app>", "alice@example.com", "Hello", "<p>hi</p>"))

	assert.True(t, strings.HasPrefix(msg, "From: Confera <no-reply@confera.app>\r\n"))
	assert.Contains(t, msg, "To: alice@example.com\r\n")
	assert.Contains(t, msg, "Subject: Hello\r\n")
	assert.Contains(t, msg, "Content-Type: text/html; charset=UTF-8\r\n")
	// Headers and body separated by a blank line.
	assert.Contains(t, msg, "\r\n\r\n<p>hi</p>")
}

func TestReminderTemplateRenders(t *testing.T) {
	var body bytes.Buffer
	err := reminderTemplate.Execute(&body, ReminderEmailData{
		RecipientName: "Alice",
		MeetingTitle:  "Weekly Sync",
		MeetingCode:   "AAA-BBB-CCC",
		StartsAt:      time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC),
		MinutesBefore: 15,
		JoinURL:       "https://app.confera.app/meeting/AAA-BBB-CCC",
	})
	require.NoError(t, err)

	html := body.String()
	assert.Contains(t, html, "Hi Alice,")
	assert.Contains(t, html, "Weekly Sync")
	assert.Contains(t, html, "15 minutes")
	assert.Contains(t, html, "AAA-BBB-CCC")
	assert.Contains(t, html, "https://app.confera.app/meeting/AAA-BBB-CCC")
}

func TestMinutesTemplateRenders(t *testing.T) {
	var body bytes.Buffer
	err := minutesTemplate.Execute(&body, MinutesEmailData{
		RecipientName: "Bob",
		MeetingTitle:  "Roadmap Review",
		MeetingDate:   time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		Duration:      45,
		Summary:       "We agreed on the Q4 scope.",
		Decisions:     []string{"Ship feature X"},
		ActionItems: []MinutesEmailActionItem{
			{Description: "Draft the rollout plan", AssignedTo: "Bob", Priority: "high", DueDate: "2026-09-08"},
		},
	})
	require.NoError(t, err)

	html := body.String()
	assert.Contains(t, html, "Roadmap Review")
	assert.Contains(t, html, "We agreed on the Q4 scope.")
	assert.Contains(t, html, "Ship feature X")
	assert.Contains(t, html, "Draft the rollout plan")
	assert.NotContains(t, html, "Key points", "empty sections are omitted")
}

func TestSendWithoutHostFails(t *testing.T) {
	svc := NewEmailService(config.EmailConfig{SendTimeout: time.Second})
	assert.False(t, svc.Configured())

	err := svc.SendReminder(context.Background(), "alice@example.com", ReminderEmailData{})
	assert.Error(t, err)
}
