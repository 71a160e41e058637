package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jordan-wright/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Lapin-Blanc/electruc-portal/internal/config"
	"github.com/Lapin-Blanc/electruc-portal/internal/models"
)

func testMessage(t *testing.T) ActivationMessage {
	t.Helper()
	user := &models.User{Email: "jean.martin@example.com", FirstName: "Jean", LastName: "Martin"}
	expires := time.Date(2026, 2, 4, 9, 30, 0, 0, time.UTC)
	msg, err := NewActivationMessage(user, "http://portal.test/activation/abc", expires)
	require.NoError(t, err)
	return msg
}

func TestNewActivationMessage(t *testing.T) {
	msg := testMessage(t)

	assert.Equal(t, "jean.martin@example.com", msg.To)
	assert.Equal(t, ActivationSubject, msg.Subject)
	assert.Contains(t, msg.Body, "Bonjour Jean Martin")
	assert.Contains(t, msg.Body, "http://portal.test/activation/abc")
	assert.Contains(t, msg.Body, "04/02/2026 09:30")
}

type recordingPublisher struct {
	routingKey string
	payload    []byte
	err        error
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, v any) error {
	if p.err != nil {
		return p.err
	}
	p.routingKey = routingKey
	var err error
	p.payload, err = json.Marshal(v)
	return err
}

func TestQueueNotifier(t *testing.T) {
	pub := &recordingPublisher{}
	n := NewQueueNotifier(pub, "account.activation")

	require.NoError(t, n.SendActivation(context.Background(), testMessage(t)))
	assert.Equal(t, "account.activation", pub.routingKey)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(pub.payload, &decoded))
	for _, key := range []string{"to", "name", "subject", "body", "activation_url", "expires_at"} {
		assert.Contains(t, decoded, key)
	}

	pub.err = errors.New("channel closed")
	assert.Error(t, n.SendActivation(context.Background(), testMessage(t)))
}

func TestSMTPNotifier_RetriesTemporaryFailure(t *testing.T) {
	n := NewSMTPNotifier(config.MailConfig{Host: "smtp.test", Port: 25, From: "Electruc <no-reply@electruc.test>"})

	n.retryDelay = time.Millisecond

	var sent []*email.Email
	calls := 0
	n.send = func(e *email.Email) error {
		calls++
		if calls == 1 {
			return errors.New("dial tcp: connection refused")
		}
		sent = append(sent, e)
		return nil
	}

	require.NoError(t, n.SendActivation(context.Background(), testMessage(t)))
	assert.Equal(t, 2, calls)
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"jean.martin@example.com"}, sent[0].To)
	assert.Equal(t, ActivationSubject, sent[0].Subject)
}

func TestSMTPNotifier_PermanentFailure(t *testing.T) {
	n := NewSMTPNotifier(config.MailConfig{Host: "smtp.test", Port: 25})
	calls := 0
	n.send = func(*email.Email) error {
		calls++
		return errors.New("550 mailbox unavailable")
	}

	assert.Error(t, n.SendActivation(context.Background(), testMessage(t)))
	assert.Equal(t, 1, calls)
}

func TestTelegramAlerter(t *testing.T) {
	var got telegramMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	alerter := NewTelegramAlerter("TOKEN", "42", zap.NewNop())
	alerter.baseURL = srv.URL

	err := alerter.NotifyContact(context.Background(), ContactMessage{Name: "Jean <b>", Email: "jean@example.com", Message: "Bonjour"})
	require.NoError(t, err)
	assert.Equal(t, "42", got.ChatID)
	assert.Equal(t, "HTML", got.ParseMode)
	assert.Contains(t, got.Text, "Jean &lt;b&gt;")
}

func TestTelegramAlerter_Disabled(t *testing.T) {
	alerter := NewTelegramAlerter("", "", zap.NewNop())
	assert.False(t, alerter.Enabled())
	assert.NoError(t, alerter.SendToAdmin(context.Background(), "ignored"))
}
