package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const telegramAPI = "https://api.telegram.org"

// TelegramAlerter forwards staff alerts to a Telegram chat.
type TelegramAlerter struct {
	botToken    string
	adminChatID string
	baseURL     string
	client      *http.Client
	log         *zap.Logger
}

// NewTelegramAlerter creates a TelegramAlerter. Alerts are dropped when the
// token or chat is not configured.
func NewTelegramAlerter(botToken, adminChatID string, log *zap.Logger) *TelegramAlerter {
	return &TelegramAlerter{
		botToken:    botToken,
		adminChatID: adminChatID,
		baseURL:     telegramAPI,
		client:      &http.Client{Timeout: 10 * time.Second},
		log:         log,
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// Enabled reports whether alerts are actually sent.
func (s *TelegramAlerter) Enabled() bool {
	return s.botToken != "" && s.adminChatID != ""
}

// SendToAdmin sends an HTML formatted message to the admin chat.
func (s *TelegramAlerter) SendToAdmin(ctx context.Context, text string) error {
	if !s.Enabled() {
		s.log.Debug("telegram alert skipped, not configured")
		return nil
	}

	body, err := json.Marshal(telegramMessage{
		ChatID:    s.adminChatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn("telegram send failed", zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	return nil
}

// ContactMessage is a message left through the public contact form.
type ContactMessage struct {
	Name    string
	Email   string
	Message string
}

// NotifyContact forwards a contact form submission.
func (s *TelegramAlerter) NotifyContact(ctx context.Context, msg ContactMessage) error {
	text := fmt.Sprintf(`<b>Nouveau message de contact</b>
<b>Nom :</b> %s
<b>E-mail :</b> %s

%s`,
		html.EscapeString(msg.Name),
		html.EscapeString(msg.Email),
		html.EscapeString(msg.Message),
	)
	return s.SendToAdmin(ctx, strings.TrimSpace(text))
}

// NotifyRegistration reports a new self-registration awaiting activation.
func (s *TelegramAlerter) NotifyRegistration(ctx context.Context, email, ean string) error {
	text := fmt.Sprintf(`<b>Nouvelle inscription</b>
<b>E-mail :</b> %s
<b>EAN :</b> %s`,
		html.EscapeString(email),
		html.EscapeString(ean),
	)
	return s.SendToAdmin(ctx, text)
}
