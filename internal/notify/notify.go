// Package notify delivers account activation messages and staff alerts.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/Lapin-Blanc/electruc-portal/internal/models"
)

// ActivationSubject is the subject line of activation messages.
const ActivationSubject = "Activation de votre compte Electruc"

// ActivationMessage is a ready-to-send activation email. It is also the JSON
// payload of the outbox queue.
type ActivationMessage struct {
	To            string    `json:"to"`
	Name          string    `json:"name"`
	Subject       string    `json:"subject"`
	Body          string    `json:"body"`
	ActivationURL string    `json:"activation_url"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Notifier dispatches activation messages.
//
//go:generate mockgen -destination=mock_notifier.go -package=notify . Notifier
type Notifier interface {
	SendActivation(ctx context.Context, msg ActivationMessage) error
}

var activationBody = template.Must(template.New("activation").Parse(`Bonjour {{.Name}},

Merci pour votre inscription sur le portail client Electruc.
Pour activer votre compte, ouvrez le lien suivant avant le {{.Expires}} :

{{.URL}}

Si vous n'êtes pas à l'origine de cette demande, vous pouvez ignorer ce message.

L'équipe Electruc
`))

// NewActivationMessage renders the activation email for user.
func NewActivationMessage(user *models.User, activationURL string, expiresAt time.Time) (ActivationMessage, error) {
	var body bytes.Buffer
	err := activationBody.Execute(&body, map[string]string{
		"Name":    user.FullName(),
		"URL":     activationURL,
		"Expires": expiresAt.Format("02/01/2006 15:04"),
	})
	if err != nil {
		return ActivationMessage{}, fmt.Errorf("render activation message: %w", err)
	}

	return ActivationMessage{
		To:            user.Email,
		Name:          user.FullName(),
		Subject:       ActivationSubject,
		Body:          body.String(),
		ActivationURL: activationURL,
		ExpiresAt:     expiresAt,
	}, nil
}

// LogNotifier writes messages to the log instead of sending them. It is used
// when neither SMTP nor the broker is configured.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier returns a LogNotifier.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) SendActivation(_ context.Context, msg ActivationMessage) error {
	n.log.Info("activation message",
		zap.String("to", msg.To),
		zap.String("activation_url", msg.ActivationURL),
		zap.Time("expires_at", msg.ExpiresAt),
	)
	return nil
}
