package recoveryinfra

import (
	"context"
	"time"

	"github.com/Abraxas-365/homestead/pkg/kernel"
	"github.com/Abraxas-365/homestead/pkg/notifx"
	"github.com/Abraxas-365/homestead/pkg/recovery"
)

const codeTemplate = "recovery_code"

var codeEmail = notifx.EmailTemplate{
	Subject: "Your password reset code",
	HTML: `<p>Your password reset code is <strong>{{.Code}}</strong>.</p>
<p>It expires in {{.Minutes}} minutes. If you did not ask to reset your password you can ignore this email.</p>`,
	Text: "Your password reset code is {{.Code}}. It expires in {{.Minutes}} minutes.",
}

// EmailNotifier sends recovery codes through a notifx client.
type EmailNotifier struct {
	client *notifx.Client
	clock  kernel.Clock
}

var _ recovery.Notifier = (*EmailNotifier)(nil)

func NewEmailNotifier(client *notifx.Client, clock kernel.Clock) (*EmailNotifier, error) {
	if clock == nil {
		clock = kernel.SystemClock{}
	}
	if err := client.RegisterTemplate(codeTemplate, codeEmail); err != nil {
		return nil, err
	}
	return &EmailNotifier{client: client, clock: clock}, nil
}

func (n *EmailNotifier) SendCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	minutes := int(expiresAt.Sub(n.clock.Now()).Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}

	data := struct {
		Code    string
		Minutes int
	}{Code: code, Minutes: minutes}

	msg := notifx.EmailMessage{To: []string{email}}
	return n.client.SendTemplatedEmail(ctx, codeTemplate, data, msg, notifx.WithTag("recovery-code"))
}
