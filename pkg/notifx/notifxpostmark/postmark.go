package notifxpostmark

import (
	"context"
	"fmt"
	"strings"

	"github.com/mrz1836/postmark"

	"github.com/Abraxas-365/homestead/pkg/errx"
	"github.com/Abraxas-365/homestead/pkg/notifx"
)

var postmarkErrors = errx.NewRegistry("NOTIFX_POSTMARK")

var (
	ErrSendFailed   = postmarkErrors.Register("SEND_FAILED", errx.TypeExternal, 502, "Postmark send email failed")
	ErrInvalidSetup = postmarkErrors.Register("INVALID_SETUP", errx.TypeInternal, 500, "Postmark provider is misconfigured")
)

// API is the subset of the Postmark client the provider uses.
type API interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// PostmarkProvider implements notifx.EmailSender using Postmark's transactional API.
type PostmarkProvider struct {
	client      API
	fromAddress string
}

// NewPostmarkProvider builds a provider from server/account tokens.
func NewPostmarkProvider(serverToken, accountToken, fromAddress string) (*PostmarkProvider, error) {
	if serverToken == "" || fromAddress == "" {
		return nil, postmarkErrors.New(ErrInvalidSetup).
			WithDetail("reason", "server token and from address are required")
	}
	return NewPostmarkProviderWithClient(postmark.NewClient(serverToken, accountToken), fromAddress), nil
}

// NewPostmarkProviderWithClient wraps an existing client.
func NewPostmarkProviderWithClient(client API, fromAddress string) *PostmarkProvider {
	return &PostmarkProvider{client: client, fromAddress: fromAddress}
}

// SendEmail sends a single email via Postmark.
func (p *PostmarkProvider) SendEmail(ctx context.Context, msg notifx.EmailMessage, opts ...notifx.Option) error {
	from := msg.From
	if from == "" {
		from = p.fromAddress
	}

	resp, err := p.client.SendEmail(ctx, postmark.Email{
		From:     from,
		To:       strings.Join(msg.To, ","),
		ReplyTo:  msg.ReplyTo,
		Subject:  msg.Subject,
		Tag:      notifx.ApplySendOptions(opts).Tag,
		HTMLBody: msg.HTMLBody,
		TextBody: msg.TextBody,
	})
	if err != nil {
		return postmarkErrors.NewWithCause(ErrSendFailed, err).WithDetail("to", msg.To)
	}
	if resp.ErrorCode > 0 {
		return postmarkErrors.NewWithCause(ErrSendFailed,
			fmt.Errorf("postmark error %d: %s", resp.ErrorCode, resp.Message)).
			WithDetail("to", msg.To)
	}
	return nil
}
