package notifxpostmark_test

import (
	"context"
	"testing"

	"github.com/mrz1836/postmark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abraxas-365/homestead/pkg/errx"
	"github.com/Abraxas-365/homestead/pkg/notifx"
	"github.com/Abraxas-365/homestead/pkg/notifx/notifxpostmark"
)

type fakePostmark struct {
	got  postmark.Email
	resp postmark.EmailResponse
}

func (f *fakePostmark) SendEmail(_ context.Context, email postmark.Email) (postmark.EmailResponse, error) {
	f.got = email
	return f.resp, nil
}

func TestPostmarkProvider_Send(t *testing.T) {
	api := &fakePostmark{}
	p := notifxpostmark.NewPostmarkProviderWithClient(api, "noreply@x.com")

	err := p.SendEmail(context.Background(), notifx.EmailMessage{
		To:       []string{"a@x.com", "b@x.com"},
		Subject:  "Code",
		TextBody: "123456",
	}, notifx.WithTag("recovery"))
	require.NoError(t, err)

	assert.Equal(t, "noreply@x.com", api.got.From)
	assert.Equal(t, "a@x.com,b@x.com", api.got.To)
	assert.Equal(t, "recovery", api.got.Tag)
}

func TestPostmarkProvider_APIErrorCode(t *testing.T) {
	api := &fakePostmark{resp: postmark.EmailResponse{ErrorCode: 406, Message: "inactive recipient"}}
	p := notifxpostmark.NewPostmarkProviderWithClient(api, "noreply@x.com")

	err := p.SendEmail(context.Background(), notifx.EmailMessage{To: []string{"a@x.com"}, Subject: "s"})
	assert.True(t, errx.IsCode(err, notifxpostmark.ErrSendFailed))
}

func TestNewPostmarkProvider_RequiresToken(t *testing.T) {
	_, err := notifxpostmark.NewPostmarkProvider("", "", "noreply@x.com")
	assert.True(t, errx.IsCode(err, notifxpostmark.ErrInvalidSetup))
}
