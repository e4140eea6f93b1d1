package identityinfra

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Abraxas-365/homestead/pkg/identity"
	"github.com/Abraxas-365/homestead/pkg/kernel"
	"github.com/Abraxas-365/homestead/pkg/logx"
)

const (
	lookupPageSize = 50
	lookupMaxPages = 100
)

// GoTrueClient talks to a GoTrue-compatible auth server over its REST API.
// Public calls use the anon key; admin calls (lookup, credential update) use
// the service key.
type GoTrueClient struct {
	baseURL    string
	anonKey    string
	serviceKey string
	timeout    time.Duration
}

var _ identity.Provider = (*GoTrueClient)(nil)

// NewGoTrueClient creates the client. timeout bounds each call when the
// context carries no earlier deadline.
func NewGoTrueClient(baseURL, anonKey, serviceKey string, timeout time.Duration) *GoTrueClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &GoTrueClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		anonKey:    anonKey,
		serviceKey: serviceKey,
		timeout:    timeout,
	}
}

// ============================================================================
// Wire types
// ============================================================================

type userResponse struct {
	ID               string            `json:"id"`
	Email            string            `json:"email"`
	EmailConfirmedAt *time.Time        `json:"email_confirmed_at"`
	UserMetadata     identity.Metadata `json:"user_metadata"`
	CreatedAt        time.Time         `json:"created_at"`
	// Identities is nil when the field is absent and empty when the server
	// hides an existing account behind a placeholder user.
	Identities []json.RawMessage `json:"identities"`
}

type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *userResponse `json:"user"`
}

// signupResponse is a bare user when confirmation is pending, or a session
// wrapping the user when the server auto-confirms.
type signupResponse struct {
	userResponse
	User *userResponse `json:"user"`
}

type listUsersResponse struct {
	Users []userResponse `json:"users"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (e errorResponse) text() string {
	for _, s := range []string{e.ErrorDescription, e.Msg, e.Message, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (u *userResponse) toIdentity() (*identity.Identity, error) {
	if u == nil || u.ID == "" {
		return nil, identity.ErrProviderRejected(fmt.Errorf("response did not include a user"))
	}
	return &identity.Identity{
		ID:            kernel.IdentityID(u.ID),
		Email:         u.Email,
		EmailVerified: u.EmailConfirmedAt != nil,
		Metadata:      u.UserMetadata,
		CreatedAt:     u.CreatedAt,
	}, nil
}

// ============================================================================
// Provider
// ============================================================================

// SignIn exchanges email and password for a session.
func (g *GoTrueClient) SignIn(ctx context.Context, email, password string) (*identity.Identity, *identity.Session, error) {
	a := fiber.Post(g.baseURL + "/token?grant_type=password").
		Set("apikey", g.anonKey).
		JSON(fiber.Map{"email": email, "password": password})

	var resp tokenResponse
	status, errBody, err := g.do(ctx, a, &resp)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnauthorized:
		return nil, nil, identity.ErrInvalidCredentials()
	case status >= 300:
		return nil, nil, identity.ErrProviderRejected(fmt.Errorf("sign in: status %d: %s", status, errBody.text()))
	}

	ident, err := resp.User.toIdentity()
	if err != nil {
		return nil, nil, err
	}

	session := &identity.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
	}
	switch {
	case resp.ExpiresAt > 0:
		session.ExpiresAt = time.Unix(resp.ExpiresAt, 0).UTC()
	case resp.ExpiresIn > 0:
		session.ExpiresAt = time.Now().UTC().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	return ident, session, nil
}

// SignUp registers a new identity with its profile metadata.
func (g *GoTrueClient) SignUp(ctx context.Context, email, password string, meta identity.Metadata) (*identity.Identity, error) {
	a := fiber.Post(g.baseURL + "/signup").
		Set("apikey", g.anonKey).
		JSON(fiber.Map{"email": email, "password": password, "data": meta})

	var resp signupResponse
	status, errBody, err := g.do(ctx, a, &resp)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		if isAlreadyRegistered(status, errBody) {
			return nil, identity.ErrAlreadyRegistered()
		}
		return nil, identity.ErrProviderRejected(fmt.Errorf("sign up: status %d: %s", status, errBody.text())).
			WithDetail("reason", errBody.text())
	}

	user := &resp.userResponse
	if resp.User != nil {
		user = resp.User
	}
	// With email confirmation on, signing up an existing address answers 200
	// with a placeholder user that has no linked identities.
	if user.Identities != nil && len(user.Identities) == 0 {
		return nil, identity.ErrAlreadyRegistered()
	}
	return user.toIdentity()
}

// LookupIdentity finds the identity owning email through the admin API. The
// server filters by substring, so pages are read until an exact match turns
// up or a short page ends the listing.
func (g *GoTrueClient) LookupIdentity(ctx context.Context, email string) (*identity.Identity, error) {
	want := identity.NormalizeEmail(email)

	for page := 1; page <= lookupMaxPages; page++ {
		q := url.Values{}
		q.Set("filter", want)
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(lookupPageSize))

		a := fiber.Get(g.baseURL + "/admin/users?" + q.Encode()).
			Set("apikey", g.serviceKey).
			Set(fiber.HeaderAuthorization, "Bearer "+g.serviceKey)

		var resp listUsersResponse
		status, errBody, err := g.do(ctx, a, &resp)
		if err != nil {
			return nil, err
		}
		if status >= 300 {
			return nil, identity.ErrProviderRejected(fmt.Errorf("lookup: status %d: %s", status, errBody.text()))
		}

		for i := range resp.Users {
			if identity.NormalizeEmail(resp.Users[i].Email) == want {
				return resp.Users[i].toIdentity()
			}
		}
		if len(resp.Users) < lookupPageSize {
			return nil, identity.ErrIdentityNotFound()
		}
	}

	logx.WithContext(ctx).WithField("pages", lookupMaxPages).Warn("identity lookup gave up before the listing ended")
	return nil, identity.ErrIdentityNotFound()
}

// UpdateCredential replaces the password of an identity through the admin API.
func (g *GoTrueClient) UpdateCredential(ctx context.Context, id kernel.IdentityID, newPassword string) error {
	a := fiber.Put(g.baseURL + "/admin/users/" + url.PathEscape(id.String())).
		Set("apikey", g.serviceKey).
		Set(fiber.HeaderAuthorization, "Bearer "+g.serviceKey).
		JSON(fiber.Map{"password": newPassword})

	status, errBody, err := g.do(ctx, a, nil)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusNotFound:
		return identity.ErrIdentityNotFound()
	case status >= 300:
		return identity.ErrProviderRejected(fmt.Errorf("update credential: status %d: %s", status, errBody.text()))
	}
	return nil
}

// SignOut revokes the session. An already invalid token counts as signed out.
func (g *GoTrueClient) SignOut(ctx context.Context, session *identity.Session) error {
	if session == nil || session.AccessToken == "" {
		return nil
	}
	a := fiber.Post(g.baseURL + "/logout").
		Set("apikey", g.anonKey).
		Set(fiber.HeaderAuthorization, "Bearer "+session.AccessToken)

	status, errBody, err := g.do(ctx, a, nil)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusNotFound {
		return nil
	}
	if status >= 300 {
		return identity.ErrProviderRejected(fmt.Errorf("sign out: status %d: %s", status, errBody.text()))
	}
	return nil
}

// ============================================================================
// Transport
// ============================================================================

// do sends the request. Transport failures, timeouts and 5xx responses come
// back as ErrProviderUnavailable; any other status is returned for the caller
// to interpret.
func (g *GoTrueClient) do(ctx context.Context, a *fiber.Agent, out any) (int, errorResponse, error) {
	var errBody errorResponse

	if err := ctx.Err(); err != nil {
		return 0, errBody, identity.ErrProviderUnavailable(err)
	}

	timeout := g.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return 0, errBody, identity.ErrProviderUnavailable(context.DeadlineExceeded)
	}

	status, body, errs := a.Timeout(timeout).Bytes()
	if len(errs) > 0 {
		logx.WithContext(ctx).WithError(errs[0]).Warn("identity provider call failed")
		return 0, errBody, identity.ErrProviderUnavailable(errs[0])
	}
	if status >= 500 {
		_ = json.Unmarshal(body, &errBody)
		return status, errBody, identity.ErrProviderUnavailable(fmt.Errorf("status %d: %s", status, errBody.text())).
			WithDetail("status", status)
	}
	if status >= 300 {
		_ = json.Unmarshal(body, &errBody)
		return status, errBody, nil
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return status, errBody, identity.ErrProviderRejected(fmt.Errorf("decode response: %w", err))
		}
	}
	return status, errBody, nil
}

func isAlreadyRegistered(status int, e errorResponse) bool {
	if e.ErrorCode == "user_already_exists" || e.ErrorCode == "email_exists" {
		return true
	}
	if status != http.StatusBadRequest && status != http.StatusUnprocessableEntity {
		return false
	}
	return strings.Contains(strings.ToLower(e.text()), "already registered")
}
