package recoveryapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Abraxas-365/homestead/pkg/errx/errxfiber"
	"github.com/Abraxas-365/homestead/pkg/identity"
	"github.com/Abraxas-365/homestead/pkg/identity/identityinfra"
	"github.com/Abraxas-365/homestead/pkg/kernel"
	"github.com/Abraxas-365/homestead/pkg/recovery"
	"github.com/Abraxas-365/homestead/pkg/recovery/recoveryinfra"
	"github.com/Abraxas-365/homestead/pkg/recovery/recoverysrv"
)

type inbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (i *inbox) SendCode(_ context.Context, email, code string, _ time.Time) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.codes[email] = code
	return nil
}

func (i *inbox) code(email string) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.codes[email]
}

type testEnv struct {
	app      *fiber.App
	inbox    *inbox
	provider *identityinfra.MemoryProvider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := kernel.SystemClock{}
	store := recoveryinfra.NewRedisCodeStore(client, "test", time.Hour, clock)
	limiter := recoveryinfra.NewRedisRequestLimiter(client, "test", 2, time.Minute)
	provider := identityinfra.NewMemoryProvider(identityinfra.NewJWTVerifier("test-secret", ""), time.Hour)
	box := &inbox{codes: map[string]string{}}

	cfg := recoverysrv.DefaultConfig()
	cfg.BcryptCost = bcrypt.MinCost
	cfg.MaxAttempts = 2
	svc := recoverysrv.NewService(store, limiter, box, provider, recoveryinfra.NewLogxAuditLogger(), clock, cfg)

	app := fiber.New(fiber.Config{ErrorHandler: errxfiber.ErrorHandler(false)})
	NewHandlers(svc).RegisterRoutes(app)

	_, err = provider.SignUp(context.Background(), "u@x.com", "oldpass1", identity.Metadata{Role: "customer"})
	require.NoError(t, err)

	return &testEnv{app: app, inbox: box, provider: provider}
}

func (e *testEnv) post(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)

	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestRecoveryFlow(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/recovery/request", fiber.Map{"email": "u@x.com"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "accepted", body["status"])
	assert.NotContains(t, body, "delivery")
	code := env.inbox.code("u@x.com")
	require.Len(t, code, 6)

	resp, body = env.post(t, "/recovery/verify", fiber.Map{"email": "u@x.com", "code": code})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, _ := body["reset_token"].(string)
	require.NotEmpty(t, token)

	resp, body = env.post(t, "/recovery/reset", fiber.Map{
		"email":        "u@x.com",
		"reset_token":  token,
		"new_password": "short1",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(recovery.ReasonPasswordPolicyViolation), body["reason"])
	details, _ := body["details"].(map[string]any)
	assert.Equal(t, []any{identity.RuleMinLength}, details["unmet_rules"])

	resp, _ = env.post(t, "/recovery/reset", fiber.Map{
		"email":        "u@x.com",
		"reset_token":  token,
		"new_password": "newpass1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, _, err := env.provider.SignIn(context.Background(), "u@x.com", "newpass1")
	assert.NoError(t, err)

	resp, body = env.post(t, "/recovery/reset", fiber.Map{
		"email":        "u@x.com",
		"reset_token":  token,
		"new_password": "another1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(recovery.ReasonInvalidToken), body["reason"])
}

func TestRequest_UnknownEmailLooksTheSame(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/recovery/request", fiber.Map{"email": "ghost@x.com"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, fiber.Map{"status": "accepted"}, fiber.Map(body))
	assert.Empty(t, env.inbox.code("ghost@x.com"))
}

func TestRequest_MalformedEmail(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/recovery/request", fiber.Map{"email": "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, recovery.CodeInvalidEmail.Code, body["code"])
}

func TestRequest_RateLimited(t *testing.T) {
	env := newTestEnv(t)

	for _, email := range []string{"u@x.com", "ghost@x.com"} {
		for i := 0; i < 2; i++ {
			resp, _ := env.post(t, "/recovery/request", fiber.Map{"email": email})
			require.Equal(t, http.StatusAccepted, resp.StatusCode, "%s request %d", email, i+1)
		}

		resp, body := env.post(t, "/recovery/request", fiber.Map{"email": email})
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode, email)
		assert.Equal(t, "60", resp.Header.Get(fiber.HeaderRetryAfter), email)
		assert.Equal(t, recovery.CodeTooManyRequests.Code, body["code"], email)
	}
}

func TestVerify_Reasons(t *testing.T) {
	env := newTestEnv(t)

	// No session yet answers like a wrong code.
	resp, body := env.post(t, "/recovery/verify", fiber.Map{"email": "u@x.com", "code": "123456"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(recovery.ReasonInvalidCode), body["reason"])
	assert.Equal(t, recovery.CodeInvalidCode.Code, body["code"])

	env.post(t, "/recovery/request", fiber.Map{"email": "u@x.com"})
	code := env.inbox.code("u@x.com")
	wrong := "000000"
	if code == wrong {
		wrong = "000001"
	}

	resp, body = env.post(t, "/recovery/verify", fiber.Map{"email": "u@x.com", "code": wrong})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(recovery.ReasonInvalidCode), body["reason"])
	details, _ := body["details"].(map[string]any)
	assert.EqualValues(t, 1, details["remaining_attempts"])

	resp, body = env.post(t, "/recovery/verify", fiber.Map{"email": "u@x.com", "code": wrong})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(recovery.ReasonAttemptsExceeded), body["reason"])

	resp, body = env.post(t, "/recovery/verify", fiber.Map{"email": "u@x.com", "code": code})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(recovery.ReasonAttemptsExceeded), body["reason"])
}

func TestInvalidBody(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/recovery/verify", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
