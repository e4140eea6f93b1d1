package recoverysrv_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Abraxas-365/homestead/pkg/identity"
	"github.com/Abraxas-365/homestead/pkg/identity/identityinfra"
	"github.com/Abraxas-365/homestead/pkg/kernel"
	"github.com/Abraxas-365/homestead/pkg/recovery"
	"github.com/Abraxas-365/homestead/pkg/recovery/recoveryinfra"
	"github.com/Abraxas-365/homestead/pkg/recovery/recoverysrv"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentCode struct {
	email     string
	code      string
	expiresAt time.Time
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []sentCode
	fail error
}

func (n *captureNotifier) SendCode(_ context.Context, email, code string, expiresAt time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.sent = append(n.sent, sentCode{email: email, code: code, expiresAt: expiresAt})
	return nil
}

func (n *captureNotifier) last(t *testing.T) sentCode {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent, "no code was sent")
	return n.sent[len(n.sent)-1]
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type rejection struct {
	reason    recovery.Reason
	remaining int
}

type captureAudit struct {
	mu         sync.Mutex
	requested  []recovery.DeliveryStatus
	verified   int
	rejections []rejection
	completed  int
}

func (a *captureAudit) LogRequested(_ context.Context, _ string, d recovery.DeliveryStatus) {
	a.mu.Lock()
	a.requested = append(a.requested, d)
	a.mu.Unlock()
}

func (a *captureAudit) LogCodeVerified(context.Context, string) {
	a.mu.Lock()
	a.verified++
	a.mu.Unlock()
}

func (a *captureAudit) LogCodeRejected(_ context.Context, _ string, reason recovery.Reason, remaining int) {
	a.mu.Lock()
	a.rejections = append(a.rejections, rejection{reason: reason, remaining: remaining})
	a.mu.Unlock()
}

func (a *captureAudit) LogCompleted(context.Context, string) {
	a.mu.Lock()
	a.completed++
	a.mu.Unlock()
}

// flakyCredentials fails the next failUpdates credential updates with a
// server error and the next timeoutUpdates with a timeout.
type flakyCredentials struct {
	*identityinfra.MemoryProvider
	mu             sync.Mutex
	failUpdates    int
	timeoutUpdates int
	updates        int
}

func (f *flakyCredentials) UpdateCredential(ctx context.Context, id kernel.IdentityID, pw string) error {
	f.mu.Lock()
	if f.timeoutUpdates > 0 {
		f.timeoutUpdates--
		f.mu.Unlock()
		return identity.ErrProviderUnavailable(context.DeadlineExceeded)
	}
	if f.failUpdates > 0 {
		f.failUpdates--
		f.mu.Unlock()
		return identity.ErrProviderUnavailable(errors.New("upstream 503"))
	}
	f.updates++
	f.mu.Unlock()
	return f.MemoryProvider.UpdateCredential(ctx, id, pw)
}

type harness struct {
	svc      *recoverysrv.Service
	mr       *miniredis.Miniredis
	store    *recoveryinfra.RedisCodeStore
	limiter  *recoveryinfra.RedisRequestLimiter
	clock    *fakeClock
	notifier *captureNotifier
	audit    *captureAudit
	creds    *flakyCredentials
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &fakeClock{now: t0}
	store := recoveryinfra.NewRedisCodeStore(client, "test", time.Hour, clock)
	limiter := recoveryinfra.NewRedisRequestLimiter(client, "test", 5, 15*time.Minute)
	provider := identityinfra.NewMemoryProvider(identityinfra.NewJWTVerifier("test-secret", ""), time.Hour)
	creds := &flakyCredentials{MemoryProvider: provider}

	cfg := recoverysrv.DefaultConfig()
	cfg.BcryptCost = bcrypt.MinCost

	h := &harness{
		mr:       mr,
		store:    store,
		limiter:  limiter,
		clock:    clock,
		notifier: &captureNotifier{},
		audit:    &captureAudit{},
		creds:    creds,
	}
	h.svc = recoverysrv.NewService(store, limiter, h.notifier, creds, h.audit, clock, cfg)
	return h
}

func (h *harness) signUp(t *testing.T, email, password string) *identity.Identity {
	t.Helper()
	ident, err := h.creds.SignUp(context.Background(), email, password, identity.Metadata{Role: "customer"})
	require.NoError(t, err)
	return ident
}

// verified runs request and verify and returns the reset token.
func (h *harness) verified(t *testing.T, email string) string {
	t.Helper()
	ctx := context.Background()
	_, err := h.svc.RequestReset(ctx, email)
	require.NoError(t, err)
	res, err := h.svc.VerifyCode(ctx, email, h.notifier.last(t).code)
	require.NoError(t, err)
	return res.ResetToken
}

// wrongCode returns a code of the right shape that differs from code.
func wrongCode(code string) string {
	if code == "000000" {
		return "000001"
	}
	return "000000"
}
