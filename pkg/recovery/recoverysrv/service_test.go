package recoverysrv_test

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abraxas-365/homestead/pkg/errx"
	"github.com/Abraxas-365/homestead/pkg/identity"
	"github.com/Abraxas-365/homestead/pkg/recovery"
)

func TestRecovery_EndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signUp(t, "u@x.com", "oldpass1")

	res, err := h.svc.RequestReset(ctx, "u@x.com")
	require.NoError(t, err)
	assert.Equal(t, recovery.DeliverySent, res.Delivery)
	assert.Equal(t, t0.Add(10*time.Minute), res.ExpiresAt)

	sent := h.notifier.last(t)
	assert.Equal(t, "u@x.com", sent.email)
	assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), sent.code)

	verified, err := h.svc.VerifyCode(ctx, "u@x.com", sent.code)
	require.NoError(t, err)
	require.NotEmpty(t, verified.ResetToken)

	require.NoError(t, h.svc.ResetPassword(ctx, "u@x.com", verified.ResetToken, "newpass1"))

	_, _, err = h.creds.SignIn(ctx, "u@x.com", "newpass1")
	assert.NoError(t, err)
	_, _, err = h.creds.SignIn(ctx, "u@x.com", "oldpass1")
	assert.True(t, errx.IsCode(err, identity.CodeInvalidCredentials))

	assert.Equal(t, []recovery.DeliveryStatus{recovery.DeliverySent}, h.audit.requested)
	assert.Equal(t, 1, h.audit.verified)
	assert.Equal(t, 1, h.audit.completed)

	// The completed session is removed.
	_, err = h.store.Get(ctx, "u@x.com")
	assert.True(t, errx.IsCode(err, recovery.CodeSessionNotFound))
}

func TestRecovery_StoresHashNotCode(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "u@x.com", "oldpass1")

	_, err := h.svc.RequestReset(context.Background(), "u@x.com")
	require.NoError(t, err)

	sess, err := h.store.Get(context.Background(), "u@x.com")
	require.NoError(t, err)
	assert.NotContains(t, sess.CodeHash, h.notifier.last(t).code)
	assert.Equal(t, recovery.StateCodeIssued, sess.State)
	assert.Equal(t, 5, sess.MaxAttempts)
}

func TestRecovery_NewRequestInvalidatesPreviousCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signUp(t, "a@x.com", "oldpass1")

	_, err := h.svc.RequestReset(ctx, "a@x.com")
	require.NoError(t, err)
	first := h.notifier.last(t).code

	_, err = h.svc.RequestReset(ctx, "a@x.com")
	require.NoError(t, err)
	second := h.notifier.last(t).code

	if first != second {
		_, err = h.svc.VerifyCode(ctx, "a@x.com", first)
		assert.True(t, errx.IsCode(err, recovery.CodeInvalidCode))
	}

	_, err = h.svc.VerifyCode(ctx, "a@x.com", second)
	assert.NoError(t, err)
}

func TestRecovery_RequestLimitTreatsKnownAndUnknownAlike(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signUp(t, "known@x.com", "oldpass1")

	for _, email := range []string{"known@x.com", "ghost@x.com"} {
		for i := 0; i < 5; i++ {
			_, err := h.svc.RequestReset(ctx, email)
			require.NoError(t, err, "%s request %d", email, i+1)
		}

		_, err := h.svc.RequestReset(ctx, email)
		require.True(t, errx.IsCode(err, recovery.CodeTooManyRequests), email)
		var e *errx.Error
		require.True(t, errors.As(err, &e))
		assert.Equal(t, 900, e.Details["retry_after_seconds"], email)
	}

	// Every accepted request replaced the session; only the latest code works.
	assert.Equal(t, 5, h.notifier.count())
	_, err := h.svc.VerifyCode(ctx, "known@x.com", h.notifier.last(t).code)
	assert.NoError(t, err)

	h.mr.FastForward(15 * time.Minute)
	_, err = h.svc.RequestReset(ctx, "known@x.com")
	assert.NoError(t, err)
}

func TestRecovery_ExpiredCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signUp(t, "a@x.com", "oldpass1")

	_, err := h.svc.RequestReset(ctx, "a@x.com")
	require.NoError(t, err)
	code := h.notifier.last(t).code

	h.clock.Advance(10*time.Minute + time.Second)
	_, err = h.svc.VerifyCode(ctx, "a@x.com", code)
	assert.True(t, errx.IsCode(err, recovery.CodeExpired))

	sess, err := h.store.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, recovery.StateExpired, sess.State)

	// Expired is absorbing.
	_, err = h.svc.VerifyCode(ctx, "a@x.com", code)
	assert.True(t, errx.IsCode(err, recovery.CodeExpired))

	reason, ok := recovery.ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, recovery.ReasonExpired, reason)
}

func TestRecovery_AttemptBound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signUp(t, "a@x.com", "oldpass1")

	_, err := h.svc.RequestReset(ctx, "a@x.com")
	require.NoError(t, err)
	code := h.notifier.last(t).code
	wrong := wrongCode(code)

	for i := 1; i < 5; i++ {
		_, err = h.svc.VerifyCode(ctx, "a@x.com", wrong)
		require.True(t, errx.IsCode(err, recovery.CodeInvalidCode), "attempt %d", i)

		var e *errx.Error
		require.True(t, errors.As(err, &e))
		assert.Equal(t, 5-i, e.Details["remaining_attempts"])
	}

	_, err = h.svc.VerifyCode(ctx, "a@x.com", wrong)
	assert.True(t, errx.IsCode(err, recovery.CodeAttemptsExceeded))

	_, err = h.svc.VerifyCode(ctx, "a@x.com", code)
	assert.True(t, errx.IsCode(err, recovery.CodeAttemptsExceeded))

	require.Len(t, h.audit.rejections, 6)
	assert.Equal(t, rejection{reason: recovery.ReasonInvalidCode, remaining: 4}, h.audit.rejections[0])
	assert.Equal(t, recovery.ReasonAttemptsExceeded, h.audit.rejections[4].reason)

	// A fresh request starts over.
	_, err = h.svc.RequestReset(ctx, "a@x.com")
	require.NoError(t, err)
	_, err = h.svc.VerifyCode(ctx, "a@x.com", h.notifier.last(t).code)
	assert.NoError(t, err)
}

func TestRecovery_VerifyWithoutSession(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.VerifyCode(context.Background(), "nobody@x.com", "123456")
	require.True(t, errx.IsCode(err, recovery.CodeSessionNotFound))

	reason, ok := recovery.ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, recovery.ReasonInvalidCode, reason)
}

func TestRecovery_CodeIsSpentAfterVerification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signUp(t, "a@x.com", "oldpass1")

	_, err := h.svc.RequestReset(ctx, "a@x.com")
	require.NoError(t, err)
	code := h.notifier.last(t).code

	_, err = h.svc.VerifyCode(ctx, "a@x.com", code)
	require.NoError(t, err)

	_, err = h.svc.VerifyCode(ctx, "a@x.com", code)
	assert.True(t, errx.IsCode(err, recovery.CodeSessionNotFound))
}

func TestRecovery_ConcurrentVerifyIssuesOneToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signUp(t, "a@x.com", "oldpass1")

	_, err := h.svc.RequestReset(ctx, "a@x.com")
	require.NoError(t, err)
	code := h.notifier.last(t).code

	const n = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		tokens []string
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.svc.VerifyCode(ctx, "a@x.com", code)
			if err != nil {
				return
			}
			mu.Lock()
			tokens = append(tokens, res.ResetToken)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, tokens, 1)
	assert.NoError(t, h.svc.ResetPassword(ctx, "a@x.com", tokens[0], "newpass1"))
}

func TestRecovery_ConcurrentWrongCodesAreAllCounted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signUp(t, "a@x.com", "oldpass1")

	_, err := h.svc.RequestReset(ctx, "a@x.com")
	require.NoError(t, err)
	wrong := wrongCode(h.notifier.last(t).code)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.svc.VerifyCode(ctx, "a@x.com", wrong)
		}()
	}
	wg.Wait()

	// Each call loses at most two races and has three retries, so all land.
	sess, err := h.store.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 3, sess.AttemptCount)
	assert.Len(t, h.audit.rejections, 3)
}

func TestRecovery_TokenIsSingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signUp(t, "a@x.com", "oldpass1")

	token := h.verified(t, "a@x.com")
	require.NoError(t, h.svc.ResetPassword(ctx, "a@x.com", token, "newpass1"))

	err := h.svc.ResetPassword(ctx, "a@x.com", token, "another1")
	assert.True(t, errx.IsCode(err, recovery.CodeInvalidToken))

	_, _, err = h.creds.SignIn(ctx, "a@x.com", "newpass1")
	assert.NoError(t, err)
}

func TestRecovery_InvalidTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signUp(t, "a@x.com", "oldpass1")

	// No session at all.
	err := h.svc.ResetPassword(ctx, "a@x.com", "whatever", "newpass1")
	assert.True(t, errx.IsCode(err, recovery.CodeInvalidToken))

	// Code issued but not verified.
	_, err = h.svc.RequestReset(ctx, "a@x.com")
	require.NoError(t, err)
	err = h.svc.ResetPassword(ctx, "a@x.com", "whatever", "newpass1")
	assert.True(t, errx.IsCode(err, recovery.CodeInvalidToken))

	// Verified but wrong token.
	_, err = h.svc.VerifyCode(ctx, "a@x.com", h.notifier.last(t).code)
	require.NoError(t, err)
	err = h.svc.ResetPassword(ctx, "a@x.com", "not-the-token", "newpass1")
	assert.True(t, errx.IsCode(err, recovery.CodeInvalidToken))
}

func TestRecovery_TokenExpires(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "a@x.com", "oldpass1")

	token := h.verified(t, "a@x.com")
	h.clock.Advance(10*time.Minute + time.Second)

	err := h.svc.ResetPassword(context.Background(), "a@x.com", token, "newpass1")
	assert.True(t, errx.IsCode(err, recovery.CodeInvalidToken))
}

func TestRecovery_PasswordPolicy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signUp(t, "a@x.com", "oldpass1")
	token := h.verified(t, "a@x.com")

	tests := []struct {
		password string
		unmet    []string
	}{
		{"short1", []string{identity.RuleMinLength}},
		{"alllettersnodigit", []string{identity.RuleNeedsDigit}},
		{"12345678", []string{identity.RuleNeedsLetter}},
	}
	for _, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			err := h.svc.ResetPassword(ctx, "a@x.com", token, tt.password)
			require.True(t, errx.IsCode(err, recovery.CodePasswordPolicyViolation))

			var e *errx.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, tt.unmet, e.Details["unmet_rules"])
		})
	}

	// The token survives policy failures.
	assert.NoError(t, h.svc.ResetPassword(ctx, "a@x.com", token, "abcdefg1"))
}

func TestRecovery_ProviderFailureReleasesToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signUp(t, "a@x.com", "oldpass1")
	token := h.verified(t, "a@x.com")

	h.creds.failUpdates = 1
	err := h.svc.ResetPassword(ctx, "a@x.com", token, "newpass1")
	require.True(t, errx.IsCode(err, identity.CodeProviderUnavailable))
	assert.True(t, errx.IsRetryable(err))

	sess, err := h.store.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, recovery.StateVerified, sess.State)
	assert.False(t, sess.Consumed)

	require.NoError(t, h.svc.ResetPassword(ctx, "a@x.com", token, "newpass1"))
	assert.Equal(t, 1, h.creds.updates)
	assert.Equal(t, 1, h.audit.completed)
}

func TestRecovery_UnknownProviderOutcomeKeepsTokenSpent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signUp(t, "a@x.com", "oldpass1")
	token := h.verified(t, "a@x.com")

	h.creds.timeoutUpdates = 1
	err := h.svc.ResetPassword(ctx, "a@x.com", token, "newpass1")
	require.True(t, errx.IsCode(err, identity.CodeProviderUnavailable))

	sess, err := h.store.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, sess.Consumed)
	assert.Equal(t, recovery.StateCompleted, sess.State)

	err = h.svc.ResetPassword(ctx, "a@x.com", token, "newpass2")
	assert.True(t, errx.IsCode(err, recovery.CodeInvalidToken))
	assert.Equal(t, 0, h.creds.updates)
}

func TestRecovery_ConcurrentResetsUpdateOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signUp(t, "a@x.com", "oldpass1")
	token := h.verified(t, "a@x.com")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.svc.ResetPassword(ctx, "a@x.com", token, "newpass1"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, h.creds.updates)
}

func TestRecovery_UnknownEmail(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.RequestReset(context.Background(), "ghost@x.com")
	require.NoError(t, err)
	assert.Equal(t, recovery.DeliverySkipped, res.Delivery)
	assert.Equal(t, 0, h.notifier.count())

	_, err = h.store.Get(context.Background(), "ghost@x.com")
	assert.True(t, errx.IsCode(err, recovery.CodeSessionNotFound))
}

func TestRecovery_InvalidEmail(t *testing.T) {
	h := newHarness(t)

	for _, email := range []string{"", "not-an-email", "a@b"} {
		_, err := h.svc.RequestReset(context.Background(), email)
		assert.True(t, errx.IsCode(err, recovery.CodeInvalidEmail), email)
	}
}

func TestRecovery_DeliveryFailureKeepsCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signUp(t, "a@x.com", "oldpass1")

	h.notifier.fail = errors.New("smtp down")
	res, err := h.svc.RequestReset(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, recovery.DeliveryFailed, res.Delivery)

	sess, err := h.store.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, recovery.StateCodeIssued, sess.State)
	assert.Equal(t, []recovery.DeliveryStatus{recovery.DeliveryFailed}, h.audit.requested)
}

func TestRecovery_EmailIsNormalized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signUp(t, "a@x.com", "oldpass1")

	_, err := h.svc.RequestReset(ctx, "  A@X.com ")
	require.NoError(t, err)

	res, err := h.svc.VerifyCode(ctx, "a@X.COM", h.notifier.last(t).code)
	require.NoError(t, err)
	assert.NoError(t, h.svc.ResetPassword(ctx, "A@x.com", res.ResetToken, "newpass1"))
}

func TestRecovery_StoreUnavailable(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "a@x.com", "oldpass1")
	h.mr.Close()

	_, err := h.svc.RequestReset(context.Background(), "a@x.com")
	assert.True(t, errx.IsCode(err, recovery.CodeStoreUnavailable))
}
