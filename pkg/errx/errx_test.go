package errx_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abraxas-365/homestead/pkg/errx"
)

var testRegistry = errx.NewRegistry("TEST")

var (
	codeBusy     = testRegistry.Register("BUSY", errx.TypeUnavailable, http.StatusServiceUnavailable, "Busy")
	codeConflict = testRegistry.Register("DUPLICATE", errx.TypeConflict, http.StatusConflict, "Duplicate")
)

func TestRegistry_PrefixesCodes(t *testing.T) {
	err := testRegistry.New(codeBusy)
	assert.Equal(t, "TEST_BUSY", err.Code)
	assert.Equal(t, http.StatusServiceUnavailable, err.HTTPStatus)

	got, ok := testRegistry.Get("BUSY")
	require.True(t, ok)
	assert.Same(t, codeBusy, got)
}

func TestIsCode_ThroughWrapping(t *testing.T) {
	inner := testRegistry.NewWithCause(codeConflict, errors.New("pq: duplicate key"))
	outer := errx.Wrap(inner, "insert profile", errx.TypeInternal)

	assert.True(t, errx.IsCode(outer, codeConflict))
	assert.False(t, errx.IsCode(outer, codeBusy))
	assert.False(t, errx.IsCode(errors.New("duplicate"), codeConflict))
	assert.False(t, errx.IsCode(nil, codeConflict))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, errx.IsRetryable(testRegistry.New(codeBusy)))
	assert.False(t, errx.IsRetryable(testRegistry.New(codeConflict)))
	assert.False(t, errx.IsRetryable(errors.New("plain")))
}

func TestToResponse(t *testing.T) {
	err := testRegistry.New(codeBusy).WithDetail("store", "redis")
	resp := err.ToResponse("req-1")

	assert.Equal(t, "TEST_BUSY", resp.Code)
	assert.Equal(t, "UNAVAILABLE", resp.Type)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, "redis", resp.Details["store"])
}

func TestWrap_Nil(t *testing.T) {
	assert.Nil(t, errx.Wrap(nil, "noop", errx.TypeInternal))
}
