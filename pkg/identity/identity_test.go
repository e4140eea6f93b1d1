package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

type netTimeout struct{}

func (netTimeout) Error() string   { return "i/o timeout" }
func (netTimeout) Timeout() bool   { return true }
func (netTimeout) Temporary() bool { return true }

var _ net.Error = netTimeout{}

func TestOutcomeUnknown(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"deadline", ErrProviderUnavailable(context.DeadlineExceeded), true},
		{"canceled", context.Canceled, true},
		{"transport timeout", ErrProviderUnavailable(fmt.Errorf("call: %w", netTimeout{})), true},
		{"server error", ErrProviderUnavailable(errors.New("status 503")), false},
		{"rejected", ErrProviderRejected(errors.New("status 422")), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OutcomeUnknown(tt.err))
		})
	}
}
