package kernel

import "context"

// ============================================================================
// Request-scoped caller identity
// ============================================================================

// AuthContext carries the authenticated caller for the lifetime of one request.
// It is built from a verified access token and never cached across requests.
type AuthContext struct {
	IdentityID  IdentityID     `json:"identity_id"`
	Email       string         `json:"email"`
	AccessToken string         `json:"-"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// IsValid reports whether the context names an identity
func (ac *AuthContext) IsValid() bool {
	return ac != nil && !ac.IdentityID.IsEmpty() && ac.Email != ""
}

// ContextKey namespaces values stored on context.Context
type ContextKey string

const (
	// AuthContextKey stores *AuthContext
	AuthContextKey ContextKey = "auth_context"

	// RequestIDKey stores the request id string
	RequestIDKey ContextKey = "request_id"
)

// WithAuth returns a copy of ctx carrying ac
func WithAuth(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, AuthContextKey, ac)
}

// AuthFromContext returns the caller stored on ctx, if any
func AuthFromContext(ctx context.Context) (*AuthContext, bool) {
	ac, ok := ctx.Value(AuthContextKey).(*AuthContext)
	return ac, ok && ac != nil
}

// WithRequestID returns a copy of ctx carrying the request id
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestIDFromContext returns the request id stored on ctx, or ""
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
