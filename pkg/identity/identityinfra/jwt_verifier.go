package identityinfra

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Abraxas-365/homestead/pkg/identity"
	"github.com/Abraxas-365/homestead/pkg/kernel"
)

// JWTVerifier validates access tokens signed by the identity provider with its
// shared HMAC secret.
type JWTVerifier struct {
	secretKey []byte
	audience  string
}

// NewJWTVerifier creates a verifier. An empty audience skips the aud check.
func NewJWTVerifier(secretKey, audience string) *JWTVerifier {
	return &JWTVerifier{
		secretKey: []byte(secretKey),
		audience:  audience,
	}
}

// AccessClaims mirrors the claim set the provider puts in its access tokens.
type AccessClaims struct {
	Email        string            `json:"email"`
	Role         string            `json:"role,omitempty"`
	UserMetadata identity.Metadata `json:"user_metadata"`
	jwt.RegisteredClaims
}

// VerifyAccessToken implements identity.TokenVerifier.
func (v *JWTVerifier) VerifyAccessToken(tokenString string) (*identity.Identity, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secretKey, nil
	}, opts...)
	if err != nil {
		return nil, identity.ErrInvalidToken().WithDetail("error", err.Error())
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, identity.ErrInvalidToken().WithDetail("error", "invalid claims")
	}
	if claims.Subject == "" || claims.Email == "" {
		return nil, identity.ErrInvalidToken().WithDetail("error", "token does not name an identity")
	}

	var createdAt time.Time
	if claims.IssuedAt != nil {
		createdAt = claims.IssuedAt.Time
	}

	return &identity.Identity{
		ID:        kernel.IdentityID(claims.Subject),
		Email:     claims.Email,
		Metadata:  claims.UserMetadata,
		CreatedAt: createdAt,
	}, nil
}

// Sign issues a token the verifier accepts. Used by tests and local tooling.
func (v *JWTVerifier) Sign(ident *identity.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		Email:        ident.Email,
		Role:         "authenticated",
		UserMetadata: ident.Metadata,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ident.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secretKey)
}
