package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/RealBhupesh/fictional-carnival/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

var validMethods = []string{
	jwt.SigningMethodHS256.Alg(),
	jwt.SigningMethodHS384.Alg(),
	jwt.SigningMethodHS512.Alg(),
}

// tokenClaims mirrors the session token layout: the account id travels in
// "id", with "sub" accepted as a fallback.
type tokenClaims struct {
	UserID string      `json:"id,omitempty"`
	Role   domain.Role `json:"role"`
	Email  string      `json:"email,omitempty"`
	Name   string      `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates handshake tokens against the shared secret.
type Verifier struct {
	secret []byte
	clock  clockwork.Clock
}

// NewVerifier returns domain.ErrMissingSecret when secret is empty. Callers
// treat that as a fatal startup error.
func NewVerifier(secret string, clock clockwork.Clock) (*Verifier, error) {
	if secret == "" {
		return nil, domain.ErrMissingSecret
	}
	return &Verifier{secret: []byte(secret), clock: clock}, nil
}

// Verify checks the signature and the time-based claims of token and returns
// the identity it asserts. Every failure wraps domain.ErrInvalidToken.
func (v *Verifier) Verify(token string) (domain.Claim, error) {
	if token == "" {
		return domain.Claim{}, fmt.Errorf("%w: empty token", domain.ErrInvalidToken)
	}

	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods(validMethods), jwt.WithTimeFunc(v.clock.Now))
	if err != nil {
		return domain.Claim{}, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}

	subject := claims.UserID
	if subject == "" {
		subject = claims.Subject
	}
	if subject == "" {
		return domain.Claim{}, fmt.Errorf("%w: missing subject", domain.ErrInvalidToken)
	}
	if !claims.Role.Valid() {
		slog.Debug("Token carries an unrecognized role", "subject", subject, "role", claims.Role)
	}

	return domain.Claim{
		SubjectID:   subject,
		Role:        claims.Role,
		Email:       claims.Email,
		DisplayName: claims.Name,
	}, nil
}

// Issuer signs tokens with HS256.
type Issuer struct {
	secret []byte
	clock  clockwork.Clock
}

func NewIssuer(secret string, clock clockwork.Clock) (*Issuer, error) {
	if secret == "" {
		return nil, domain.ErrMissingSecret
	}
	return &Issuer{secret: []byte(secret), clock: clock}, nil
}

// Issue signs claim. A ttl of zero produces a token without expiry.
func (i *Issuer) Issue(claim domain.Claim, ttl time.Duration) (string, error) {
	now := i.clock.Now()
	claims := tokenClaims{
		UserID: claim.SubjectID,
		Role:   claim.Role,
		Email:  claim.Email,
		Name:   claim.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  claim.SubjectID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ExtractBearer reads the credential from the Authorization header, falling
// back to the "token" query parameter for browser sockets, which cannot set
// request headers.
func ExtractBearer(r *http.Request) string {
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		if len(authz) > len("bearer ") && strings.EqualFold(authz[:len("bearer ")], "bearer ") {
			return strings.TrimSpace(authz[len("bearer "):])
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
