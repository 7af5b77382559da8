package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/backend-venue/internal/common"
)

// AdminRole is the role claim value required for the admin surface.
const AdminRole = "admin"

// Claims is the subset of an admin token the API relies on.
type Claims struct {
	Subject string
	Roles   []string
}

// HasRole reports whether role is among c.Roles.
func (c Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Verifier checks HS256 bearer tokens: signature, issuer and audience when configured, and an
// expiry that must be present and not passed (with ClockSkew leeway).
type Verifier struct {
	secret    []byte
	issuer    string
	audience  string
	clockSkew time.Duration
	now       func() time.Time
}

// NewVerifier builds a Verifier for HS256 tokens signed with secret.
func NewVerifier(secret, issuer, audience string, clockSkew time.Duration) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	if clockSkew <= 0 {
		clockSkew = 30 * time.Second
	}
	return &Verifier{
		secret:    []byte(secret),
		issuer:    strings.TrimSpace(issuer),
		audience:  strings.TrimSpace(audience),
		clockSkew: clockSkew,
		now:       time.Now,
	}, nil
}

// WithClock returns a copy of v reading time from now.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	cp := *v
	cp.now = now
	return &cp
}

func unauthorized(err error) *common.AppError {
	return common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, err)
}

// Parse verifies token and returns its claims.
func (v *Verifier) Parse(token string) (Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Claims{}, common.NewAppError("UNAUTHORIZED", "missing token", http.StatusUnauthorized, nil)
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return Claims{}, unauthorized(err)
	}
	if algorithm != jwa.HS256 {
		return Claims{}, unauthorized(fmt.Errorf("unexpected token algorithm %s", algorithm))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, v.secret), jwt.WithValidate(false))
	if err != nil {
		return Claims{}, unauthorized(err)
	}
	if err := v.validate(parsed); err != nil {
		return Claims{}, unauthorized(err)
	}
	if parsed.Subject() == "" {
		return Claims{}, unauthorized(errors.New("auth: token has no subject"))
	}
	var roles []string
	if raw, ok := parsed.Get("roles"); ok {
		roles = rolesFrom(raw)
	}
	return Claims{Subject: parsed.Subject(), Roles: roles}, nil
}

func (v *Verifier) validate(tok jwt.Token) error {
	now := v.now()
	opts := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
		jwt.WithAcceptableSkew(v.clockSkew),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	return jwt.Validate(tok, opts...)
}

func rolesFrom(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Fields(v)
	default:
		return nil
	}
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) != 1 {
		return "", errors.New("auth: token must carry exactly one signature")
	}
	headers := signatures[0].ProtectedHeaders()
	if headers == nil {
		return "", errors.New("auth: token missing protected headers")
	}
	alg := headers.Algorithm()
	if alg == "" || alg == jwa.NoSignature {
		return "", errors.New("auth: token missing algorithm")
	}
	return alg, nil
}
