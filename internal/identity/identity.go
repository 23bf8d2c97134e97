// Package identity resolves an authenticated principal from an incoming
// WebSocket upgrade request. Authentication of the underlying connection
// is out of scope for the core (spec.md §1); this package exists only
// because a real deployment needs to hand the core *some* identity
// value to forward to hydrate and the action filter.
package identity

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is the identity value forwarded to the hydrate and filter
// collaborators. The core never introspects it beyond passing it through.
type Principal struct {
	Subject string
	Claims  map[string]any
}

func (p *Principal) String() string { return p.Subject }

// Resolver extracts a bearer token from the Authorization header or a
// "token" query parameter and validates it as an HMAC-signed JWT.
// A missing or invalid token resolves to a nil Principal rather than
// rejecting the upgrade — the core treats authentication as the
// filter's concern, not the transport's.
type Resolver struct {
	signingKey []byte
	issuer     string
}

// NewResolver constructs a Resolver bound to signingKey. issuer, if
// non-empty, is checked against the token's "iss" claim.
func NewResolver(signingKey []byte, issuer string) *Resolver {
	return &Resolver{signingKey: signingKey, issuer: issuer}
}

// Resolve implements transport.IdentityResolver.
func (r *Resolver) Resolve(req *http.Request) any {
	token := bearerToken(req)
	if token == "" {
		return nil
	}

	claims, err := r.parseAndValidate(token)
	if err != nil {
		return nil
	}

	subject, _ := claims["sub"].(string)
	if subject == "" {
		return nil
	}

	return &Principal{Subject: subject, Claims: claims}
}

func bearerToken(req *http.Request) string {
	if auth := req.Header.Get("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return rest
		}
	}
	return req.URL.Query().Get("token")
}

func (r *Resolver) parseAndValidate(tokenString string) (map[string]any, error) {
	if len(r.signingKey) == 0 {
		return nil, fmt.Errorf("identity: no signing key configured")
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return r.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type %T", token.Claims)
	}
	if r.issuer != "" {
		if iss, _ := claims["iss"].(string); iss != r.issuer {
			return nil, fmt.Errorf("unexpected issuer %q", iss)
		}
	}

	return claims, nil
}
