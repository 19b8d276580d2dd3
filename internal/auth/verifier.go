// Package auth verifies the bearer credential presented on a new
// connection. Token issuance belongs to the external auth service; this
// package only checks signatures and extracts the subject.
package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoCredential is returned when the request carries no recognizable
// credential in any of the accepted positions.
var ErrNoCredential = errors.New("no credential presented")

// Verifier validates signed bearer tokens and yields the stable user id they
// were minted for.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for tokens signed with the given HMAC
// secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// VerifyRequest extracts a credential from the request and verifies it. The
// credential is looked for in order: Authorization bearer header, "token"
// cookie, "token" query parameter (the browser handshake auth field). The
// first one present wins; there is no fallback to a later position once one
// is found.
func (v *Verifier) VerifyRequest(r *http.Request) (string, error) {
	token := bearerToken(r)
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return "", ErrNoCredential
	}
	return v.Verify(token)
}

// Verify checks the token signature and returns the subject user id.
func (v *Verifier) Verify(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}
