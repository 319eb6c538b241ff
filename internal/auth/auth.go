// Package auth verifies bearer tokens for the query API. Token verification
// itself is delegated to an external identity provider.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/roniherschmann/go-pulse/internal/domain"
)

// Identity is the verified caller.
type Identity struct {
	Subject string
	Email   string
}

// Verifier checks a raw bearer token.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

var (
	ErrMissingToken = domain.NewError(domain.KindAuthorization, "missing bearer token", nil)
	ErrInvalidToken = domain.NewError(domain.KindAuthorization, "invalid token", nil)
	ErrNotAllowed   = domain.NewError(domain.KindForbidden, "identity not allowed", nil)
)

// StaticSubject is the subject of every identity the StaticVerifier accepts.
const StaticSubject = "static"

// StaticVerifier accepts a single shared token.
type StaticVerifier struct {
	token    []byte
	identity Identity
}

func NewStaticVerifier(token, email string) *StaticVerifier {
	return &StaticVerifier{
		token:    []byte(token),
		identity: Identity{Subject: StaticSubject, Email: email},
	}
}

func (v *StaticVerifier) Verify(_ context.Context, token string) (Identity, error) {
	if len(v.token) == 0 || subtle.ConstantTimeCompare([]byte(token), v.token) != 1 {
		return Identity{}, ErrInvalidToken
	}
	return v.identity, nil
}

// Authorizer extracts the bearer token, verifies it and applies the email
// allowlist. An empty allowlist admits every verified identity.
type Authorizer struct {
	verifier Verifier
	allowed  map[string]struct{}
}

func NewAuthorizer(v Verifier, allowedEmails []string) *Authorizer {
	a := &Authorizer{verifier: v}
	for _, e := range allowedEmails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if a.allowed == nil {
			a.allowed = make(map[string]struct{})
		}
		a.allowed[e] = struct{}{}
	}
	return a
}

// Authorize checks an Authorization header value.
func (a *Authorizer) Authorize(ctx context.Context, header string) (Identity, error) {
	token, ok := bearer(header)
	if !ok {
		return Identity{}, ErrMissingToken
	}
	id, err := a.verifier.Verify(ctx, token)
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			return Identity{}, err
		}
		return Identity{}, domain.NewError(domain.KindAuthorization, ErrInvalidToken.Message, err)
	}
	if a.allowed != nil {
		if _, ok := a.allowed[strings.ToLower(id.Email)]; !ok {
			return Identity{}, ErrNotAllowed
		}
	}
	return id, nil
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
