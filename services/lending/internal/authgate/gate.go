// Package authgate turns a request's bearer credential into the viewer that
// every operation of that request sees.
package authgate

import (
	"context"
	"fmt"
	"strings"

	"booklending/pkg/domain"
	"booklending/pkg/store"
)

const bearerPrefix = "bearer "

// Viewer is the authenticated user of a request, or anonymous. It is built
// once per request and never changes afterwards.
type Viewer struct {
	user *domain.User
}

// Anonymous returns the viewer of a request without a usable credential.
func Anonymous() Viewer {
	return Viewer{}
}

// Authenticated returns a viewer for u. The record is copied.
func Authenticated(u domain.User) Viewer {
	u.BookIDs = append([]string(nil), u.BookIDs...)
	return Viewer{user: &u}
}

// IsAnonymous reports whether no user is attached.
func (v Viewer) IsAnonymous() bool {
	return v.user == nil
}

// User returns a copy of the authenticated user.
func (v Viewer) User() (domain.User, bool) {
	if v.user == nil {
		return domain.User{}, false
	}
	u := *v.user
	u.BookIDs = append([]string(nil), v.user.BookIDs...)
	return u, true
}

// Requester returns a fresh copy of the user for callers that take a pointer,
// or nil when anonymous.
func (v Viewer) Requester() *domain.User {
	u, ok := v.User()
	if !ok {
		return nil
	}
	return &u
}

type viewerContextKey struct{}

// WithViewer attaches v to ctx.
func WithViewer(ctx context.Context, v Viewer) context.Context {
	return context.WithValue(ctx, viewerContextKey{}, v)
}

// ViewerFromContext returns the viewer stored in ctx, anonymous if none.
func ViewerFromContext(ctx context.Context) Viewer {
	if ctx == nil {
		return Anonymous()
	}
	v, _ := ctx.Value(viewerContextKey{}).(Viewer)
	return v
}

// BearerToken extracts the token from an Authorization header value. The
// "Bearer " scheme is optional so clients may send the raw token.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) >= len(bearerPrefix) && strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		header = header[len(bearerPrefix):]
	}
	return strings.TrimSpace(header)
}

// Gate resolves credentials against the session and identity stores.
type Gate struct {
	sessions store.SessionStore
	identity store.Identity
}

// New builds a gate.
func New(sessions store.SessionStore, identity store.Identity) *Gate {
	return &Gate{sessions: sessions, identity: identity}
}

// Authenticate resolves the Authorization header value. Missing, malformed,
// expired, revoked or orphaned tokens yield an anonymous viewer and no error;
// an error means a backing store could not be consulted.
func (g *Gate) Authenticate(ctx context.Context, header string) (Viewer, error) {
	token := BearerToken(header)
	if token == "" {
		return Anonymous(), nil
	}
	userID, ok, err := g.sessions.GetUserIDByToken(token)
	if err != nil {
		return Anonymous(), fmt.Errorf("resolve token: %w", err)
	}
	if !ok {
		return Anonymous(), nil
	}
	user, found, err := g.identity.GetUserByID(ctx, userID)
	if err != nil {
		return Anonymous(), fmt.Errorf("load user: %w", err)
	}
	if !found {
		return Anonymous(), nil
	}
	return Authenticated(user), nil
}
