// Package app is the operation surface of the lending service: catalog
// queries, login and logout, and the borrow and return mutations.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"booklending/internal/util"
	"booklending/pkg/auth"
	"booklending/pkg/domain"
	"booklending/pkg/store"
	"booklending/services/lending/internal/authgate"
	"booklending/services/lending/internal/lending"
)

// Limiter admits or rejects an attempt for key.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// Config wires the application's collaborators.
type Config struct {
	Catalog      store.Catalog
	Identity     store.Identity
	Sessions     store.SessionStore
	LoginLimiter Limiter
}

// App is the core application service. It owns no state of its own; every
// mutation reads the requester from the viewer attached to ctx.
type App struct {
	catalog      store.Catalog
	identity     store.Identity
	sessions     store.SessionStore
	engine       *lending.Engine
	loginLimiter Limiter
}

// dummyPasswordHash is compared against when the username is unknown so both
// login failures cost one bcrypt comparison.
var dummyPasswordHash = sync.OnceValue(func() string {
	hash, err := auth.HashPassword("booklending-unknown-user")
	if err != nil {
		return ""
	}
	return hash
})

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("catalog store required")
	}
	if cfg.Identity == nil {
		return nil, errors.New("identity store required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store required")
	}
	return &App{
		catalog:      cfg.Catalog,
		identity:     cfg.Identity,
		sessions:     cfg.Sessions,
		engine:       lending.NewEngine(cfg.Catalog, cfg.Identity),
		loginLimiter: cfg.LoginLimiter,
	}, nil
}

// Books lists the whole catalog.
func (a *App) Books(ctx context.Context) ([]domain.Book, error) {
	books, err := a.catalog.ListBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// Book returns one book or ErrBookNotFound.
func (a *App) Book(ctx context.Context, id string) (domain.Book, error) {
	book, ok, err := a.catalog.GetBook(ctx, id)
	if err != nil {
		return domain.Book{}, fmt.Errorf("get book: %w", err)
	}
	if !ok {
		return domain.Book{}, ErrBookNotFound
	}
	return book, nil
}

// Author returns one author or ErrAuthorNotFound.
func (a *App) Author(ctx context.Context, id string) (domain.Author, error) {
	author, ok, err := a.catalog.GetAuthor(ctx, id)
	if err != nil {
		return domain.Author{}, fmt.Errorf("get author: %w", err)
	}
	if !ok {
		return domain.Author{}, ErrAuthorNotFound
	}
	return author, nil
}

// BooksByAuthor derives an author's books.
func (a *App) BooksByAuthor(ctx context.Context, authorID string) ([]domain.Book, error) {
	books, err := a.catalog.ListBooksByAuthor(ctx, authorID)
	if err != nil {
		return nil, fmt.Errorf("list books by author: %w", err)
	}
	return books, nil
}

// Me returns the viewer's user, or false when anonymous. The borrowed set is
// re-read so it reflects mutations made earlier in the same request; if that
// read fails the viewer's snapshot is returned instead.
func (a *App) Me(ctx context.Context) (domain.User, bool) {
	viewer, ok := authgate.ViewerFromContext(ctx).User()
	if !ok {
		return domain.User{}, false
	}
	fresh, found, err := a.identity.GetUserByID(ctx, viewer.ID)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("me: reload user failed", "user_id", viewer.ID, "err", err)
		return viewer, true
	}
	if !found {
		return domain.User{}, false
	}
	return fresh, true
}

// Login verifies credentials and issues a token of the form "Bearer <jwt>".
func (a *App) Login(ctx context.Context, username, password string) (domain.User, string, error) {
	username = strings.TrimSpace(username)
	if a.loginLimiter != nil && !a.loginLimiter.Allow(ctx, "login:"+strings.ToLower(username)) {
		return domain.User{}, "", ErrTooManyAttempts
	}
	if username == "" || password == "" {
		return domain.User{}, "", ErrInvalidCredentials
	}
	user, ok, err := a.identity.GetUserByUsername(ctx, username)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		auth.CheckPassword(password, dummyPasswordHash())
		return domain.User{}, "", ErrInvalidCredentials
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("create session: %w", err)
	}
	util.LoggerFromContext(ctx).Info("user.login", "user_id", user.ID)
	return user, "Bearer " + token, nil
}

// Logout revokes token when the viewer is authenticated. It reports whether
// anything was revoked.
func (a *App) Logout(ctx context.Context, token string) (bool, error) {
	viewer, ok := authgate.ViewerFromContext(ctx).User()
	if !ok {
		return false, nil
	}
	token = authgate.BearerToken(token)
	if token == "" {
		return false, nil
	}
	if err := a.sessions.DeleteSession(token); err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	util.LoggerFromContext(ctx).Info("user.logout", "user_id", viewer.ID)
	return true, nil
}

// BorrowBooks borrows bookIDs for the viewer.
func (a *App) BorrowBooks(ctx context.Context, bookIDs []string) (domain.BookUpdateResult, error) {
	return a.engine.BorrowBooks(ctx, authgate.ViewerFromContext(ctx).Requester(), bookIDs)
}

// ReturnBook returns bookID on behalf of the viewer.
func (a *App) ReturnBook(ctx context.Context, bookID string) (domain.BookUpdateResult, error) {
	return a.engine.ReturnBook(ctx, authgate.ViewerFromContext(ctx).Requester(), bookID)
}
