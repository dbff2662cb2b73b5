package store

import (
	"context"
	"errors"
	"time"

	"booklending/pkg/domain"
)

var (
	// ErrNotFound is returned by mutations addressing a record that does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a check-and-set finds the record in an
	// unexpected state, i.e. another writer got there first.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrDuplicateUsername is returned when saving a second user with a taken username.
	ErrDuplicateUsername = errors.New("username already exists")
)

// Catalog owns persisted Book and Author fields.
type Catalog interface {
	ListBooks(ctx context.Context) ([]domain.Book, error)
	GetBook(ctx context.Context, id string) (domain.Book, bool, error)
	ListBooksByAuthor(ctx context.Context, authorID string) ([]domain.Book, error)
	GetAuthor(ctx context.Context, id string) (domain.Author, bool, error)
	SaveBook(ctx context.Context, b domain.Book) error
	SaveAuthor(ctx context.Context, a domain.Author) error

	// SetBooked atomically flips IsBooked from !booked to booked.
	// It returns ErrConflict when the book is not currently !booked and
	// ErrNotFound when the book does not exist.
	SetBooked(ctx context.Context, id string, booked bool) error
}

// Identity owns User records including the borrowed set.
type Identity interface {
	GetUserByUsername(ctx context.Context, username string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
	SaveUser(ctx context.Context, u domain.User) error

	// AddBorrowedBook adds bookID to the user's set. It reports false when the
	// id was already present.
	AddBorrowedBook(ctx context.Context, userID, bookID string) (bool, error)
	// RemoveBorrowedBook removes bookID from the user's set. It reports false
	// when the id was not present.
	RemoveBorrowedBook(ctx context.Context, userID, bookID string) (bool, error)
}

// SessionStore issues and resolves stateless bearer claims.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}

// TokenRevoker tracks revoked token ids until expiry.
type TokenRevoker interface {
	Revoke(tokenID string, ttl time.Duration) error
	IsRevoked(tokenID string) (bool, error)
}
