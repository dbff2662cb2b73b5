// Package lending enforces the borrow/return state machine over the catalog
// and identity stores.
//
// A book is Available (IsBooked=false) or Borrowed (IsBooked=true, held by the
// one user whose borrowed set contains it). The engine never takes a process
// lock: it relies on the stores' check-and-set primitives so that concurrent
// handlers on different instances still cannot lend the same book twice.
package lending

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"booklending/internal/util"
	"booklending/pkg/domain"
	"booklending/pkg/store"
)

const (
	MsgBorrowed        = "books borrowed successfully"
	MsgBorrowFailed    = "the following books couldn't be borrowed: "
	MsgBorrowAnonymous = "you must be logged in to borrow books"
	MsgReturned        = "book returned"
	MsgReturnFailed    = "book could not be returned"
	MsgReturnAnonymous = "you must be logged in to return books"
)

// maxAttempts bounds check-and-set attempts per book: the first try plus one
// retry after a lost race.
const maxAttempts = 2

// Engine performs lending transitions. Requester is a plain user record; a nil
// requester is anonymous.
type Engine struct {
	catalog  store.Catalog
	identity store.Identity
}

// NewEngine wires the engine to its stores.
func NewEngine(catalog store.Catalog, identity store.Identity) *Engine {
	return &Engine{catalog: catalog, identity: identity}
}

// BorrowBooks attempts to borrow every id in order. Ids that are unknown,
// already borrowed, or lose a race are reported in the message; the rest are
// committed one by one. An anonymous requester changes nothing.
//
// If ctx is cancelled mid-batch the ids already committed stay committed, the
// remaining ones are listed as not borrowed and ctx.Err() is returned with the
// partial result.
func (e *Engine) BorrowBooks(ctx context.Context, requester *domain.User, bookIDs []string) (domain.BookUpdateResult, error) {
	if requester == nil {
		return domain.BookUpdateResult{Success: false, Message: MsgBorrowAnonymous, Books: []domain.Book{}}, nil
	}
	logger := util.LoggerFromContext(ctx).With("user_id", requester.ID)

	borrowed := make([]domain.Book, 0, len(bookIDs))
	var failed []string
	for i, id := range bookIDs {
		if err := ctx.Err(); err != nil {
			failed = append(failed, bookIDs[i:]...)
			return borrowResult(borrowed, failed), fmt.Errorf("borrow books: %w", err)
		}
		book, ok, err := e.borrowOne(ctx, requester.ID, id)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				failed = append(failed, bookIDs[i:]...)
				return borrowResult(borrowed, failed), fmt.Errorf("borrow books: %w", ctxErr)
			}
			return domain.BookUpdateResult{}, fmt.Errorf("borrow book %s: %w", id, err)
		}
		if !ok {
			logger.Debug("book.borrow_skipped", "book_id", id)
			failed = append(failed, id)
			continue
		}
		logger.Info("book.borrowed", "book_id", id)
		borrowed = append(borrowed, book)
	}
	return borrowResult(borrowed, failed), nil
}

func borrowResult(borrowed []domain.Book, failed []string) domain.BookUpdateResult {
	if len(failed) == 0 {
		return domain.BookUpdateResult{Success: true, Message: MsgBorrowed, Books: borrowed}
	}
	return domain.BookUpdateResult{
		Success: false,
		Message: MsgBorrowFailed + strings.Join(failed, ", "),
		Books:   borrowed,
	}
}

// borrowOne moves a single book to Borrowed for userID. It reports false when
// the book does not exist or is not Available.
func (e *Engine) borrowOne(ctx context.Context, userID, bookID string) (domain.Book, bool, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		book, found, err := e.catalog.GetBook(ctx, bookID)
		if err != nil {
			return domain.Book{}, false, err
		}
		if !found || book.IsBooked {
			return domain.Book{}, false, nil
		}
		err = e.catalog.SetBooked(ctx, bookID, true)
		switch {
		case err == nil:
		case errors.Is(err, store.ErrConflict):
			continue
		case errors.Is(err, store.ErrNotFound):
			return domain.Book{}, false, nil
		default:
			return domain.Book{}, false, err
		}

		if _, err := e.identity.AddBorrowedBook(ctx, userID, bookID); err != nil {
			if revertErr := e.catalog.SetBooked(context.WithoutCancel(ctx), bookID, false); revertErr != nil {
				util.LoggerFromContext(ctx).Error("book.borrow_revert_failed", "book_id", bookID, "user_id", userID, "err", revertErr)
			}
			return domain.Book{}, false, err
		}
		book.IsBooked = true
		return book, true, nil
	}
	return domain.Book{}, false, nil
}

// ReturnBook moves bookID back to Available if the requester holds it.
// Failures never reveal whether someone else holds the book.
func (e *Engine) ReturnBook(ctx context.Context, requester *domain.User, bookID string) (domain.BookUpdateResult, error) {
	failed := domain.BookUpdateResult{Success: false, Message: MsgReturnFailed, Books: []domain.Book{}}
	if requester == nil {
		failed.Message = MsgReturnAnonymous
		return failed, nil
	}
	logger := util.LoggerFromContext(ctx).With("user_id", requester.ID, "book_id", bookID)

	user, found, err := e.identity.GetUserByID(ctx, requester.ID)
	if err != nil {
		return domain.BookUpdateResult{}, fmt.Errorf("load requester: %w", err)
	}
	if !found || !user.HasBook(bookID) {
		logger.Debug("book.return_rejected", "reason", "not_held")
		return failed, nil
	}
	book, found, err := e.catalog.GetBook(ctx, bookID)
	if err != nil {
		return domain.BookUpdateResult{}, fmt.Errorf("load book: %w", err)
	}
	if !found || !book.IsBooked {
		logger.Debug("book.return_rejected", "reason", "not_borrowed")
		return failed, nil
	}

	removed, err := e.identity.RemoveBorrowedBook(ctx, requester.ID, bookID)
	if err != nil {
		return domain.BookUpdateResult{}, fmt.Errorf("release book: %w", err)
	}
	if !removed {
		// A concurrent return by the same user won.
		return failed, nil
	}
	if err := e.releaseBook(ctx, bookID); err != nil {
		if _, readdErr := e.identity.AddBorrowedBook(context.WithoutCancel(ctx), requester.ID, bookID); readdErr != nil {
			logger.Error("book.return_revert_failed", "err", readdErr)
		}
		return domain.BookUpdateResult{}, fmt.Errorf("release book: %w", err)
	}
	logger.Info("book.returned")
	book.IsBooked = false
	return domain.BookUpdateResult{Success: true, Message: MsgReturned, Books: []domain.Book{book}}, nil
}

// releaseBook clears the booked flag. A conflict means the flag is already
// clear, which leaves the book in the state the caller wants.
func (e *Engine) releaseBook(ctx context.Context, bookID string) error {
	err := e.catalog.SetBooked(ctx, bookID, false)
	if errors.Is(err, store.ErrConflict) {
		return nil
	}
	return err
}
