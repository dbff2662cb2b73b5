package server

import (
	"context"
	"errors"

	graphql "github.com/graph-gophers/graphql-go"

	"booklending/internal/util"
	"booklending/pkg/domain"
	"booklending/services/lending/internal/app"
)

var errInternal = errors.New("internal error")

// internalError logs err and hides it from the client.
func internalError(ctx context.Context, op string, err error) error {
	util.LoggerFromContext(ctx).Error("graphql resolver failed", "op", op, "err", err)
	return errInternal
}

func isContextDone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type rootResolver struct {
	app *app.App
}

func (r *rootResolver) Books(ctx context.Context) ([]*bookResolver, error) {
	books, err := r.app.Books(ctx)
	if err != nil {
		return nil, internalError(ctx, "books", err)
	}
	return r.bookList(books), nil
}

func (r *rootResolver) Book(ctx context.Context, args struct{ ID graphql.ID }) (*bookResolver, error) {
	book, err := r.app.Book(ctx, string(args.ID))
	if errors.Is(err, app.ErrBookNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, internalError(ctx, "book", err)
	}
	return &bookResolver{app: r.app, book: book}, nil
}

func (r *rootResolver) Author(ctx context.Context, args struct{ ID graphql.ID }) (*authorResolver, error) {
	author, err := r.app.Author(ctx, string(args.ID))
	if errors.Is(err, app.ErrAuthorNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, internalError(ctx, "author", err)
	}
	return &authorResolver{app: r.app, author: author}, nil
}

func (r *rootResolver) Me(ctx context.Context) *userResolver {
	user, ok := r.app.Me(ctx)
	if !ok {
		return nil
	}
	return &userResolver{app: r.app, user: user}
}

func (r *rootResolver) Login(ctx context.Context, args struct {
	Username string
	Password string
}) (*userResolver, error) {
	user, token, err := r.app.Login(ctx, args.Username, args.Password)
	switch {
	case errors.Is(err, app.ErrInvalidCredentials), errors.Is(err, app.ErrTooManyAttempts):
		return nil, err
	case err != nil:
		return nil, internalError(ctx, "login", err)
	}
	return &userResolver{app: r.app, user: user, token: optionalString(token)}, nil
}

func (r *rootResolver) Logout(ctx context.Context) (bool, error) {
	ok, err := r.app.Logout(ctx, credentialFromContext(ctx))
	if err != nil {
		return false, internalError(ctx, "logout", err)
	}
	return ok, nil
}

func (r *rootResolver) BorrowBooks(ctx context.Context, args struct{ BookIDs []graphql.ID }) (*updateResolver, error) {
	ids := make([]string, 0, len(args.BookIDs))
	for _, id := range args.BookIDs {
		ids = append(ids, string(id))
	}
	res, err := r.app.BorrowBooks(ctx, ids)
	if err != nil && res.Message != "" && isContextDone(err) {
		// Committed ids stay committed; the envelope names the rest.
		util.LoggerFromContext(ctx).Warn("graphql borrow interrupted", "op", "borrowBooks", "err", err)
		return &updateResolver{app: r.app, res: res}, nil
	}
	if err != nil {
		return nil, internalError(ctx, "borrowBooks", err)
	}
	return &updateResolver{app: r.app, res: res}, nil
}

func (r *rootResolver) ReturnBook(ctx context.Context, args struct{ BookID graphql.ID }) (*updateResolver, error) {
	res, err := r.app.ReturnBook(ctx, string(args.BookID))
	if err != nil {
		return nil, internalError(ctx, "returnBook", err)
	}
	return &updateResolver{app: r.app, res: res}, nil
}

func (r *rootResolver) bookList(books []domain.Book) []*bookResolver {
	out := make([]*bookResolver, 0, len(books))
	for _, b := range books {
		out = append(out, &bookResolver{app: r.app, book: b})
	}
	return out
}

type bookResolver struct {
	app  *app.App
	book domain.Book
}

func (b *bookResolver) ID() graphql.ID { return graphql.ID(b.book.ID) }
func (b *bookResolver) Title() *string { return optionalString(b.book.Title) }
func (b *bookResolver) IsBooked() bool { return b.book.IsBooked }

func (b *bookResolver) Author(ctx context.Context) (*authorResolver, error) {
	if b.book.AuthorID == "" {
		return nil, nil
	}
	author, err := b.app.Author(ctx, b.book.AuthorID)
	if errors.Is(err, app.ErrAuthorNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, internalError(ctx, "book.author", err)
	}
	return &authorResolver{app: b.app, author: author}, nil
}

type authorResolver struct {
	app    *app.App
	author domain.Author
}

func (a *authorResolver) ID() graphql.ID { return graphql.ID(a.author.ID) }
func (a *authorResolver) Name() *string { return optionalString(a.author.Name) }

func (a *authorResolver) Books(ctx context.Context) ([]*bookResolver, error) {
	books, err := a.app.BooksByAuthor(ctx, a.author.ID)
	if err != nil {
		return nil, internalError(ctx, "author.books", err)
	}
	root := rootResolver{app: a.app}
	return root.bookList(books), nil
}

type userResolver struct {
	app   *app.App
	user  domain.User
	token *string
}

func (u *userResolver) ID() graphql.ID { return graphql.ID(u.user.ID) }
func (u *userResolver) Username() string { return u.user.Username }
func (u *userResolver) Token() *string { return u.token }

// Books resolves the borrowed set; ids whose book has since disappeared are
// skipped.
func (u *userResolver) Books(ctx context.Context) ([]*bookResolver, error) {
	out := make([]*bookResolver, 0, len(u.user.BookIDs))
	for _, id := range u.user.BookIDs {
		book, err := u.app.Book(ctx, id)
		if errors.Is(err, app.ErrBookNotFound) {
			continue
		}
		if err != nil {
			return nil, internalError(ctx, "user.books", err)
		}
		out = append(out, &bookResolver{app: u.app, book: book})
	}
	return out, nil
}

type updateResolver struct {
	app *app.App
	res domain.BookUpdateResult
}

func (r *updateResolver) Success() bool { return r.res.Success }
func (r *updateResolver) Message() *string { return optionalString(r.res.Message) }

func (r *updateResolver) Books() []*bookResolver {
	root := rootResolver{app: r.app}
	return root.bookList(r.res.Books)
}
