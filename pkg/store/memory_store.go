package store

import (
	"context"
	"sync"

	"booklending/pkg/domain"
)

// MemoryStore keeps catalog and identity records in-process.
// Every method takes the lock for its full read-modify-write so SetBooked and
// the borrowed-set updates behave as check-and-set primitives.
type MemoryStore struct {
	mu        sync.RWMutex
	books     map[string]domain.Book
	bookOrder []string
	authors   map[string]domain.Author
	users     map[string]domain.User // key: user ID
	usernames map[string]string      // username -> user ID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		books:     make(map[string]domain.Book),
		authors:   make(map[string]domain.Author),
		users:     make(map[string]domain.User),
		usernames: make(map[string]string),
	}
}

// ListBooks returns books in insertion order.
func (m *MemoryStore) ListBooks(ctx context.Context) ([]domain.Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0, len(m.bookOrder))
	for _, id := range m.bookOrder {
		if b, ok := m.books[id]; ok {
			res = append(res, b)
		}
	}
	return res, nil
}

func (m *MemoryStore) GetBook(ctx context.Context, id string) (domain.Book, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Book{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

// ListBooksByAuthor returns books whose author reference equals authorID.
func (m *MemoryStore) ListBooksByAuthor(ctx context.Context, authorID string) ([]domain.Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0)
	for _, id := range m.bookOrder {
		if b, ok := m.books[id]; ok && b.AuthorID == authorID {
			res = append(res, b)
		}
	}
	return res, nil
}

func (m *MemoryStore) GetAuthor(ctx context.Context, id string) (domain.Author, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Author{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.authors[id]
	return a, ok, nil
}

// SaveBook stores or replaces a book record and tracks insertion order.
func (m *MemoryStore) SaveBook(ctx context.Context, b domain.Book) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.books[b.ID]; !exists {
		m.bookOrder = append(m.bookOrder, b.ID)
	}
	m.books[b.ID] = b
	return nil
}

func (m *MemoryStore) SaveAuthor(ctx context.Context, a domain.Author) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authors[a.ID] = a
	return nil
}

// SetBooked flips the booked flag only when it currently holds !booked.
func (m *MemoryStore) SetBooked(ctx context.Context, id string, booked bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return ErrNotFound
	}
	if b.IsBooked == booked {
		return ErrConflict
	}
	b.IsBooked = booked
	m.books[id] = b
	return nil
}

func (m *MemoryStore) GetUserByUsername(ctx context.Context, username string) (domain.User, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.usernames[username]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return cloneUser(u), ok, nil
}

func (m *MemoryStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return cloneUser(u), ok, nil
}

// SaveUser registers or replaces a user. Usernames are unique.
func (m *MemoryStore) SaveUser(ctx context.Context, u domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, ok := m.usernames[u.Username]; ok && owner != u.ID {
		return ErrDuplicateUsername
	}
	if prev, ok := m.users[u.ID]; ok && prev.Username != u.Username {
		delete(m.usernames, prev.Username)
	}
	m.users[u.ID] = cloneUser(u)
	m.usernames[u.Username] = u.ID
	return nil
}

func (m *MemoryStore) AddBorrowedBook(ctx context.Context, userID, bookID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return false, ErrNotFound
	}
	if u.HasBook(bookID) {
		return false, nil
	}
	u.BookIDs = append(u.BookIDs, bookID)
	m.users[userID] = u
	return true, nil
}

func (m *MemoryStore) RemoveBorrowedBook(ctx context.Context, userID, bookID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return false, ErrNotFound
	}
	kept := make([]string, 0, len(u.BookIDs))
	removed := false
	for _, id := range u.BookIDs {
		if id == bookID {
			removed = true
			continue
		}
		kept = append(kept, id)
	}
	if !removed {
		return false, nil
	}
	u.BookIDs = kept
	m.users[userID] = u
	return true, nil
}

// ListUsers returns a snapshot of all users.
func (m *MemoryStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		res = append(res, cloneUser(u))
	}
	return res, nil
}

func cloneUser(u domain.User) domain.User {
	if u.BookIDs != nil {
		u.BookIDs = append([]string(nil), u.BookIDs...)
	}
	return u
}
