package domain

// Book is a lendable catalog entry. IsBooked is true while exactly one user
// holds the book in their borrowed set.
type Book struct {
	ID       string `json:"_id"`
	Title    string `json:"title,omitempty"`
	IsBooked bool   `json:"isBooked"`
	AuthorID string `json:"authorId,omitempty"`
}

// Author is referenced by books. The books written by an author are derived
// on read and never stored on the author.
type Author struct {
	ID   string `json:"_id"`
	Name string `json:"name,omitempty"`
}

type User struct {
	ID           string   `json:"_id"`
	Username     string   `json:"username"`
	PasswordHash string   `json:"-"`
	BookIDs      []string `json:"books"`
}

// HasBook reports whether bookID is in the user's borrowed set.
func (u User) HasBook(bookID string) bool {
	for _, id := range u.BookIDs {
		if id == bookID {
			return true
		}
	}
	return false
}

// BookUpdateResult is the envelope returned by borrow and return mutations.
type BookUpdateResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Books   []Book `json:"books"`
}
