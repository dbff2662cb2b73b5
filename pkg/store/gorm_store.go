package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"booklending/pkg/domain"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const migrateLockID int64 = 51730417

// GormStore implements Catalog and Identity using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return newGormStore(db)
}

func newGormStore(db *gorm.DB) (*GormStore, error) {
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&AuthorModel{}, &BookModel{}, &UserModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// ListBooks returns all books ordered by created_at.
func (s *GormStore) ListBooks(ctx context.Context) ([]domain.Book, error) {
	return s.listBooks(ctx)
}

// ListBooksByAuthor derives an author's books from the book author reference.
func (s *GormStore) ListBooksByAuthor(ctx context.Context, authorID string) ([]domain.Book, error) {
	return s.listBooks(ctx, "author_id = ?", authorID)
}

func (s *GormStore) listBooks(ctx context.Context, conds ...any) ([]domain.Book, error) {
	var models []BookModel
	tx := s.db.WithContext(ctx).Order("created_at ASC")
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// GetBook retrieves a book.
func (s *GormStore) GetBook(ctx context.Context, id string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// GetAuthor retrieves an author.
func (s *GormStore) GetAuthor(ctx context.Context, id string) (domain.Author, bool, error) {
	var model AuthorModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Author{}, false, nil
		}
		return domain.Author{}, false, err
	}
	return domain.Author{ID: model.ID, Name: model.Name}, true, nil
}

// SaveBook stores or updates a book.
func (s *GormStore) SaveBook(ctx context.Context, b domain.Book) error {
	model := bookToModel(b)
	now := time.Now().UTC()
	model.CreatedAt = now
	model.UpdatedAt = now
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "is_booked", "author_id", "updated_at"}),
	}).Create(&model).Error
}

// SaveAuthor stores or updates an author.
func (s *GormStore) SaveAuthor(ctx context.Context, a domain.Author) error {
	model := AuthorModel{ID: a.ID, Name: a.Name, CreatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name"}),
	}).Create(&model).Error
}

// SetBooked updates is_booked only where it still holds the opposite value.
func (s *GormStore) SetBooked(ctx context.Context, id string, booked bool) error {
	res := s.db.WithContext(ctx).Model(&BookModel{}).
		Where("id = ? AND is_booked = ?", id, !booked).
		Updates(map[string]any{
			"is_booked":  booked,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&BookModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

// GetUserByUsername looks up a user by username.
func (s *GormStore) GetUserByUsername(ctx context.Context, username string) (domain.User, bool, error) {
	return s.getUser(ctx, "username = ?", username)
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	return s.getUser(ctx, "id = ?", id)
}

func (s *GormStore) getUser(ctx context.Context, query string, arg any) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where(query, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	now := time.Now().UTC()
	model.CreatedAt = now
	model.UpdatedAt = now
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "password_hash", "book_ids", "updated_at"}),
	}).Create(&model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateUsername
	}
	return err
}

// AddBorrowedBook appends bookID to the user's set under a row lock.
func (s *GormStore) AddBorrowedBook(ctx context.Context, userID, bookID string) (bool, error) {
	added := false
	err := s.updateBorrowedSet(ctx, userID, func(ids []string) []string {
		for _, id := range ids {
			if id == bookID {
				return ids
			}
		}
		added = true
		return append(ids, bookID)
	})
	return added, err
}

// RemoveBorrowedBook drops bookID from the user's set under a row lock.
func (s *GormStore) RemoveBorrowedBook(ctx context.Context, userID, bookID string) (bool, error) {
	removed := false
	err := s.updateBorrowedSet(ctx, userID, func(ids []string) []string {
		kept := make([]string, 0, len(ids))
		for _, id := range ids {
			if id == bookID {
				removed = true
				continue
			}
			kept = append(kept, id)
		}
		return kept
	})
	return removed, err
}

func (s *GormStore) updateBorrowedSet(ctx context.Context, userID string, mutate func([]string) []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model UserModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		before := len(model.BookIDs)
		next := mutate([]string(model.BookIDs))
		if len(next) == before {
			return nil
		}
		return tx.Model(&UserModel{}).
			Where("id = ?", userID).
			Updates(map[string]any{
				"book_ids":   datatypes.NewJSONSlice(next),
				"updated_at": time.Now().UTC(),
			}).Error
	})
}

func bookToModel(b domain.Book) BookModel {
	var authorID *string
	if b.AuthorID != "" {
		value := b.AuthorID
		authorID = &value
	}
	return BookModel{
		ID:       b.ID,
		Title:    b.Title,
		IsBooked: b.IsBooked,
		AuthorID: authorID,
	}
}

func bookFromModel(m BookModel) domain.Book {
	authorID := ""
	if m.AuthorID != nil {
		authorID = *m.AuthorID
	}
	return domain.Book{
		ID:       m.ID,
		Title:    m.Title,
		IsBooked: m.IsBooked,
		AuthorID: authorID,
	}
}

func userToModel(u domain.User) UserModel {
	ids := u.BookIDs
	if ids == nil {
		ids = []string{}
	}
	return UserModel{
		ID:           u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		BookIDs:      datatypes.NewJSONSlice(ids),
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		BookIDs:      append([]string(nil), m.BookIDs...),
	}
}
