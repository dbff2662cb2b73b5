package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type AuthorModel struct {
	ID        string    `gorm:"primaryKey"`
	Name      string
	CreatedAt time.Time `gorm:"not null"`
}

type BookModel struct {
	ID        string `gorm:"primaryKey"`
	Title     string
	IsBooked  bool      `gorm:"not null;default:false"`
	AuthorID  *string   `gorm:"index"`
	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null"`
}

type UserModel struct {
	ID           string                      `gorm:"primaryKey"`
	Username     string                      `gorm:"uniqueIndex;not null"`
	PasswordHash string                      `gorm:"not null"`
	BookIDs      datatypes.JSONSlice[string] `gorm:"type:jsonb;not null;default:'[]'"`
	CreatedAt    time.Time                   `gorm:"not null"`
	UpdatedAt    time.Time
}
