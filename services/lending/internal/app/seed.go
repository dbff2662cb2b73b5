package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"booklending/internal/util"
	"booklending/pkg/auth"
	"booklending/pkg/domain"
	"booklending/pkg/store"
)

// SeedFile is the YAML layout used to populate an empty store.
type SeedFile struct {
	Authors []SeedAuthor `yaml:"authors"`
	Books   []SeedBook   `yaml:"books"`
	Users   []SeedUser   `yaml:"users"`
}

type SeedAuthor struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// SeedBook references its author by the author's seed id.
type SeedBook struct {
	ID     string `yaml:"id"`
	Title  string `yaml:"title"`
	Author string `yaml:"author"`
}

// SeedUser carries a plaintext password that is hashed on load.
type SeedUser struct {
	ID       string `yaml:"id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// LoadSeedFile reads and parses a seed file.
func LoadSeedFile(path string) (SeedFile, error) {
	seed := SeedFile{}
	data, err := os.ReadFile(path)
	if err != nil {
		return seed, fmt.Errorf("read seed: %w", err)
	}
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return seed, fmt.Errorf("parse seed: %w", err)
	}
	return seed, nil
}

// Seed writes the seed records into an empty catalog. Missing ids are
// generated; every seeded book starts Available and every user starts with an
// empty borrowed set. A catalog that already holds books is left untouched,
// and users whose username already exists are skipped.
func Seed(ctx context.Context, catalog store.Catalog, identity store.Identity, seed SeedFile) error {
	logger := util.LoggerFromContext(ctx)
	existing, err := catalog.ListBooks(ctx)
	if err != nil {
		return fmt.Errorf("seed: list books: %w", err)
	}
	if len(existing) > 0 {
		logger.Info("store already seeded, skipping", "books", len(existing))
		return nil
	}
	authorIDs := make(map[string]string, len(seed.Authors))
	for _, a := range seed.Authors {
		id := seedID(a.ID)
		if a.ID != "" {
			authorIDs[a.ID] = id
		}
		if err := catalog.SaveAuthor(ctx, domain.Author{ID: id, Name: strings.TrimSpace(a.Name)}); err != nil {
			return fmt.Errorf("seed author %q: %w", a.Name, err)
		}
	}
	for _, b := range seed.Books {
		authorID := ""
		if ref := strings.TrimSpace(b.Author); ref != "" {
			mapped, ok := authorIDs[ref]
			if !ok {
				return fmt.Errorf("seed book %q: unknown author %q", b.Title, ref)
			}
			authorID = mapped
		}
		book := domain.Book{ID: seedID(b.ID), Title: strings.TrimSpace(b.Title), AuthorID: authorID}
		if err := catalog.SaveBook(ctx, book); err != nil {
			return fmt.Errorf("seed book %q: %w", b.Title, err)
		}
	}
	for _, u := range seed.Users {
		username := strings.TrimSpace(u.Username)
		if username == "" || u.Password == "" {
			return errors.New("seed user: username and password required")
		}
		if _, found, err := identity.GetUserByUsername(ctx, username); err != nil {
			return fmt.Errorf("seed user %q: %w", username, err)
		} else if found {
			logger.Info("seed user exists, skipping", "username", username)
			continue
		}
		hash, err := auth.HashPassword(u.Password)
		if err != nil {
			return fmt.Errorf("seed user %q: hash password: %w", username, err)
		}
		user := domain.User{ID: seedID(u.ID), Username: username, PasswordHash: hash, BookIDs: []string{}}
		if err := identity.SaveUser(ctx, user); err != nil {
			return fmt.Errorf("seed user %q: %w", username, err)
		}
	}
	logger.Info("store seeded",
		"authors", len(seed.Authors), "books", len(seed.Books), "users", len(seed.Users))
	return nil
}

func seedID(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return util.NewID()
}
