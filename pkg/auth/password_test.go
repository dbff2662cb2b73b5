package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashPasswordAndCheckPassword(t *testing.T) {
	hash, err := hashPasswordWithCost("s3cret", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "" || hash == "s3cret" {
		t.Fatalf("expected salted hash, got %q", hash)
	}
	if !CheckPassword("s3cret", hash) {
		t.Fatalf("expected password check to pass")
	}
	if CheckPassword("wrong", hash) {
		t.Fatalf("expected password check to fail")
	}
}

func TestHashPasswordIsSalted(t *testing.T) {
	first, err := hashPasswordWithCost("same-password", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash first: %v", err)
	}
	second, err := hashPasswordWithCost("same-password", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash second: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct hashes for the same password")
	}
}

func TestCheckPasswordRejectsEmptyHash(t *testing.T) {
	if CheckPassword("", "") {
		t.Fatalf("empty stored hash must never match")
	}
}

func TestHashPasswordRejectsOversizedInput(t *testing.T) {
	if _, err := hashPasswordWithCost(strings.Repeat("a", 73), bcrypt.MinCost); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("Str0ng#Password!"); err != nil {
		t.Fatalf("expected valid password, got: %v", err)
	}
	if err := ValidatePassword("short1!A"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected short password to fail, got %v", err)
	}
	if err := ValidatePassword("alllowercase123!"); !errors.Is(err, ErrPasswordWeak) {
		t.Fatalf("expected missing uppercase to fail")
	}
	if err := ValidatePassword("ALLUPPERCASE123!"); !errors.Is(err, ErrPasswordWeak) {
		t.Fatalf("expected missing lowercase to fail")
	}
	if err := ValidatePassword("NoDigitsHere!!!"); !errors.Is(err, ErrPasswordWeak) {
		t.Fatalf("expected missing digits to fail")
	}
	if err := ValidatePassword("NoSpecials1234"); !errors.Is(err, ErrPasswordWeak) {
		t.Fatalf("expected missing special chars to fail")
	}
}
