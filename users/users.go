package users

import (
	"golang.org/x/crypto/bcrypt"
)

// Identity is the signed-in member as reported by the backend.
type Identity struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// IsZero reports whether no member is identified
func (i Identity) IsZero() bool {
	return i.ID == 0 && i.Name == "" && i.Email == ""
}

// Account is a member record as stored by a backend, including credentials.
type Account struct {
	Identity
	PasswordHash string `json:"-"` // never serialize
	Blocked      bool   `json:"blocked,omitempty"`
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// CheckPassword checks a password against the account's hash
func (a *Account) CheckPassword(password string) bool {
	return CheckPasswordHash(password, a.PasswordHash)
}
