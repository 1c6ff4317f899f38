// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 64
)

var (
	ErrUserIDEmpty     = errors.New("user id empty")
	ErrUserIDTooLong   = errors.New("user id too long")
	ErrUserIDInvalid   = errors.New("user id has invalid characters")
	ErrUsernameTooLong = errors.New("username too long")
)

type UserID string

// User is the authenticated principal behind one or more sessions.
type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// NewUser validates the principal fields coming from the auth layer.
// An empty username falls back to the id so every event has a display name.
func NewUser(id, username, email string) (*User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return nil, ErrUserIDTooLong
	}
	if !validUserID(id) {
		return nil, ErrUserIDInvalid
	}
	u := &User{ID: UserID(id), Email: strings.TrimSpace(email)}
	if err := u.SetUsername(username); err != nil {
		return nil, err
	}
	return u, nil
}

// validUserID rejects ids that would change meaning inside a URL path or a
// log line. Numeric ids, uuids and emails pass.
func validUserID(id string) bool {
	if id == "." || id == ".." {
		return false
	}
	for _, r := range id {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(`/\?#%`, r) {
			return false
		}
	}
	return true
}

func (u *User) SetUsername(username string) error {
	username = strings.TrimSpace(username)
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	if username == "" {
		username = string(u.ID)
	}
	u.Username = username
	return nil
}
