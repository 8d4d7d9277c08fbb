package model

import (
	"errors"
	"strings"
)

var ErrUsernameEmpty = errors.New("username must not be empty")
var ErrUsernameSeparator = errors.New("username must not contain ':'")

// ValidateUsername checks the only two rules a username has: it is non-empty
// after trimming and it does not contain the datagram frame separator.
// Names are case-sensitive and otherwise unrestricted.
func ValidateUsername(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrUsernameEmpty
	}
	if strings.Contains(name, ":") {
		return ErrUsernameSeparator
	}
	return nil
}
