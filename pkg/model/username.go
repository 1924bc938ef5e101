package model

import (
	"errors"
	"fmt"
	"strings"
)

const (
	MinUsernameLength = 2
	MaxUsernameLength = 20
)

var ErrUsernameTooShort = fmt.Errorf("username must be at least %d characters", MinUsernameLength)
var ErrUsernameTooLong = fmt.Errorf("username must be no more than %d characters", MaxUsernameLength)
var ErrUsernameInvalidChars = errors.New("username can only contain letters, numbers, hyphens, and underscores")
var ErrUsernameReserved = errors.New("username is reserved")

// reservedNames may not be claimed by users; they collide with routing or
// read like system identities.
var reservedNames = map[string]struct{}{
	"admin":     {},
	"root":      {},
	"system":    {},
	"null":      {},
	"undefined": {},
	"api":       {},
	"server":    {},
}

// NormalizeUsername trims surrounding whitespace and validates the handle:
// 2-20 ASCII alphanumeric, underscore, or hyphen characters, not a reserved
// name. Case is preserved. Returns the trimmed username or an error.
func NormalizeUsername(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if len(trimmed) < MinUsernameLength {
		return "", ErrUsernameTooShort
	}
	if len(trimmed) > MaxUsernameLength {
		return "", ErrUsernameTooLong
	}
	for _, r := range trimmed {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return "", ErrUsernameInvalidChars
		}
	}
	if _, ok := reservedNames[strings.ToLower(trimmed)]; ok {
		return "", ErrUsernameReserved
	}
	return trimmed, nil
}
