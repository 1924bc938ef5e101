// Package model defines the core domain types for Wavelink.
package model

import (
	"fmt"
	"strings"
	"time"
)

// PresenceState is a user's advertised availability. Wire values are the
// lowercase strings; input is accepted case-insensitively.
type PresenceState string

const (
	PresenceOnline PresenceState = "online"
	PresenceBusy   PresenceState = "busy"
	PresenceAway   PresenceState = "away"
)

// ParsePresence normalizes a status string to a PresenceState.
func ParsePresence(s string) (PresenceState, error) {
	switch PresenceState(strings.ToLower(strings.TrimSpace(s))) {
	case PresenceOnline:
		return PresenceOnline, nil
	case PresenceBusy:
		return PresenceBusy, nil
	case PresenceAway:
		return PresenceAway, nil
	default:
		return "", fmt.Errorf("model: status must be one of online, busy, away (got %q)", s)
	}
}

func (p PresenceState) String() string { return string(p) }

// User is a registered user record as kept by the user store.
type User struct {
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
	LastLogin time.Time `json:"lastLogin"`
}
