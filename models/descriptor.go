package models

import (
	"errors"
	"strings"
	"time"
	"unicode"
)

var (
	ErrMissingRoomCode   = errors.New("room code is required")
	ErrInvalidRoomCode   = errors.New("room code must be alphanumeric")
	ErrInvalidRole       = errors.New("role must be male or female")
	ErrDescriptorExpired = errors.New("session descriptor has expired")
)

// SessionDescriptor is the locally persisted pointer to a session the
// player has joined. ExpiryTime is in unix milliseconds.
type SessionDescriptor struct {
	RoomCode   string `json:"roomCode"`
	Role       Role   `json:"role"`
	ExpiryTime int64  `json:"expiryTime"`
}

func NewSessionDescriptor(roomCode string, role Role, ttl time.Duration, now time.Time) SessionDescriptor {
	return SessionDescriptor{
		RoomCode:   NormalizeRoomCode(roomCode),
		Role:       role,
		ExpiryTime: now.Add(ttl).UnixMilli(),
	}
}

func (d SessionDescriptor) Expiry() time.Time {
	return time.UnixMilli(d.ExpiryTime)
}

// Validate checks the descriptor against now.
func (d SessionDescriptor) Validate(now time.Time) error {
	code := NormalizeRoomCode(d.RoomCode)
	if code == "" {
		return ErrMissingRoomCode
	}
	for _, r := range code {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return ErrInvalidRoomCode
		}
	}
	if !d.Role.Valid() {
		return ErrInvalidRole
	}
	if !now.Before(d.Expiry()) {
		return ErrDescriptorExpired
	}
	return nil
}

// NormalizeRoomCode upper-cases and trims a room code so lookups are
// case-insensitive.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
