package domain

import (
	"errors"
	"time"
)

const MaxRoomIDLen = 64

var (
	ErrRoomIDEmpty   = errors.New("room id empty")
	ErrRoomIDTooLong = errors.New("room id too long")
	ErrRoomIDInvalid = errors.New("room id has invalid characters")
)

// RoomID is the meeting identifier a room is keyed by.
type RoomID string

type Room struct {
	ID        RoomID
	CreatedAt time.Time
}

// ParseRoomID accepts the identifiers meetings are addressed by:
// numeric primary keys, uuids and slug-like names.
func ParseRoomID(raw string) (RoomID, error) {
	if raw == "" {
		return "", ErrRoomIDEmpty
	}
	if len(raw) > MaxRoomIDLen {
		return "", ErrRoomIDTooLong
	}
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return "", ErrRoomIDInvalid
		}
	}
	return RoomID(raw), nil
}
