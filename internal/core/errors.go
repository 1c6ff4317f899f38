package core

import "errors"

var (
	ErrDuplicateSession = errors.New("session already joined")
	ErrRoomClosed       = errors.New("room closed")
	ErrBackpressure     = errors.New("backpressure")
	ErrConnClosed       = errors.New("connection closed")
)
