// Package access answers whether a principal may join a meeting room: the
// meeting's host and its registered participants may, nobody else.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/domain"
)

var ErrForbidden = errors.New("no access to meeting")

// Gate is the membership check consumed by the signaling router. It must
// report false, not fail, for meetings that do not exist.
type Gate interface {
	Authorize(ctx context.Context, uid domain.UserID, room domain.RoomID) bool
}

// GateFunc adapts a function to Gate.
type GateFunc func(ctx context.Context, uid domain.UserID, room domain.RoomID) bool

func (f GateFunc) Authorize(ctx context.Context, uid domain.UserID, room domain.RoomID) bool {
	return f(ctx, uid, room)
}

func NewGate(cfg config.Access) (Gate, error) {
	switch cfg.Mode {
	case config.AccessStatic:
		return NewStatic(cfg.Meetings), nil
	case config.AccessHTTP:
		return NewHTTP(cfg.URL, cfg.Timeout)
	default:
		return nil, fmt.Errorf("access: unsupported mode %q", cfg.Mode)
	}
}
