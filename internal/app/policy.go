package app

import (
	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a session whose outbound queue was full
// during a fan-out.
type Policy interface {
	OnBackPressure(room core.RoomService, member core.MemberSession) BackpressureAction
}

// DisconnectPolicy closes slow consumers; they rejoin and renegotiate.
type DisconnectPolicy struct{}

func (DisconnectPolicy) OnBackPressure(core.RoomService, core.MemberSession) BackpressureAction {
	return KickMember
}

// TolerantPolicy leaves slow consumers connected. Used with drop_oldest
// queues, which only report backpressure if eviction itself failed.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(core.RoomService, core.MemberSession) BackpressureAction {
	return NoAction
}

func PolicyFor(overflow string) Policy {
	if overflow == config.OverflowDropOldest {
		return TolerantPolicy{}
	}
	return DisconnectPolicy{}
}
