package orch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Meet/internal/access"
	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

type fakeConn struct {
	mu        sync.Mutex
	frames    []core.Frame
	limit     int
	closed    bool
	closeCode int
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if c.limit > 0 && len(c.frames) >= c.limit {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close(code int, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed, c.closeCode = true, code
	}
}

// take returns and clears the decoded frames queued so far.
func (c *fakeConn) take(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	frames := c.frames
	c.frames = nil
	c.mu.Unlock()
	out := make([]map[string]any, 0, len(frames))
	for _, f := range frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err != nil {
			t.Fatalf("unmarshal %s: %v", f, err)
		}
		out = append(out, m)
	}
	return out
}

func typesOf(msgs []map[string]any) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m["type"].(string))
	}
	return out
}

func countType(msgs []map[string]any, typ string) int {
	n := 0
	for _, m := range msgs {
		if m["type"] == typ {
			n++
		}
	}
	return n
}

func newTestOrchestrator(gate access.Gate) *Orchestrator {
	return &Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(),
		Policy:   app.DisconnectPolicy{},
		Gate:     gate,
		Now:      func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
}

func staticGate() *access.Static {
	s := access.NewStatic(nil)
	s.SetMeeting("m1", "alice", "bob", "carol")
	return s
}

func newSession(sid, uid, room string) (core.MemberSession, *fakeConn) {
	conn := &fakeConn{}
	user := &domain.User{ID: domain.UserID(uid), Username: uid + "-name"}
	return core.NewMemberSession(core.SessionID(sid), domain.RoomID(room), domain.NewMember(user), conn), conn
}

func connect(t *testing.T, o *Orchestrator, sid, uid, room string) (core.MemberSession, *fakeConn) {
	t.Helper()
	sess, conn := newSession(sid, uid, room)
	if err := o.Admit(context.Background(), sess); err != nil {
		t.Fatalf("admit %s: %v", sid, err)
	}
	if err := o.Activate(sess, func() {}); err != nil {
		t.Fatalf("activate %s: %v", sid, err)
	}
	return sess, conn
}

func TestActivateAnnouncesAndSendsRoomState(t *testing.T) {
	o := newTestOrchestrator(staticGate())
	_, connA := connect(t, o, "s-a", "alice", "m1")

	first := connA.take(t)
	if len(first) != 1 || first[0]["type"] != protocol.TypeRoomState {
		t.Fatalf("first session got %v, want only room_state", typesOf(first))
	}
	if members := first[0]["members"].([]any); len(members) != 1 {
		t.Fatalf("members=%d, want 1", len(members))
	}

	_, connB := connect(t, o, "s-b", "bob", "m1")
	gotA := connA.take(t)
	if len(gotA) != 1 || gotA[0]["type"] != protocol.TypeUserJoined {
		t.Fatalf("alice got %v, want user_joined", typesOf(gotA))
	}
	if gotA[0]["user_id"] != "bob" || gotA[0]["session_id"] != "s-b" {
		t.Fatalf("user_joined=%v", gotA[0])
	}
	gotB := connB.take(t)
	if countType(gotB, protocol.TypeUserJoined) != 0 {
		t.Fatalf("bob saw his own join: %v", typesOf(gotB))
	}
	if len(gotB) != 1 || len(gotB[0]["members"].([]any)) != 2 {
		t.Fatalf("bob room_state=%v", gotB)
	}
	if o.Registry.Len() != 2 || o.Rooms.Len() != 1 {
		t.Fatalf("registry=%d rooms=%d, want 2 and 1", o.Registry.Len(), o.Rooms.Len())
	}
}

func TestOfferBroadcastExcludesSender(t *testing.T) {
	o := newTestOrchestrator(staticGate())
	a, connA := connect(t, o, "s-a", "alice", "m1")
	_, connB := connect(t, o, "s-b", "bob", "m1")
	connA.take(t)
	connB.take(t)

	n, err := o.HandleFrame(a, []byte(`{"type":"offer","sdp":"v=0"}`))
	if err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	if n != 1 {
		t.Fatalf("sent=%d, want 1", n)
	}
	if got := connA.take(t); len(got) != 0 {
		t.Fatalf("sender got %v", typesOf(got))
	}
	got := connB.take(t)
	if len(got) != 1 {
		t.Fatalf("bob got %d frames, want 1", len(got))
	}
	m := got[0]
	if m["type"] != "offer" || m["sdp"] != "v=0" || m["sender_id"] != "alice" || m["sender_name"] != "alice-name" {
		t.Fatalf("offer=%v", m)
	}
}

func TestTargetedSignalReachesOnlyTarget(t *testing.T) {
	o := newTestOrchestrator(staticGate())
	a, connA := connect(t, o, "s-a", "alice", "m1")
	_, connB := connect(t, o, "s-b", "bob", "m1")
	_, connC := connect(t, o, "s-c", "carol", "m1")
	connA.take(t)
	connB.take(t)
	connC.take(t)

	n, err := o.HandleFrame(a, []byte(`{"type":"ice-candidate","candidate":{"candidate":"c1","sdpMLineIndex":0},"target_id":"carol"}`))
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v, want 1 and nil", n, err)
	}
	if got := connB.take(t); len(got) != 0 {
		t.Fatalf("bob got %v", typesOf(got))
	}
	got := connC.take(t)
	if len(got) != 1 || got[0]["target_id"] != "carol" {
		t.Fatalf("carol got %v", got)
	}
	cand := got[0]["candidate"].(map[string]any)
	if cand["candidate"] != "c1" {
		t.Fatalf("candidate=%v", cand)
	}
}

func TestTargetNotInRoomIsSilent(t *testing.T) {
	o := newTestOrchestrator(staticGate())
	a, connA := connect(t, o, "s-a", "alice", "m1")
	_, connB := connect(t, o, "s-b", "bob", "m1")
	connA.take(t)
	connB.take(t)

	n, err := o.HandleFrame(a, []byte(`{"type":"answer","sdp":"v=0","target_id":"carol"}`))
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v, want 0 and nil", n, err)
	}
	if got := connA.take(t); len(got) != 0 {
		t.Fatalf("sender got %v", typesOf(got))
	}
	if got := connB.take(t); len(got) != 0 {
		t.Fatalf("bob got %v", typesOf(got))
	}
}

func TestTargetedSignalReachesEveryTabOfUser(t *testing.T) {
	o := newTestOrchestrator(staticGate())
	a, _ := connect(t, o, "s-a", "alice", "m1")
	_, b1 := connect(t, o, "s-b1", "bob", "m1")
	_, b2 := connect(t, o, "s-b2", "bob", "m1")
	b1.take(t)
	b2.take(t)

	n, err := o.HandleFrame(a, []byte(`{"type":"offer","sdp":"v=0","target_id":"bob"}`))
	if err != nil || n != 2 {
		t.Fatalf("n=%d err=%v, want 2 and nil", n, err)
	}
	if len(b1.take(t)) != 1 || len(b2.take(t)) != 1 {
		t.Fatal("each tab should get the offer once")
	}
}

func TestCallEventsReachSenderTabs(t *testing.T) {
	o := newTestOrchestrator(staticGate())
	a1, connA1 := connect(t, o, "s-a1", "alice", "m1")
	_, connA2 := connect(t, o, "s-a2", "alice", "m1")
	_, connB := connect(t, o, "s-b", "bob", "m1")
	connA1.take(t)
	connA2.take(t)
	connB.take(t)

	n, err := o.HandleFrame(a1, []byte(`{"type":"join-call"}`))
	if err != nil || n != 3 {
		t.Fatalf("n=%d err=%v, want 3 and nil", n, err)
	}
	for name, c := range map[string]*fakeConn{"a1": connA1, "a2": connA2, "b": connB} {
		got := c.take(t)
		if len(got) != 1 || got[0]["type"] != protocol.TypeCallJoined {
			t.Fatalf("%s got %v, want call-joined", name, typesOf(got))
		}
		if got[0]["timestamp"] != "2026-01-02T03:04:05Z" {
			t.Fatalf("%s timestamp=%v", name, got[0]["timestamp"])
		}
	}

	if _, err := o.HandleFrame(a1, []byte(`{"type":"leave-call","timestamp":1700000000}`)); err != nil {
		t.Fatalf("leave-call: %v", err)
	}
	got := connB.take(t)
	if len(got) != 1 || got[0]["type"] != protocol.TypeCallLeft || got[0]["timestamp"] != float64(1700000000) {
		t.Fatalf("bob got %v", got)
	}
}

func TestProtocolErrorRepliesToSenderOnly(t *testing.T) {
	o := newTestOrchestrator(staticGate())
	a, connA := connect(t, o, "s-a", "alice", "m1")
	_, connB := connect(t, o, "s-b", "bob", "m1")
	connA.take(t)
	connB.take(t)

	for _, raw := range []string{`not json`, `{"type":"dance"}`, `{"type":"offer"}`} {
		_, err := o.HandleFrame(a, []byte(raw))
		var perr *protocol.Error
		if !errors.As(err, &perr) {
			t.Fatalf("%s: err=%v, want *protocol.Error", raw, err)
		}
		got := connA.take(t)
		if len(got) != 1 || got[0]["type"] != protocol.TypeError {
			t.Fatalf("%s: sender got %v, want error", raw, typesOf(got))
		}
	}
	if got := connB.take(t); len(got) != 0 {
		t.Fatalf("bob got %v", typesOf(got))
	}
	if a.State() != core.StateActive {
		t.Fatalf("state=%v, want active", a.State())
	}
}

func TestSDPCheckRejects(t *testing.T) {
	o := newTestOrchestrator(staticGate())
	o.SDPCheck = func(string) error { return errors.New("bad") }
	a, connA := connect(t, o, "s-a", "alice", "m1")
	_, connB := connect(t, o, "s-b", "bob", "m1")
	connA.take(t)
	connB.take(t)

	if _, err := o.HandleFrame(a, []byte(`{"type":"offer","sdp":"garbage"}`)); err == nil {
		t.Fatal("expected error")
	}
	if got := connA.take(t); countType(got, protocol.TypeError) != 1 {
		t.Fatalf("sender got %v", typesOf(got))
	}
	if got := connB.take(t); len(got) != 0 {
		t.Fatalf("bob got %v", typesOf(got))
	}
}

// A session closed while its frame is between the state check and the
// fan-out must not reach the room after its user_left.
func TestClosedSenderRelaysNothing(t *testing.T) {
	o := newTestOrchestrator(staticGate())
	a, connA := connect(t, o, "s-a", "alice", "m1")
	_, connB := connect(t, o, "s-b", "bob", "m1")
	connA.take(t)
	connB.take(t)
	o.SDPCheck = func(string) error {
		o.Kick(a, protocol.CloseKicked, "removed")
		return nil
	}

	n, err := o.HandleFrame(a, []byte(`{"type":"offer","sdp":"v=0"}`))
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v, want 0 and nil", n, err)
	}
	if a.State() != core.StateClosed || connA.closeCode != protocol.CloseKicked {
		t.Fatalf("state=%v code=%d", a.State(), connA.closeCode)
	}
	got := connB.take(t)
	if len(got) != 1 || got[0]["type"] != protocol.TypeUserLeft {
		t.Fatalf("bob got %v, want only user_left", typesOf(got))
	}

	c, connC := connect(t, o, "s-c", "carol", "m1")
	connC.take(t)
	o.SDPCheck = func(string) error {
		o.Kick(c, protocol.CloseKicked, "removed")
		return nil
	}
	if n, _ := o.HandleFrame(c, []byte(`{"type":"answer","sdp":"v=0","target_id":"bob"}`)); n != 0 {
		t.Fatalf("targeted sent=%d, want 0", n)
	}
	if got := connB.take(t); countType(got, protocol.TypeAnswer) != 0 {
		t.Fatalf("bob got %v", typesOf(got))
	}
}

func TestPingRepliesPong(t *testing.T) {
	o := newTestOrchestrator(staticGate())
	a, connA := connect(t, o, "s-a", "alice", "m1")
	connA.take(t)
	if _, err := o.HandleFrame(a, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if got := connA.take(t); len(got) != 1 || got[0]["type"] != protocol.TypePong {
		t.Fatalf("got %v, want pong", typesOf(got))
	}
}

func TestForbiddenNeverJoins(t *testing.T) {
	o := newTestOrchestrator(staticGate())
	_, connA := connect(t, o, "s-a", "alice", "m1")
	connA.take(t)

	sess, _ := newSession("s-m", "mallory", "m1")
	err := o.Admit(context.Background(), sess)
	if !errors.Is(err, access.ErrForbidden) {
		t.Fatalf("err=%v, want ErrForbidden", err)
	}
	if sess.State() != core.StateClosed {
		t.Fatalf("state=%v, want closed", sess.State())
	}
	if err := o.Activate(sess, func() {}); err == nil {
		t.Fatal("activate after forbidden should fail")
	}
	if _, ok := o.Registry.GetSession("s-m"); ok {
		t.Fatal("forbidden session is registered")
	}
	if got := connA.take(t); len(got) != 0 {
		t.Fatalf("alice got %v", typesOf(got))
	}

	unknown, _ := newSession("s-x", "alice", "nope")
	if err := o.Admit(context.Background(), unknown); !errors.Is(err, access.ErrForbidden) {
		t.Fatalf("unknown meeting err=%v, want ErrForbidden", err)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	o := newTestOrchestrator(staticGate())
	a, _ := connect(t, o, "s-a", "alice", "m1")
	_, connB := connect(t, o, "s-b", "bob", "m1")
	connB.take(t)

	cancelled := 0
	o.Registry.Bind(a, func() { cancelled++ })

	o.Disconnect(a)
	o.Disconnect(a)
	o.Kick(a, protocol.CloseKicked, "again")

	got := connB.take(t)
	if n := countType(got, protocol.TypeUserLeft); n != 1 {
		t.Fatalf("user_left=%d, want 1", n)
	}
	if cancelled != 1 {
		t.Fatalf("cancelled=%d, want 1", cancelled)
	}
	if a.State() != core.StateClosed {
		t.Fatalf("state=%v, want closed", a.State())
	}
	if _, err := o.HandleFrame(a, []byte(`{"type":"ping"}`)); !errors.Is(err, ErrNotActive) {
		t.Fatalf("err=%v, want ErrNotActive", err)
	}
}

func TestRoomDeletedAndRecreated(t *testing.T) {
	o := newTestOrchestrator(staticGate())
	a, _ := connect(t, o, "s-a", "alice", "m1")
	o.Disconnect(a)
	if o.Rooms.Len() != 0 {
		t.Fatalf("rooms=%d, want 0", o.Rooms.Len())
	}
	if _, ok := o.Rooms.GetRoom("m1"); ok {
		t.Fatal("empty room still registered")
	}

	b, connB := connect(t, o, "s-b", "bob", "m1")
	got := connB.take(t)
	if len(got) != 1 || got[0]["type"] != protocol.TypeRoomState {
		t.Fatalf("bob got %v, want only room_state", typesOf(got))
	}
	if members := got[0]["members"].([]any); len(members) != 1 {
		t.Fatalf("members=%d, want 1", len(members))
	}
	if n, _ := o.HandleFrame(b, []byte(`{"type":"offer","sdp":"v=0"}`)); n != 0 {
		t.Fatalf("sent=%d, want 0", n)
	}
}

func TestDuplicateSessionRejected(t *testing.T) {
	o := newTestOrchestrator(staticGate())
	connect(t, o, "s-a", "alice", "m1")

	dup, _ := newSession("s-a", "alice", "m1")
	if err := o.Admit(context.Background(), dup); err != nil {
		t.Fatalf("admit: %v", err)
	}
	err := o.Activate(dup, func() {})
	if !errors.Is(err, core.ErrDuplicateSession) {
		t.Fatalf("err=%v, want ErrDuplicateSession", err)
	}
	if dup.State() != core.StateClosed {
		t.Fatalf("state=%v, want closed", dup.State())
	}
}

func TestSlowConsumerIsKicked(t *testing.T) {
	o := newTestOrchestrator(staticGate())
	a, connA := connect(t, o, "s-a", "alice", "m1")
	b, connB := connect(t, o, "s-b", "bob", "m1")
	connA.take(t)
	connB.take(t)

	connB.mu.Lock()
	connB.limit = 1
	connB.frames = []core.Frame{core.Frame(`{"type":"pong"}`)}
	connB.mu.Unlock()

	if _, err := o.HandleFrame(a, []byte(`{"type":"offer","sdp":"v=0"}`)); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	if b.State() != core.StateClosed {
		t.Fatalf("state=%v, want closed", b.State())
	}
	connB.mu.Lock()
	code := connB.closeCode
	connB.mu.Unlock()
	if code != protocol.CloseSlowConsumer {
		t.Fatalf("close code=%d, want %d", code, protocol.CloseSlowConsumer)
	}
	if got := connA.take(t); countType(got, protocol.TypeUserLeft) != 1 {
		t.Fatalf("alice got %v, want user_left", typesOf(got))
	}
}

func TestTolerantPolicyKeepsSlowConsumer(t *testing.T) {
	o := newTestOrchestrator(staticGate())
	o.Policy = app.TolerantPolicy{}
	a, _ := connect(t, o, "s-a", "alice", "m1")
	b, connB := connect(t, o, "s-b", "bob", "m1")
	connB.mu.Lock()
	connB.limit = len(connB.frames)
	connB.mu.Unlock()

	if _, err := o.HandleFrame(a, []byte(`{"type":"offer","sdp":"v=0"}`)); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	if b.State() != core.StateActive {
		t.Fatalf("state=%v, want active", b.State())
	}
}

func TestEvictRoomAndKickBySID(t *testing.T) {
	o := newTestOrchestrator(staticGate())
	connect(t, o, "s-a", "alice", "m1")
	_, connB := connect(t, o, "s-b", "bob", "m1")

	if o.KickBySID("missing", protocol.CloseKicked, "x") {
		t.Fatal("kick of unknown sid reported true")
	}
	if !o.KickBySID("s-b", protocol.CloseKicked, "bye") {
		t.Fatal("kick of s-b reported false")
	}
	if connB.closeCode != protocol.CloseKicked {
		t.Fatalf("close code=%d", connB.closeCode)
	}
	if n := o.EvictRoom("m1", protocol.CloseKicked, "closed"); n != 1 {
		t.Fatalf("evicted=%d, want 1", n)
	}
	if o.Rooms.Len() != 0 || o.Registry.Len() != 0 {
		t.Fatalf("rooms=%d registry=%d, want 0", o.Rooms.Len(), o.Registry.Len())
	}
}

func TestEvictRoomReachesUnboundMember(t *testing.T) {
	o := newTestOrchestrator(staticGate())
	connect(t, o, "s-a", "alice", "m1")

	// Joined but not yet bound, as inside Activate.
	b, connB := newSession("s-b", "bob", "m1")
	if err := o.Admit(context.Background(), b); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if _, err := o.Rooms.Join("m1", b); err != nil {
		t.Fatalf("join: %v", err)
	}

	if n := o.EvictRoom("m1", protocol.CloseKicked, "closed"); n != 2 {
		t.Fatalf("evicted=%d, want 2", n)
	}
	if b.State() != core.StateClosed || connB.closeCode != protocol.CloseKicked {
		t.Fatalf("state=%v code=%d, want closed and %d", b.State(), connB.closeCode, protocol.CloseKicked)
	}
	if o.Registry.Len() != 0 {
		t.Fatalf("registry=%d, want 0", o.Registry.Len())
	}
}

func TestConcurrentJoinLeave(t *testing.T) {
	o := newTestOrchestrator(access.GateFunc(func(context.Context, domain.UserID, domain.RoomID) bool { return true }))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sid := string(rune('a'+i%26)) + string(rune('a'+i/26))
			sess, _ := newSession(sid, sid, "m1")
			if err := o.Admit(context.Background(), sess); err != nil {
				t.Errorf("admit: %v", err)
				return
			}
			if err := o.Activate(sess, func() {}); err != nil {
				t.Errorf("activate: %v", err)
				return
			}
			o.Disconnect(sess)
		}(i)
	}
	wg.Wait()
	if o.Rooms.Len() != 0 || o.Registry.Len() != 0 {
		t.Fatalf("rooms=%d registry=%d, want 0", o.Rooms.Len(), o.Registry.Len())
	}
}
