// Package protocol defines the JSON envelopes exchanged with signaling
// clients. Every frame is an object tagged by its "type" field.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/dkeye/Meet/internal/domain"
)

type Kind string

const (
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindIceCandidate Kind = "ice-candidate"
	KindJoinCall     Kind = "join-call"
	KindLeaveCall    Kind = "leave-call"
	KindPing         Kind = "ping"
)

// Inbound is a decoded client message. The concrete types below are the
// complete set; Parse never returns anything else.
type Inbound interface {
	Kind() Kind
}

type Offer struct {
	SDP      string
	TargetID domain.UserID
}

type Answer struct {
	SDP      string
	TargetID domain.UserID
}

// IceCandidate keeps the candidate as the client encoded it (a string or an
// RTCIceCandidateInit object); the relay never interprets it.
type IceCandidate struct {
	Candidate json.RawMessage
	TargetID  domain.UserID
}

type JoinCall struct {
	Timestamp json.RawMessage
}

type LeaveCall struct {
	Timestamp json.RawMessage
}

type Ping struct{}

func (Offer) Kind() Kind        { return KindOffer }
func (Answer) Kind() Kind       { return KindAnswer }
func (IceCandidate) Kind() Kind { return KindIceCandidate }
func (JoinCall) Kind() Kind     { return KindJoinCall }
func (LeaveCall) Kind() Kind    { return KindLeaveCall }
func (Ping) Kind() Kind         { return KindPing }

// Error is a protocol violation by the client. Reason is safe to show to
// the sender.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Err)
	}
	return "protocol: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

func protoErr(reason string, err error) *Error {
	return &Error{Reason: reason, Err: err}
}

type envelope struct {
	Type      Kind            `json:"type"`
	SDP       json.RawMessage `json:"sdp"`
	Offer     json.RawMessage `json:"offer"`
	Answer    json.RawMessage `json:"answer"`
	Candidate json.RawMessage `json:"candidate"`
	TargetID  json.RawMessage `json:"target_id"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// Parse decodes one client frame. All failures are *Error.
func Parse(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, protoErr("invalid json", err)
	}

	switch env.Type {
	case KindOffer, KindAnswer:
		raw := env.SDP
		if isAbsent(raw) {
			raw = env.Offer
			if env.Type == KindAnswer {
				raw = env.Answer
			}
		}
		sdp, err := parseSDP(raw)
		if err != nil {
			return nil, protoErr(string(env.Type)+": missing sdp", err)
		}
		target, err := parseUserID(env.TargetID)
		if err != nil {
			return nil, protoErr(string(env.Type)+": invalid target_id", err)
		}
		if env.Type == KindOffer {
			return Offer{SDP: sdp, TargetID: target}, nil
		}
		return Answer{SDP: sdp, TargetID: target}, nil
	case KindIceCandidate:
		if isAbsent(env.Candidate) {
			return nil, protoErr("ice-candidate: missing candidate", nil)
		}
		target, err := parseUserID(env.TargetID)
		if err != nil {
			return nil, protoErr("ice-candidate: invalid target_id", err)
		}
		return IceCandidate{Candidate: env.Candidate, TargetID: target}, nil
	case KindJoinCall:
		return JoinCall{Timestamp: presentOrNil(env.Timestamp)}, nil
	case KindLeaveCall:
		return LeaveCall{Timestamp: presentOrNil(env.Timestamp)}, nil
	case KindPing:
		return Ping{}, nil
	case "":
		return nil, protoErr("missing type", nil)
	default:
		return nil, protoErr(fmt.Sprintf("unknown message type %q", env.Type), nil)
	}
}

var errEmptySDP = errors.New("empty sdp")

// parseSDP accepts either a bare SDP string or an RTCSessionDescriptionInit
// object ({"type":"offer","sdp":"..."}).
func parseSDP(raw json.RawMessage) (string, error) {
	if isAbsent(raw) {
		return "", errEmptySDP
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", errEmptySDP
		}
		return s, nil
	}
	var desc struct {
		SDP string `json:"sdp"`
	}
	if err := json.Unmarshal(raw, &desc); err != nil {
		return "", err
	}
	if desc.SDP == "" {
		return "", errEmptySDP
	}
	return desc.SDP, nil
}

// parseUserID accepts string and integer ids; absent or null means no target.
func parseUserID(raw json.RawMessage) (domain.UserID, error) {
	if isAbsent(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return domain.UserID(s), nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return "", err
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return "", err
	}
	return domain.UserID(n.String()), nil
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func presentOrNil(raw json.RawMessage) json.RawMessage {
	if isAbsent(raw) {
		return nil
	}
	return raw
}
