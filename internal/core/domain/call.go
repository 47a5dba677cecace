package domain

import (
	"fmt"
	"time"
)

// CallState is the lifecycle state of the local call session.
type CallState int

const (
	StateIdle CallState = iota
	StateOutgoing
	StateIncoming
	StateActive
)

func (s CallState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOutgoing:
		return "outgoing"
	case StateIncoming:
		return "incoming"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

type CallKind string

const (
	KindVoice CallKind = "voice"
	KindVideo CallKind = "video"
)

// EndReason explains why a call returned to idle.
type EndReason string

const (
	EndCompleted    EndReason = "completed"
	EndCancelled    EndReason = "cancelled"
	EndDeclined     EndReason = "declined"
	EndNoAnswer     EndReason = "no_answer"
	EndRemoteHangup EndReason = "remote_hangup"
	EndFailed       EndReason = "failed"
)

// Peer identifies the remote party of a call.
type Peer struct {
	ID          UserID
	DisplayName string
}

// Credential is an opaque media authorization artifact bound to a room and
// a user. The zero value means credential-less join.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

func (c Credential) Empty() bool {
	return c.Token == ""
}

// Direction of a call from the local party's point of view.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// Snapshot is a read-only copy of the session published to the
// presentation layer on every transition.
type Snapshot struct {
	State        CallState
	Kind         CallKind
	Peer         Peer
	RoomID       RoomID
	Muted        bool
	VideoEnabled bool
	Reason       EndReason
	Err          error
}

// CallRecord is one entry in the call history.
type CallRecord struct {
	RoomID    RoomID
	Peer      Peer
	Kind      CallKind
	Direction Direction
	Outcome   EndReason
	StartedAt time.Time
	EndedAt   time.Time
}
