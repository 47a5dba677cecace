package domain

import (
	"errors"
	"time"
)

// InvitationStatus is the status stamped on a shared invitation record.
// Only "ringing" exists today; resolution is expressed by deleting the
// record, not by mutating it.
type InvitationStatus string

const StatusRinging InvitationStatus = "ringing"

// Invitation is the shared-store record signaling "From is calling To".
// Records are advisory: either party may delete them, duplicates and
// stale copies must be tolerated by the reader.
type Invitation struct {
	ID        InvitationID
	From      UserID
	FromName  string
	To        UserID
	RoomID    RoomID
	Kind      CallKind
	Status    InvitationStatus
	CreatedAt time.Time
}

// NewInvitation builds the record a caller publishes when dialing callee.
// The room id is derived from the pair so the callee computes the same one.
func NewInvitation(caller Peer, callee UserID, kind CallKind) (Invitation, error) {
	if caller.ID == "" || callee == "" {
		return Invitation{}, errors.New("invitation requires both party ids")
	}
	if caller.ID == callee {
		return Invitation{}, errors.New("cannot call self")
	}
	return Invitation{
		ID:        NewInvitationID(),
		From:      caller.ID,
		FromName:  caller.DisplayName,
		To:        callee,
		RoomID:    DeriveRoomID(caller.ID, callee),
		Kind:      kind,
		Status:    StatusRinging,
		CreatedAt: time.Now(),
	}, nil
}
