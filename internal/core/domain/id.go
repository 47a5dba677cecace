package domain

import (
	"github.com/google/uuid"
)

type UserID string

func NewUserID() UserID {
	return UserID(uuid.NewString())
}

func (id UserID) String() string {
	return string(id)
}

type InvitationID uuid.UUID

func NewInvitationID() InvitationID {
	return InvitationID(uuid.New())
}

func (id InvitationID) String() string {
	return uuid.UUID(id).String()
}

type RoomID string

func (id RoomID) String() string {
	return string(id)
}

// roomNamespace salts derived room ids so they never collide with plain
// v4 uuids used elsewhere.
var roomNamespace = uuid.MustParse("9f2c1b34-77d1-4e02-9c6a-5b8f0d41e6aa")

// DeriveRoomID computes the room both parties of a call share. It is
// order-independent: either side derives the same id from the same pair.
func DeriveRoomID(a, b UserID) RoomID {
	lo, hi := a.String(), b.String()
	if lo > hi {
		lo, hi = hi, lo
	}
	return RoomID(uuid.NewSHA1(roomNamespace, []byte(lo+":"+hi)).String())
}

// CalleeOf resolves a mutual-call tie: when two parties dial each other at
// the same time, the one with the lexicographically smaller id yields and
// acts as the callee while the other keeps the caller role.
func CalleeOf(a, b UserID) UserID {
	if a.String() <= b.String() {
		return a
	}
	return b
}
