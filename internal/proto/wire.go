// Package proto defines the JSON envelopes exchanged between clients
// and the relay over the websocket transport.
package proto

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iwasamnot/campus-connect-core-sub006/internal/core/domain"
)

// Envelope types. Invite, revoke and purge flow client to server and are
// acknowledged by seq; added/removed flow server to client; media flows
// both ways.
const (
	TypeInvite  = "invite"
	TypeRevoke  = "revoke"
	TypePurge   = "purge"
	TypeMedia   = "media"
	TypeAck     = "ack"
	TypeAdded   = "invitation_added"
	TypeRemoved = "invitation_removed"
	TypeError   = "error"
)

type Envelope struct {
	Type         string       `json:"type"`
	Seq          int64        `json:"seq,omitempty"`
	Invitation   *Invitation  `json:"invitation,omitempty"`
	InvitationID string       `json:"invitation_id,omitempty"`
	Media        *MediaSignal `json:"media,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// Invitation is the wire form of a shared-store record.
type Invitation struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	FromName  string    `json:"from_name,omitempty"`
	To        string    `json:"to"`
	RoomID    string    `json:"room_id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// MediaSignal carries SFU negotiation between a client and the relay.
type MediaSignal struct {
	Kind    string `json:"kind"`
	RoomID  string `json:"room_id,omitempty"`
	Token   string `json:"token,omitempty"`
	Payload string `json:"payload,omitempty"`
	Code    int    `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
}

// MediaSignal kinds.
const (
	MediaJoin       = "join"
	MediaOffer      = "offer"
	MediaAnswer     = "answer"
	MediaCandidate  = "candidate"
	MediaLeave      = "leave"
	MediaPeerJoined = "peer_joined"
	MediaPeerLeft   = "peer_left"
	MediaError      = "error"
)

// Codes carried by media error and peer_left signals.
const (
	CodeOK         = 0
	CodeCredential = 1
	CodeRoomFull   = 2
	CodeInternal   = 3
	CodePeerLeft   = 4
	CodeTransport  = 5
)

func InvitationToWire(inv domain.Invitation) Invitation {
	return Invitation{
		ID:        inv.ID.String(),
		From:      inv.From.String(),
		FromName:  inv.FromName,
		To:        inv.To.String(),
		RoomID:    inv.RoomID.String(),
		Kind:      string(inv.Kind),
		Status:    string(inv.Status),
		CreatedAt: inv.CreatedAt,
	}
}

func (w Invitation) ToDomain() (domain.Invitation, error) {
	id, err := uuid.Parse(w.ID)
	if err != nil {
		return domain.Invitation{}, fmt.Errorf("invitation id: %w", err)
	}
	return domain.Invitation{
		ID:        domain.InvitationID(id),
		From:      domain.UserID(w.From),
		FromName:  w.FromName,
		To:        domain.UserID(w.To),
		RoomID:    domain.RoomID(w.RoomID),
		Kind:      domain.CallKind(w.Kind),
		Status:    domain.InvitationStatus(w.Status),
		CreatedAt: w.CreatedAt,
	}, nil
}

// ParseInvitationID parses the wire form of an invitation id.
func ParseInvitationID(s string) (domain.InvitationID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return domain.InvitationID{}, fmt.Errorf("invitation id: %w", err)
	}
	return domain.InvitationID(id), nil
}
