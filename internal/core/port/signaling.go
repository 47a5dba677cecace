package port

import (
	"context"

	"github.com/iwasamnot/campus-connect-core-sub006/internal/core/domain"
)

// InvitationEventKind says what happened to a shared invitation record.
type InvitationEventKind int

const (
	// InvitationAdded fires when a record addressed to the subscriber
	// appears in the store. Delivery is at-least-once; duplicates happen.
	InvitationAdded InvitationEventKind = iota
	// InvitationRemoved fires when a record disappears, e.g. because the
	// caller cancelled. May arrive late or not at all after a crash.
	InvitationRemoved
)

// InvitationEvent is one observation of the shared store.
type InvitationEvent struct {
	Kind       InvitationEventKind
	Invitation domain.Invitation
}

// SignalingChannel is the shared, eventually-consistent invitation store.
// It offers no ordering, no exactly-once delivery and no atomic claim;
// the call session de-duplicates by room id and treats every record as
// advisory.
type SignalingChannel interface {
	// PublishInvitation writes a ringing record addressed to inv.To.
	// Returning nil means the write is confirmed, which the session
	// requires before it reports the outgoing call as ringing.
	PublishInvitation(ctx context.Context, inv domain.Invitation) error

	// SubscribeInvitations delivers events for records addressed to self
	// until cancel is called. Events may be delayed or duplicated.
	SubscribeInvitations(ctx context.Context, self domain.UserID, fn func(InvitationEvent)) (cancel func(), err error)

	// DeleteInvitation removes one record. Deleting an already-deleted
	// record is not an error.
	DeleteInvitation(ctx context.Context, id domain.InvitationID) error

	// DeleteInvitationsFor purges every record addressed to self. Used at
	// session start to clear stale ringing records left by crashed peers.
	DeleteInvitationsFor(ctx context.Context, self domain.UserID) error
}
