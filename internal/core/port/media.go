package port

import (
	"context"

	"github.com/iwasamnot/campus-connect-core-sub006/internal/core/domain"
)

// MediaEventKind classifies notifications coming back from the media
// provider. Vendor callbacks are normalized into these and consumed by
// the single session actor.
type MediaEventKind int

const (
	// MediaDisconnected reports the session was lost. Code zero means a
	// deliberate local leave; non-zero codes are surfaced as errors.
	MediaDisconnected MediaEventKind = iota
	// MediaRemoteJoined reports the remote party entered the joined room.
	// For the caller this is what turns ringing into an active call.
	MediaRemoteJoined
)

type MediaEvent struct {
	Kind MediaEventKind
	Code int
	Err  error
}

// MediaSessionProvider is the external media capability. Implementations
// wrap a concrete engine (SFU, vendor SDK); the session only sees this
// surface.
//
// AcquireCredential tries the token path first and falls back to a
// credential-less join exactly once when token auth is unavailable; when
// both fail it returns FailureCredentialUnavailable. JoinSession failures
// are terminal for the attempt and are never retried here.
type MediaSessionProvider interface {
	// CheckMediaPermission probes local capture permission for kind
	// before any signaling is written.
	CheckMediaPermission(ctx context.Context, kind domain.CallKind) error

	AcquireCredential(ctx context.Context, localID domain.UserID, roomID domain.RoomID) (domain.Credential, error)

	// JoinSession connects to roomID. cred may be the zero value in
	// credential-less mode. Exactly one LeaveSession must follow every
	// successful join; the session's teardown path enforces that.
	JoinSession(ctx context.Context, roomID domain.RoomID, cred domain.Credential) error

	// PublishLocalMedia announces the local audio (and, for video calls,
	// video) tracks into the joined session.
	PublishLocalMedia(ctx context.Context, kind domain.CallKind) error

	SetMuted(muted bool)
	SetVideoEnabled(enabled bool)

	LeaveSession(ctx context.Context) error

	// Events is the normalized notification stream. The channel is owned
	// by the provider and closed when the provider shuts down.
	Events() <-chan MediaEvent
}

// CredentialIssuer is one authentication strategy for the media backend.
// Strategies are interchangeable and selected by a capability flag at
// construction time.
type CredentialIssuer interface {
	Issue(ctx context.Context, userID domain.UserID, roomID domain.RoomID) (domain.Credential, error)
}
