package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iwasamnot/campus-connect-core-sub006/internal/core/domain"
	"github.com/iwasamnot/campus-connect-core-sub006/internal/core/port"
)

const (
	defaultRingTimeout = 30 * time.Second
	defaultMailboxSize = 16

	// resolvedHistory bounds how many resolved invitation ids are kept
	// for stale-record detection.
	resolvedHistory = 16
)

// Config carries the session policy knobs. The zero value gets defaults.
type Config struct {
	// RingTimeout bounds how long an outgoing call rings before it is
	// auto-cancelled with a no-answer outcome.
	RingTimeout time.Duration

	// MailboxSize is the capacity of the intent/event mailbox.
	MailboxSize int
}

func (c Config) withDefaults() Config {
	if c.RingTimeout <= 0 {
		c.RingTimeout = defaultRingTimeout
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = defaultMailboxSize
	}
	return c
}

// Deps are the ports the session drives. CallLog may be nil.
type Deps struct {
	Signaling port.SignalingChannel
	Media     port.MediaSessionProvider
	Presenter port.Presenter
	CallLog   port.CallLogRepository
}

// CallSession owns the local party's single call at a time and is the
// only writer of its state. Every intent and every external event is
// serialized through one mailbox consumed by one actor goroutine, so
// transitions never interleave.
type CallSession struct {
	self domain.Peer
	cfg  Config
	deps Deps
	log  zerolog.Logger

	ops  chan func()
	quit chan struct{}
	done chan struct{}

	unsubscribe func()

	// Everything below is owned by the actor goroutine.
	state        domain.CallState
	kind         domain.CallKind
	peer         domain.Peer
	roomID       domain.RoomID
	direction    domain.Direction
	startedAt    time.Time
	pending      *domain.Invitation // inbound record being responded to
	published    *domain.Invitation // our own outbound record
	muted        bool
	videoEnabled bool

	joined        bool // a join succeeded and no leave was issued yet
	remoteArrived bool // remote joined the room before our own dial settled
	dialing       bool
	dialGen       int
	dialCancel    context.CancelFunc
	endPending    bool // end requested while a dial is in flight

	ringTimer *time.Timer

	resolved  [resolvedHistory]domain.InvitationID
	resolvedN int
}

// NewCallSession builds a session for the given local party.
func NewCallSession(self domain.Peer, cfg Config, deps Deps) *CallSession {
	cfg = cfg.withDefaults()
	return &CallSession{
		self:  self,
		cfg:   cfg,
		deps:  deps,
		log:   log.With().Str("user_id", self.ID.String()).Logger(),
		ops:   make(chan func(), cfg.MailboxSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		state: domain.StateIdle,
	}
}

// Start purges stale invitations addressed to us, subscribes to the
// signaling channel and launches the actor loop.
func (s *CallSession) Start(ctx context.Context) error {
	if err := s.deps.Signaling.DeleteInvitationsFor(ctx, s.self.ID); err != nil {
		s.log.Warn().Err(err).Msg("Failed to purge stale invitations")
	}

	cancel, err := s.deps.Signaling.SubscribeInvitations(ctx, s.self.ID, func(ev port.InvitationEvent) {
		s.post(func() { s.handleInvitationEvent(ev) })
	})
	if err != nil {
		return err
	}
	s.unsubscribe = cancel

	go s.run()
	return nil
}

// Stop hangs up whatever is in progress and shuts the actor down.
func (s *CallSession) Stop() {
	_ = s.EndCall(context.Background())

	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
	<-s.done

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

func (s *CallSession) run() {
	defer close(s.done)

	events := s.deps.Media.Events()
	for {
		select {
		case <-s.quit:
			s.handleEnd(context.Background())
			return

		case fn := <-s.ops:
			fn()

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.handleMediaEvent(ev)
		}
	}
}

// do runs fn on the actor goroutine and waits for its result.
func (s *CallSession) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case s.ops <- func() { reply <- fn() }:
	case <-s.quit:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-s.done:
		return domain.ErrSessionClosed
	}
}

// post enqueues fn without waiting. Used by subscription callbacks,
// timers and the dialer so they never block on a busy mailbox ordering.
func (s *CallSession) post(fn func()) {
	select {
	case s.ops <- fn:
	case <-s.quit:
	}
}

// StartCall dials peer. It returns once the invitation write is
// confirmed and the session is ringing, or with the reason the attempt
// was refused.
func (s *CallSession) StartCall(ctx context.Context, peer domain.Peer, kind domain.CallKind) error {
	return s.do(ctx, func() error { return s.handleStart(ctx, peer, kind) })
}

// AcceptCall answers the pending inbound invitation.
func (s *CallSession) AcceptCall(ctx context.Context) error {
	return s.do(ctx, func() error { return s.handleAccept(ctx) })
}

// EndCall is the single teardown entry point: cancel while outgoing,
// decline while incoming, hang up while active. Safe to call any number
// of times from any state.
func (s *CallSession) EndCall(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.handleEnd(ctx)
		return nil
	})
}

// ToggleMute flips the local mute flag and reports the new value.
func (s *CallSession) ToggleMute(ctx context.Context) (bool, error) {
	var muted bool
	err := s.do(ctx, func() error {
		s.muted = !s.muted
		s.deps.Media.SetMuted(s.muted)
		muted = s.muted
		return nil
	})
	return muted, err
}

// ToggleVideo flips the local video flag and reports the new value.
func (s *CallSession) ToggleVideo(ctx context.Context) (bool, error) {
	var enabled bool
	err := s.do(ctx, func() error {
		s.videoEnabled = !s.videoEnabled
		s.deps.Media.SetVideoEnabled(s.videoEnabled)
		enabled = s.videoEnabled
		return nil
	})
	return enabled, err
}

// Snapshot returns a copy of the current session state.
func (s *CallSession) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot
	err := s.do(ctx, func() error {
		snap = s.snapshot()
		return nil
	})
	return snap, err
}

func (s *CallSession) snapshot() domain.Snapshot {
	return domain.Snapshot{
		State:        s.state,
		Kind:         s.kind,
		Peer:         s.peer,
		RoomID:       s.roomID,
		Muted:        s.muted,
		VideoEnabled: s.videoEnabled,
	}
}

func (s *CallSession) present(reason domain.EndReason, err error) {
	snap := s.snapshot()
	snap.Reason = reason
	snap.Err = err
	s.deps.Presenter.PresentState(snap)
}

func (s *CallSession) markResolved(id domain.InvitationID) {
	s.resolved[s.resolvedN%resolvedHistory] = id
	s.resolvedN++
}

func (s *CallSession) wasResolved(id domain.InvitationID) bool {
	n := s.resolvedN
	if n > resolvedHistory {
		n = resolvedHistory
	}
	for i := 0; i < n; i++ {
		if s.resolved[i] == id {
			return true
		}
	}
	return false
}
