package service

import (
	"context"
	"time"

	"github.com/iwasamnot/campus-connect-core-sub006/internal/core/domain"
	"github.com/iwasamnot/campus-connect-core-sub006/internal/core/port"
)

// All handlers in this file run on the actor goroutine.

func (s *CallSession) handleStart(ctx context.Context, peer domain.Peer, kind domain.CallKind) error {
	if s.state != domain.StateIdle || s.dialing {
		return domain.ErrBusy
	}

	if err := s.deps.Media.CheckMediaPermission(ctx, kind); err != nil {
		err = domain.NewCallError(domain.FailurePermissionDenied, err)
		s.present(domain.EndFailed, err)
		return err
	}

	inv, err := domain.NewInvitation(s.self, peer.ID, kind)
	if err != nil {
		return err
	}

	// The write must be confirmed before we report the call as ringing.
	if err := s.deps.Signaling.PublishInvitation(ctx, inv); err != nil {
		err = domain.NewCallError(domain.FailureSignalingWrite, err)
		s.present(domain.EndFailed, err)
		return err
	}

	s.state = domain.StateOutgoing
	s.kind = kind
	s.peer = peer
	s.roomID = inv.RoomID
	s.direction = domain.DirectionOutbound
	s.startedAt = time.Now()
	s.published = &inv
	s.muted = false
	s.videoEnabled = kind == domain.KindVideo

	s.startDial(inv.RoomID, kind)
	s.startRingTimer()

	s.log.Info().
		Str("peer_id", peer.ID.String()).
		Str("room_id", inv.RoomID.String()).
		Str("kind", string(kind)).
		Msg("Outgoing call ringing")
	s.present("", nil)
	return nil
}

func (s *CallSession) handleAccept(ctx context.Context) error {
	if s.state != domain.StateIncoming || s.pending == nil {
		return domain.ErrNoPendingInvitation
	}

	inv := *s.pending
	// Accepting resolves the record whether or not the media join works
	// out; a failed accept must not leave the store ringing.
	s.resolvePending(ctx)

	s.startDial(inv.RoomID, inv.Kind)

	s.log.Info().
		Str("peer_id", inv.From.String()).
		Str("room_id", inv.RoomID.String()).
		Msg("Accepting call")
	return nil
}

// handleEnd is the single teardown entry point. It is reentrant-safe:
// calling it in any state, any number of times, converges on idle with
// at most one leave per successful join.
func (s *CallSession) handleEnd(ctx context.Context) {
	switch s.state {
	case domain.StateIdle:
		return

	case domain.StateOutgoing:
		s.abortDial()
		s.deleteOwnInvitation(ctx)
		s.leave()
		s.finish(domain.EndCancelled, nil)

	case domain.StateIncoming:
		s.abortDial()
		s.resolvePending(ctx)
		s.leave()
		s.finish(domain.EndDeclined, nil)

	case domain.StateActive:
		s.leave()
		s.finish(domain.EndCompleted, nil)
	}
}

func (s *CallSession) handleInvitationEvent(ev port.InvitationEvent) {
	switch ev.Kind {
	case port.InvitationAdded:
		s.handleInvitationAdded(ev.Invitation)
	case port.InvitationRemoved:
		s.handleInvitationRemoved(ev.Invitation)
	}
}

func (s *CallSession) handleInvitationAdded(inv domain.Invitation) {
	if inv.To != s.self.ID {
		return
	}
	if s.wasResolved(inv.ID) {
		// Duplicate delivery of a record we already acted on.
		s.log.Debug().Str("room_id", inv.RoomID.String()).Msg("Ignoring stale invitation")
		return
	}

	switch s.state {
	case domain.StateIdle:
		pending := inv
		s.pending = &pending
		s.state = domain.StateIncoming
		s.kind = inv.Kind
		s.peer = domain.Peer{ID: inv.From, DisplayName: inv.FromName}
		s.roomID = inv.RoomID
		s.direction = domain.DirectionInbound
		s.startedAt = time.Now()
		s.muted = false
		s.videoEnabled = inv.Kind == domain.KindVideo

		s.log.Info().
			Str("peer_id", inv.From.String()).
			Str("room_id", inv.RoomID.String()).
			Str("kind", string(inv.Kind)).
			Msg("Incoming call ringing")
		s.present("", nil)

	case domain.StateOutgoing:
		if inv.From == s.peer.ID && inv.RoomID == s.roomID {
			s.collapseMutualCall(inv)
			return
		}
		s.log.Debug().Str("peer_id", inv.From.String()).Msg("Busy, ignoring invitation")

	case domain.StateIncoming:
		if s.pending != nil && inv.RoomID == s.pending.RoomID {
			// At-least-once delivery of the record we are already ringing on.
			return
		}
		s.log.Debug().Str("peer_id", inv.From.String()).Msg("Busy, ignoring invitation")

	case domain.StateActive:
		s.log.Debug().Str("peer_id", inv.From.String()).Msg("Busy, ignoring invitation")
	}
}

// collapseMutualCall resolves the both-parties-dialed-each-other race.
// The room id is pair-derived so both attempts already target the same
// room; the only thing to settle is who stops ringing whom. The party
// with the lexicographically smaller id yields the caller role: it
// retracts its own record and resolves the peer's. Neither side ever
// joins a second room and neither side deadlocks ringing.
func (s *CallSession) collapseMutualCall(inv domain.Invitation) {
	ctx := context.Background()
	if domain.CalleeOf(s.self.ID, s.peer.ID) == s.self.ID {
		s.log.Info().
			Str("peer_id", s.peer.ID.String()).
			Str("room_id", s.roomID.String()).
			Msg("Mutual call detected, yielding caller role")
		s.deleteOwnInvitation(ctx)
		s.markResolved(inv.ID)
		if err := s.deps.Signaling.DeleteInvitation(ctx, inv.ID); err != nil {
			s.log.Warn().Err(err).Msg("Failed to resolve peer invitation")
		}
		s.direction = domain.DirectionInbound
		return
	}
	// We keep the caller role; the peer retracts its record. Remember the
	// id so a late delivery of this invitation is not treated as a call.
	s.log.Info().
		Str("peer_id", s.peer.ID.String()).
		Str("room_id", s.roomID.String()).
		Msg("Mutual call detected, keeping caller role")
	s.markResolved(inv.ID)
}

func (s *CallSession) handleInvitationRemoved(inv domain.Invitation) {
	if s.state != domain.StateIncoming || s.pending == nil || inv.ID != s.pending.ID {
		return
	}

	// The caller withdrew before we answered. If an accept was already in
	// flight the dial is aborted and any late join released.
	s.abortDial()
	s.markResolved(s.pending.ID)
	s.pending = nil
	s.leave()

	s.log.Info().Str("peer_id", inv.From.String()).Msg("Caller cancelled")
	s.finish(domain.EndCancelled, nil)
}

func (s *CallSession) handleMediaEvent(ev port.MediaEvent) {
	switch ev.Kind {
	case port.MediaRemoteJoined:
		if s.state != domain.StateOutgoing {
			return
		}
		if !s.joined {
			// The callee beat our own join into the room; go active once
			// the dial settles.
			s.remoteArrived = true
			return
		}
		s.callerGoActive()

	case port.MediaDisconnected:
		if ev.Code == 0 {
			// Deliberate local leave.
			return
		}
		if s.state != domain.StateActive && s.state != domain.StateOutgoing {
			return
		}
		err := domain.NewCallError(domain.FailureRemoteDisconnected, ev.Err)
		s.log.Warn().Int("code", ev.Code).Err(ev.Err).Msg("Media session lost")
		s.abortDial()
		s.deleteOwnInvitation(context.Background())
		s.leave()
		s.finish(domain.EndRemoteHangup, err)
	}
}

// callerGoActive completes the Outgoing half of the handshake: the
// callee is in the room and our own join settled. Deleting our record
// here is idempotent with the callee's delete.
func (s *CallSession) callerGoActive() {
	s.stopRingTimer()
	s.deleteOwnInvitation(context.Background())
	s.state = domain.StateActive
	s.log.Info().Str("room_id", s.roomID.String()).Msg("Call active")
	s.present("", nil)
	s.deps.Presenter.AttachLocalMedia()
	s.deps.Presenter.AttachRemoteMedia()
}

type dialResult struct {
	gen    int
	joined bool
	err    error
}

// startDial runs the credential/join/publish sequence off the actor so
// the session stays responsive; the outcome is posted back as a mailbox
// event. An endCall arriving while this is in flight cancels the dial
// context and is latched via endPending.
func (s *CallSession) startDial(roomID domain.RoomID, kind domain.CallKind) {
	ctx, cancel := context.WithCancel(context.Background())
	s.dialGen++
	s.dialing = true
	s.endPending = false
	s.remoteArrived = false
	s.dialCancel = cancel
	gen := s.dialGen

	go func() {
		defer cancel()

		cred, err := s.deps.Media.AcquireCredential(ctx, s.self.ID, roomID)
		if err != nil {
			s.post(func() { s.handleDialResult(dialResult{gen: gen, err: wrapCode(err, domain.FailureCredentialUnavailable)}) })
			return
		}

		if err := s.deps.Media.JoinSession(ctx, roomID, cred); err != nil {
			s.post(func() { s.handleDialResult(dialResult{gen: gen, err: wrapCode(err, domain.FailureJoin)}) })
			return
		}

		if err := s.deps.Media.PublishLocalMedia(ctx, kind); err != nil {
			s.post(func() { s.handleDialResult(dialResult{gen: gen, joined: true, err: wrapCode(err, domain.FailureJoin)}) })
			return
		}

		s.post(func() { s.handleDialResult(dialResult{gen: gen, joined: true}) })
	}()
}

func (s *CallSession) handleDialResult(r dialResult) {
	if r.gen != s.dialGen {
		// Superseded attempt; release anything it grabbed.
		if r.joined {
			_ = s.deps.Media.LeaveSession(context.Background())
		}
		return
	}

	s.dialing = false
	s.dialCancel = nil
	if r.joined {
		s.joined = true
	}

	if s.endPending {
		// endCall raced the dial: the session is already idle, the only
		// outstanding duty is releasing a join that slipped through.
		s.endPending = false
		s.leave()
		return
	}

	if r.err != nil {
		s.failCall(r.err)
		return
	}

	switch s.state {
	case domain.StateOutgoing:
		if s.remoteArrived {
			s.remoteArrived = false
			s.callerGoActive()
			return
		}
		// Joined and waiting in the room; still ringing until the remote
		// shows up or the ring timer gives up.
		s.log.Debug().Str("room_id", s.roomID.String()).Msg("Joined room, awaiting remote")

	case domain.StateIncoming:
		s.stopRingTimer()
		s.state = domain.StateActive
		s.log.Info().Str("room_id", s.roomID.String()).Msg("Call active")
		s.present("", nil)
		s.deps.Presenter.AttachLocalMedia()
		s.deps.Presenter.AttachRemoteMedia()

	default:
		// The call resolved some other way while dialing; release the join.
		s.leave()
	}
}

// failCall recovers any failed attempt back to idle, surfacing a single
// error to the presenter.
func (s *CallSession) failCall(err error) {
	s.log.Error().Err(err).Str("room_id", s.roomID.String()).Msg("Call attempt failed")
	ctx := context.Background()
	s.deleteOwnInvitation(ctx)
	s.leave()
	s.finish(domain.EndFailed, err)
}

func (s *CallSession) handleRingTimeout(gen int) {
	if gen != s.dialGen || s.state != domain.StateOutgoing {
		return
	}
	s.log.Info().Str("peer_id", s.peer.ID.String()).Msg("No answer")
	s.abortDial()
	s.deleteOwnInvitation(context.Background())
	s.leave()
	s.finish(domain.EndNoAnswer, nil)
}

func (s *CallSession) startRingTimer() {
	s.stopRingTimer()
	gen := s.dialGen
	s.ringTimer = time.AfterFunc(s.cfg.RingTimeout, func() {
		s.post(func() { s.handleRingTimeout(gen) })
	})
}

func (s *CallSession) stopRingTimer() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
}

// abortDial cancels an in-flight dial and latches the end request so the
// late result releases a join that already succeeded.
func (s *CallSession) abortDial() {
	if !s.dialing {
		return
	}
	if s.dialCancel != nil {
		s.dialCancel()
	}
	s.endPending = true
}

// leave releases the media session exactly once per successful join.
func (s *CallSession) leave() {
	if !s.joined {
		return
	}
	s.joined = false
	if err := s.deps.Media.LeaveSession(context.Background()); err != nil {
		s.log.Warn().Err(err).Msg("Leave failed")
	}
}

func (s *CallSession) deleteOwnInvitation(ctx context.Context) {
	if s.published == nil {
		return
	}
	id := s.published.ID
	s.published = nil
	s.markResolved(id)
	if err := s.deps.Signaling.DeleteInvitation(ctx, id); err != nil {
		s.log.Warn().Err(err).Msg("Failed to delete own invitation")
	}
}

func (s *CallSession) resolvePending(ctx context.Context) {
	if s.pending == nil {
		return
	}
	id := s.pending.ID
	s.pending = nil
	s.markResolved(id)
	if err := s.deps.Signaling.DeleteInvitation(ctx, id); err != nil {
		s.log.Warn().Err(err).Msg("Failed to delete invitation")
	}
}

// finish records the outcome and resets the session to idle. It assumes
// signaling records and the media session were already released.
func (s *CallSession) finish(reason domain.EndReason, err error) {
	if s.state == domain.StateIdle {
		return
	}

	if s.deps.CallLog != nil {
		rec := domain.CallRecord{
			RoomID:    s.roomID,
			Peer:      s.peer,
			Kind:      s.kind,
			Direction: s.direction,
			Outcome:   reason,
			StartedAt: s.startedAt,
			EndedAt:   time.Now(),
		}
		if saveErr := s.deps.CallLog.Save(context.Background(), rec); saveErr != nil {
			s.log.Warn().Err(saveErr).Msg("Failed to record call")
		}
	}

	s.stopRingTimer()
	s.state = domain.StateIdle
	s.pending = nil
	s.published = nil
	s.remoteArrived = false
	s.roomID = ""
	s.peer = domain.Peer{}
	s.muted = false
	s.videoEnabled = false

	s.present(reason, err)
}

// wrapCode attaches code to err unless it already carries one, e.g. the
// media provider classifying its own credential fallback failure.
func wrapCode(err error, code domain.FailureCode) error {
	if domain.CodeOf(err) != "" {
		return err
	}
	return domain.NewCallError(code, err)
}
