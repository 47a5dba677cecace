package pion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iwasamnot/campus-connect-core-sub006/internal/core/domain"
	"github.com/iwasamnot/campus-connect-core-sub006/internal/core/port"
	"github.com/iwasamnot/campus-connect-core-sub006/internal/proto"
)

// SignalTransport ferries media signals between the provider and the
// relay. The websocket signaling client implements it; tests feed the
// channel by hand.
type SignalTransport interface {
	SendMediaSignal(ctx context.Context, sig proto.MediaSignal) error
	MediaSignals() <-chan proto.MediaSignal
}

// ProviderConfig is injected at construction. TokenAuthAvailable is the
// capability flag choosing the primary credential path.
type ProviderConfig struct {
	TokenAuthAvailable bool
	JoinTimeout        time.Duration

	// LocalTracks are published into the session on a video/voice call.
	// Producing samples for them is the media engine's business, not ours.
	LocalTracks []webrtc.TrackLocal
}

const defaultJoinTimeout = 15 * time.Second

// Provider implements port.MediaSessionProvider against the relay's
// Pion engine. One session at a time; vendor callbacks are normalized
// onto the Events channel consumed by the call session actor.
type Provider struct {
	cfg       ProviderConfig
	issuer    port.CredentialIssuer
	transport SignalTransport
	api       *webrtc.API
	log       zerolog.Logger

	events   chan port.MediaEvent
	offers   chan proto.MediaSignal
	joinErrs chan proto.MediaSignal

	done      chan struct{}
	closeOnce sync.Once

	mu           sync.Mutex
	pc           *webrtc.PeerConnection
	roomID       domain.RoomID
	joining      bool
	muted        bool
	videoEnabled bool
}

// NewProvider wires the provider to its transport and credential
// strategy and starts routing inbound signals.
func NewProvider(cfg ProviderConfig, issuer port.CredentialIssuer, transport SignalTransport) *Provider {
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = defaultJoinTimeout
	}
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		panic(err)
	}
	p := &Provider{
		cfg:       cfg,
		issuer:    issuer,
		transport: transport,
		api:       webrtc.NewAPI(webrtc.WithMediaEngine(m)),
		log:       log.With().Str("component", "media_provider").Logger(),
		events:    make(chan port.MediaEvent, 8),
		offers:    make(chan proto.MediaSignal, 4),
		joinErrs:  make(chan proto.MediaSignal, 4),
		done:      make(chan struct{}),
	}
	go p.route()
	return p
}

// Close stops signal routing and releases any open connection.
func (p *Provider) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.mu.Lock()
		if p.pc != nil {
			_ = p.pc.Close()
			p.pc = nil
		}
		p.mu.Unlock()
		close(p.events)
	})
}

func (p *Provider) Events() <-chan port.MediaEvent {
	return p.events
}

func (p *Provider) emit(ev port.MediaEvent) {
	select {
	case p.events <- ev:
	case <-p.done:
	}
}

// route normalizes relay signals into session events and steers
// negotiation messages to the connection.
func (p *Provider) route() {
	for {
		select {
		case <-p.done:
			return
		case sig, ok := <-p.transport.MediaSignals():
			if !ok {
				return
			}
			p.handleSignal(sig)
		}
	}
}

func (p *Provider) handleSignal(sig proto.MediaSignal) {
	switch sig.Kind {
	case proto.MediaOffer:
		p.mu.Lock()
		joining := p.joining
		p.mu.Unlock()
		if joining {
			select {
			case p.offers <- sig:
			default:
			}
			return
		}
		p.handleRenegotiation(sig)

	case proto.MediaCandidate:
		p.mu.Lock()
		pc := p.pc
		p.mu.Unlock()
		if pc == nil {
			return
		}
		var candidate webrtc.ICECandidateInit
		if err := json.Unmarshal([]byte(sig.Payload), &candidate); err != nil {
			p.log.Warn().Err(err).Msg("Bad candidate payload")
			return
		}
		if err := pc.AddICECandidate(candidate); err != nil {
			p.log.Warn().Err(err).Msg("Failed to add candidate")
		}

	case proto.MediaPeerJoined:
		p.emit(port.MediaEvent{Kind: port.MediaRemoteJoined})

	case proto.MediaPeerLeft:
		p.emit(port.MediaEvent{Kind: port.MediaDisconnected, Code: proto.CodePeerLeft})

	case proto.MediaError:
		p.mu.Lock()
		joining := p.joining
		p.mu.Unlock()
		if joining {
			select {
			case p.joinErrs <- sig:
			default:
			}
			return
		}
		p.emit(port.MediaEvent{Kind: port.MediaDisconnected, Code: sig.Code, Err: errors.New(sig.Error)})
	}
}

// handleRenegotiation applies a mid-call offer from the engine, e.g.
// after the remote party's tracks changed.
func (p *Provider) handleRenegotiation(sig proto.MediaSignal) {
	p.mu.Lock()
	pc := p.pc
	p.mu.Unlock()
	if pc == nil {
		return
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sig.Payload}); err != nil {
		p.log.Warn().Err(err).Msg("Renegotiation offer rejected")
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		p.log.Warn().Err(err).Msg("Renegotiation answer failed")
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		p.log.Warn().Err(err).Msg("Renegotiation local description failed")
		return
	}
	p.sendSignal(proto.MediaSignal{Kind: proto.MediaAnswer, RoomID: sig.RoomID, Payload: answer.SDP})
}

func (p *Provider) sendSignal(sig proto.MediaSignal) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.transport.SendMediaSignal(ctx, sig); err != nil {
		p.log.Warn().Err(err).Str("kind", sig.Kind).Msg("Failed to send media signal")
	}
}

// CheckMediaPermission probes local capture permission. Capture itself
// lives outside this package; with no capture wired in there is nothing
// to be denied.
func (p *Provider) CheckMediaPermission(_ context.Context, _ domain.CallKind) error {
	return nil
}

// AcquireCredential tries the token path when the capability is
// available, downgrading to a credential-less join exactly once on any
// issuer failure. A relay that requires tokens will then reject the
// join, which is surfaced as credential_unavailable.
func (p *Provider) AcquireCredential(ctx context.Context, localID domain.UserID, roomID domain.RoomID) (domain.Credential, error) {
	if !p.cfg.TokenAuthAvailable {
		return domain.Credential{}, nil
	}

	cred, err := p.issuer.Issue(ctx, localID, roomID)
	if err == nil {
		return cred, nil
	}
	if ctx.Err() != nil {
		return domain.Credential{}, ctx.Err()
	}

	p.log.Warn().Err(err).Msg("Token issuance failed, downgrading to credential-less join")
	return domain.Credential{}, nil
}

// JoinSession asks the relay to admit us to roomID and applies the SDP
// offer it responds with. Failures are terminal for the attempt; no
// retries happen here.
func (p *Provider) JoinSession(ctx context.Context, roomID domain.RoomID, cred domain.Credential) error {
	p.mu.Lock()
	if p.pc != nil {
		p.mu.Unlock()
		return errors.New("already in a session")
	}
	p.joining = true
	p.roomID = roomID
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.joining = false
		p.mu.Unlock()
	}()

	if err := p.transport.SendMediaSignal(ctx, proto.MediaSignal{
		Kind:   proto.MediaJoin,
		RoomID: roomID.String(),
		Token:  cred.Token,
	}); err != nil {
		return fmt.Errorf("join request: %w", err)
	}

	timeout := time.NewTimer(p.cfg.JoinTimeout)
	defer timeout.Stop()

	var offer proto.MediaSignal
	select {
	case offer = <-p.offers:
	case sig := <-p.joinErrs:
		if sig.Code == proto.CodeCredential {
			return domain.NewCallError(domain.FailureCredentialUnavailable, errors.New(sig.Error))
		}
		return domain.NewCallError(domain.FailureJoin, errors.New(sig.Error))
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout.C:
		return domain.NewCallError(domain.FailureJoin, errors.New("join timed out"))
	}

	pc, err := p.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		payload, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		p.sendSignal(proto.MediaSignal{Kind: proto.MediaCandidate, RoomID: roomID.String(), Payload: string(payload)})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed:
			p.emit(port.MediaEvent{Kind: port.MediaDisconnected, Code: proto.CodeTransport, Err: errors.New("peer connection failed")})
		default:
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.Payload}); err != nil {
		_ = pc.Close()
		return domain.NewCallError(domain.FailureJoin, err)
	}

	p.mu.Lock()
	p.pc = pc
	p.mu.Unlock()
	return nil
}

// PublishLocalMedia attaches the configured local tracks and completes
// the join negotiation with the answer.
func (p *Provider) PublishLocalMedia(_ context.Context, kind domain.CallKind) error {
	p.mu.Lock()
	pc := p.pc
	roomID := p.roomID
	p.mu.Unlock()
	if pc == nil {
		return errors.New("not in a session")
	}

	for _, track := range p.cfg.LocalTracks {
		if kind == domain.KindVoice && track.Kind() == webrtc.RTPCodecTypeVideo {
			continue
		}
		if _, err := pc.AddTrack(track); err != nil {
			return fmt.Errorf("publish %s track: %w", track.Kind(), err)
		}
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return domain.NewCallError(domain.FailureJoin, err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return domain.NewCallError(domain.FailureJoin, err)
	}

	if err := p.transport.SendMediaSignal(context.Background(), proto.MediaSignal{
		Kind:    proto.MediaAnswer,
		RoomID:  roomID.String(),
		Payload: answer.SDP,
	}); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	return nil
}

// SetMuted records the local mute flag. The injected LocalTracks are
// fed by an external producer (see ProviderConfig.LocalTracks); muting
// means that producer stops writing audio samples, the senders here are
// left untouched.
func (p *Provider) SetMuted(muted bool) {
	p.mu.Lock()
	p.muted = muted
	p.mu.Unlock()
	p.log.Debug().Bool("muted", muted).Msg("Local audio toggled")
}

// SetVideoEnabled records the local video flag. As with SetMuted, the
// track producer honors the flag; no sender is removed or replaced.
func (p *Provider) SetVideoEnabled(enabled bool) {
	p.mu.Lock()
	p.videoEnabled = enabled
	p.mu.Unlock()
	p.log.Debug().Bool("enabled", enabled).Msg("Local video toggled")
}

// LeaveSession tells the relay we are gone and closes the connection.
func (p *Provider) LeaveSession(_ context.Context) error {
	p.mu.Lock()
	pc := p.pc
	roomID := p.roomID
	p.pc = nil
	p.roomID = ""
	p.mu.Unlock()

	if roomID != "" {
		p.sendSignal(proto.MediaSignal{Kind: proto.MediaLeave, RoomID: roomID.String()})
	}
	if pc != nil {
		return pc.Close()
	}
	return nil
}
