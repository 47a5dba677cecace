package pion

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/iwasamnot/campus-connect-core-sub006/internal/core/domain"
	"github.com/iwasamnot/campus-connect-core-sub006/internal/proto"
)

var (
	ErrRoomFull           = errors.New("room already has two parties")
	ErrCredentialRequired = errors.New("credential required")
	ErrCredentialRejected = errors.New("credential rejected")
	ErrPeerNotFound       = errors.New("peer not found")
)

// Verifier checks a media token presented on join. The HMAC issuer in
// the token package satisfies it.
type Verifier interface {
	Verify(tok string, userID domain.UserID, roomID domain.RoomID) error
}

// EngineConfig is explicit configuration injected at construction; the
// engine never reads ambient state.
type EngineConfig struct {
	// RequireToken makes the engine reject joins without a verifiable
	// token. When false, credential-less joins are accepted.
	RequireToken bool
	Verifier     Verifier
}

type peer struct {
	id domain.UserID
	pc *webrtc.PeerConnection

	mu                 sync.Mutex
	negotiationPending bool
}

type trackInfo struct {
	track *webrtc.TrackLocalStaticRTP
	owner domain.UserID
}

// Engine is the relay-side media session host: a per-room RTP forwarder
// between exactly two parties, built on Pion. Signals travel back to
// clients through the callback set by the hub.
type Engine struct {
	api *webrtc.API
	cfg EngineConfig

	mu     sync.RWMutex
	rooms  map[domain.RoomID]map[domain.UserID]*peer
	tracks map[domain.RoomID][]trackInfo

	// cbMu guards onSignal separately from mu so signals can be emitted
	// while rooms are locked.
	cbMu     sync.RWMutex
	onSignal func(roomID domain.RoomID, userID domain.UserID, sig proto.MediaSignal)
}

func NewEngine(cfg EngineConfig) *Engine {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		panic(err)
	}
	return &Engine{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m)),
		cfg:    cfg,
		rooms:  make(map[domain.RoomID]map[domain.UserID]*peer),
		tracks: make(map[domain.RoomID][]trackInfo),
	}
}

func (e *Engine) SetSignalCallback(cb func(roomID domain.RoomID, userID domain.UserID, sig proto.MediaSignal)) {
	e.cbMu.Lock()
	e.onSignal = cb
	e.cbMu.Unlock()
}

func (e *Engine) signal(roomID domain.RoomID, userID domain.UserID, sig proto.MediaSignal) {
	e.cbMu.RLock()
	cb := e.onSignal
	e.cbMu.RUnlock()
	if cb != nil {
		cb(roomID, userID, sig)
	}
}

func (e *Engine) authorize(tok string, userID domain.UserID, roomID domain.RoomID) error {
	if !e.cfg.RequireToken {
		return nil
	}
	if tok == "" {
		return ErrCredentialRequired
	}
	if err := e.cfg.Verifier.Verify(tok, userID, roomID); err != nil {
		return fmt.Errorf("%w: %v", ErrCredentialRejected, err)
	}
	return nil
}

// Join admits userID into roomID and returns the SDP offer the client
// must answer. The second party joining triggers a peer_joined signal to
// the first.
func (e *Engine) Join(roomID domain.RoomID, userID domain.UserID, tok string) (string, error) {
	if err := e.authorize(tok, userID, roomID); err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	room, ok := e.rooms[roomID]
	if !ok {
		room = make(map[domain.UserID]*peer)
		e.rooms[roomID] = room
		e.tracks[roomID] = nil
	}
	if _, rejoining := room[userID]; !rejoining && len(room) >= 2 {
		return "", ErrRoomFull
	}
	if old, ok := room[userID]; ok {
		// Stale connection from a previous attempt; replace it.
		_ = old.pc.Close()
		delete(room, userID)
	}

	pc, err := e.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return "", err
	}

	// Recvonly transceivers make the offer carry m=audio and m=video
	// sections; sendonly ones are created per relayed track.
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		_ = pc.Close()
		return "", err
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		_ = pc.Close()
		return "", err
	}

	p := &peer{id: userID, pc: pc}
	room[userID] = p

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		candidateJSON, err := json.Marshal(c.ToJSON())
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal candidate")
			return
		}
		e.signal(roomID, userID, proto.MediaSignal{
			Kind:    proto.MediaCandidate,
			RoomID:  roomID.String(),
			Payload: string(candidateJSON),
		})
	})

	pc.OnTrack(func(remoteTrack *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		e.relayTrack(roomID, userID, pc, remoteTrack)
	})

	// Forward tracks the other party already publishes.
	for _, t := range e.tracks[roomID] {
		if t.owner != userID {
			if _, err := pc.AddTrack(t.track); err != nil {
				log.Error().Err(err).Msg("Failed to add existing track to joining peer")
			}
		}
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		delete(room, userID)
		return "", err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		delete(room, userID)
		return "", err
	}

	gatherDone := webrtc.GatheringCompletePromise(pc)
	select {
	case <-gatherDone:
	case <-time.After(500 * time.Millisecond):
	}

	for otherID := range room {
		if otherID != userID {
			e.signal(roomID, otherID, proto.MediaSignal{Kind: proto.MediaPeerJoined, RoomID: roomID.String()})
		}
	}

	log.Info().
		Str("room_id", roomID.String()).
		Str("user_id", userID.String()).
		Int("parties", len(room)).
		Msg("Peer joined room")
	return pc.LocalDescription().SDP, nil
}

// relayTrack mirrors one remote track into a local track added to the
// other party, with a periodic PLI to keep keyframes coming.
func (e *Engine) relayTrack(roomID domain.RoomID, owner domain.UserID, pc *webrtc.PeerConnection, remoteTrack *webrtc.TrackRemote) {
	log.Debug().
		Str("kind", remoteTrack.Kind().String()).
		Str("user_id", owner.String()).
		Msg("Relaying remote track")

	localTrack, err := webrtc.NewTrackLocalStaticRTP(remoteTrack.Codec().RTPCodecCapability, remoteTrack.ID(), remoteTrack.StreamID())
	if err != nil {
		log.Error().Err(err).Msg("Failed to create relay track")
		return
	}

	e.mu.Lock()
	e.tracks[roomID] = append(e.tracks[roomID], trackInfo{track: localTrack, owner: owner})
	for otherID, other := range e.rooms[roomID] {
		if otherID == owner || other.pc.ConnectionState() == webrtc.PeerConnectionStateClosed {
			continue
		}
		if _, err := other.pc.AddTrack(localTrack); err != nil {
			log.Error().Err(err).Msg("Failed to add relay track to peer")
			continue
		}
		go e.renegotiate(roomID, otherID, other)
	}
	e.mu.Unlock()

	go func() {
		buf := make([]byte, 1400)
		for {
			n, _, err := remoteTrack.Read(buf)
			if err != nil {
				return
			}
			if _, err := localTrack.Write(buf[:n]); err != nil && err != io.ErrClosedPipe {
				return
			}
		}
	}()

	go func() {
		sendPLI := func() {
			_ = pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(remoteTrack.SSRC())},
			})
		}
		sendPLI()
		ticker := time.NewTicker(3 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if pc.ConnectionState() == webrtc.PeerConnectionStateClosed {
				return
			}
			sendPLI()
		}
	}()
}

func (e *Engine) renegotiate(roomID domain.RoomID, userID domain.UserID, p *peer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pc.ConnectionState() == webrtc.PeerConnectionStateClosed {
		return
	}
	if p.pc.SignalingState() != webrtc.SignalingStateStable {
		p.negotiationPending = true
		return
	}

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		log.Error().Err(err).Msg("Renegotiation offer failed")
		return
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		log.Error().Err(err).Msg("Renegotiation local description failed")
		return
	}

	e.signal(roomID, userID, proto.MediaSignal{
		Kind:    proto.MediaOffer,
		RoomID:  roomID.String(),
		Payload: p.pc.LocalDescription().SDP,
	})
}

func (e *Engine) lookup(roomID domain.RoomID, userID domain.UserID) (*peer, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	room, ok := e.rooms[roomID]
	if !ok {
		return nil, ErrPeerNotFound
	}
	p, ok := room[userID]
	if !ok {
		return nil, ErrPeerNotFound
	}
	return p, nil
}

// HandleAnswer applies the client's SDP answer.
func (e *Engine) HandleAnswer(roomID domain.RoomID, userID domain.UserID, sdp string) error {
	p, err := e.lookup(roomID, userID)
	if err != nil {
		return err
	}

	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return err
	}

	p.mu.Lock()
	pending := p.negotiationPending
	p.negotiationPending = false
	p.mu.Unlock()
	if pending {
		go e.renegotiate(roomID, userID, p)
	}
	return nil
}

// HandleCandidate applies a trickled ICE candidate from the client.
func (e *Engine) HandleCandidate(roomID domain.RoomID, userID domain.UserID, payload string) error {
	p, err := e.lookup(roomID, userID)
	if err != nil {
		return err
	}
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(payload), &candidate); err != nil {
		return err
	}
	return p.pc.AddICECandidate(candidate)
}

// Leave removes userID from roomID, withdraws its tracks from the other
// party and tells it the peer left. Leaving twice is harmless.
func (e *Engine) Leave(roomID domain.RoomID, userID domain.UserID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	room, ok := e.rooms[roomID]
	if !ok {
		return
	}
	p, ok := room[userID]
	if !ok {
		return
	}
	_ = p.pc.Close()
	delete(room, userID)

	var remaining []trackInfo
	var removed []*webrtc.TrackLocalStaticRTP
	for _, t := range e.tracks[roomID] {
		if t.owner == userID {
			removed = append(removed, t.track)
		} else {
			remaining = append(remaining, t)
		}
	}
	e.tracks[roomID] = remaining

	for otherID, other := range room {
		if other.pc.ConnectionState() == webrtc.PeerConnectionStateClosed {
			continue
		}
		needsRenegotiation := false
		for _, sender := range other.pc.GetSenders() {
			track := sender.Track()
			if track == nil {
				continue
			}
			for _, gone := range removed {
				if track == gone {
					if err := other.pc.RemoveTrack(sender); err != nil {
						log.Error().Err(err).Msg("Failed to remove relay track")
					} else {
						needsRenegotiation = true
					}
				}
			}
		}
		if needsRenegotiation {
			go e.renegotiate(roomID, otherID, other)
		}
		e.signal(roomID, otherID, proto.MediaSignal{Kind: proto.MediaPeerLeft, RoomID: roomID.String()})
	}

	if len(room) == 0 {
		delete(e.rooms, roomID)
		delete(e.tracks, roomID)
	}

	log.Info().
		Str("room_id", roomID.String()).
		Str("user_id", userID.String()).
		Msg("Peer left room")
}
