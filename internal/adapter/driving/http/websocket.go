package http

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iwasamnot/campus-connect-core-sub006/internal/adapter/driven/media/pion"
	"github.com/iwasamnot/campus-connect-core-sub006/internal/core/domain"
	"github.com/iwasamnot/campus-connect-core-sub006/internal/core/port"
	"github.com/iwasamnot/campus-connect-core-sub006/internal/proto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: only for dev
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSClient is one relay connection. The read loop owns all store and
// engine calls for this user; send is safe from other goroutines.
type WSClient struct {
	id   domain.UserID
	conn *websocket.Conn
	log  zerolog.Logger

	writeMu sync.Mutex

	// room the user joined through this connection, cleared on leave.
	// Only touched by the read loop.
	room domain.RoomID
}

func (c *WSClient) send(env proto.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(env)
}

func (c *WSClient) Close() error {
	return c.conn.Close()
}

func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := domain.UserID(r.URL.Query().Get("user_id"))
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := &WSClient{
		id:   userID,
		conn: conn,
		log:  log.With().Str("user_id", userID.String()).Logger(),
	}
	client.log.Info().Msg("New client connected")

	h.Hub.Register(client)

	// Mirror store changes addressed to this user onto the wire.
	cancel, err := h.Store.SubscribeInvitations(r.Context(), userID, func(ev port.InvitationEvent) {
		typ := proto.TypeAdded
		if ev.Kind == port.InvitationRemoved {
			typ = proto.TypeRemoved
		}
		wire := proto.InvitationToWire(ev.Invitation)
		if err := client.send(proto.Envelope{Type: typ, Invitation: &wire}); err != nil {
			client.log.Error().Err(err).Msg("Error forwarding invitation event")
		}
	})
	if err != nil {
		client.log.Error().Err(err).Msg("Failed to subscribe to invitation store")
		h.Hub.Unregister(client)
		return
	}

	defer func() {
		client.log.Info().Msg("Client disconnected")
		cancel()
		if client.room != "" {
			h.Engine.Leave(client.room, client.id)
		}
		h.Hub.Unregister(client)
	}()

	for {
		var env proto.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				client.log.Error().Err(err).Msg("Unexpected close error")
			}
			return
		}
		h.handleEnvelope(r.Context(), client, env)
	}
}

func (h *Handler) handleEnvelope(ctx context.Context, client *WSClient, env proto.Envelope) {
	switch env.Type {
	case proto.TypeInvite:
		client.ack(env.Seq, h.publishInvitation(ctx, client, env))

	case proto.TypeRevoke:
		client.ack(env.Seq, h.revokeInvitation(ctx, env))

	case proto.TypePurge:
		client.ack(env.Seq, h.Store.DeleteInvitationsFor(ctx, client.id))

	case proto.TypeMedia:
		if env.Media == nil {
			return
		}
		h.handleMedia(client, *env.Media)

	default:
		client.log.Warn().Str("type", env.Type).Msg("Unknown envelope type")
	}
}

func (h *Handler) publishInvitation(ctx context.Context, client *WSClient, env proto.Envelope) error {
	if env.Invitation == nil {
		return errors.New("invite without record")
	}
	inv, err := env.Invitation.ToDomain()
	if err != nil {
		return err
	}
	if inv.From != client.id {
		return errors.New("invitation sender mismatch")
	}
	return h.Store.PublishInvitation(ctx, inv)
}

func (h *Handler) revokeInvitation(ctx context.Context, env proto.Envelope) error {
	id, err := proto.ParseInvitationID(env.InvitationID)
	if err != nil {
		return err
	}
	return h.Store.DeleteInvitation(ctx, id)
}

func (h *Handler) handleMedia(client *WSClient, sig proto.MediaSignal) {
	roomID := domain.RoomID(sig.RoomID)

	switch sig.Kind {
	case proto.MediaJoin:
		offer, err := h.Engine.Join(roomID, client.id, sig.Token)
		if err != nil {
			client.log.Warn().Err(err).Str("room_id", sig.RoomID).Msg("Join rejected")
			client.send(proto.Envelope{Type: proto.TypeMedia, Media: &proto.MediaSignal{
				Kind:   proto.MediaError,
				RoomID: sig.RoomID,
				Code:   joinErrorCode(err),
				Error:  err.Error(),
			}})
			return
		}
		client.room = roomID
		client.send(proto.Envelope{Type: proto.TypeMedia, Media: &proto.MediaSignal{
			Kind:    proto.MediaOffer,
			RoomID:  sig.RoomID,
			Payload: offer,
		}})

	case proto.MediaAnswer:
		if err := h.Engine.HandleAnswer(roomID, client.id, sig.Payload); err != nil {
			client.log.Error().Err(err).Msg("Failed to apply answer")
		}

	case proto.MediaCandidate:
		if err := h.Engine.HandleCandidate(roomID, client.id, sig.Payload); err != nil {
			client.log.Error().Err(err).Msg("Failed to apply candidate")
		}

	case proto.MediaLeave:
		h.Engine.Leave(roomID, client.id)
		client.room = ""

	default:
		client.log.Warn().Str("kind", sig.Kind).Msg("Unknown media signal")
	}
}

func joinErrorCode(err error) int {
	switch {
	case errors.Is(err, pion.ErrRoomFull):
		return proto.CodeRoomFull
	case errors.Is(err, pion.ErrCredentialRequired), errors.Is(err, pion.ErrCredentialRejected):
		return proto.CodeCredential
	default:
		return proto.CodeInternal
	}
}

func (c *WSClient) ack(seq int64, err error) {
	env := proto.Envelope{Type: proto.TypeAck, Seq: seq}
	if err != nil {
		env.Error = err.Error()
	}
	if werr := c.send(env); werr != nil {
		c.log.Error().Err(werr).Msg("Error sending ack")
	}
}
