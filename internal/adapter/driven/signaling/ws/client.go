// Package ws connects a client to the relay over a single websocket and
// exposes it both as the shared invitation store and as the media signal
// transport.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iwasamnot/campus-connect-core-sub006/internal/core/domain"
	"github.com/iwasamnot/campus-connect-core-sub006/internal/core/port"
	"github.com/iwasamnot/campus-connect-core-sub006/internal/proto"
)

// ErrClosed is returned by operations on a client whose connection is gone.
var ErrClosed = errors.New("ws: connection closed")

const defaultAckTimeout = 5 * time.Second

// Client implements port.SignalingChannel and pion.SignalTransport over
// one relay connection. Store writes (invite, revoke, purge) are
// acknowledged by seq; everything else is fire-and-forget.
type Client struct {
	self domain.UserID
	conn *websocket.Conn
	log  zerolog.Logger

	ackTimeout time.Duration

	writeMu sync.Mutex

	seq     atomic.Int64
	mu      sync.Mutex
	pending map[int64]chan error
	sub     func(port.InvitationEvent)
	closed  bool

	media chan proto.MediaSignal
	done  chan struct{}
}

// Dial connects to the relay websocket endpoint and starts the read loop.
func Dial(ctx context.Context, base string, self domain.UserID) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("ws: parse url: %w", err)
	}
	q := u.Query()
	q.Set("user_id", self.String())
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("ws: dial %s: %w", u.String(), err)
	}

	c := &Client{
		self:       self,
		conn:       conn,
		log:        log.With().Str("component", "ws-signaling").Str("user_id", self.String()).Logger(),
		ackTimeout: defaultAckTimeout,
		pending:    make(map[int64]chan error),
		media:      make(chan proto.MediaSignal, 32),
		done:       make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) PublishInvitation(ctx context.Context, inv domain.Invitation) error {
	wire := proto.InvitationToWire(inv)
	return c.sendAcked(ctx, proto.Envelope{Type: proto.TypeInvite, Invitation: &wire})
}

func (c *Client) SubscribeInvitations(_ context.Context, self domain.UserID, fn func(port.InvitationEvent)) (func(), error) {
	if self != c.self {
		return nil, fmt.Errorf("ws: connection belongs to %s, not %s", c.self, self)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.sub != nil {
		return nil, errors.New("ws: already subscribed")
	}
	c.sub = fn
	cancel := func() {
		c.mu.Lock()
		c.sub = nil
		c.mu.Unlock()
	}
	return cancel, nil
}

func (c *Client) DeleteInvitation(ctx context.Context, id domain.InvitationID) error {
	return c.sendAcked(ctx, proto.Envelope{Type: proto.TypeRevoke, InvitationID: id.String()})
}

func (c *Client) DeleteInvitationsFor(ctx context.Context, self domain.UserID) error {
	if self != c.self {
		return fmt.Errorf("ws: cannot purge records of %s", self)
	}
	return c.sendAcked(ctx, proto.Envelope{Type: proto.TypePurge})
}

func (c *Client) SendMediaSignal(_ context.Context, sig proto.MediaSignal) error {
	return c.write(proto.Envelope{Type: proto.TypeMedia, Media: &sig})
}

func (c *Client) MediaSignals() <-chan proto.MediaSignal {
	return c.media
}

// Close tears the connection down. In-flight acked writes fail with
// ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for seq, ch := range c.pending {
		ch <- ErrClosed
		delete(c.pending, seq)
	}
	c.mu.Unlock()
	return c.conn.Close()
}

// sendAcked writes an envelope carrying a fresh seq and blocks until the
// relay acks it, the context ends or the ack timeout fires.
func (c *Client) sendAcked(ctx context.Context, env proto.Envelope) error {
	env.Seq = c.seq.Add(1)

	ch := make(chan error, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[env.Seq] = ch
	c.mu.Unlock()

	if err := c.write(env); err != nil {
		c.dropPending(env.Seq)
		return err
	}

	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		c.dropPending(env.Seq)
		return ctx.Err()
	case <-timer.C:
		c.dropPending(env.Seq)
		return fmt.Errorf("ws: no ack for %s seq %d", env.Type, env.Seq)
	}
}

func (c *Client) dropPending(seq int64) {
	c.mu.Lock()
	delete(c.pending, seq)
	c.mu.Unlock()
}

func (c *Client) write(env proto.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(env)
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		var env proto.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Error().Err(err).Msg("Unexpected close error")
			}
			c.Close()
			return
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env proto.Envelope) {
	switch env.Type {
	case proto.TypeAck:
		c.mu.Lock()
		ch, ok := c.pending[env.Seq]
		if ok {
			delete(c.pending, env.Seq)
		}
		c.mu.Unlock()
		if !ok {
			return
		}
		if env.Error != "" {
			ch <- errors.New(env.Error)
		} else {
			ch <- nil
		}

	case proto.TypeAdded, proto.TypeRemoved:
		if env.Invitation == nil {
			c.log.Warn().Str("type", env.Type).Msg("Invitation event without record")
			return
		}
		inv, err := env.Invitation.ToDomain()
		if err != nil {
			c.log.Warn().Err(err).Msg("Malformed invitation record")
			return
		}
		kind := port.InvitationAdded
		if env.Type == proto.TypeRemoved {
			kind = port.InvitationRemoved
		}
		c.mu.Lock()
		fn := c.sub
		c.mu.Unlock()
		if fn != nil {
			fn(port.InvitationEvent{Kind: kind, Invitation: inv})
		}

	case proto.TypeMedia:
		if env.Media == nil {
			return
		}
		select {
		case c.media <- *env.Media:
		default:
			c.log.Warn().Str("kind", env.Media.Kind).Msg("Media signal channel full, dropping")
		}

	case proto.TypeError:
		c.log.Error().Str("error", env.Error).Msg("Relay reported error")

	default:
		c.log.Warn().Str("type", env.Type).Msg("Unknown envelope type")
	}
}
