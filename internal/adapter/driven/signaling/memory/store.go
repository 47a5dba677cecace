package memory

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/iwasamnot/campus-connect-core-sub006/internal/core/domain"
	"github.com/iwasamnot/campus-connect-core-sub006/internal/core/port"
)

const subscriberBuffer = 32

// Store is an in-process invitation store implementing
// port.SignalingChannel. It mimics the semantics of the shared document
// store the sessions signal through: records are advisory, deletes of
// absent records succeed, and subscribers get at-least-once delivery
// with no ordering guarantee. The relay server embeds one Store; tests
// share one between two sessions.
type Store struct {
	mu      sync.Mutex
	records map[domain.InvitationID]domain.Invitation
	subs    map[int]*subscriber
	nextSub int
}

type subscriber struct {
	self domain.UserID
	ch   chan port.InvitationEvent
	done chan struct{}
}

func NewStore() *Store {
	return &Store{
		records: make(map[domain.InvitationID]domain.Invitation),
		subs:    make(map[int]*subscriber),
	}
}

func (s *Store) PublishInvitation(_ context.Context, inv domain.Invitation) error {
	s.mu.Lock()
	s.records[inv.ID] = inv
	s.notifyLocked(port.InvitationEvent{Kind: port.InvitationAdded, Invitation: inv})
	s.mu.Unlock()
	return nil
}

func (s *Store) SubscribeInvitations(_ context.Context, self domain.UserID, fn func(port.InvitationEvent)) (func(), error) {
	sub := &subscriber{
		self: self,
		ch:   make(chan port.InvitationEvent, subscriberBuffer),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	// A late subscriber still sees records already ringing for it.
	for _, inv := range s.records {
		if inv.To == self {
			sub.deliver(port.InvitationEvent{Kind: port.InvitationAdded, Invitation: inv})
		}
	}
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.done:
				return
			case ev := <-sub.ch:
				fn(ev)
			}
		}
	}()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub.done)
		}
		s.mu.Unlock()
	}
	return cancel, nil
}

func (s *Store) DeleteInvitation(_ context.Context, id domain.InvitationID) error {
	s.mu.Lock()
	inv, ok := s.records[id]
	if ok {
		delete(s.records, id)
		s.notifyLocked(port.InvitationEvent{Kind: port.InvitationRemoved, Invitation: inv})
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) DeleteInvitationsFor(_ context.Context, self domain.UserID) error {
	s.mu.Lock()
	for id, inv := range s.records {
		if inv.To == self {
			delete(s.records, id)
			s.notifyLocked(port.InvitationEvent{Kind: port.InvitationRemoved, Invitation: inv})
		}
	}
	s.mu.Unlock()
	return nil
}

// Pending lists records currently addressed to user. Sessions rely on
// the subscription instead.
func (s *Store) Pending(user domain.UserID) []domain.Invitation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Invitation
	for _, inv := range s.records {
		if inv.To == user {
			out = append(out, inv)
		}
	}
	return out
}

func (s *Store) notifyLocked(ev port.InvitationEvent) {
	for _, sub := range s.subs {
		if sub.self == ev.Invitation.To {
			sub.deliver(ev)
		}
	}
}

func (sub *subscriber) deliver(ev port.InvitationEvent) {
	select {
	case sub.ch <- ev:
	default:
		log.Warn().Str("user_id", sub.self.String()).Msg("Subscriber buffer full, dropping event")
	}
}
