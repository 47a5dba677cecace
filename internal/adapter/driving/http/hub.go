package http

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/iwasamnot/campus-connect-core-sub006/internal/core/domain"
	"github.com/iwasamnot/campus-connect-core-sub006/internal/proto"
)

// Hub tracks connected clients by user id and routes relay-originated
// media signals back to them.
type Hub struct {
	mu         sync.Mutex
	clients    map[domain.UserID]*WSClient
	register   chan *WSClient
	unregister chan *WSClient
	quit       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[domain.UserID]*WSClient),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		quit:       make(chan struct{}),
	}
}

// SendMediaSignal delivers a relay signal to one user. Unknown users are
// ignored; they disconnected while the signal was in flight.
func (h *Hub) SendMediaSignal(userID domain.UserID, sig proto.MediaSignal) {
	h.mu.Lock()
	client := h.clients[userID]
	h.mu.Unlock()

	if client == nil {
		return
	}
	if err := client.send(proto.Envelope{Type: proto.TypeMedia, Media: &sig}); err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("Error sending media signal")
		h.Unregister(client)
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for id, client := range h.clients {
				client.Close()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			// A reconnect replaces the previous connection.
			if prev, ok := h.clients[client.id]; ok {
				prev.Close()
			}
			h.clients[client.id] = client
			h.mu.Unlock()
			log.Info().Str("user_id", client.id.String()).Msg("Client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if h.clients[client.id] == client {
				delete(h.clients, client.id)
				client.Close()
				log.Info().Str("user_id", client.id.String()).Msg("Client unregistered")
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) Register(c *WSClient) {
	h.register <- c
}

func (h *Hub) Unregister(c *WSClient) {
	h.unregister <- c
}

func (h *Hub) Stop() {
	close(h.quit)
}
