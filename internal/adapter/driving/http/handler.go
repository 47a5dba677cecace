// Package http exposes the relay: a websocket endpoint carrying
// invitation store traffic and media negotiation, plus a token issuing
// endpoint for deployments that require one.
package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/iwasamnot/campus-connect-core-sub006/internal/adapter/driven/media/pion"
	"github.com/iwasamnot/campus-connect-core-sub006/internal/adapter/driven/media/token"
	"github.com/iwasamnot/campus-connect-core-sub006/internal/adapter/driven/signaling/memory"
	"github.com/iwasamnot/campus-connect-core-sub006/internal/core/domain"
)

type Handler struct {
	Store  *memory.Store
	Engine *pion.Engine
	Hub    *Hub

	// Issuer is nil when the relay runs credential-less; the token
	// endpoint then answers 404.
	Issuer *token.HMACIssuer
}

func NewHandler(store *memory.Store, engine *pion.Engine, hub *Hub, issuer *token.HMACIssuer) *Handler {
	return &Handler{
		Store:  store,
		Engine: engine,
		Hub:    hub,
		Issuer: issuer,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Healthz)
	r.Post("/token", h.IssueToken)
	r.Get("/ws", h.ServeWS)

	return r
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type tokenRequest struct {
	UserID string `json:"user_id"`
	RoomID string `json:"room_id"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	if h.Issuer == nil {
		http.NotFound(w, r)
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.RoomID == "" {
		http.Error(w, "user_id and room_id required", http.StatusBadRequest)
		return
	}

	cred, err := h.Issuer.Issue(r.Context(), domain.UserID(req.UserID), domain.RoomID(req.RoomID))
	if err != nil {
		log.Error().Err(err).Msg("Failed to issue token")
		http.Error(w, "token issue failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tokenResponse{Token: cred.Token, ExpiresAt: cred.ExpiresAt})
}
