// Package token implements the credential strategies for the media
// backend: an HMAC token issuer/verifier, a remote issuer fetching
// tokens from the relay, and a credential-less strategy for deployments
// without token auth.
package token

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/iwasamnot/campus-connect-core-sub006/internal/core/domain"
)

var (
	ErrInvalidToken = errors.New("invalid media token")
	ErrExpiredToken = errors.New("expired media token")
)

const defaultTTL = time.Hour

// HMACIssuer mints tokens bound to a (user, room) pair with an expiry,
// signed with a shared secret. The relay holds the same secret and
// verifies on join.
type HMACIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewHMACIssuer(secret []byte, ttl time.Duration) *HMACIssuer {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &HMACIssuer{secret: secret, ttl: ttl}
}

func (i *HMACIssuer) Issue(_ context.Context, userID domain.UserID, roomID domain.RoomID) (domain.Credential, error) {
	exp := time.Now().Add(i.ttl)
	payload := fmt.Sprintf("%s|%s|%d", userID, roomID, exp.Unix())
	return domain.Credential{
		Token:     base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + i.sign(payload),
		ExpiresAt: exp,
	}, nil
}

// Verify checks that tok was minted for (userID, roomID) and has not
// expired.
func (i *HMACIssuer) Verify(tok string, userID domain.UserID, roomID domain.RoomID) error {
	body, sig, ok := strings.Cut(tok, ".")
	if !ok {
		return ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return ErrInvalidToken
	}
	if !hmac.Equal([]byte(i.sign(string(raw))), []byte(sig)) {
		return ErrInvalidToken
	}

	parts := strings.Split(string(raw), "|")
	if len(parts) != 3 {
		return ErrInvalidToken
	}
	if parts[0] != userID.String() || parts[1] != roomID.String() {
		return ErrInvalidToken
	}
	exp, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return ErrInvalidToken
	}
	if time.Now().Unix() > exp {
		return ErrExpiredToken
	}
	return nil
}

func (i *HMACIssuer) sign(payload string) string {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// RemoteIssuer fetches tokens from the relay's /token endpoint. This is
// the primary credential path for clients.
type RemoteIssuer struct {
	baseURL string
	client  *http.Client
}

func NewRemoteIssuer(baseURL string, client *http.Client) *RemoteIssuer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteIssuer{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type tokenRequest struct {
	UserID string `json:"user_id"`
	RoomID string `json:"room_id"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (r *RemoteIssuer) Issue(ctx context.Context, userID domain.UserID, roomID domain.RoomID) (domain.Credential, error) {
	body, err := json.Marshal(tokenRequest{UserID: userID.String(), RoomID: roomID.String()})
	if err != nil {
		return domain.Credential{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/token", bytes.NewReader(body))
	if err != nil {
		return domain.Credential{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Credential{}, fmt.Errorf("token request: status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return domain.Credential{}, fmt.Errorf("token response: %w", err)
	}
	return domain.Credential{Token: tr.Token, ExpiresAt: tr.ExpiresAt}, nil
}

// None is the credential-less strategy: every issue succeeds with an
// empty credential. Used when token auth is not deployed.
type None struct{}

func (None) Issue(_ context.Context, _ domain.UserID, _ domain.RoomID) (domain.Credential, error) {
	return domain.Credential{}, nil
}
