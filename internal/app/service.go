package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"canvaslive/internal/access"
	"canvaslive/internal/auth"
	"canvaslive/internal/config"
	"canvaslive/internal/room"
	"canvaslive/internal/session"
)

type sessionStore interface {
	LookupSession(ctx context.Context, tokenHash string) (session.User, error)
}

// Identity is what a verified handshake resolves to; it lives for the
// duration of the connection.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	DocumentID  string `json:"documentId"`
}

type TokenGrant struct {
	Token     string    `json:"token"`
	Room      string    `json:"room"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Service struct {
	cfg      config.Config
	sessions sessionStore
	access   access.Store
}

func New(cfg config.Config, sessions sessionStore, accessStore access.Store) *Service {
	return &Service{cfg: cfg, sessions: sessions, access: accessStore}
}

// SessionFromToken resolves a primary-application bearer token to a user.
func (s *Service) SessionFromToken(ctx context.Context, token string) (session.User, error) {
	user, err := s.sessions.LookupSession(ctx, session.HashToken(token))
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return session.User{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		}
		return session.User{}, fmt.Errorf("session lookup: %w", err)
	}
	return user, nil
}

// IssueCollabToken mints a room-join token for one canvas. The caller's
// access is verified against the live grant store before minting; tokens
// are never issued unscoped.
func (s *Service) IssueCollabToken(ctx context.Context, user session.User, documentID string) (TokenGrant, error) {
	if documentID == "" {
		return TokenGrant{}, domainError(http.StatusBadRequest, "INVALID_BODY", "documentId is required")
	}

	ok, err := s.access.CanAccess(ctx, user.ID, documentID)
	if err != nil {
		return TokenGrant{}, fmt.Errorf("access check: %w", err)
	}
	if !ok {
		return TokenGrant{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden")
	}

	token, err := auth.IssueToken([]byte(s.cfg.CollabSecret), user.ID, user.DisplayName, documentID, s.cfg.CollabTTL)
	if err != nil {
		return TokenGrant{}, fmt.Errorf("issue token: %w", err)
	}
	return TokenGrant{
		Token:     token,
		Room:      room.Name(documentID),
		ExpiresAt: time.Now().Add(s.cfg.CollabTTL),
	}, nil
}

// VerifyCollabToken gates the room-join handshake. All checks run before
// any document content is exchanged; failures carry no access-control
// detail beyond the status code.
func (s *Service) VerifyCollabToken(ctx context.Context, token, roomName string) (Identity, error) {
	if token == "" {
		return Identity{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
	}

	claims, err := auth.ParseToken([]byte(s.cfg.CollabSecret), token)
	if err != nil {
		return Identity{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
	}

	documentID, err := room.DocumentID(roomName)
	if err != nil {
		return Identity{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden")
	}
	// Exact match between the token's canvas and the room's canvas. A
	// token minted for canvas A is useless against canvas B's room.
	if claims.DocumentID != documentID {
		return Identity{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden")
	}

	// Re-resolve live access; grants revoked since issuance end here.
	ok, err := s.access.CanAccess(ctx, claims.Subject, documentID)
	if err != nil {
		return Identity{}, fmt.Errorf("access check: %w", err)
	}
	if !ok {
		return Identity{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden")
	}

	return Identity{
		UserID:      claims.Subject,
		DisplayName: claims.DisplayName,
		DocumentID:  claims.DocumentID,
	}, nil
}
