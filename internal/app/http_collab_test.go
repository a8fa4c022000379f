package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"canvaslive/internal/room"
	"canvaslive/internal/session"
)

func sessionsWith(user session.User, token string) *fakeSessions {
	return &fakeSessions{lookupFn: func(_ context.Context, tokenHash string) (session.User, error) {
		if tokenHash == session.HashToken(token) {
			return user, nil
		}
		return session.User{}, session.ErrNoSession
	}}
}

func newTestServer(svc *Service) *HTTPServer {
	return NewHTTPServer(svc, room.NewHub(), "*")
}

func TestIssueEndpointReturnsGrant(t *testing.T) {
	user := session.User{ID: "user-1", DisplayName: "Avery"}
	server := newTestServer(newTestService(sessionsWith(user, "primary-token"), grantAll()))

	req := httptest.NewRequest(http.MethodPost, "/api/collab/token", bytes.NewBufferString(`{"documentId":"c1"}`))
	req.Header.Set("Authorization", "Bearer primary-token")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload struct {
		Token string `json:"token"`
		Room  string `json:"room"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload.Token == "" {
		t.Fatal("expected token")
	}
	if payload.Room != "doc-c1" {
		t.Fatalf("room = %q, want doc-c1", payload.Room)
	}
}

func TestIssueEndpointRequiresSession(t *testing.T) {
	server := newTestServer(newTestService(&fakeSessions{}, grantAll()))

	req := httptest.NewRequest(http.MethodPost, "/api/collab/token", bytes.NewBufferString(`{"documentId":"c1"}`))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without bearer, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/collab/token", bytes.NewBufferString(`{"documentId":"c1"}`))
	req.Header.Set("Authorization", "Bearer bogus")
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for unknown session, got %d", rr.Code)
	}
}

func TestIssueEndpointRejectsMissingDocumentID(t *testing.T) {
	user := session.User{ID: "user-1"}
	server := newTestServer(newTestService(sessionsWith(user, "primary-token"), grantAll()))

	req := httptest.NewRequest(http.MethodPost, "/api/collab/token", bytes.NewBufferString(`{}`))
	req.Header.Set("Authorization", "Bearer primary-token")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestIssueEndpointRejectsWithoutAccess(t *testing.T) {
	user := session.User{ID: "user-1"}
	server := newTestServer(newTestService(sessionsWith(user, "primary-token"), &fakeAccess{}))

	req := httptest.NewRequest(http.MethodPost, "/api/collab/token", bytes.NewBufferString(`{"documentId":"c1"}`))
	req.Header.Set("Authorization", "Bearer primary-token")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestVerifyEndpointReturnsIdentity(t *testing.T) {
	user := session.User{ID: "user-1", DisplayName: "Avery"}
	svc := newTestService(sessionsWith(user, "primary-token"), grantAll())
	server := newTestServer(svc)

	grant, err := svc.IssueCollabToken(context.Background(), user, "c1")
	if err != nil {
		t.Fatalf("IssueCollabToken() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/collab/verify", bytes.NewBufferString(`{"documentName":"doc-c1"}`))
	req.Header.Set("Authorization", "Bearer "+grant.Token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var identity Identity
	if err := json.Unmarshal(rr.Body.Bytes(), &identity); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if identity.UserID != "user-1" || identity.DocumentID != "c1" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}

func TestVerifyEndpointRejectsScopeMismatch(t *testing.T) {
	user := session.User{ID: "user-1"}
	svc := newTestService(sessionsWith(user, "primary-token"), grantAll())
	server := newTestServer(svc)

	grant, err := svc.IssueCollabToken(context.Background(), user, "c2")
	if err != nil {
		t.Fatalf("IssueCollabToken() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/collab/verify", bytes.NewBufferString(`{"documentName":"doc-c1"}`))
	req.Header.Set("Authorization", "Bearer "+grant.Token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestVerifyEndpointRejectsGarbageToken(t *testing.T) {
	server := newTestServer(newTestService(&fakeSessions{}, grantAll()))

	req := httptest.NewRequest(http.MethodPost, "/api/collab/verify", bytes.NewBufferString(`{"documentName":"doc-c1"}`))
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(newTestService(&fakeSessions{}, &fakeAccess{}))
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	server := newTestServer(newTestService(&fakeSessions{}, &fakeAccess{}))
	req := httptest.NewRequest(http.MethodGet, "/api/nope", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}
