package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quotewise/backend/internal/models"
)

type stubTokens struct {
	userID uuid.UUID
	err    error
}

func (s *stubTokens) ValidateToken(context.Context, string) (uuid.UUID, error) {
	return s.userID, s.err
}

type stubUsers struct {
	user *models.User
}

func (s *stubUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	if s.user == nil || s.user.ID != id {
		return nil, pgx.ErrNoRows
	}
	return s.user, nil
}

func TestBearerAuthLoadsUser(t *testing.T) {
	user := &models.User{ID: uuid.New(), Email: "pat@example.com"}
	mw := BearerAuth(&stubTokens{userID: user.ID}, &stubUsers{user: user})

	var seen *models.User
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserFromCtx(r.Context())
	}))

	req := httptest.NewRequest("GET", "/v1/credits/status", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if seen == nil || seen.ID != user.ID {
		t.Fatalf("context user = %+v, want %v", seen, user.ID)
	}
}

func TestBearerAuthRejects(t *testing.T) {
	user := &models.User{ID: uuid.New()}

	tests := []struct {
		name   string
		header string
		tokens *stubTokens
		users  *stubUsers
	}{
		{"missing header", "", &stubTokens{userID: user.ID}, &stubUsers{user: user}},
		{"not bearer", "Basic abc123", &stubTokens{userID: user.ID}, &stubUsers{user: user}},
		{"invalid token", "Bearer bad", &stubTokens{err: errors.New("expired")}, &stubUsers{user: user}},
		{"deleted user", "Bearer ok", &stubTokens{userID: uuid.New()}, &stubUsers{user: user}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := BearerAuth(tt.tokens, tt.users)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				called = true
			}))

			req := httptest.NewRequest("GET", "/v1/credits/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			if called {
				t.Fatal("next handler ran for rejected request")
			}
		})
	}
}

func TestExtractBearerCaseInsensitive(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "bearer lower-case-scheme")
	if got := extractBearer(req); got != "lower-case-scheme" {
		t.Fatalf("extractBearer = %q", got)
	}
}
