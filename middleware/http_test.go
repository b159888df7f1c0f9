package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aloks98/deskauth"
	"github.com/aloks98/deskauth/store"
)

// Mock implementations for testing

type mockTokenValidator struct {
	users map[string]*store.User
	err   error
}

func (m *mockTokenValidator) Validate(_ context.Context, token string) (*store.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	if u, ok := m.users[token]; ok {
		return u, nil
	}
	return nil, deskauth.ErrTokenInvalid
}

var (
	alice = &store.User{ID: "alice", Role: deskauth.RoleMember}
	bob   = &store.User{ID: "bob", Role: deskauth.RoleMember}
	root  = &store.User{ID: "root", Role: deskauth.RoleAdmin}
)

func newValidator() *mockTokenValidator {
	return &mockTokenValidator{users: map[string]*store.User{
		"alice-token": alice,
		"bob-token":   bob,
		"root-token":  root,
	}}
}

func ok(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func serve(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/resource", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	if body.Success {
		t.Errorf("success = true on an error response")
	}
	return body.Error
}

// Tests

func TestAuthenticate_ValidToken(t *testing.T) {
	handler := Authenticate(newValidator(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u := GetUser(r.Context()); u == nil || u.ID != "alice" {
			t.Errorf("expected user alice in context, got %v", u)
		}
		if tok := GetToken(r.Context()); tok != "alice-token" {
			t.Errorf("expected token alice-token in context, got %q", tok)
		}
		w.WriteHeader(http.StatusOK)
	}))

	w := serve(handler, "alice-token")
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

func TestAuthenticate_Rejects(t *testing.T) {
	tests := []struct {
		name      string
		token     string
		validator *mockTokenValidator
	}{
		{"missing", "", newValidator()},
		{"unknown", "nope", newValidator()},
		{"expired", "alice-token", &mockTokenValidator{err: deskauth.ErrTokenExpired}},
		{"user gone", "alice-token", &mockTokenValidator{err: fmt.Errorf("%w: user alice", deskauth.ErrNotFound)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Authenticate(tt.validator, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler should not be called")
			}))

			w := serve(handler, tt.token)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", w.Code)
			}
			if code := errorCode(t, w); code != deskauth.CodeUnauthorized {
				t.Errorf("expected %s, got %s", deskauth.CodeUnauthorized, code)
			}
		})
	}
}

func TestAuthenticate_StoreFailure(t *testing.T) {
	validator := &mockTokenValidator{err: fmt.Errorf("%w: connection refused", deskauth.ErrStoreUnavailable)}
	handler := Authenticate(validator, nil)(http.HandlerFunc(ok))

	w := serve(handler, "alice-token")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
}

func TestAuthenticate_SkipPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SkipPaths = []string{"/health"}

	called := false
	handler := Authenticate(newValidator(), cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called {
		t.Error("handler should have been called for skip path")
	}
}

func TestAuthenticate_CustomExtractorAndHandler(t *testing.T) {
	var handled error
	cfg := &Config{
		TokenExtractor: ChainExtractors(ExtractFromHeader("Authorization", "Bearer"), ExtractFromCookie("session")),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			handled = err
			w.WriteHeader(http.StatusTeapot)
		},
	}
	handler := Authenticate(newValidator(), cfg)(http.HandlerFunc(ok))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "bob-token"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("cookie token: expected status 200, got %d", w.Code)
	}

	w = serve(handler, "")
	if w.Code != http.StatusTeapot {
		t.Errorf("expected custom handler status, got %d", w.Code)
	}
	if !errors.Is(handled, deskauth.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", handled)
	}
}

func TestOptionalAuthenticate(t *testing.T) {
	var seen *store.User
	handler := OptionalAuthenticate(newValidator(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUser(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	for _, tt := range []struct {
		token string
		want  *store.User
	}{
		{"bob-token", bob},
		{"", nil},
		{"garbage", nil},
	} {
		seen = nil
		w := serve(handler, tt.token)
		if w.Code != http.StatusOK {
			t.Errorf("token %q: expected status 200, got %d", tt.token, w.Code)
		}
		if seen != tt.want {
			t.Errorf("token %q: user = %v, want %v", tt.token, seen, tt.want)
		}
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		roles  []string
		status int
	}{
		{"member allowed", "alice-token", []string{deskauth.RoleMember, deskauth.RoleAdmin}, http.StatusOK},
		{"admin allowed", "root-token", []string{deskauth.RoleAdmin}, http.StatusOK},
		{"member denied", "alice-token", []string{deskauth.RoleAdmin}, http.StatusForbidden},
		{"no roles admits nobody", "root-token", nil, http.StatusForbidden},
		{"unauthenticated", "", []string{deskauth.RoleMember}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Chain(Authenticate(newValidator(), nil), RequireRole(tt.roles...))(http.HandlerFunc(ok))
			w := serve(handler, tt.token)
			if w.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, w.Code)
			}
		})
	}
}

func TestRequireRole_WithoutAuthenticate(t *testing.T) {
	handler := RequireRole(deskauth.RoleMember)(http.HandlerFunc(ok))
	w := serve(handler, "alice-token")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
}

func TestRequireOwner(t *testing.T) {
	owners := map[string]string{"doc-1": "alice"}
	lookup := func(r *http.Request) (string, error) {
		id := r.URL.Query().Get("doc")
		switch id {
		case "broken":
			return "", fmt.Errorf("%w: lookup backend down", deskauth.ErrForbidden)
		case "":
			return "", errors.New("no document id")
		}
		owner, ok := owners[id]
		if !ok {
			return "", deskauth.ErrNotFound
		}
		return owner, nil
	}

	tests := []struct {
		name   string
		token  string
		doc    string
		status int
		code   string
	}{
		{"owner", "alice-token", "doc-1", http.StatusOK, ""},
		{"other user", "bob-token", "doc-1", http.StatusForbidden, deskauth.CodeForbidden},
		{"admin bypass", "root-token", "doc-1", http.StatusOK, ""},
		{"missing resource", "bob-token", "doc-404", http.StatusNotFound, deskauth.CodeNotFound},
		{"lookup failure", "alice-token", "broken", http.StatusInternalServerError, deskauth.CodeInternal},
		{"lookup error", "alice-token", "", http.StatusInternalServerError, deskauth.CodeInternal},
		{"unauthenticated", "", "doc-1", http.StatusUnauthorized, deskauth.CodeUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Chain(Authenticate(newValidator(), nil), RequireOwner(lookup))(http.HandlerFunc(ok))

			req := httptest.NewRequest(http.MethodGet, "/docs?doc="+tt.doc, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, w.Code)
			}
			if tt.code != "" {
				if code := errorCode(t, w); code != tt.code {
					t.Errorf("expected code %s, got %s", tt.code, code)
				}
			}
		})
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Guard {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Chain(mark("first"), mark("second"), mark("third"))(http.HandlerFunc(ok))
	serve(handler, "")

	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order = %v, want %v", order, want)
			break
		}
	}

	// An empty chain is the identity.
	w := serve(Chain()(http.HandlerFunc(ok)), "")
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}
