package server

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/aloks98/deskauth"
	"github.com/aloks98/deskauth/authcore"
	"github.com/aloks98/deskauth/internal/metrics"
	"github.com/aloks98/deskauth/middleware"
	chiauth "github.com/aloks98/deskauth/middleware/chi"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Client   string `json:"client,omitempty"`
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
	Client   string `json:"client,omitempty"`
}

type assertionRequest struct {
	Assertion string `json:"assertion"`
	Client    string `json:"client,omitempty"`
}

type exchangeRequest struct {
	Token string `json:"token"`
}

type roleRequest struct {
	Role string `json:"role"`
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	s.render(w, s.pages.home, homePage{
		Title:   "Desktop Sign-in",
		BaseURL: s.cfg.BaseURL,
		Clients: s.cfg.Dispatcher.Registry().Clients(),
	})
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, s.pages.form, formPage{
		Title:    "Sign In",
		Heading:  "Sign in",
		Submit:   "Sign In",
		Action:   s.cfg.BaseURL + "/login",
		BaseURL:  s.cfg.BaseURL,
		Selected: clientParam(r),
		Clients:  s.cfg.Dispatcher.Registry().Clients(),
	})
}

func (s *Server) handleSignupPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, s.pages.form, formPage{
		Title:    "Create Account",
		Heading:  "Create your account",
		Submit:   "Create Account",
		Action:   s.cfg.BaseURL + "/signup",
		Signup:   true,
		BaseURL:  s.cfg.BaseURL,
		Selected: clientParam(r),
		Clients:  s.cfg.Dispatcher.Registry().Clients(),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	sess, err := s.cfg.Auth.Login(r.Context(), req.Email, req.Password)
	s.cfg.Metrics.AuthAttempt("login", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, s.sessionPayload(sess, "Login successful", req.Client))
}

// handleSignup always assigns the default role; elevated roles are granted
// through the store only.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	sess, err := s.cfg.Auth.Signup(r.Context(), authcore.SignupInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	s.cfg.Metrics.AuthAttempt("signup", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, s.sessionPayload(sess, "Account created successfully", req.Client))
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	var req assertionRequest
	if r.Method == http.MethodGet {
		req.Assertion = r.URL.Query().Get("assertion")
		req.Client = clientParam(r)
	} else if err := s.decodeBody(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	if req.Assertion == "" {
		middleware.WriteError(w, fmt.Errorf("%w: assertion is required", deskauth.ErrInvalidInput))
		return
	}

	var err error
	var sess *authcore.Session
	if s.cfg.Verifier == nil {
		err = fmt.Errorf("%w: oauth callback is not configured", deskauth.ErrOAuthFailed)
	} else {
		var id *authcore.Identity
		if id, err = s.cfg.Verifier.Verify(req.Assertion); err == nil {
			sess, err = s.cfg.Auth.CompleteOAuth(r.Context(), id)
		}
	}
	s.cfg.Metrics.AuthAttempt("oauth", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, s.sessionPayload(sess, "Login successful", req.Client))
}

func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	clientID := clientParam(r)
	sessionToken := r.URL.Query().Get("token")
	if clientID == "" || sessionToken == "" {
		middleware.WriteError(w, fmt.Errorf("%w: client and token are required", deskauth.ErrInvalidInput))
		return
	}

	label := metrics.ClientUnknown
	if c, ok := s.cfg.Dispatcher.Registry().Lookup(clientID); ok {
		label = c.ID
	}

	h, err := s.cfg.Dispatcher.PrepareHandoff(r.Context(), sessionToken, clientID)
	s.cfg.Metrics.Handoff(label, err)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.render(w, s.pages.redirect, redirectPage{
		Title:       "Opening " + h.Client.Name,
		Client:      h.Client,
		URI:         template.URL(h.URI), //nolint:gosec // scheme is validated by the registry
		ExpiresAt:   h.ExpiresAt,
		DelayMillis: s.cfg.RedirectDelay.Milliseconds(),
	})
}

func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	if req.Token == "" {
		middleware.WriteError(w, fmt.Errorf("%w: token is required", deskauth.ErrInvalidInput))
		return
	}

	red, err := s.cfg.Dispatcher.Redeem(r.Context(), req.Token)
	if err != nil {
		s.cfg.Metrics.Redemption(deskauth.Code(err))
		s.fail(w, r, err)
		return
	}
	s.cfg.Metrics.Redemption("OK")
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"token":     red.Token.Value,
		"expiresAt": red.Token.ExpiresAt,
		"user":      red.User.Public(),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Auth.Logout(r.Context(), middleware.GetToken(r.Context())); err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"message": "Logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"user": user.Public()})
}

// userOwner resolves the owner of /api/users/{id}, which is the user itself.
func (s *Server) userOwner(ctx context.Context, id string) (string, error) {
	user, err := s.cfg.Users.GetUserByID(ctx, id)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", fmt.Errorf("%w: user %s", deskauth.ErrNotFound, id)
	}
	return user.ID, nil
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.cfg.Users.GetUserByID(r.Context(), chiauth.URLParam(r, "id"))
	if err == nil && user == nil {
		err = deskauth.ErrNotFound
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"user": user.Public()})
}

func (s *Server) handleSetRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	id := chiauth.URLParam(r, "id")
	if err := s.cfg.Auth.SetRole(r.Context(), id, req.Role); err != nil {
		s.fail(w, r, err)
		return
	}

	user, err := s.cfg.Users.GetUserByID(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("role changed",
		zap.String("user_id", id),
		zap.String("role", req.Role),
		zap.String("by", middleware.GetUser(r.Context()).ID),
	)
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"user": user.Public()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Health != nil {
		if err := s.cfg.Health.Ping(r.Context()); err != nil {
			s.logger.Error("health check failed", zap.Error(err))
			middleware.WriteErrorStatus(w, http.StatusServiceUnavailable,
				fmt.Errorf("%w: %v", deskauth.ErrStoreUnavailable, err))
			return
		}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// sessionPayload is the success body of login, signup and OAuth completion.
// A known client adds the URL of the redirect page.
func (s *Server) sessionPayload(sess *authcore.Session, message, clientID string) map[string]any {
	payload := map[string]any{
		"message":   message,
		"token":     sess.Token.Value,
		"expiresAt": sess.Token.ExpiresAt,
		"user":      sess.User.Public(),
	}
	if _, ok := s.cfg.Dispatcher.Registry().Lookup(clientID); ok {
		q := url.Values{"client": {clientID}, "token": {sess.Token.Value}}
		payload["redirectUrl"] = s.cfg.BaseURL + "/redirect?" + q.Encode()
	}
	return payload
}

// fail writes err, logging it first when it is a server-side failure.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case deskauth.Code(err) == deskauth.CodeOAuthFailed:
		s.logger.Warn("oauth completion rejected",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	case !deskauth.IsClientError(err):
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	middleware.WriteError(w, err)
}

// clientParam reads the target client, accepting editor as an alias.
func clientParam(r *http.Request) string {
	q := r.URL.Query()
	if c := strings.TrimSpace(q.Get("client")); c != "" {
		return c
	}
	return strings.TrimSpace(q.Get("editor"))
}
