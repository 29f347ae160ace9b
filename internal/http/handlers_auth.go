package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/angelofallars/htmx-go"

	"billing/internal/billing"
	"billing/internal/identity"
	"billing/internal/log"
)

type authMode struct {
	name     string // template prefix
	title    string
	op       string
	identity func(p identity.Provider, ctx context.Context, email, password string) (identity.Token, error)
	backend  func(c *billing.Client, ctx context.Context, creds billing.Credentials) (map[string]any, error)
}

var (
	loginMode = authMode{
		name:     "login",
		title:    "Login",
		op:       log.OpLogin,
		identity: identity.Provider.SignIn,
		backend:  (*billing.Client).Login,
	}
	signupMode = authMode{
		name:     "signup",
		title:    "Sign Up",
		op:       log.OpSignup,
		identity: identity.Provider.SignUp,
		backend:  (*billing.Client).SignUp,
	}
)

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.authPage(w, r, loginMode)
}

func (s *Server) handleSignupPage(w http.ResponseWriter, r *http.Request) {
	s.authPage(w, r, signupMode)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.authenticate(w, r, loginMode)
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	s.authenticate(w, r, signupMode)
}

func (s *Server) authPage(w http.ResponseWriter, r *http.Request, mode authMode) {
	// Already signed in.
	if _, err := s.sessions.Load(r); err == nil {
		redirect(w, r, "/")
		return
	}
	s.render(w, r, http.StatusOK, mode.name+".html", pageData{Title: mode.title})
}

// authenticate signs the user in with the identity provider, tells the
// billing backend (best effort) and starts a session.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, mode authMode) {
	ctx := r.Context()
	logger := log.FromContext(ctx).WithComponent(log.ComponentIdentity)

	if err := r.ParseForm(); err != nil {
		s.authFailed(w, r, mode, "", http.StatusBadRequest, "Invalid request format")
		return
	}
	email := strings.TrimSpace(r.PostForm.Get("email"))
	password := r.PostForm.Get("password")

	if err := identity.CheckCredentials(email, password); err != nil {
		s.authFailed(w, r, mode, email, http.StatusUnprocessableEntity, identity.Message(err))
		return
	}

	tok, err := mode.identity(s.identity, ctx, email, password)
	if err != nil {
		logger.WarnContext(ctx, "Authentication failed",
			log.FieldOperation, mode.op,
			log.FieldEmail, email,
			log.FieldError, err)
		s.authFailed(w, r, mode, email, authStatus(err), identity.Message(err))
		return
	}

	creds := billing.Credentials{Email: email, Password: password}
	if _, err := mode.backend(s.billing.WithTokens(billing.StaticToken(tok.IDToken)), ctx, creds); err != nil {
		logger.WarnContext(ctx, "Billing backend did not acknowledge authentication",
			log.FieldOperation, mode.op,
			log.FieldUserID, tok.UserID,
			log.FieldError, err)
	}

	sess, err := s.sessions.Start(ctx, w, tok)
	if err != nil {
		logger.ErrorContext(ctx, "Session start failed",
			log.FieldUserID, tok.UserID,
			log.FieldError, err)
		s.authFailed(w, r, mode, email, http.StatusInternalServerError, "Could not start your session, please try again")
		return
	}

	logger.InfoContext(ctx, "User authenticated",
		log.FieldOperation, mode.op,
		log.FieldUserID, sess.UserID,
		log.FieldSessionID, sess.ID)
	redirect(w, r, "/")
}

// authFailed re-renders the form with an inline message. htmx requests get
// the form fragment only.
func (s *Server) authFailed(w http.ResponseWriter, r *http.Request, mode authMode, email string, status int, message string) {
	data := pageData{Title: mode.title, Email: email, Error: message}
	if htmx.IsHTMX(r) {
		s.renderResponse(w, r, htmx.NewResponse().StatusCode(status), mode.name+"-form", data)
		return
	}
	s.render(w, r, status, mode.name+".html", data)
}

func authStatus(err error) int {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials), errors.Is(err, identity.ErrUserNotFound):
		return http.StatusUnauthorized
	case errors.Is(err, identity.ErrEmailExists):
		return http.StatusConflict
	case errors.Is(err, identity.ErrWeakPassword), errors.Is(err, identity.ErrInvalidEmail):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := currentSession(r)
	logger := log.FromContext(ctx)

	if _, err := s.client(sess).Logout(ctx); err != nil {
		logger.WarnContext(ctx, "Billing backend logout failed",
			log.FieldUserID, sess.UserID,
			log.FieldError, err)
	}
	if err := s.sessions.Destroy(w, r); err != nil {
		logger.ErrorContext(ctx, "Session destroy failed",
			log.FieldSessionID, sess.ID,
			log.FieldError, err)
	}
	s.endSession(sess.ID)

	logger.InfoContext(ctx, "User logged out", log.FieldUserID, sess.UserID)
	redirect(w, r, "/login")
}
