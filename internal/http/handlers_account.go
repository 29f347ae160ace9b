package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"billing/internal/core"
	"billing/internal/events"
	"billing/internal/identity"
	"billing/internal/log"
	"billing/internal/storage"
)

type adminView struct {
	JSON  string
	Error string
}

type activityRow struct {
	Label    string
	Customer string
	Amount   string
	BillID   string
	When     string
}

type activityView struct {
	Events []activityRow
	Error  string
}

// handleAdminData shows the admin dump pretty-printed, or why it failed.
func (s *Server) handleAdminData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := currentSession(r)

	raw, err := s.client(sess).AdminData(ctx)
	if err != nil {
		log.FromContext(ctx).WarnContext(ctx, "Admin data failed",
			log.FieldUserID, sess.UserID,
			log.FieldError, err)
		s.render(w, r, http.StatusOK, "admin", adminView{Error: apiMessage("Failed to fetch all users data", err)})
		return
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(raw)
	}
	s.render(w, r, http.StatusOK, "admin", adminView{JSON: pretty.String()})
}

// handleDeleteAccount asks the backend to delete the user's data. Only when
// it reports success is the identity account removed and the session ended.
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := currentSession(r)
	logger := log.FromContext(ctx)
	tokens := s.sessions.TokenSource(sess)

	res, err := s.billing.WithTokens(tokens).DeleteAccount(ctx)
	if err != nil {
		s.audit.LogError(ctx, "Account deletion failed", err, log.ComponentIdentity, log.OpDelete,
			failureFields(r, sess.UserID, err))
		errorFragment(w, upstreamStatus(err), apiMessage("Error deleting account", err))
		return
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "Failed to delete account."
		}
		logger.WarnContext(ctx, "Account deletion refused",
			log.FieldUserID, sess.UserID,
			log.FieldError, msg)
		errorFragment(w, http.StatusUnprocessableEntity, msg)
		return
	}

	if s.identity != nil {
		if idToken, err := tokens.Token(ctx); err != nil {
			logger.WarnContext(ctx, "No token to delete identity account", log.FieldUserID, sess.UserID, log.FieldError, err)
		} else if err := s.identity.DeleteAccount(ctx, idToken); err != nil && !errors.Is(err, identity.ErrUserNotFound) {
			logger.WarnContext(ctx, "Identity account not deleted", log.FieldUserID, sess.UserID, log.FieldError, err)
		}
	}

	events.PublishAsync(ctx, s.events, events.NewAccountDeleted(sess.UserID, sess.Email), s.logger)
	s.endSession(sess.ID)
	if err := s.sessions.Destroy(w, r); err != nil {
		logger.ErrorContext(ctx, "Session destroy failed", log.FieldSessionID, sess.ID, log.FieldError, err)
	}

	logger.InfoContext(ctx, "Account deleted", log.FieldUserID, sess.UserID)
	redirect(w, r, "/signup")
}

// handleActivityPartial lists the user's latest bill changes.
func (s *Server) handleActivityPartial(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := currentSession(r)

	if s.history == nil {
		s.render(w, r, http.StatusOK, "activity", activityView{})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	recent, err := s.history.RecentEvents(ctx, sess.UserID, storage.DefaultRecentLimit)
	if err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Recent events failed",
			log.FieldUserID, sess.UserID,
			log.FieldErrorType, log.ErrorTypeDatabase,
			log.FieldError, err)
		s.render(w, r, http.StatusOK, "activity", activityView{Error: "Failed to load recent activity"})
		return
	}

	view := activityView{Events: make([]activityRow, 0, len(recent))}
	for _, e := range recent {
		view.Events = append(view.Events, activityRow{
			Label:    events.Type(e.Type).Label(),
			Customer: e.CustomerName,
			Amount:   e.Amount,
			BillID:   e.BillID,
			When:     e.OccurredAt.Local().Format(core.DisplayLayout),
		})
	}
	s.render(w, r, http.StatusOK, "activity", view)
}
