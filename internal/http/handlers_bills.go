package http

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/angelofallars/htmx-go"
	"github.com/go-chi/chi/v5"

	"billing/internal/billing"
	"billing/internal/cache"
	"billing/internal/core"
	"billing/internal/events"
	"billing/internal/log"
	"billing/internal/middleware/trace"
)

// formView feeds the bill form partial.
type formView struct {
	Form  core.FormState
	Error string
	Flash string
}

type billsView struct {
	Bills []core.BillingRecord
	Error string
}

type statsView struct {
	Stats core.UserStats
	Error string
}

type chartView struct {
	Bars  []core.Bar
	Width int
	Error string
}

type dashboardPage struct {
	pageData
	Form  formView
	Bills billsView
	Stats statsView
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := currentSession(r)

	ov, err := s.loadOverview(ctx, sess)
	data := dashboardPage{
		pageData: pageData{Title: "Billing Records", Email: ov.Email},
		Form:     formView{Form: core.NewFormState()},
		Bills:    billsView{Bills: ov.Bills},
		Stats:    statsView{Stats: ov.Stats},
	}
	if err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Dashboard load failed",
			log.FieldUserID, sess.UserID,
			log.FieldError, err)
		data.Bills.Error = apiMessage("Failed to load bills", err)
	}
	s.render(w, r, http.StatusOK, "dashboard.html", data)
}

// handleBillsPartial renders the bills table.
func (s *Server) handleBillsPartial(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bills, err := s.loadBills(ctx, currentSession(r))
	view := billsView{Bills: bills}
	if err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "List bills failed", log.FieldError, err)
		view.Error = apiMessage("Failed to load bills", err)
	}
	s.render(w, r, http.StatusOK, "bills", view)
}

func (s *Server) handleStatsPartial(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := s.loadStats(ctx, currentSession(r))
	view := statsView{Stats: stats}
	if err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "User stats failed", log.FieldError, err)
		view.Error = apiMessage("Failed to load statistics", err)
	}
	s.render(w, r, http.StatusOK, "stats", view)
}

// handleChartPartial renders the total amount per customer.
func (s *Server) handleChartPartial(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bills, err := s.loadBills(ctx, currentSession(r))
	if err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Chart data failed", log.FieldError, err)
		s.render(w, r, http.StatusOK, "chart", chartView{Error: apiMessage("Failed to load chart", err)})
		return
	}
	points := core.Aggregate(bills)
	s.render(w, r, http.StatusOK, "chart", chartView{
		Bars:  core.ScaleBars(points),
		Width: core.ChartWidth(points),
	})
}

// handleBillForm renders an empty form, which also cancels an edit.
func (s *Server) handleBillForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "bill-form", formView{Form: core.NewFormState().Cancel()})
}

func (s *Server) handleEditBill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := billIDParam(r)

	bills, err := s.loadBills(ctx, currentSession(r))
	if err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Load bill for edit failed",
			log.FieldBillID, id,
			log.FieldError, err)
		errorFragment(w, upstreamStatus(err), apiMessage("Failed to load bill", err))
		return
	}
	for _, b := range bills {
		if b.ID == id {
			s.render(w, r, http.StatusOK, "bill-form", formView{Form: core.NewFormState().Edit(b)})
			return
		}
	}
	errorFragment(w, http.StatusNotFound, "Bill not found")
}

func (s *Server) handleCreateBill(w http.ResponseWriter, r *http.Request) {
	s.saveBill(w, r, "")
}

func (s *Server) handleUpdateBill(w http.ResponseWriter, r *http.Request) {
	s.saveBill(w, r, billIDParam(r))
}

// saveBill validates the submitted form and creates the bill, or updates it
// when id is set. Both paths apply the same validation. On success the
// session's cached reads are dropped and the page is told to reload them.
func (s *Server) saveBill(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	sess := currentSession(r)
	logger := log.FromContext(ctx)

	if err := r.ParseForm(); err != nil {
		logger.ErrorContext(ctx, "Parse form error", log.FieldError, err, log.FieldMethod, r.Method)
		errorFragment(w, http.StatusBadRequest, "Invalid request format")
		return
	}

	form := core.FormStateFromValues(r.PostForm)
	form.EditingID = id
	in := form.Input()

	if err := core.Validate(in); err != nil {
		logger.DebugContext(ctx, "Bill form rejected",
			log.FieldOperation, log.OpValidate,
			log.FieldErrorType, log.ErrorTypeValidation,
			log.FieldError, err)
		s.renderResponse(w, r,
			htmx.NewResponse().StatusCode(http.StatusUnprocessableEntity),
			"bill-form", formView{Form: form, Error: core.ValidationMessage(err)})
		return
	}

	var (
		ack    billing.Ack
		err    error
		op     = log.OpCreate
		typ    = events.BillCreated
		action = "Failed to add bill"
		flash  = "Bill added successfully!"
	)
	if form.Editing() {
		op, typ = log.OpUpdate, events.BillUpdated
		action, flash = "Failed to update bill", "Bill updated successfully!"
		ack, err = s.client(sess).UpdateBill(ctx, id, in)
	} else {
		ack, err = s.client(sess).AddBill(ctx, in)
	}
	if err != nil {
		s.audit.LogError(ctx, "Bill save failed", err, log.ComponentBilling, op,
			failureFields(r, sess.UserID, err).WithBill(id, in.Name, in.Amount))
		msg := apiMessage(action, err)
		s.renderResponse(w, r,
			htmx.NewResponse().StatusCode(upstreamStatus(err)).AddTrigger(triggerShowMessage(msg)),
			"bill-form", formView{Form: form, Error: msg})
		return
	}

	s.dropCached(sess.ID)
	billID := id
	if billID == "" {
		billID = ack.ID()
	}
	s.audit.LogBillChange(ctx, op, sess.UserID, billID, in.Name, in.Amount)
	events.PublishAsync(ctx, s.events, events.NewBillEvent(typ, sess.UserID, sess.Email, billID, in), s.logger)

	if !htmx.IsHTMX(r) {
		redirect(w, r, "/")
		return
	}
	s.renderResponse(w, r,
		htmx.NewResponse().AddTrigger(triggerBillsChanged(), triggerShowMessage(flash)),
		"bill-form", formView{Form: form.Reset(), Flash: flash})
}

func (s *Server) handleDeleteBill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := currentSession(r)
	id := billIDParam(r)

	// The record is gone after the call; keep what the cache knows for the
	// event.
	deleted := s.cachedBill(sess.ID, id)

	if _, err := s.client(sess).DeleteBill(ctx, id); err != nil {
		s.audit.LogError(ctx, "Bill delete failed", err, log.ComponentBilling, log.OpDelete,
			failureFields(r, sess.UserID, err).WithBill(id, deleted.Name, deleted.Amount.String()))
		_ = htmx.NewResponse().
			StatusCode(upstreamStatus(err)).
			Reswap(htmx.SwapNone).
			AddTrigger(triggerShowMessage(apiMessage("Failed to delete bill", err))).
			Write(w)
		return
	}

	s.dropCached(sess.ID)
	s.audit.LogBillChange(ctx, log.OpDelete, sess.UserID, id, deleted.Name, deleted.Amount.String())
	events.PublishAsync(ctx, s.events, events.NewBillEvent(events.BillDeleted, sess.UserID, sess.Email, id, deleted.Input()), s.logger)

	_ = htmx.NewResponse().
		AddTrigger(triggerBillsChanged(), triggerShowMessage("Bill deleted successfully!")).
		Write(w)
}

// cachedBill looks a record up in the session's cached list without calling
// the API.
func (s *Server) cachedBill(sessionID, id string) core.BillingRecord {
	bills, _ := s.bills.Get(cache.Key(sessionID, billsKey))
	for _, b := range bills {
		if b.ID == id {
			return b
		}
	}
	return core.BillingRecord{ID: id}
}

// billIDParam returns the {id} path segment, unescaped.
func billIDParam(r *http.Request) string {
	id := chi.URLParam(r, "id")
	if unescaped, err := url.PathUnescape(id); err == nil {
		return unescaped
	}
	return id
}

// failureFields are the log fields of a failed billing API call.
func failureFields(r *http.Request, userID string, err error) log.LogFields {
	return log.NewFields().
		WithRequestID(trace.FromRequest(r)).
		WithUser(userID, "").
		WithErrorType(errorType(err))
}

// upstreamStatus maps a billing API failure to the status of our response.
func upstreamStatus(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, billing.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, billing.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}
