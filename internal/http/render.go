package http

import (
	"bytes"
	"html/template"
	"net/http"
	"net/url"
	"strconv"

	"github.com/angelofallars/htmx-go"

	"billing/internal/log"
	appweb "billing/web"
)

// Client-side events sent through HX-Trigger.
const (
	// EventBillsChanged makes the table, stats, chart and activity partials
	// reload.
	EventBillsChanged = "bills-changed"
	// EventShowMessage carries a flash message in its detail.
	EventShowMessage = "show-message"
)

func triggerBillsChanged() htmx.EventTrigger {
	return htmx.Trigger(EventBillsChanged)
}

func triggerShowMessage(message string) htmx.EventTrigger {
	return htmx.TriggerDetail(EventShowMessage, message)
}

func parseTemplates() (*template.Template, error) {
	return template.New("").Funcs(template.FuncMap{
		"pathEscape": url.PathEscape,
	}).ParseFS(appweb.TemplatesFS, "templates/*.html")
}

// execute renders a named template into a buffer first so that a template
// error never leaves a half-written page.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, name string, data any) (*bytes.Buffer, bool) {
	if s.templates == nil {
		s.logger.ErrorContext(r.Context(), "Templates not loaded", log.FieldPath, r.URL.Path)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return nil, false
	}
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Template execution failed",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeInternal,
			log.FieldOperation, log.OpRender,
			"template", name)
		http.Error(w, "Error rendering page", http.StatusInternalServerError)
		return nil, false
	}
	return &buf, true
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	buf, ok := s.execute(w, r, name, data)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// renderResponse writes resp's headers and status with a rendered body.
func (s *Server) renderResponse(w http.ResponseWriter, r *http.Request, resp htmx.Response, name string, data any) {
	buf, ok := s.execute(w, r, name, data)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := resp.Write(w); err != nil {
		s.logger.ErrorContext(r.Context(), "htmx response headers failed", log.FieldError, err)
		return
	}
	_, _ = buf.WriteTo(w)
}

// errorFragment writes an inline error box.
func errorFragment(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`<div class="error">` + template.HTMLEscapeString(message) + `</div>`))
}

// redirect navigates the browser to path, through HX-Redirect for htmx
// requests.
func redirect(w http.ResponseWriter, r *http.Request, path string) {
	if htmx.IsHTMX(r) {
		_ = htmx.NewResponse().Redirect(path).Write(w)
		return
	}
	http.Redirect(w, r, path, http.StatusSeeOther)
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Retry-After", strconv.Itoa(s.limiter.RetryAfter()))
	msg := "Too many requests. Please try again later."
	if htmx.IsHTMX(r) {
		_ = htmx.NewResponse().
			StatusCode(http.StatusTooManyRequests).
			Reswap(htmx.SwapNone).
			AddTrigger(triggerShowMessage(msg)).
			Write(w)
		return
	}
	http.Error(w, msg, http.StatusTooManyRequests)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	if htmx.IsHTMX(r) {
		errorFragment(w, http.StatusNotFound, "Not found")
		return
	}
	s.render(w, r, http.StatusNotFound, "not_found.html", pageData{Title: "Not found"})
}

// pageData is shared by full pages. Email is the signed-in user on the
// dashboard and the submitted address on the login and signup forms.
type pageData struct {
	Title string
	Email string
	Error string
}
