package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/aloks98/deskauth/handoff"
)

//go:embed templates/*.html
var templateFS embed.FS

type pages struct {
	home     *template.Template
	form     *template.Template
	redirect *template.Template
}

func loadPages() (*pages, error) {
	base, err := template.ParseFS(templateFS, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("parsing layout: %w", err)
	}
	page := func(name string) (*template.Template, error) {
		t, err := base.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := t.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}
		return t, nil
	}

	p := &pages{}
	if p.home, err = page("home.html"); err != nil {
		return nil, err
	}
	if p.form, err = page("form.html"); err != nil {
		return nil, err
	}
	if p.redirect, err = page("redirect.html"); err != nil {
		return nil, err
	}
	return p, nil
}

type homePage struct {
	Title   string
	BaseURL string
	Clients []handoff.Client
}

type formPage struct {
	Title    string
	Heading  string
	Submit   string
	Action   string
	Signup   bool
	BaseURL  string
	Selected string
	Clients  []handoff.Client
}

type redirectPage struct {
	Title       string
	Client      handoff.Client
	URI         template.URL
	ExpiresAt   time.Time
	DelayMillis int64
}

// render executes the layout of t with data into a buffer, then writes it.
func (s *Server) render(w http.ResponseWriter, t *template.Template, data any) {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		s.logger.Error("rendering page", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Options", "DENY")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
