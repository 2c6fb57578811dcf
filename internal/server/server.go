package server

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/DailyBinder/internal/config"
	"github.com/TobiSchelling/DailyBinder/internal/database"
	"github.com/TobiSchelling/DailyBinder/internal/edition"
	"github.com/TobiSchelling/DailyBinder/internal/pipeline"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// Server is the local web UI for binding and browsing editions.
type Server struct {
	cfg    *config.Config
	db     *database.DB
	binder *pipeline.Binder
	log    logrus.FieldLogger
	pages  map[string]*template.Template
	mux    *http.ServeMux
	now    func() time.Time
}

// New creates a new Server.
func New(cfg *config.Config, db *database.DB, binder *pipeline.Binder, log logrus.FieldLogger) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone so {{define "content"}} does not collide.
	pageNames := []string{"index.html", "reader.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{
		cfg:    cfg,
		db:     db,
		binder: binder,
		log:    log,
		pages:  pages,
		mux:    http.NewServeMux(),
		now:    time.Now,
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("POST /bind", s.handleBind)
	s.mux.HandleFunc("GET /editions/{id}", s.handleEdition)
	s.mux.HandleFunc("GET /editions/{id}/download", s.handleDownload)
	s.mux.HandleFunc("GET /editions/{id}/reader", s.handleReader)
	s.mux.HandleFunc("POST /editions/{id}/delete", s.handleDelete)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.renderIndex(w, http.StatusOK, "", "")
}

func (s *Server) renderIndex(w http.ResponseWriter, status int, formURL, errMsg string) {
	editions, err := s.db.GetAllEditions()
	if err != nil {
		s.log.WithError(err).Error("listing editions")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	stats, err := s.db.GetStats()
	if err != nil {
		s.log.WithError(err).Warn("loading archive stats")
	}

	s.render(w, status, "index.html", map[string]any{
		"SiteName": s.cfg.Site.Name,
		"TodayURL": pipeline.TodayURL(s.cfg, s.now()),
		"URL":      formURL,
		"Workers":  s.cfg.Crawl.Workers,
		"Editions": editions,
		"Stats":    stats,
		"Error":    errMsg,
	})
}

func (s *Server) handleBind(w http.ResponseWriter, r *http.Request) {
	indexURL := strings.TrimSpace(r.FormValue("url"))
	if indexURL == "" || r.FormValue("today") != "" {
		indexURL = pipeline.TodayURL(s.cfg, s.now())
	}

	opts := pipeline.Options{}
	if v := r.FormValue("workers"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.renderIndex(w, http.StatusBadRequest, indexURL, "Workers must be a number")
			return
		}
		opts.Workers = config.ClampWorkers(n)
	}

	doc, err := s.binder.Run(r.Context(), indexURL, opts)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, pipeline.ErrNoLinks) {
			status = http.StatusUnprocessableEntity
		}
		s.log.WithError(err).WithField("index", indexURL).Warn("bind failed")
		s.renderIndex(w, status, indexURL, err.Error())
		return
	}

	markdown, err := s.binder.Renderer().Markdown(doc.HTML)
	if err != nil {
		s.log.WithError(err).Warn("markdown rendition failed")
		markdown = ""
	}

	id, err := s.db.InsertEdition(doc, markdown)
	if err != nil {
		s.log.WithError(err).Error("archiving edition")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/editions/"+id, http.StatusSeeOther)
}

// lookup writes a 404 and returns nil when the edition does not exist.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) *database.Edition {
	e, err := s.db.GetEdition(r.PathValue("id"))
	if err != nil {
		s.log.WithError(err).Error("loading edition")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil
	}
	if e == nil {
		http.NotFound(w, r)
		return nil
	}
	return e
}

func (s *Server) handleEdition(w http.ResponseWriter, r *http.Request) {
	e := s.lookup(w, r)
	if e == nil {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(e.HTML))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	e := s.lookup(w, r)
	if e == nil {
		return
	}
	doc := edition.Document{DateToken: e.DateToken}
	name := doc.Filename(s.cfg.Output.FilenamePrefix, "html")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Write([]byte(e.HTML))
}

func (s *Server) handleReader(w http.ResponseWriter, r *http.Request) {
	e := s.lookup(w, r)
	if e == nil {
		return
	}

	var text string
	if e.Markdown != nil {
		text = *e.Markdown
	} else {
		converted, err := s.binder.Renderer().Markdown(e.HTML)
		if err != nil {
			s.log.WithError(err).Error("converting archived edition")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		text = converted
	}

	articles, err := s.db.GetEditionArticles(e.ID)
	if err != nil {
		s.log.WithError(err).WithField("edition", e.ID).Warn("loading edition articles")
	}
	s.render(w, http.StatusOK, "reader.html", map[string]any{
		"Edition":  e,
		"Articles": articles,
		"Markdown": text,
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.db.DeleteEdition(r.PathValue("id")); err != nil {
		s.log.WithError(err).Error("deleting edition")
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.log.Errorf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		s.log.WithError(err).Errorf("Error rendering template %s", name)
	}
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve starts the HTTP server on the given port.
func Serve(cfg *config.Config, db *database.DB, binder *pipeline.Binder, log logrus.FieldLogger, port int) error {
	srv, err := New(cfg, db, binder, log)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	log.Infof("Server listening on http://%s", addr)
	return http.ListenAndServe(addr, srv.Handler())
}
