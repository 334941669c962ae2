// Package ota is the node's local update service: a small web server
// with a landing page, a firmware upload endpoint and a live feed of
// published messages.
//
// HTTP handling runs on the server's own goroutines. The supervisor
// only polls [Service.Pump] and [Service.Installing], both of which
// are non-blocking flag reads.
package ota

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/net/netutil"
)

// NotFoundText is the body of every 404 response.
const NotFoundText = "404 - Page Not Found, oops!"

// maxImageSize bounds an uploaded image.
const maxImageSize = 256 << 20

// Config configures the update service.
type Config struct {
	Listen string
	// Target is the file an uploaded image replaces.
	Target string

	Username string
	// PasswordHash is a bcrypt hash; empty disables authentication.
	PasswordHash string
	MaxConns     int

	Host    string
	Version string
	// Started is when the process began; zero means when New ran.
	Started time.Time
	// Build holds build metadata rows for the landing page.
	Build map[string]string
	// Health reports the session health shown on the landing page.
	Health func() string
}

// Service is the update service.
type Service struct {
	cfg       Config
	logger    *slog.Logger
	templates map[string]*template.Template
	hub       *hub

	server   *http.Server
	listener net.Listener

	installing atomic.Bool
	installed  atomic.Bool
}

// New creates an update service. It does not listen until [Service.Start].
func New(cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Started.IsZero() {
		cfg.Started = time.Now()
	}
	return &Service{
		cfg:       cfg,
		logger:    logger,
		templates: loadTemplates(),
		hub:       newHub(logger),
	}
}

// Handler returns the service's routes.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleLanding)
	mux.HandleFunc("GET /update", s.handleUpdateForm)
	mux.HandleFunc("POST /update", s.handleUpload)
	mux.HandleFunc("GET /ws", s.hub.serveWS)
	mux.HandleFunc("/", handleNotFound)
	return mux
}

// Start binds the listener and serves in the background.
func (s *Service) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	if s.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("update service listening", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("update service stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Service) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops the server and drops websocket viewers.
func (s *Service) Shutdown(ctx context.Context) error {
	s.hub.closeAll()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Pump reports whether a new image has been installed and the node
// should restart into it.
func (s *Service) Pump() bool {
	return s.installed.Load()
}

// Installing reports whether an upload is in flight.
func (s *Service) Installing() bool {
	return s.installing.Load()
}

// Broadcast sends msg to every websocket viewer. It never blocks.
func (s *Service) Broadcast(msg []byte) {
	s.hub.broadcast(msg)
}

func (s *Service) handleLanding(w http.ResponseWriter, r *http.Request) {
	s.render(w, "landing.html")
}

func (s *Service) handleUpdateForm(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	s.render(w, "update.html")
}

func (s *Service) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	if !s.installing.CompareAndSwap(false, true) {
		http.Error(w, "update already in progress", http.StatusConflict)
		return
	}
	defer s.installing.Store(false)

	r.Body = http.MaxBytesReader(w, r.Body, maxImageSize)
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expected multipart upload", http.StatusBadRequest)
		return
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			http.Error(w, "no firmware part in upload", http.StatusBadRequest)
			return
		}
		if err != nil {
			http.Error(w, "read upload: "+err.Error(), http.StatusBadRequest)
			return
		}
		if part.FormName() != "firmware" {
			continue
		}

		start := time.Now()
		n, err := s.install(part)
		if err != nil {
			s.logger.Error("update failed", "error", err)
			http.Error(w, "update failed", http.StatusInternalServerError)
			return
		}
		s.installed.Store(true)
		s.logger.Info("update installed",
			"target", s.cfg.Target,
			"bytes", n,
			"elapsed", time.Since(start),
		)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "OK, %d bytes installed, restarting\n", n)
		return
	}
}

// install streams r into a temporary file beside the target and
// renames it into place, so the target is never partially written.
func (s *Service) install(r io.Reader) (int64, error) {
	if s.cfg.Target == "" {
		return 0, errors.New("no update target configured")
	}

	mode := os.FileMode(0o755)
	if fi, err := os.Stat(s.cfg.Target); err == nil {
		mode = fi.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.cfg.Target), "."+filepath.Base(s.cfg.Target)+".update-*")
	if err != nil {
		return 0, fmt.Errorf("create temp image: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return n, fmt.Errorf("write image: %w", err)
	}
	if n == 0 {
		tmp.Close()
		return 0, errors.New("empty image")
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return n, fmt.Errorf("chmod image: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return n, fmt.Errorf("sync image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("close image: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.cfg.Target); err != nil {
		return n, fmt.Errorf("replace %s: %w", s.cfg.Target, err)
	}
	return n, nil
}

// authorized enforces basic auth when a password hash is configured.
func (s *Service) authorized(w http.ResponseWriter, r *http.Request) bool {
	if s.cfg.PasswordHash == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if ok && subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.Username)) == 1 &&
		bcrypt.CompareHashAndPassword([]byte(s.cfg.PasswordHash), []byte(pass)) == nil {
		return true
	}
	w.Header().Set("WWW-Authenticate", `Basic realm="`+s.cfg.Host+`"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
	return false
}

func handleNotFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	io.WriteString(w, NotFoundText)
}
