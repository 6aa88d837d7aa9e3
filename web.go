package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	observerDepth = 64
	writeWait     = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 16384,
}

type messageLister interface {
	getMessages() ([]message, error)
}

type webServer struct {
	log      *slog.Logger
	audioDir string
	webDir   string
	workers  int
	store    messageLister
	events   *hub
	spectrum *hub
	gatherer prometheus.Gatherer
	srv      *http.Server
}

func newWebServer(log *slog.Logger, cfg *config, store messageLister, events, spectrum *hub, gatherer prometheus.Gatherer) *webServer {
	w := &webServer{
		log:      log.With("stage", "web"),
		audioDir: cfg.audioDir(),
		webDir:   cfg.Misc.WebDir,
		workers:  cfg.Server.Workers,
		store:    store,
		events:   events,
		spectrum: spectrum,
		gatherer: gatherer,
	}
	w.srv = &http.Server{
		Addr:        cfg.listenAddr(),
		Handler:     w.routes(),
		ReadTimeout: cfg.Server.ReadTimeout,
	}
	return w
}

func (w *webServer) routes() http.Handler {
	mux := http.NewServeMux()
	limit := limiter(w.workers)

	mux.Handle("GET /messages", limit(http.HandlerFunc(w.handleMessages)))
	mux.Handle("GET /audio/{uuid}", limit(http.HandlerFunc(w.handleAudio)))
	mux.Handle("GET /metrics", limit(promhttp.HandlerFor(w.gatherer, promhttp.HandlerOpts{})))
	mux.HandleFunc("GET /events", func(rw http.ResponseWriter, r *http.Request) {
		w.serveHub(w.events, rw, r)
	})
	if w.spectrum != nil {
		mux.HandleFunc("GET /spectrum", func(rw http.ResponseWriter, r *http.Request) {
			w.serveHub(w.spectrum, rw, r)
		})
	}
	mux.Handle("/", limit(http.FileServer(http.Dir(w.webDir))))

	return mux
}

// limiter bounds the number of requests served at once. Websockets are long
// lived and are not counted.
func limiter(workers int) func(http.Handler) http.Handler {
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-r.Context().Done():
				return
			}
			next.ServeHTTP(rw, r)
		})
	}
}

func (w *webServer) start() {
	go func() {
		w.log.Info("listening", "addr", w.srv.Addr)
		if err := w.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.log.Error("web server stopped", "err", err)
		}
	}()
}

func (w *webServer) stop(ctx context.Context) error {
	return w.srv.Shutdown(ctx)
}

func (w *webServer) handleMessages(rw http.ResponseWriter, r *http.Request) {
	messages, err := w.store.getMessages()
	if err != nil {
		w.log.Error("listing messages", "err", err)
		http.Error(rw, "unable to list messages", http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(messages); err != nil {
		w.log.Warn("writing messages", "err", err)
	}
}

func (w *webServer) handleAudio(rw http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("uuid"))
	if err != nil {
		http.Error(rw, "invalid recording id", http.StatusBadRequest)
		return
	}

	f, err := os.Open(filepath.Join(w.audioDir, id.String()+".wav"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.NotFound(rw, r)
			return
		}
		http.Error(rw, "unable to open recording", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(rw, "unable to open recording", http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", "audio/wav")
	http.ServeContent(rw, r, info.Name(), info.ModTime(), f)
}

// serveHub upgrades the request and streams every payload broadcast on h
// until the client goes away or the hub drops the observer.
func (w *webServer) serveHub(h *hub, rw http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	o := h.register()
	defer h.unregister(o)
	w.log.Debug("observer connected", "hub", h.name, "remote", r.RemoteAddr)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			w.log.Debug("observer disconnected", "hub", h.name, "remote", r.RemoteAddr)
			return
		case <-o.done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case payload := <-o.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}
