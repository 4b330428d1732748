// Package server hosts the TLS WebSocket listener the CAD client connects
// to, and wires each accepted connection to a Session and Controller
// (spec.md §4.7).
package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/spacemouse-bridge/bridge/internal/config"
	"github.com/spacemouse-bridge/bridge/internal/controller"
	"github.com/spacemouse-bridge/bridge/internal/eventbus"
	"github.com/spacemouse-bridge/bridge/internal/logging"
	"github.com/spacemouse-bridge/bridge/internal/session"
)

var log = logging.L("server")

// ServerVersion is reported by the HTTP probe route.
const ServerVersion = "1.4.8.21486"

// nlproxyPath is the preferred WebSocket path (spec.md §4.7).
const nlproxyPath = "/3dconnexion/nlproxy"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
	Subprotocols:    []string{"wamp", "3dx-v1"},
}

// Server hosts the dual-stack TLS listener and fans device events out to
// every connected session's Controller.
type Server struct {
	cfgStore *config.Store
	keyboard controller.Keyboard
	browser  controller.BrowserLauncher
	bus      *eventbus.Bus

	httpSrv *http.Server

	mu          sync.Mutex
	controllers map[*controller.Controller]struct{}
	debugTaps   map[chan eventbus.Event]struct{}
}

// New creates a Server. bus is the shared Event Bus fed by the Device
// Reader; keyboard/browser may be nil stubs when those collaborators are
// unavailable on the host.
func New(cfgStore *config.Store, bus *eventbus.Bus, keyboard controller.Keyboard, browser controller.BrowserLauncher) *Server {
	return &Server{
		cfgStore:    cfgStore,
		keyboard:    keyboard,
		browser:     browser,
		bus:         bus,
		controllers: make(map[*controller.Controller]struct{}),
		debugTaps:   make(map[chan eventbus.Event]struct{}),
	}
}

// ListenAndServeTLS binds port on both IPv4 and IPv6, loading or generating
// the self-signed certificate from tlsDir, and blocks until the listener
// closes or ctx is cancelled (spec.md §4.7).
func (s *Server) ListenAndServeTLS(ctx context.Context, port int, tlsDir string) error {
	cert, err := LoadOrGenerateCert(tlsDir)
	if err != nil {
		return fmt.Errorf("fatal startup: tls material: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc(nlproxyPath, s.handleUpgrade)
	mux.HandleFunc("/config", s.handleConfigPage)
	mux.HandleFunc("/debug/events", s.handleDebugEvents)

	s.httpSrv = &http.Server{
		Handler:   withCORS(mux),
		TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("fatal startup: bind listener: %w", err)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(shutdownCtx)
	}()

	log.Info("listening", "port", port)
	err = s.httpSrv.ServeTLS(listener, "", "")
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// withCORS adds the headers the CAD client's browser requires on every
// response, including the private-network-access header (spec.md §4.7).
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Allow-Private-Network", "true")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleRoot serves the HTTP probe when not upgrading, or the WebSocket
// bridge when it is (spec.md §4.7: `GET /` doubles as both).
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		s.handleUpgrade(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"port": portFromHost(r.Host), "version": ServerVersion})
}

func portFromHost(host string) int {
	_, portStr, err := net.SplitHostPort(host)
	if err != nil {
		return 0
	}
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	return port
}

// handleConfigPage is out of scope (spec.md §4.7): serve a minimal
// placeholder rather than nothing, so the route exists for the client.
func (s *Server) handleConfigPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><p>Configuration is managed via the WAMP config.get/config.set RPCs.</p></body></html>")
}

// handleUpgrade upgrades the connection and runs its Session/Controller
// pair until the client disconnects.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sess, err := session.New(conn)
	if err != nil {
		log.Error("create session", "error", err)
		return
	}

	ctrl := controller.New(sess, s.cfgStore, s.keyboard, s.browser)
	s.registerController(ctrl)
	defer s.unregisterController(ctrl)

	log.Info("session connected", "sessionId", sess.ID)
	if err := sess.Run(ctrl); err != nil {
		log.Debug("session closed", "sessionId", sess.ID, "error", err)
	}
}

func (s *Server) registerController(c *controller.Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controllers[c] = struct{}{}
}

func (s *Server) unregisterController(c *controller.Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.controllers, c)
}

// DispatchEvents drains the Event Bus and fans every event out to every
// currently connected session's Controller. It blocks until the bus closes;
// run it in its own goroutine.
func (s *Server) DispatchEvents() {
	for ev := range s.bus.Events() {
		s.mu.Lock()
		targets := make([]*controller.Controller, 0, len(s.controllers))
		for c := range s.controllers {
			targets = append(targets, c)
		}
		s.mu.Unlock()

		for _, c := range targets {
			c.HandleEvent(ev)
		}

		s.mu.Lock()
		for tap := range s.debugTaps {
			select {
			case tap <- ev:
			default:
			}
		}
		s.mu.Unlock()
	}
}

// handleDebugEvents streams newline-delimited JSON motion/button samples
// over Server-Sent Events for local diagnostics. This is a supplemental
// route beyond the protocol bridge itself and carries no RPC semantics.
func (s *Server) handleDebugEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	tap := make(chan eventbus.Event, 16)
	s.mu.Lock()
	s.debugTaps[tap] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.debugTaps, tap)
		s.mu.Unlock()
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-tap:
			raw, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", raw)
			flusher.Flush()
		}
	}
}
