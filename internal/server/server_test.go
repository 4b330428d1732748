package server

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/spacemouse-bridge/bridge/internal/config"
	"github.com/spacemouse-bridge/bridge/internal/eventbus"
	"github.com/spacemouse-bridge/bridge/internal/wamp"
)

func newTestServer() *Server {
	store := config.NewStore(config.Default(), "")
	bus := eventbus.New()
	return New(store, bus, nil, nil)
}

func TestHandleRootReturnsProbeJSON(t *testing.T) {
	s := newTestServer()
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	srv := httptest.NewServer(withCORS(mux))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("content-type = %q", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("Access-Control-Allow-Private-Network") != "true" {
		t.Fatal("missing Access-Control-Allow-Private-Network header")
	}
}

func TestOptionsPreflightReturnsNoContent(t *testing.T) {
	s := newTestServer()
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	srv := httptest.NewServer(withCORS(mux))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
}

func TestUpgradeSendsWelcomeAndHandshakeWorks(t *testing.T) {
	s := newTestServer()
	mux := http.NewServeMux()
	mux.HandleFunc(nlproxyPath, s.handleUpgrade)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):] + nlproxyPath
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	msg, err := wamp.Parse(raw)
	if err != nil {
		t.Fatalf("parse welcome: %v", err)
	}
	if msg.Type != wamp.TypeWelcome {
		t.Fatalf("type = %d, want WELCOME", msg.Type)
	}
}

func TestLoadOrGenerateCertPersistsAndReloads(t *testing.T) {
	dir := t.TempDir()

	cert1, err := LoadOrGenerateCert(dir)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(cert1.Certificate) == 0 {
		t.Fatal("expected at least one certificate in the chain")
	}

	if _, err := os.Stat(dir + "/" + certFileName); err != nil {
		t.Fatalf("cert file not written: %v", err)
	}
	if _, err := os.Stat(dir + "/" + keyFileName); err != nil {
		t.Fatalf("key file not written: %v", err)
	}

	cert2, err := LoadOrGenerateCert(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(cert2.Certificate) == 0 || string(cert2.Certificate[0]) != string(cert1.Certificate[0]) {
		t.Fatal("expected the second call to reload the same persisted certificate")
	}
}
