// Package session implements the per-WebSocket WAMP v1 state machine:
// welcome, prefix table, subscription, inbound dispatch, and the
// outbound-RPC-tunneled-as-EVENT waiter table (spec.md §4.4).
package session

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/spacemouse-bridge/bridge/internal/logging"
	"github.com/spacemouse-bridge/bridge/internal/wamp"
)

// ServerIdent is the free-form server identifier sent in WELCOME.
const ServerIdent = "spacemouse-bridge"

// outboundRPCTimeout is the fixed deadline for an outbound RPC waiter
// (spec.md §4.4 step 4).
const outboundRPCTimeout = 500 * time.Millisecond

const writeWait = 10 * time.Second

// ErrNoSubscription is returned by CallRemote when no SUBSCRIBE has been
// received yet; the motion pipeline treats this as "client not ready"
// (spec.md §4.4 step 1).
var ErrNoSubscription = errors.New("session: no subscribed topic")

// CallHandler resolves an inbound CALL to a result or a protocol error. It
// is implemented by the Controller; Session itself only owns WAMP
// bookkeeping (spec.md §4.4 vs §4.5).
type CallHandler interface {
	HandleCall(call wamp.Call, resolvedURI string) (result json.RawMessage, callErr *wamp.CallError)
}

type pendingRPC struct {
	result chan rpcOutcome
}

type rpcOutcome struct {
	result json.RawMessage
	err    error
}

// Session owns one upgraded WebSocket connection and its WAMP state.
type Session struct {
	ID   string
	conn *websocket.Conn

	writeMu sync.Mutex

	prefixes *wamp.PrefixTable

	topicMu sync.RWMutex
	topic   string

	pendingMu sync.Mutex
	pending   map[string]*pendingRPC

	log *slog.Logger
}

func newLog(sessionID string) *slog.Logger {
	return logging.WithSession(logging.L("session"), sessionID)
}

// New creates a Session over an already-upgraded WebSocket connection,
// sends WELCOME, and returns the session ready for Run.
func New(conn *websocket.Conn) (*Session, error) {
	id, err := randomID()
	if err != nil {
		return nil, fmt.Errorf("session: generate id: %w", err)
	}

	s := &Session{
		ID:       id,
		conn:     conn,
		prefixes: wamp.NewPrefixTable(),
		pending:  make(map[string]*pendingRPC),
		log:      newLog(id),
	}

	welcome := wamp.Welcome{SessionID: id, ServerIdent: ServerIdent}
	raw, err := welcome.Encode()
	if err != nil {
		return nil, fmt.Errorf("session: encode welcome: %w", err)
	}
	if err := s.writeRaw(raw); err != nil {
		return nil, fmt.Errorf("session: send welcome: %w", err)
	}

	return s, nil
}

// Run reads inbound WAMP messages until the connection closes, dispatching
// CALLs to handler. It blocks until the connection errors or closes.
func (s *Session) Run(handler CallHandler) error {
	defer s.cancelPending()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}

		msg, err := wamp.Parse(raw)
		if err != nil {
			// SessionProtocolError: log and keep the session open (spec.md
			// §7 — the client is known to send junk during reconnect).
			s.log.Warn("malformed wamp message", "error", err)
			continue
		}

		s.dispatch(msg, handler)
	}
}

func (s *Session) dispatch(msg wamp.Any, handler CallHandler) {
	switch msg.Type {
	case wamp.TypePrefix:
		s.prefixes.Register(msg.Prefix.Short, msg.Prefix.FullURI)

	case wamp.TypeCall:
		start := time.Now()
		resolved := s.prefixes.Resolve(msg.Call.ProcURI)
		result, callErr := handler.HandleCall(*msg.Call, resolved)
		s.log.Debug("inbound call handled",
			logging.KeyCallID, msg.Call.CallID,
			"procUri", resolved,
			logging.KeyDurationMs, time.Since(start).Milliseconds(),
		)
		s.reply(msg.Call.CallID, result, callErr)

	case wamp.TypeSubscribe:
		resolved := s.prefixes.Resolve(msg.Subscribe.Topic)
		s.topicMu.Lock()
		s.topic = resolved
		s.topicMu.Unlock()

	case wamp.TypeCallResult:
		s.resolvePending(msg.CallResult.CallID, msg.CallResult.Result, nil)

	case wamp.TypeCallError:
		s.resolvePending(msg.CallError.CallID, nil, fmt.Errorf("wamp: %s: %s", msg.CallError.ErrorURI, msg.CallError.Description))

	case wamp.TypeUnsubscribe, wamp.TypePublish, wamp.TypeEvent:
		// Ignored when received from a client (spec.md §4.4).

	default:
		s.log.Warn("unhandled wamp message type", "type", msg.Type)
	}
}

func (s *Session) reply(callID string, result json.RawMessage, callErr *wamp.CallError) {
	var raw []byte
	var err error
	if callErr != nil {
		callErr.CallID = callID
		raw, err = callErr.Encode()
	} else {
		raw, err = wamp.CallResult{CallID: callID, Result: result}.Encode()
	}
	if err != nil {
		s.log.Error("encode call reply", "error", err)
		return
	}
	if err := s.writeRaw(raw); err != nil {
		s.log.Warn("write call reply", "error", err)
	}
}

// SubscribedTopic returns the current subscription, or "" if none has been
// set yet.
func (s *Session) SubscribedTopic() string {
	s.topicMu.RLock()
	defer s.topicMu.RUnlock()
	return s.topic
}

// CallRemote issues an outbound RPC tunneled as an EVENT payload
// (spec.md §4.4): it requires a subscribed topic, generates a fresh
// call_id, publishes the EVENT, and waits up to 500ms for a matching
// CALLRESULT/CALLERROR. It never returns an error to a motion-pipeline
// caller that can't handle one; callers that need "no reply" to look like
// "no result" can treat a nil result plus non-nil error uniformly.
func (s *Session) CallRemote(method string, args ...json.RawMessage) (json.RawMessage, error) {
	topic := s.SubscribedTopic()
	if topic == "" {
		return nil, ErrNoSubscription
	}

	callID, err := randomID()
	if err != nil {
		return nil, fmt.Errorf("session: generate call id: %w", err)
	}

	// The empty-string argument is a required quirk of the target client;
	// omitting it breaks property reads (spec.md §4.4 step 3).
	callArgs := append([]json.RawMessage{json.RawMessage(`""`)}, args...)
	call := wamp.Call{CallID: callID, ProcURI: method, Args: callArgs}
	callRaw, err := call.Encode()
	if err != nil {
		return nil, fmt.Errorf("session: encode outbound call: %w", err)
	}

	event := wamp.Event{Topic: topic, Payload: callRaw}
	eventRaw, err := event.Encode()
	if err != nil {
		return nil, fmt.Errorf("session: encode outbound event: %w", err)
	}

	waiter := &pendingRPC{result: make(chan rpcOutcome, 1)}
	s.pendingMu.Lock()
	s.pending[callID] = waiter
	s.pendingMu.Unlock()

	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, callID)
		s.pendingMu.Unlock()
	}()

	start := time.Now()
	if err := s.writeRaw(eventRaw); err != nil {
		return nil, fmt.Errorf("session: publish outbound call: %w", err)
	}

	select {
	case outcome := <-waiter.result:
		s.log.Debug("outbound rpc completed",
			logging.KeyCallID, callID,
			"method", method,
			logging.KeyDurationMs, time.Since(start).Milliseconds(),
		)
		return outcome.result, outcome.err
	case <-time.After(outboundRPCTimeout):
		s.log.Warn("outbound rpc timed out",
			logging.KeyCallID, callID,
			"method", method,
			logging.KeyDurationMs, time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("session: outbound rpc %s timed out", method)
	}
}

func (s *Session) resolvePending(callID string, result json.RawMessage, err error) {
	s.pendingMu.Lock()
	waiter, ok := s.pending[callID]
	if ok {
		delete(s.pending, callID)
	}
	s.pendingMu.Unlock()

	if !ok {
		return // absent (e.g. after timeout): discard, per spec.md §4.4
	}
	waiter.result <- rpcOutcome{result: result, err: err}
}

// cancelPending resolves every outstanding waiter with a cancellation
// failure on disconnect (spec.md §5).
func (s *Session) cancelPending() {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for id, waiter := range s.pending {
		waiter.result <- rpcOutcome{err: fmt.Errorf("session: cancelled on disconnect")}
		delete(s.pending, id)
	}
}

func (s *Session) writeRaw(raw []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, raw)
}

func randomID() (string, error) {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(buf), nil
}
