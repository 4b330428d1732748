// Package wamp implements the minimal WAMP v1 dialect spoken by the
// NL-Proxy CAD-client protocol: JSON arrays tagged by an integer message
// type, CURIE-style `prefix:name` URI resolution, and nothing from WAMP v2
// (spec.md §4.3).
package wamp

import (
	"encoding/json"
	"fmt"
)

// Message type codes, in wire order (spec.md §4.3).
const (
	TypeWelcome     = 0
	TypePrefix      = 1
	TypeCall        = 2
	TypeCallResult  = 3
	TypeCallError   = 4
	TypeSubscribe   = 5
	TypeUnsubscribe = 6
	TypePublish     = 7
	TypeEvent       = 8
)

// ProtocolVersion is the only WAMP version this bridge understands.
const ProtocolVersion = 1

// Welcome is sent unprompted once per accepted WebSocket connection.
type Welcome struct {
	SessionID      string
	ServerIdent    string
}

// Encode serializes a WELCOME message: [0, session_id, protocol_version, server_ident].
func (w Welcome) Encode() ([]byte, error) {
	return json.Marshal([]any{TypeWelcome, w.SessionID, ProtocolVersion, w.ServerIdent})
}

// Prefix registers a CURIE-style short name for a full URI.
type Prefix struct {
	Short   string
	FullURI string
}

// Call is an RPC invocation, inbound from the client or outbound (tunneled
// inside an Event) from the bridge.
type Call struct {
	CallID  string
	ProcURI string
	Args    []json.RawMessage
}

// Encode serializes a CALL message: [2, call_id, proc_uri, args...].
func (c Call) Encode() ([]byte, error) {
	arr := make([]any, 0, 3+len(c.Args))
	arr = append(arr, TypeCall, c.CallID, c.ProcURI)
	for _, a := range c.Args {
		arr = append(arr, a)
	}
	return json.Marshal(arr)
}

// CallResult answers a Call with a success value.
type CallResult struct {
	CallID string
	Result json.RawMessage
}

// Encode serializes a CALLRESULT message: [3, call_id, result].
func (r CallResult) Encode() ([]byte, error) {
	result := r.Result
	if result == nil {
		result = json.RawMessage("null")
	}
	return json.Marshal([]any{TypeCallResult, r.CallID, result})
}

// CallError answers a Call with a failure.
type CallError struct {
	CallID      string
	ErrorURI    string
	Description string
	Details     json.RawMessage
}

// Encode serializes a CALLERROR message:
// [4, call_id, error_uri, description, details?].
func (e CallError) Encode() ([]byte, error) {
	arr := []any{TypeCallError, e.CallID, e.ErrorURI, e.Description}
	if e.Details != nil {
		arr = append(arr, e.Details)
	}
	return json.Marshal(arr)
}

// Subscribe requests delivery of Events published to Topic.
type Subscribe struct {
	Topic string
}

// Unsubscribe cancels a prior Subscribe. The bridge ignores it when
// received from a client (spec.md §4.4) but can still encode one.
type Unsubscribe struct {
	Topic string
}

// Publish requests that Payload be delivered to subscribers of Topic. The
// bridge ignores it when received from a client but can still encode one.
type Publish struct {
	Topic   string
	Payload json.RawMessage
}

// Event delivers Payload to a topic's subscriber. The bridge uses this as
// the sole channel for outbound RPC: Payload is itself an encoded Call
// (spec.md §4.4, "outbound RPC tunneled as EVENT").
type Event struct {
	Topic   string
	Payload json.RawMessage
}

// Encode serializes an EVENT message: [8, topic, payload].
func (e Event) Encode() ([]byte, error) {
	return json.Marshal([]any{TypeEvent, e.Topic, e.Payload})
}

// encodeArray renders typ followed by rest as a bare JSON array, used by Subscribe,
// Unsubscribe and Publish's Encode methods below.
func encodeArray(typ int, rest ...any) ([]byte, error) {
	arr := append([]any{typ}, rest...)
	return json.Marshal(arr)
}

func (s Subscribe) Encode() ([]byte, error)   { return encodeArray(TypeSubscribe, s.Topic) }
func (u Unsubscribe) Encode() ([]byte, error) { return encodeArray(TypeUnsubscribe, u.Topic) }
func (p Publish) Encode() ([]byte, error) {
	payload := p.Payload
	if payload == nil {
		payload = json.RawMessage("null")
	}
	return encodeArray(TypePublish, p.Topic, payload)
}

// Any is the parsed form of an inbound message: exactly one of its fields
// is non-nil, selected by Type.
type Any struct {
	Type int

	Welcome     *Welcome
	Prefix      *Prefix
	Call        *Call
	CallResult  *CallResult
	CallError   *CallError
	Subscribe   *Subscribe
	Unsubscribe *Unsubscribe
	Publish     *Publish
	Event       *Event
}

// Parse decodes a single WAMP message from its JSON array wire form.
func Parse(raw []byte) (Any, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return Any{}, fmt.Errorf("wamp: not a JSON array: %w", err)
	}
	if len(arr) == 0 {
		return Any{}, fmt.Errorf("wamp: empty message")
	}

	var typ int
	if err := json.Unmarshal(arr[0], &typ); err != nil {
		return Any{}, fmt.Errorf("wamp: message type is not an integer: %w", err)
	}

	switch typ {
	case TypeWelcome:
		if len(arr) < 4 {
			return Any{}, fmt.Errorf("wamp: WELCOME needs 4 elements, got %d", len(arr))
		}
		var sessionID, ident string
		var version int
		if err := unmarshalEach(arr[1:4], &sessionID, &version, &ident); err != nil {
			return Any{}, err
		}
		return Any{Type: typ, Welcome: &Welcome{SessionID: sessionID, ServerIdent: ident}}, nil

	case TypePrefix:
		if len(arr) < 3 {
			return Any{}, fmt.Errorf("wamp: PREFIX needs 3 elements, got %d", len(arr))
		}
		var short, full string
		if err := unmarshalEach(arr[1:3], &short, &full); err != nil {
			return Any{}, err
		}
		return Any{Type: typ, Prefix: &Prefix{Short: short, FullURI: full}}, nil

	case TypeCall:
		if len(arr) < 3 {
			return Any{}, fmt.Errorf("wamp: CALL needs at least 3 elements, got %d", len(arr))
		}
		var callID, procURI string
		if err := unmarshalEach(arr[1:3], &callID, &procURI); err != nil {
			return Any{}, err
		}
		return Any{Type: typ, Call: &Call{CallID: callID, ProcURI: procURI, Args: arr[3:]}}, nil

	case TypeCallResult:
		if len(arr) < 3 {
			return Any{}, fmt.Errorf("wamp: CALLRESULT needs 3 elements, got %d", len(arr))
		}
		var callID string
		if err := json.Unmarshal(arr[1], &callID); err != nil {
			return Any{}, fmt.Errorf("wamp: CALLRESULT call_id: %w", err)
		}
		return Any{Type: typ, CallResult: &CallResult{CallID: callID, Result: arr[2]}}, nil

	case TypeCallError:
		if len(arr) < 4 {
			return Any{}, fmt.Errorf("wamp: CALLERROR needs at least 4 elements, got %d", len(arr))
		}
		var callID, errorURI, description string
		if err := unmarshalEach(arr[1:4], &callID, &errorURI, &description); err != nil {
			return Any{}, err
		}
		ce := &CallError{CallID: callID, ErrorURI: errorURI, Description: description}
		if len(arr) > 4 {
			ce.Details = arr[4]
		}
		return Any{Type: typ, CallError: ce}, nil

	case TypeSubscribe:
		if len(arr) < 2 {
			return Any{}, fmt.Errorf("wamp: SUBSCRIBE needs 2 elements, got %d", len(arr))
		}
		var topic string
		if err := json.Unmarshal(arr[1], &topic); err != nil {
			return Any{}, fmt.Errorf("wamp: SUBSCRIBE topic: %w", err)
		}
		return Any{Type: typ, Subscribe: &Subscribe{Topic: topic}}, nil

	case TypeUnsubscribe:
		if len(arr) < 2 {
			return Any{}, fmt.Errorf("wamp: UNSUBSCRIBE needs 2 elements, got %d", len(arr))
		}
		var topic string
		if err := json.Unmarshal(arr[1], &topic); err != nil {
			return Any{}, fmt.Errorf("wamp: UNSUBSCRIBE topic: %w", err)
		}
		return Any{Type: typ, Unsubscribe: &Unsubscribe{Topic: topic}}, nil

	case TypePublish:
		if len(arr) < 3 {
			return Any{}, fmt.Errorf("wamp: PUBLISH needs 3 elements, got %d", len(arr))
		}
		var topic string
		if err := json.Unmarshal(arr[1], &topic); err != nil {
			return Any{}, fmt.Errorf("wamp: PUBLISH topic: %w", err)
		}
		return Any{Type: typ, Publish: &Publish{Topic: topic, Payload: arr[2]}}, nil

	case TypeEvent:
		if len(arr) < 3 {
			return Any{}, fmt.Errorf("wamp: EVENT needs 3 elements, got %d", len(arr))
		}
		var topic string
		if err := json.Unmarshal(arr[1], &topic); err != nil {
			return Any{}, fmt.Errorf("wamp: EVENT topic: %w", err)
		}
		return Any{Type: typ, Event: &Event{Topic: topic, Payload: arr[2]}}, nil

	default:
		return Any{}, fmt.Errorf("wamp: unknown message type %d", typ)
	}
}

func unmarshalEach(raw []json.RawMessage, dests ...any) error {
	for i, dest := range dests {
		if err := json.Unmarshal(raw[i], dest); err != nil {
			return fmt.Errorf("wamp: field %d: %w", i, err)
		}
	}
	return nil
}
