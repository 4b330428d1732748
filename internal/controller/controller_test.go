package controller

import (
	"encoding/json"
	"testing"

	"github.com/spacemouse-bridge/bridge/internal/config"
	"github.com/spacemouse-bridge/bridge/internal/eventbus"
	"github.com/spacemouse-bridge/bridge/internal/motion"
	"github.com/spacemouse-bridge/bridge/internal/wamp"
)

// fakeRemote is a RemoteCaller double that lets tests script self:read
// replies and record self:update writes, without a real Session/WebSocket.
type fakeRemote struct {
	topic string

	affine  []float64
	extents []float64

	writes []call
}

type call struct {
	method string
	args   []json.RawMessage
}

func (f *fakeRemote) SubscribedTopic() string { return f.topic }

func (f *fakeRemote) CallRemote(method string, args ...json.RawMessage) (json.RawMessage, error) {
	f.writes = append(f.writes, call{method: method, args: args})

	if method != "self:read" || len(args) == 0 {
		return json.RawMessage("null"), nil
	}
	var prop string
	json.Unmarshal(args[0], &prop)
	switch prop {
	case "view.affine":
		if f.affine == nil {
			return json.RawMessage("null"), nil
		}
		raw, _ := json.Marshal(f.affine)
		return raw, nil
	case "model.extents":
		if f.extents == nil {
			return json.RawMessage("null"), nil
		}
		raw, _ := json.Marshal(f.extents)
		return raw, nil
	default:
		return json.RawMessage("null"), nil
	}
}

type fakeConfigStore struct {
	cfg *config.Config
	err error
}

func (f *fakeConfigStore) Snapshot() *config.Config { return f.cfg.Snapshot() }
func (f *fakeConfigStore) Set(update *config.Config) error {
	if f.err != nil {
		return f.err
	}
	f.cfg = update
	return nil
}

func newTestController(remote *fakeRemote) (*Controller, *fakeConfigStore) {
	cfgStore := &fakeConfigStore{cfg: config.Default()}
	c := New(remote, cfgStore, nil, nil)
	return c, cfgStore
}

func mustArgs(t *testing.T, vals ...any) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, len(vals))
	for i, v := range vals {
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		out[i] = raw
	}
	return out
}

func TestHandshakeCreatesMouseThenController(t *testing.T) {
	c, _ := newTestController(&fakeRemote{})

	result, callErr := c.HandleCall(wamp.Call{CallID: "c1", Args: mustArgs(t, "3dconnexion:3dmouse", "1.0")}, "3dx_rpc:create")
	if callErr != nil {
		t.Fatalf("unexpected error: %v", callErr)
	}
	var mouseResult map[string]string
	json.Unmarshal(result, &mouseResult)
	if mouseResult["connexion"] != mouseInstance {
		t.Fatalf("connexion = %v, want %v", mouseResult, mouseInstance)
	}

	result, callErr = c.HandleCall(wamp.Call{CallID: "c2", Args: mustArgs(t, "3dconnexion:3dcontroller", "mouse0", map[string]string{"name": "Onshape"})}, "3dx_rpc:create")
	if callErr != nil {
		t.Fatalf("unexpected error: %v", callErr)
	}
	var ctrlResult map[string]string
	json.Unmarshal(result, &ctrlResult)
	if ctrlResult["instance"] != controllerInstance {
		t.Fatalf("instance = %v, want %v", ctrlResult, controllerInstance)
	}
}

func TestControllerCreateBeforeMouseCreateIsProtocolError(t *testing.T) {
	c, _ := newTestController(&fakeRemote{})

	_, callErr := c.HandleCall(wamp.Call{CallID: "c1", Args: mustArgs(t, "3dconnexion:3dcontroller", "mouse0", map[string]string{})}, "3dx_rpc:create")
	if callErr == nil {
		t.Fatal("expected a protocol error")
	}
}

func TestUpdateSetsFocus(t *testing.T) {
	c, _ := newTestController(&fakeRemote{})

	focus := true
	props := map[string]any{"focus": focus}
	_, callErr := c.HandleCall(wamp.Call{CallID: "c3", Args: mustArgs(t, "nl:uri", props)}, "update")
	if callErr != nil {
		t.Fatalf("unexpected error: %v", callErr)
	}
	if !c.st.focus {
		t.Fatal("expected focus to be set true")
	}
}

func TestConfigGetReturnsSnapshot(t *testing.T) {
	c, _ := newTestController(&fakeRemote{})
	result, callErr := c.HandleCall(wamp.Call{CallID: "c4"}, "config.get")
	if callErr != nil {
		t.Fatalf("unexpected error: %v", callErr)
	}
	var got config.Config
	if err := json.Unmarshal(result, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Sensitivity != config.Default().Sensitivity {
		t.Fatalf("sensitivity = %v", got.Sensitivity)
	}
}

func TestConfigSetPersistsAndReturnsOK(t *testing.T) {
	c, store := newTestController(&fakeRemote{})
	updated := config.Default()
	updated.Sensitivity = 3.5

	result, callErr := c.HandleCall(wamp.Call{CallID: "c5", Args: mustArgs(t, updated)}, "config.set")
	if callErr != nil {
		t.Fatalf("unexpected error: %v", callErr)
	}
	var ok string
	json.Unmarshal(result, &ok)
	if ok != "OK" {
		t.Fatalf("result = %q, want OK", ok)
	}
	if store.cfg.Sensitivity != 3.5 {
		t.Fatalf("store sensitivity = %v, want 3.5", store.cfg.Sensitivity)
	}
}

func TestUnrecognizedProcURIReturnsNull(t *testing.T) {
	c, _ := newTestController(&fakeRemote{})
	result, callErr := c.HandleCall(wamp.Call{CallID: "c6"}, "nl:something_else")
	if callErr != nil {
		t.Fatalf("unexpected error: %v", callErr)
	}
	if string(result) != "null" {
		t.Fatalf("result = %s, want null", result)
	}
}

func TestMotionWithoutSubscriptionProducesNoWrites(t *testing.T) {
	remote := &fakeRemote{}
	c, _ := newTestController(remote)

	c.HandleEvent(eventbus.Event{Motion: &eventbus.MotionSample{X: 100}})
	if len(remote.writes) != 0 {
		t.Fatalf("expected no writes before subscription, got %d", len(remote.writes))
	}
}

func TestMotionWithNullAffineDropsSampleWithoutWrite(t *testing.T) {
	remote := &fakeRemote{topic: "topic-a"} // affine left nil
	c, _ := newTestController(remote)

	c.HandleEvent(eventbus.Event{Motion: &eventbus.MotionSample{X: 100}})

	for _, w := range remote.writes {
		if w.method == "self:update" {
			t.Fatalf("unexpected self:update write with null affine: %+v", w)
		}
	}
}

func TestMotionWritesUpdateInOrder(t *testing.T) {
	identity := motion.Identity4().Flatten()
	remote := &fakeRemote{topic: "topic-a", affine: identity, extents: []float64{-1, -1, -1, 1, 1, 1}}
	c, _ := newTestController(remote)

	c.HandleEvent(eventbus.Event{Motion: &eventbus.MotionSample{X: 100}})

	var updates []call
	for _, w := range remote.writes {
		if w.method == "self:update" {
			updates = append(updates, w)
		}
	}
	if len(updates) != 2 {
		t.Fatalf("expected exactly 2 self:update writes, got %d", len(updates))
	}
	var firstProp string
	json.Unmarshal(updates[0].args[0], &firstProp)
	if firstProp != "motion" {
		t.Fatalf("first update property = %q, want motion", firstProp)
	}
	var secondProp string
	json.Unmarshal(updates[1].args[0], &secondProp)
	if secondProp != "view.affine" {
		t.Fatalf("second update property = %q, want view.affine", secondProp)
	}
}

func TestZeroMotionSampleProducesNoDriftWrite(t *testing.T) {
	identity := motion.Identity4().Flatten()
	remote := &fakeRemote{topic: "topic-a", affine: identity, extents: []float64{-1, -1, -1, 1, 1, 1}}
	c, _ := newTestController(remote)

	c.HandleEvent(eventbus.Event{Motion: &eventbus.MotionSample{}})

	for _, w := range remote.writes {
		if w.method == "self:update" {
			var prop string
			json.Unmarshal(w.args[0], &prop)
			if prop == "view.affine" {
				t.Fatal("zero sample should not produce a view.affine write")
			}
		}
	}
}

func TestSpin90ButtonSetsPendingSpinAndFlushesPipeline(t *testing.T) {
	identity := motion.Identity4().Flatten()
	remote := &fakeRemote{topic: "topic-a", affine: identity, extents: []float64{-1, -1, -1, 1, 1, 1}}
	c, store := newTestController(remote)
	store.cfg.Buttons = map[string]config.ButtonAction{
		"0": {Action: "logic", Value: "spin_90"},
	}
	store.cfg.SpinAxis = "z"

	c.HandleEvent(eventbus.Event{Button: &eventbus.ButtonEvent{Index: 0, Pressed: true}})

	if c.st.pendingSpin != 0 {
		t.Fatalf("pendingSpin = %v after flush, want 0 (consumed)", c.st.pendingSpin)
	}

	var sawAffineWrite bool
	for _, w := range remote.writes {
		if w.method == "self:update" {
			var prop string
			json.Unmarshal(w.args[0], &prop)
			if prop == "view.affine" {
				sawAffineWrite = true
			}
		}
	}
	if !sawAffineWrite {
		t.Fatal("expected the spin_90 action to flush a view.affine write")
	}
}

func TestLockHorizonTogglesState(t *testing.T) {
	c, store := newTestController(&fakeRemote{})
	store.cfg.Buttons = map[string]config.ButtonAction{
		"1": {Action: "logic", Value: "lock_horizon"},
	}

	c.HandleEvent(eventbus.Event{Button: &eventbus.ButtonEvent{Index: 1, Pressed: true}})
	if !c.st.horizonLocked {
		t.Fatal("expected horizon_locked to be true after first press")
	}
	c.HandleEvent(eventbus.Event{Button: &eventbus.ButtonEvent{Index: 1, Pressed: true}})
	if c.st.horizonLocked {
		t.Fatal("expected horizon_locked to toggle back to false")
	}
}

type fakeKeyboard struct {
	combos []string
}

func (k *fakeKeyboard) InjectCombo(combo string) error {
	k.combos = append(k.combos, combo)
	return nil
}

func TestKeyButtonInjectsConfiguredCombo(t *testing.T) {
	cfgStore := &fakeConfigStore{cfg: config.Default()}
	cfgStore.cfg.Buttons = map[string]config.ButtonAction{
		"2": {Action: "key", Value: "ctrl+shift+f"},
	}
	kb := &fakeKeyboard{}
	c := New(&fakeRemote{}, cfgStore, kb, nil)

	c.HandleEvent(eventbus.Event{Button: &eventbus.ButtonEvent{Index: 2, Pressed: true}})
	if len(kb.combos) != 1 || kb.combos[0] != "ctrl+shift+f" {
		t.Fatalf("combos = %v, want [ctrl+shift+f]", kb.combos)
	}
}

func TestKeyButtonDoesNotFireOnRelease(t *testing.T) {
	cfgStore := &fakeConfigStore{cfg: config.Default()}
	cfgStore.cfg.Buttons = map[string]config.ButtonAction{
		"2": {Action: "key", Value: "ctrl+shift+f"},
	}
	kb := &fakeKeyboard{}
	c := New(&fakeRemote{}, cfgStore, kb, nil)

	c.HandleEvent(eventbus.Event{Button: &eventbus.ButtonEvent{Index: 2, Pressed: false}})
	if len(kb.combos) != 0 {
		t.Fatalf("combos = %v, want none fired on release", kb.combos)
	}
}

func TestModifierButtonFiresOnBothEdges(t *testing.T) {
	cfgStore := &fakeConfigStore{cfg: config.Default()}
	cfgStore.cfg.Buttons = map[string]config.ButtonAction{
		"3": {Action: "modifier", Value: "shift"},
	}
	kb := &fakeKeyboard{}
	c := New(&fakeRemote{}, cfgStore, kb, nil)

	c.HandleEvent(eventbus.Event{Button: &eventbus.ButtonEvent{Index: 3, Pressed: true}})
	c.HandleEvent(eventbus.Event{Button: &eventbus.ButtonEvent{Index: 3, Pressed: false}})
	if len(kb.combos) != 2 || kb.combos[0] != "shift" || kb.combos[1] != "shift" {
		t.Fatalf("combos = %v, want [shift shift]", kb.combos)
	}
}
