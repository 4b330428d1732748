// Package controller implements the per-session application logic sitting
// between the WAMP session state machine and the pure Motion Engine:
// handshake, focus tracking, the motion pipeline, and button actions
// (spec.md §4.5).
package controller

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"github.com/spacemouse-bridge/bridge/internal/config"
	"github.com/spacemouse-bridge/bridge/internal/eventbus"
	"github.com/spacemouse-bridge/bridge/internal/logging"
	"github.com/spacemouse-bridge/bridge/internal/motion"
	"github.com/spacemouse-bridge/bridge/internal/session"
	"github.com/spacemouse-bridge/bridge/internal/wamp"
)

var log = logging.L("controller")

const (
	mouseInstance      = "mouse0"
	controllerInstance = "controller0"
)

// Keyboard is the external Virtual Keyboard capability: inject a key combo
// like "ctrl+shift+f". Process-wide, safe for concurrent use (spec.md §5).
type Keyboard interface {
	InjectCombo(combo string) error
}

// BrowserLauncher opens a URL in the user's default browser, best-effort.
type BrowserLauncher interface {
	Open(url string) error
}

// RemoteCaller is the subset of Session a Controller needs: outbound RPC
// and the current subscription state.
type RemoteCaller interface {
	CallRemote(method string, args ...json.RawMessage) (json.RawMessage, error)
	SubscribedTopic() string
}

// ConfigStore lets the Controller read the live config and persist updates
// from a `config.set` call without depending on the concrete file layout.
type ConfigStore interface {
	Snapshot() *config.Config
	Set(update *config.Config) error
}

// state is the mutable per-session controller state (spec.md §4 "ControllerState").
type state struct {
	clientMetadata json.RawMessage
	focus          bool
	horizonLocked  bool
	pendingSpin    float64
	pendingAxis    string

	mouseCreated      bool
	controllerCreated bool
}

// Controller owns one session's handshake and motion-pipeline state.
type Controller struct {
	remote   RemoteCaller
	cfg      ConfigStore
	keyboard Keyboard
	browser  BrowserLauncher

	motionBusy atomic.Bool

	st state
}

// New creates a Controller for one session.
func New(remote RemoteCaller, cfg ConfigStore, keyboard Keyboard, browser BrowserLauncher) *Controller {
	return &Controller{remote: remote, cfg: cfg, keyboard: keyboard, browser: browser}
}

// HandleCall implements session.CallHandler: dispatch by substring match
// against the resolved proc_uri (spec.md §4.5).
func (c *Controller) HandleCall(call wamp.Call, resolvedURI string) (json.RawMessage, *wamp.CallError) {
	switch {
	case strings.Contains(resolvedURI, "create"):
		return c.handleCreate(call)
	case strings.Contains(resolvedURI, "update"):
		return c.handleUpdate(call)
	case strings.Contains(resolvedURI, "config.get"):
		return c.handleConfigGet()
	case strings.Contains(resolvedURI, "config.set"):
		return c.handleConfigSet(call)
	default:
		return json.RawMessage("null"), nil
	}
}

func (c *Controller) handleCreate(call wamp.Call) (json.RawMessage, *wamp.CallError) {
	if len(call.Args) == 0 {
		return nil, protocolError(call.CallID, "create requires at least one argument")
	}
	var kind string
	if err := json.Unmarshal(call.Args[0], &kind); err != nil {
		return nil, protocolError(call.CallID, "create argument 0 must be a string")
	}

	switch {
	case strings.Contains(kind, "3dmouse"):
		c.st.mouseCreated = true
		return json.Marshal(map[string]string{"connexion": mouseInstance})

	case strings.Contains(kind, "3dcontroller"):
		if !c.st.mouseCreated {
			return nil, protocolError(call.CallID, "create 3dcontroller received before create 3dmouse")
		}
		if len(call.Args) > 2 {
			c.st.clientMetadata = call.Args[2]
		}
		c.st.controllerCreated = true
		return json.Marshal(map[string]string{"instance": controllerInstance})

	default:
		return nil, protocolError(call.CallID, fmt.Sprintf("unknown create target %q", kind))
	}
}

func (c *Controller) handleUpdate(call wamp.Call) (json.RawMessage, *wamp.CallError) {
	if len(call.Args) < 2 {
		return json.RawMessage("null"), nil
	}
	var props struct {
		Focus *bool `json:"focus"`
	}
	if err := json.Unmarshal(call.Args[1], &props); err == nil && props.Focus != nil {
		c.st.focus = *props.Focus
	}
	return json.RawMessage("null"), nil
}

func (c *Controller) handleConfigGet() (json.RawMessage, *wamp.CallError) {
	snap := c.cfg.Snapshot()
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, &wamp.CallError{ErrorURI: "config.get", Description: err.Error()}
	}
	return raw, nil
}

func (c *Controller) handleConfigSet(call wamp.Call) (json.RawMessage, *wamp.CallError) {
	if len(call.Args) == 0 {
		return nil, &wamp.CallError{ErrorURI: "config.set", Description: "missing config payload"}
	}
	var update config.Config
	if err := json.Unmarshal(call.Args[0], &update); err != nil {
		return nil, &wamp.CallError{ErrorURI: "config.set", Description: "malformed config: " + err.Error()}
	}
	if err := c.cfg.Set(&update); err != nil {
		// ConfigPersistError: report failure but keep the in-memory update
		// applied (spec.md §7) — Set is responsible for that semantics.
		return nil, &wamp.CallError{ErrorURI: "config.set", Description: err.Error()}
	}
	return json.Marshal("OK")
}

func protocolError(callID, msg string) *wamp.CallError {
	return &wamp.CallError{CallID: callID, ErrorURI: "protocol_error", Description: msg}
}

// HandleEvent dispatches one bus event to the motion pipeline or a button
// action. Called from the per-session event forwarding loop.
func (c *Controller) HandleEvent(ev eventbus.Event) {
	switch {
	case ev.Motion != nil:
		c.processMotion(*ev.Motion)
	case ev.Button != nil:
		c.processButton(*ev.Button)
	}
}

// processMotion runs the motion pipeline with the single-flight guard:
// a sample arriving while one is already in flight is dropped, not queued
// (spec.md §4.5 "Single-flight policy").
func (c *Controller) processMotion(m eventbus.MotionSample) {
	if c.remote.SubscribedTopic() == "" {
		return // property 9: no outbound traffic before SUBSCRIBE
	}
	if !c.motionBusy.CompareAndSwap(false, true) {
		return
	}
	defer c.motionBusy.Store(false)

	c.runPipeline(motion.Sample{
		TX: m.X, TY: m.Y, TZ: m.Z,
		RX: m.Pitch, RY: m.Yaw, RZ: m.Roll,
	})
}

// runPipeline performs spec.md §4.5's motion pipeline steps 1, 4, 12: the
// focus gate and the two awaiting reads/writes around the pure Motion
// Engine call.
func (c *Controller) runPipeline(sample motion.Sample) {
	// Step 1: focus gate.
	if !c.st.focus {
		c.st.focus = true
	}

	cfg := c.cfg.Snapshot()
	params := motion.Params{Deadzone: cfg.Deadzone, Gamma: cfg.Gamma, Sensitivity: cfg.Sensitivity}

	// A sample that conditions to zero on every axis, with no spin pending,
	// cannot change the affine: skip the reads and writes entirely.
	if c.st.pendingSpin == 0 && motion.ConditionSample(sample, params).IsZero() {
		return
	}

	state, ok := c.readRemoteState()
	if !ok {
		return
	}

	spin := motion.PendingSpin{Radians: c.st.pendingSpin, Axis: c.st.pendingAxis}
	c.st.pendingSpin = 0
	c.st.pendingAxis = ""

	result := motion.Apply(sample, params, state, spin)

	if _, err := c.remote.CallRemote("self:update", rawString("motion"), rawBool(true)); err != nil {
		log.Warn("self:update motion write failed", "error", err)
		return
	}
	flat := result.Flatten()
	flatRaw, err := json.Marshal(flat)
	if err != nil {
		log.Error("marshal affine", "error", err)
		return
	}
	if _, err := c.remote.CallRemote("self:update", rawString("view.affine"), flatRaw); err != nil {
		log.Warn("self:update view.affine write failed", "error", err)
	}
}

// readRemoteState performs step 4: reads view.perspective (touched only to
// preserve the client's read ordering expectations), view.affine, and
// model.extents. A null or unreadable affine drops the sample.
func (c *Controller) readRemoteState() (motion.RemoteState, bool) {
	if _, err := c.remote.CallRemote("self:read", rawString("view.perspective")); err != nil {
		log.Debug("self:read view.perspective failed", "error", err)
	}

	affineRaw, err := c.remote.CallRemote("self:read", rawString("view.affine"))
	if err != nil || affineRaw == nil || string(affineRaw) == "null" {
		return motion.RemoteState{}, false
	}
	var flat []float64
	if err := json.Unmarshal(affineRaw, &flat); err != nil {
		log.Warn("malformed view.affine", "error", err)
		return motion.RemoteState{}, false
	}
	affine, ok := motion.Unflatten(flat)
	if !ok {
		log.Warn("view.affine has wrong length", "len", len(flat))
		return motion.RemoteState{}, false
	}

	extents := [6]float64{}
	extentsRaw, err := c.remote.CallRemote("self:read", rawString("model.extents"))
	if err == nil && extentsRaw != nil && string(extentsRaw) != "null" {
		var e []float64
		if err := json.Unmarshal(extentsRaw, &e); err == nil && len(e) == 6 {
			copy(extents[:], e)
		}
	}

	return motion.RemoteState{Affine: affine, Extents: extents}, true
}

func (c *Controller) processButton(b eventbus.ButtonEvent) {
	cfg := c.cfg.Snapshot()
	action, ok := cfg.Buttons[fmt.Sprintf("%d", b.Index)]
	if !ok {
		return
	}

	switch action.Action {
	case "key":
		if !b.Pressed {
			return
		}
		if c.keyboard == nil {
			return
		}
		if err := c.keyboard.InjectCombo(action.Value); err != nil {
			log.Warn("inject key combo failed", "combo", action.Value, "error", err)
		}

	case "modifier":
		if c.keyboard == nil {
			return
		}
		if err := c.keyboard.InjectCombo(action.Value); err != nil {
			log.Warn("inject key combo failed", "combo", action.Value, "error", err)
		}

	case "logic":
		if !b.Pressed {
			return
		}
		switch action.Value {
		case "lock_horizon":
			c.st.horizonLocked = !c.st.horizonLocked
		case "spin_90":
			c.st.pendingSpin = -math.Pi / 2
			c.st.pendingAxis = cfg.SpinAxis
			c.processMotion(eventbus.MotionSample{})
		}

	case "open_browser":
		if !b.Pressed || c.browser == nil {
			return
		}
		if err := c.browser.Open(cfg.ConfigURL); err != nil {
			log.Warn("open browser failed", "error", err)
		}
	}
}

func rawString(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}

func rawBool(b bool) json.RawMessage {
	raw, _ := json.Marshal(b)
	return raw
}
