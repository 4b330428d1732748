// Package keyboard implements the Virtual Keyboard capability the
// Controller uses for `key`/`modifier` button actions: injecting a combo
// string like "ctrl+shift+f" into the focused window. Out of this bridge's
// core scope, it is modeled as a thin best-effort shell-out, in the style
// of the desktop helper's ydotool fallback.
package keyboard

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/spacemouse-bridge/bridge/internal/logging"
)

var log = logging.L("keyboard")

const injectTimeout = 200 * time.Millisecond

// YdotoolInjector shells out to ydotool, process-wide and safe for
// concurrent use (the underlying binary serializes its own invocations).
type YdotoolInjector struct{}

// New returns the default Virtual Keyboard implementation.
func New() *YdotoolInjector {
	return &YdotoolInjector{}
}

// InjectCombo sends a "+"-joined key combo (e.g. "ctrl+shift+f") as a
// sequence of ydotool key events.
func (y *YdotoolInjector) InjectCombo(combo string) error {
	if combo == "" {
		return fmt.Errorf("keyboard: empty combo")
	}
	keys := strings.Split(combo, "+")

	ctx, cancel := context.WithTimeout(context.Background(), injectTimeout)
	defer cancel()

	args := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, keyDownArg(k))
	}
	for i := len(keys) - 1; i >= 0; i-- {
		args = append(args, keyUpArg(keys[i]))
	}

	cmd := exec.CommandContext(ctx, "ydotool", append([]string{"key"}, args...)...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("keyboard: ydotool: %w", err)
	}
	return nil
}

func keyDownArg(key string) string  { return keycode(key) + ":1" }
func keyUpArg(key string) string    { return keycode(key) + ":0" }

// keycode maps a small set of combo tokens to evdev keycode names ydotool
// understands; anything unrecognized is passed through verbatim so ydotool
// can report the error itself.
func keycode(key string) string {
	if code, ok := keycodes[strings.ToLower(strings.TrimSpace(key))]; ok {
		return code
	}
	return key
}

var keycodes = map[string]string{
	"ctrl":  "29",
	"shift": "42",
	"alt":   "56",
	"super": "125",
	"a":     "30",
	"b":     "48",
	"c":     "46",
	"f":     "33",
}
