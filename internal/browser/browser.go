// Package browser implements the best-effort "open the config page"
// capability used by the `open_browser` button action (spec.md §4.5).
package browser

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/spacemouse-bridge/bridge/internal/logging"
)

var log = logging.L("browser")

const launchTimeout = 2 * time.Second

// Launcher opens a URL with the platform's default browser.
type Launcher struct{}

// New returns the default browser launcher.
func New() *Launcher {
	return &Launcher{}
}

// Open launches url, best-effort; failures are the caller's to log
// (spec.md §4.5: "best-effort, failures logged only").
func (l *Launcher) Open(url string) error {
	ctx, cancel := context.WithTimeout(context.Background(), launchTimeout)
	defer cancel()

	name, args, err := openCommand(url)
	if err != nil {
		return err
	}

	if err := exec.CommandContext(ctx, name, args...).Start(); err != nil {
		return fmt.Errorf("browser: launch %s: %w", name, err)
	}
	return nil
}

func openCommand(url string) (string, []string, error) {
	switch runtime.GOOS {
	case "linux":
		return "xdg-open", []string{url}, nil
	case "darwin":
		return "open", []string{url}, nil
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}, nil
	default:
		return "", nil, fmt.Errorf("browser: unsupported platform %q", runtime.GOOS)
	}
}
