package config

import (
	"fmt"
	"strings"
)

var validSpinAxes = map[string]bool{
	"x": true,
	"y": true,
	"z": true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validButtonActions = map[string]bool{
	"key":          true,
	"modifier":     true,
	"logic":        true,
	"open_browser": true,
}

var validLogicValues = map[string]bool{
	"lock_horizon": true,
	"spin_90":      true,
}

// TieredResult splits validation findings into fatal (startup-blocking) and
// warning (logged, auto-corrected, startup continues) tiers.
type TieredResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any fatal validation error was found.
func (r TieredResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// ValidateTiered checks the config for invalid values. Structurally invalid
// values that would cause the motion pipeline to crash or behave
// nonsensically (unknown spin axis, malformed button action) are fatal.
// Out-of-range numeric tuning values are clamped to a safe bound and
// reported as warnings, matching spec.md §3's "conditioning" stance that
// the pipeline should degrade gracefully rather than refuse to run.
func (c *Config) ValidateTiered() TieredResult {
	var result TieredResult

	if c.SpinAxis != "" && !validSpinAxes[strings.ToLower(c.SpinAxis)] {
		result.Fatals = append(result.Fatals, fmt.Errorf("spin_axis %q is not one of x, y, z", c.SpinAxis))
	}

	for name, action := range c.Buttons {
		if !validButtonActions[action.Action] {
			result.Fatals = append(result.Fatals, fmt.Errorf("button %q has unknown action %q", name, action.Action))
			continue
		}
		if action.Action == "logic" && !validLogicValues[action.Value] {
			result.Fatals = append(result.Fatals, fmt.Errorf("button %q logic value %q is not one of lock_horizon, spin_90", name, action.Value))
		}
		if action.Action == "key" && action.Value == "" {
			result.Fatals = append(result.Fatals, fmt.Errorf("button %q has action \"key\" with an empty value", name))
		}
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		result.Fatals = append(result.Fatals, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		result.Fatals = append(result.Fatals, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	// Clamp tuning values to a safe range instead of refusing to start.
	if c.Sensitivity <= 0 {
		result.Warnings = append(result.Warnings, fmt.Errorf("sensitivity %v is not positive, clamping to 1.0", c.Sensitivity))
		c.Sensitivity = 1.0
	} else if c.Sensitivity > 10.0 {
		result.Warnings = append(result.Warnings, fmt.Errorf("sensitivity %v exceeds maximum 10.0, clamping", c.Sensitivity))
		c.Sensitivity = 10.0
	}

	if c.Deadzone < 0 {
		result.Warnings = append(result.Warnings, fmt.Errorf("deadzone %d is negative, clamping to 0", c.Deadzone))
		c.Deadzone = 0
	} else if c.Deadzone > 100 {
		result.Warnings = append(result.Warnings, fmt.Errorf("deadzone %d exceeds maximum 100, clamping", c.Deadzone))
		c.Deadzone = 100
	}

	if c.Gamma <= 0 {
		result.Warnings = append(result.Warnings, fmt.Errorf("gamma %v is not positive, clamping to 1.0", c.Gamma))
		c.Gamma = 1.0
	} else if c.Gamma > 5.0 {
		result.Warnings = append(result.Warnings, fmt.Errorf("gamma %v exceeds maximum 5.0, clamping", c.Gamma))
		c.Gamma = 5.0
	}

	if c.ListenPort <= 0 {
		result.Warnings = append(result.Warnings, fmt.Errorf("listen_port %d is not valid, clamping to 8181", c.ListenPort))
		c.ListenPort = 8181
	} else if c.ListenPort > 65535 {
		result.Warnings = append(result.Warnings, fmt.Errorf("listen_port %d exceeds maximum 65535, clamping", c.ListenPort))
		c.ListenPort = 65535
	}

	if c.LogMaxSizeMB <= 0 {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_max_size_mb %d is not positive, clamping to 50", c.LogMaxSizeMB))
		c.LogMaxSizeMB = 50
	}

	if c.LogMaxBackups < 0 {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_max_backups %d is negative, clamping to 3", c.LogMaxBackups))
		c.LogMaxBackups = 3
	}

	return result
}
