package common

import (
	"errors"
	"strings"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// GuardAction checks the module-wide pause flag first and then the
// action-specific flag stored under "<module>.<action>".
func GuardAction(p PauseView, module, action string) error {
	if err := Guard(p, module); err != nil {
		return err
	}
	if action == "" {
		return nil
	}
	return Guard(p, module+"."+action)
}

// StaticPauses is a PauseView backed by a fixed set of flags, typically
// loaded from configuration. Keys are case-insensitive.
type StaticPauses map[string]bool

func (s StaticPauses) IsPaused(module string) bool {
	if len(s) == 0 {
		return false
	}
	return s[strings.ToLower(strings.TrimSpace(module))]
}
