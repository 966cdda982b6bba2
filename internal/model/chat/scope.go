package chat

import (
	"errors"
	"fmt"
)

// ScopeKind distinguishes the whole-report conversation from per-panel ones.
type ScopeKind string

const (
	ScopeKindGlobal ScopeKind = "global"
	ScopeKindPanel  ScopeKind = "panel"
)

var ErrInvalidScope = errors.New("invalid chat scope")

// Scope addresses one conversation within an evaluation: the global report
// chat or a single panel's chat. The zero Panel is only valid for global.
type Scope struct {
	Kind  ScopeKind `json:"kind"`
	Panel string    `json:"panel,omitempty"`
}

// GlobalScope addresses the report-wide conversation.
func GlobalScope() Scope {
	return Scope{Kind: ScopeKindGlobal}
}

// PanelScope addresses the conversation for a single panel.
func PanelScope(panel string) Scope {
	return Scope{Kind: ScopeKindPanel, Panel: panel}
}

// Validate rejects malformed scopes before they reach the session manager.
func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeKindGlobal:
		if s.Panel != "" {
			return fmt.Errorf("%w: global scope must not name a panel", ErrInvalidScope)
		}
	case ScopeKindPanel:
		if s.Panel == "" {
			return fmt.Errorf("%w: panel scope requires a panel name", ErrInvalidScope)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidScope, s.Kind)
	}
	return nil
}

// Key is a stable string form used for state maps exposed to the dashboard.
func (s Scope) Key() string {
	if s.Kind == ScopeKindPanel {
		return "panel:" + s.Panel
	}
	return string(s.Kind)
}
