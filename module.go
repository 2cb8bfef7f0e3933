package tickx

// Module is one independently-authored automation feature.
// Enable registers its listeners, sequences and arbiter submissions through
// the engine; Disable runs after the engine already removed all of them.
type Module interface {
	ID() ModuleID
	Enable(e *Engine) error
	Disable(e *Engine)
}

// ModuleFuncs adapts plain functions to Module. Nil funcs are no-ops.
type ModuleFuncs struct {
	Name      ModuleID
	OnEnable  func(e *Engine) error
	OnDisable func(e *Engine)
}

func (m ModuleFuncs) ID() ModuleID { return m.Name }

func (m ModuleFuncs) Enable(e *Engine) error {
	if m.OnEnable == nil {
		return nil
	}
	return m.OnEnable(e)
}

func (m ModuleFuncs) Disable(e *Engine) {
	if m.OnDisable != nil {
		m.OnDisable(e)
	}
}

// ModuleInfo describes a module in snapshots.
type ModuleInfo struct {
	ID        ModuleID `json:"id" yaml:"id"`
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Installed bool     `json:"installed" yaml:"installed"`
	Listeners int      `json:"listeners" yaml:"listeners"`
	Sequences int      `json:"sequences" yaml:"sequences"`
}

type moduleEntry struct {
	mod     Module // nil for owners created on first use
	enabled bool
}
