package templating

import "github.com/CTAG07/goejs/pkg/ejs"

// TemplateConfig holds all configuration options for the templating engine.
type TemplateConfig struct {
	// Extension is the file extension of templates, and the one added to
	// include and extend targets that have none.
	Extension string `json:"extension"`

	// Open and Close are the tag delimiters.
	Open  string `json:"open"`
	Close string `json:"close"`

	// CompileDebug annotates runtime errors with the failing template lines.
	CompileDebug bool `json:"compile_debug"`

	// ContextBinding exposes locals as bare names inside templates.
	ContextBinding bool `json:"context_binding"`

	// Cache keeps compiled templates until the next Refresh.
	Cache bool `json:"cache"`

	// Watch refreshes the manager when files in the template directory change.
	Watch bool `json:"watch"`

	// DebounceMs is how long the watcher waits for changes to settle.
	DebounceMs int `json:"debounce_ms"`

	// DefaultLocals are merged under the locals of every render.
	DefaultLocals map[string]any `json:"default_locals"`
}

// DefaultConfig returns a TemplateConfig with the standard EJS behaviour and
// caching enabled.
func DefaultConfig() *TemplateConfig {
	return &TemplateConfig{
		Extension:      ejs.DefaultExtension,
		Open:           ejs.DefaultOpen,
		Close:          ejs.DefaultClose,
		CompileDebug:   true,
		ContextBinding: true,
		Cache:          true,
		Watch:          false,
		DebounceMs:     100,
		DefaultLocals:  map[string]any{},
	}
}
