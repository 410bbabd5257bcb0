package ejs

import (
	"io/fs"
	"log/slog"
)

// Default tag delimiters.
const (
	DefaultOpen  = "<%"
	DefaultClose = "%>"
)

// Options controls how a template is compiled.
type Options struct {
	// Open and Close are the tag delimiters. Empty values fall back to the
	// engine defaults.
	Open  string
	Close string

	// Filename names the template. It is required for include, extend and
	// caching, and is used in error messages.
	Filename string

	// Debug logs the generated program at info level through the engine
	// logger. The default logger discards everything, so pass WithLogger to
	// see it.
	Debug bool

	// NoCompileDebug stops line numbers being recorded in the generated
	// program. Runtime errors then come back unannotated instead of as a
	// *RenderError.
	NoCompileDebug bool

	// NoContextBinding stops the keys of the locals map being exposed as bare
	// names. Templates then reach their data through locals.
	NoContextBinding bool

	// Client makes Template.ClientSource produce a standalone function with
	// its own escape and rethrow fallbacks.
	Client bool

	// Escape replaces EscapeHTML for escaped output.
	Escape func(string) string
}

// DefaultOptions returns the options used when nothing else is specified.
// It differs from the zero Options only in spelling out the delimiters.
func DefaultOptions() Options {
	return Options{
		Open:  DefaultOpen,
		Close: DefaultClose,
	}
}

// RenderOptions are Options plus what is needed for a single render.
type RenderOptions struct {
	Options

	// Locals is the data context.
	Locals map[string]any

	// Cache stores the compiled template under Filename and reuses it.
	Cache bool

	// Scope is bound as this while the template runs.
	Scope any
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithReader sets where template files are read from.
// Default: the local filesystem.
func WithReader(r FileReader) EngineOption {
	return func(e *Engine) {
		e.reader = r
	}
}

// WithFS reads templates from fsys and resolves includes with slash paths.
func WithFS(fsys fs.FS) EngineOption {
	return func(e *Engine) {
		e.reader = FSReader{FS: fsys}
		e.resolver = SlashResolver{}
	}
}

// WithResolver sets how include and extend targets are resolved.
func WithResolver(r Resolver) EngineOption {
	return func(e *Engine) {
		e.resolver = r
	}
}

// WithFilters adds filters to the built-in set, replacing any with the same name.
func WithFilters(filters FilterMap) EngineOption {
	return func(e *Engine) {
		for name, fn := range filters {
			e.filters[name] = fn
		}
	}
}

// WithDelimiters sets the engine-wide default delimiters. An empty value
// leaves that delimiter unchanged.
// Default: "<%" and "%>"
func WithDelimiters(open, close string) EngineOption {
	return func(e *Engine) {
		if open != "" {
			e.open = open
		}
		if close != "" {
			e.close = close
		}
	}
}

// WithCache shares a compiled template cache between engines.
func WithCache(c *Cache) EngineOption {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithCompileHook registers fn to be called every time a template is compiled.
func WithCompileHook(fn func(Options)) EngineOption {
	return func(e *Engine) {
		e.onCompile = fn
	}
}
