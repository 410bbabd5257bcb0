package ejs

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Engine compiles and renders templates. It holds what used to be process
// globals: default delimiters, the filter registry and the compiled cache.
// An Engine is safe for concurrent use once configured.
type Engine struct {
	logger    *slog.Logger
	reader    FileReader
	resolver  Resolver
	filters   FilterMap
	cache     *Cache
	open      string
	close     string
	onCompile func(Options)
}

// New creates an Engine with the built-in filters, reading templates from the
// local filesystem.
func New(opts ...EngineOption) *Engine {
	e := &Engine{
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		reader:   OSReader{},
		resolver: FileResolver{},
		filters:  DefaultFilters(),
		cache:    NewCache(),
		open:     DefaultOpen,
		close:    DefaultClose,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Filters returns the engine's filter registry. Entries added to it are seen
// by templates compiled afterwards.
func (e *Engine) Filters() FilterMap {
	return e.filters
}

// Cache returns the compiled template cache.
func (e *Engine) Cache() *Cache {
	return e.cache
}

// ClearCache drops every cached template and source.
func (e *Engine) ClearCache() {
	e.cache.Clear()
}

func (e *Engine) withDefaults(opts Options) Options {
	if opts.Open == "" {
		opts.Open = e.open
	}
	if opts.Close == "" {
		opts.Close = e.close
	}
	return opts
}

// Parse translates src into the body of the render function.
func (e *Engine) Parse(src string, opts Options) (string, error) {
	return e.parse(src, opts, parseState{blocks: true, binding: !opts.NoContextBinding})
}

// Compile parses src and compiles the result.
func (e *Engine) Compile(src string, opts Options) (*Template, error) {
	opts = e.withDefaults(opts)
	body, err := e.Parse(src, opts)
	if err != nil {
		return nil, err
	}
	if !opts.NoCompileDebug {
		body = "var __stack = { lineno: 1, input: " + jsString(src) + ", filename: " + jsString(opts.Filename) + " };\n" +
			"try {\n" + body + "\n} catch (err) {\n" +
			"  rethrow(err, __stack.input, __stack.filename, __stack.lineno);\n}"
	}
	if opts.Debug {
		e.logger.Info("compiled template", "filename", opts.Filename, "program", body)
	}

	// Filters are snapshotted so later registrations do not race with renders.
	filters := make(FilterMap, len(e.filters))
	for name, fn := range e.filters {
		filters[name] = fn
	}
	t, err := newTemplate(body, opts, filters)
	if err != nil {
		return nil, err
	}
	if e.onCompile != nil {
		e.onCompile(opts)
	}
	return t, nil
}

// Render compiles src, or fetches it from the cache, and executes it.
func (e *Engine) Render(src string, opts RenderOptions) (string, error) {
	t, err := e.template(src, opts)
	if err != nil {
		return "", err
	}
	return t.Execute(opts.Locals, opts.Scope)
}

func (e *Engine) template(src string, opts RenderOptions) (*Template, error) {
	if !opts.Cache {
		return e.Compile(src, opts.Options)
	}
	if opts.Filename == "" {
		return nil, ErrCacheRequiresFilename
	}
	if t, ok := e.cache.Get(opts.Filename); ok {
		return t, nil
	}
	t, err := e.Compile(src, opts.Options)
	if err != nil {
		return nil, err
	}
	e.cache.Set(opts.Filename, t)
	return t, nil
}

// RenderFile reads path and renders it, reporting the result through fn.
// Filename is set to path.
func (e *Engine) RenderFile(path string, opts RenderOptions, fn func(err error, out string)) {
	opts.Filename = path
	key := path + ":string"

	src, ok := "", false
	if opts.Cache {
		src, ok = e.cache.source(key)
	}
	if !ok {
		data, err := e.reader.ReadFile(path)
		if err != nil {
			fn(fmt.Errorf("read %s: %w", path, err), "")
			return
		}
		src = string(data)
		if opts.Cache {
			e.cache.setSource(key, src)
		}
	}

	out, err := e.Render(src, opts)
	fn(err, out)
}

var (
	defaultOnce   sync.Once
	defaultEngine *Engine
)

// Default returns the engine behind the package-level functions.
func Default() *Engine {
	defaultOnce.Do(func() {
		defaultEngine = New()
	})
	return defaultEngine
}

// Parse calls Parse on the default engine.
func Parse(src string, opts Options) (string, error) {
	return Default().Parse(src, opts)
}

// Compile calls Compile on the default engine.
func Compile(src string, opts Options) (*Template, error) {
	return Default().Compile(src, opts)
}

// Render calls Render on the default engine.
func Render(src string, opts RenderOptions) (string, error) {
	return Default().Render(src, opts)
}

// RenderFile calls RenderFile on the default engine.
func RenderFile(path string, opts RenderOptions, fn func(err error, out string)) {
	Default().RenderFile(path, opts, fn)
}

// ClearCache clears the default engine's cache.
func ClearCache() {
	Default().ClearCache()
}
