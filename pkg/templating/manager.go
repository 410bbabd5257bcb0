package templating

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/CTAG07/goejs/pkg/ejs"
	"github.com/CTAG07/goejs/pkg/store"
)

// ErrTemplateNotFound is returned when executing a name the manager does not know.
var ErrTemplateNotFound = errors.New("template not found")

// stringTemplateName is the filename given to templates rendered from a
// string. Includes inside them resolve against the template root.
const stringTemplateName = "<string>"

// TemplateManager is the central controller for the templating engine.
// It owns an ejs.Engine, the configuration, and the list of known templates,
// and renders templates by name in a concurrent-safe manner. Templates come
// from a directory, or from a SQLite store when one is given.
// All methods are concurrent-safe.
type TemplateManager struct {
	logger        *slog.Logger
	config        *TemplateConfig
	store         *store.Store
	engine        *ejs.Engine
	templateNames []string
	templateDir   string
	mu            sync.RWMutex
}

// NewTemplateManager creates, initializes, and returns a new TemplateManager.
// It requires a logger, an optional template store (can be nil, in which case
// templates are read from the "templates" subdirectory of dataDir), and a
// configuration. It performs an initial Refresh to load the template names.
func NewTemplateManager(logger *slog.Logger, templateStore *store.Store, config *TemplateConfig, dataDir string) (*TemplateManager, error) {
	if config == nil {
		config = DefaultConfig()
	}

	tm := &TemplateManager{
		logger:      logger,
		store:       templateStore,
		templateDir: filepath.Join(dataDir, "templates"),
		config:      config,
	}
	tm.engine = tm.newEngine()

	if err := tm.Refresh(); err != nil {
		return nil, err
	}

	logger.Info("Template manager initialized", "dir", tm.templateDir, "store", templateStore != nil)
	return tm, nil
}

// newEngine builds an engine for the current config. Callers hold the lock or
// own tm exclusively.
func (tm *TemplateManager) newEngine() *ejs.Engine {
	opts := []ejs.EngineOption{
		ejs.WithLogger(tm.logger),
		ejs.WithResolver(ejs.SlashResolver{Ext: tm.config.Extension}),
	}
	if tm.config.Open != "" && tm.config.Close != "" {
		opts = append(opts, ejs.WithDelimiters(tm.config.Open, tm.config.Close))
	}
	if tm.store != nil {
		opts = append(opts, ejs.WithReader(tm.store))
	} else {
		opts = append(opts, ejs.WithReader(ejs.FSReader{FS: os.DirFS(tm.templateDir)}))
	}
	return ejs.New(opts...)
}

// SetConfig applies a new configuration to the TemplateManager. The engine is
// rebuilt, so previously compiled templates are dropped.
func (tm *TemplateManager) SetConfig(config *TemplateConfig) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.config = config
	tm.engine = tm.newEngine()
}

// Refresh rescans the template source for names and clears the compiled
// cache. This allows updates to templates without restarting the application.
func (tm *TemplateManager) Refresh() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.logger.Info("Loading template names...")

	var (
		names []string
		err   error
	)
	if tm.store != nil {
		names, err = tm.store.List(context.Background())
		if err != nil {
			tm.logger.Error("failed to list stored templates", "error", err)
			return err
		}
		names = slices.DeleteFunc(names, func(name string) bool {
			return !strings.HasSuffix(name, tm.config.Extension)
		})
	} else {
		names, err = scanDir(tm.templateDir, tm.config.Extension)
		if err != nil {
			tm.logger.Error("failed to scan template directory", "error", err)
			return err
		}
	}

	if len(names) == 0 {
		tm.logger.Warn("No template files found", "dir", tm.templateDir, "extension", tm.config.Extension)
	}

	tm.templateNames = names
	tm.engine.ClearCache()
	tm.logger.Info("Loaded template names", "count", len(names))
	return nil
}

// scanDir lists files under dir with the given extension as slash-separated
// paths relative to dir. A missing directory yields no names.
func scanDir(dir, ext string) ([]string, error) {
	names := []string{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ext) {
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			names = append(names, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	return names, nil
}

// renderOptions builds the options for a render from the current config.
// Callers hold at least a read lock.
func (tm *TemplateManager) renderOptions(filename string, locals map[string]any) ejs.RenderOptions {
	merged := make(map[string]any, len(tm.config.DefaultLocals)+len(locals))
	maps.Copy(merged, tm.config.DefaultLocals)
	maps.Copy(merged, locals)
	return ejs.RenderOptions{
		Options: ejs.Options{
			Open:             tm.config.Open,
			Close:            tm.config.Close,
			Filename:         filename,
			NoCompileDebug:   !tm.config.CompileDebug,
			NoContextBinding: !tm.config.ContextBinding,
		},
		Locals: merged,
	}
}

// Execute renders a specific template by name, writing the output to the
// provided io.Writer. The locals are merged over the configured defaults.
func (tm *TemplateManager) Execute(w io.Writer, name string, locals map[string]any) error {
	if name == "" {
		return nil
	}
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	if !slices.Contains(tm.templateNames, name) {
		return fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}

	opts := tm.renderOptions(name, locals)
	opts.Cache = tm.config.Cache

	var (
		out string
		err error
	)
	tm.engine.RenderFile(name, opts, func(e error, s string) {
		out, err = s, e
	})
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

// ExecuteTemplateString compiles and executes a raw template string. Includes
// and layouts resolve against the template root. This is ideal for testing or
// previewing templates without saving them.
func (tm *TemplateManager) ExecuteTemplateString(w io.Writer, content string, locals map[string]any) error {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	out, err := tm.engine.Render(content, tm.renderOptions(stringTemplateName, locals))
	if err != nil {
		return fmt.Errorf("failed to render string template: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}

// CompileClient compiles the named template into a standalone JavaScript
// function that can run in a browser.
func (tm *TemplateManager) CompileClient(name string) (string, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	if !slices.Contains(tm.templateNames, name) {
		return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	var src []byte
	var err error
	if tm.store != nil {
		src, err = tm.store.ReadFile(name)
	} else {
		src, err = fs.ReadFile(os.DirFS(tm.templateDir), name)
	}
	if err != nil {
		return "", err
	}

	opts := tm.renderOptions(name, nil).Options
	opts.Client = true
	t, err := tm.engine.Compile(string(src), opts)
	if err != nil {
		return "", err
	}
	return t.ClientSource(), nil
}

// GetConfig returns a copy of the current configuration.
// This mainly exists for concurrency-safety reasons.
func (tm *TemplateManager) GetConfig() TemplateConfig {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return *tm.config
}

// GetTemplateNames returns a copy of the known template names, sorted.
func (tm *TemplateManager) GetTemplateNames() []string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return slices.Clone(tm.templateNames)
}

// GetTemplateDir returns the template dir that the TemplateManager uses.
// This mainly exists for concurrency-safety reasons as well.
func (tm *TemplateManager) GetTemplateDir() string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.templateDir
}

// Store returns the template store, or nil when templates live on disk.
func (tm *TemplateManager) Store() *store.Store {
	return tm.store
}
