package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/CTAG07/goejs/pkg/ejs"
	"github.com/CTAG07/goejs/pkg/store"
	"github.com/CTAG07/goejs/pkg/templating"
	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "goejs",
		Short:        "Render and serve EJS templates",
		Version:      fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate),
		SilenceUsage: true,
	}
	root.AddCommand(newRenderCmd(), newCompileCmd(), newServeCmd())
	return root
}

// templateFlags are the compile options shared by render and compile.
type templateFlags struct {
	open    string
	close   string
	noDebug bool
	noWith  bool
	debug   bool
}

func (f *templateFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.open, "open", ejs.DefaultOpen, "open tag delimiter")
	cmd.Flags().StringVar(&f.close, "close", ejs.DefaultClose, "close tag delimiter")
	cmd.Flags().BoolVar(&f.noDebug, "no-debug", false, "do not annotate runtime errors with template lines")
	cmd.Flags().BoolVar(&f.noWith, "no-with", false, "do not expose locals as bare names")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "log the generated program to stderr")
}

func (f *templateFlags) options(filename string) ejs.Options {
	opts := ejs.DefaultOptions()
	opts.Open = f.open
	opts.Close = f.close
	opts.Filename = filename
	opts.NoCompileDebug = f.noDebug
	opts.NoContextBinding = f.noWith
	opts.Debug = f.debug
	return opts
}

// cliLogger writes to w at debug level when debug is set and discards
// everything else.
func cliLogger(w io.Writer, debug bool) *slog.Logger {
	if !debug {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newRenderCmd() *cobra.Command {
	var (
		flags    templateFlags
		dataPath string
		sets     []string
	)
	cmd := &cobra.Command{
		Use:   "render <file>",
		Short: "Render a template file to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			locals, err := loadLocals(dataPath)
			if err != nil {
				return err
			}
			if err = parseSets(locals, sets); err != nil {
				return err
			}

			engine := ejs.New(ejs.WithLogger(cliLogger(cmd.ErrOrStderr(), flags.debug)))
			opts := ejs.RenderOptions{Options: flags.options(args[0]), Locals: locals}

			var out string
			engine.RenderFile(args[0], opts, func(e error, s string) {
				out, err = s, e
			})
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), out)
			return err
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&dataPath, "data", "d", "", "JSON or YAML file with template locals")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "set a string local as key=value (repeatable)")
	return cmd
}

func newCompileCmd() *cobra.Command {
	var (
		flags  templateFlags
		output string
	)
	cmd := &cobra.Command{
		Use:   "compile <file>",
		Short: "Compile a template file to a standalone JavaScript function",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read template: %w", err)
			}

			engine := ejs.New(ejs.WithLogger(cliLogger(cmd.ErrOrStderr(), flags.debug)))
			opts := flags.options(args[0])
			opts.Client = true
			t, err := engine.Compile(string(src), opts)
			if err != nil {
				return err
			}

			js := t.ClientSource() + "\n"
			if output == "" || output == "-" {
				_, err = io.WriteString(cmd.OutOrStdout(), js)
				return err
			}
			if err = atomic.WriteFile(output, strings.NewReader(js)); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the function to this file instead of stdout")
	return cmd
}

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve templates over HTTP with a management API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.json", "path to the JSON config file")
	return cmd
}

// serve runs the server until it is shut down, restarting it when asked.
func serve(configPath string) error {
	baseLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	actionChan := make(chan string, 1)

	go func() {
		osSignalChan := make(chan os.Signal, 1)
		signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM)
		<-osSignalChan
		baseLogger.Info("OS signal received, initiating shutdown.")
		actionChan <- actionShutdown
	}()

	for {
		action, err := run(configPath, actionChan)
		if err != nil {
			baseLogger.Error("An error occurred during server run, shutting down.", "error", err)
			return err
		}
		if action != actionRestart {
			break
		}
		baseLogger.Info("--- Server Restarting ---")
	}

	baseLogger.Info("goejs has shut down.")
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openStore opens the SQLite template store at path.
func openStore(path string) (*sql.DB, *store.Store, error) {
	db, err := initDB(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open template database: %w", err)
	}
	if err = store.SetupSchema(db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	st, err := store.New(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to prepare template store: %w", err)
	}
	return db, st, nil
}

// run hosts both servers, and returns whenever the server is shut down or restarted.
func run(configPath string, actionChan chan string) (string, error) {
	cm, err := NewConfigManager(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}
	config := cm.Get()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(config.Server.LogLevel)}))
	cm.SetLogger(logger)
	logger.Info("Starting server cycle...")

	var (
		db *sql.DB
		st *store.Store
	)
	if config.Server.StorePath != "" {
		if db, st, err = openStore(config.Server.StorePath); err != nil {
			return "", err
		}
		st.SetLogger(logger)
		defer func() {
			st.Close()
			logger.Info("Closing database connection.")
			if err := db.Close(); err != nil {
				logger.Error("Failed to close database", "error", err)
			}
		}()
		if err = setupAuthSchema(db); err != nil {
			return "", err
		}
	}

	tm, err := templating.NewTemplateManager(logger, st, config.Templates, config.Server.DataDir)
	if err != nil {
		return "", fmt.Errorf("failed to create template manager: %w", err)
	}
	cm.SetTemplateManager(tm)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if config.Templates.Watch {
		if err = tm.Watch(ctx); err != nil {
			logger.Warn("Template watching disabled", "error", err)
		}
	}

	server := NewServer(cm, tm, db, logger, actionChan)
	siteHandler, err := newCompressionHandler(server.siteMux, config.Server.Compression)
	if err != nil {
		return "", fmt.Errorf("failed to create compression handler: %w", err)
	}

	siteHttpServer := &http.Server{Addr: config.Server.ServerAddr, Handler: siteHandler}
	apiHttpServer := &http.Server{Addr: config.Server.ApiAddr, Handler: server.apiMux}

	go func() {
		logger.Info("Starting api server", "address", apiHttpServer.Addr)
		if err := apiHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Api server failed", "error", err)
		}
	}()

	go func() {
		logger.Info("Starting page server", "address", siteHttpServer.Addr)
		if err := siteHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Page server failed", "error", err)
		}
	}()

	action := <-actionChan // Block here until API or OS signal sends an action.

	logger.Info("Stopping servers for " + action + "...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err = apiHttpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Api server shutdown failed", "error", err)
	}
	if err = siteHttpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Page server shutdown failed", "error", err)
	}
	logger.Info("HTTP servers stopped.")

	return action, nil
}
