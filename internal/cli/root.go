// Package cli wires the tutorchat commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"TutorChat/internal/backend"
	"TutorChat/internal/chatbot"
	"TutorChat/internal/config"
	"TutorChat/internal/registry"
	"TutorChat/internal/store"
	"TutorChat/internal/telemetry"
	"TutorChat/internal/tutor"
)

var (
	appVersion = "dev"
	appCommit  = "none"
)

// flags shared by every command
type rootFlags struct {
	configFile string
	dbPath     string
	logDir     string
	debug      bool
}

// Execute is the main entry point called from main.go.
func Execute(version, commit string) {
	appVersion = version
	appCommit = commit

	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree. Running with no subcommand starts chat.
func NewRootCmd() *cobra.Command {
	f := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "tutorchat",
		Short: "Math tutoring assistant with automatic model fallback",
		Long: "tutorchat is a math tutoring chat that switches to the next model " +
			"when the current one is rate-limited or unavailable.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, f, "", "")
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&f.configFile, "config", "c", "", "config file path (default ~/.config/tutorchat/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&f.dbPath, "db", "", "SQLite database path (default ~/.tutorchat/tutorchat.db)")
	rootCmd.PersistentFlags().StringVar(&f.logDir, "log-dir", "", "directory for logs, traces and metrics")
	rootCmd.PersistentFlags().BoolVar(&f.debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(newChatCmd(f))
	rootCmd.AddCommand(newServeCmd(f))
	rootCmd.AddCommand(newKeyCmd(f))
	rootCmd.AddCommand(newModelCmd(f))
	rootCmd.AddCommand(newConversationsCmd(f))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// app holds what every command needs: config, logger, store and registry.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *store.SQLiteStore
	registry *registry.Registry
	closers  []func()
}

// openApp loads configuration, applying CLI flag overrides, and opens the
// store and registry.
func openApp(f *rootFlags) (*app, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return nil, err
	}
	if f.dbPath != "" {
		cfg.DBPath = f.dbPath
	}
	if f.logDir != "" {
		cfg.LogDir = f.logDir
	}
	if f.debug {
		cfg.Debug = true
	}

	a := &app{cfg: cfg}

	logger, logFile, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger
	a.closers = append(a.closers, func() { logFile.Close() })

	if cfg.Debug {
		logger.Debug("debug mode enabled")
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.store = st
	a.closers = append(a.closers, func() {
		if err := st.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	})

	reg, err := registry.New(st, config.Models())
	if err != nil {
		a.Close()
		return nil, err
	}
	a.registry = reg
	return a, nil
}

// Close releases resources in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// newChatBot starts telemetry and builds the session manager and chatbot.
func (a *app) newChatBot(ctx context.Context, conversationID string) (*chatbot.ChatBot, error) {
	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx, a.cfg.LogDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	mgr, err := a.newManager(tracer, meter)
	if err != nil {
		return nil, err
	}

	cfg := a.cfg
	cfg.ConversationID = conversationID
	return chatbot.NewChatBot(cfg, chatbot.Deps{
		Manager:  mgr,
		Registry: a.registry,
		Store:    a.store,
		Logger:   a.logger,
		Tracer:   tracer,
	})
}

func (a *app) newManager(tracer trace.Tracer, meter metric.Meter) (*tutor.Manager, error) {
	dial := backend.OpenAIDialer(a.cfg.BaseURL, a.cfg.RequestTimeout, a.logger)
	return tutor.NewManager(a.registry, dial, tutor.Options{
		Logger:     a.logger,
		Tracer:     tracer,
		Meter:      meter,
		Generation: a.cfg.Generation,
	})
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "tutorchat %s (%s)\n", appVersion, appCommit)
}
