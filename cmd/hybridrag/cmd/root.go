// Package cmd provides the CLI commands for hybridrag.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrag/internal/app"
	"github.com/Aman-CERP/hybridrag/internal/config"
	apperrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/logging"
	"github.com/Aman-CERP/hybridrag/internal/profiling"
	"github.com/Aman-CERP/hybridrag/pkg/version"
)

// Command annotations read by the root pre-run hook.
const (
	// annotationNoConfig skips configuration loading and logging setup.
	annotationNoConfig = "hybridrag/no-config"
	// annotationStdio keeps logs off stdout and stderr.
	annotationStdio = "hybridrag/stdio"
)

// state is shared by every command of one invocation.
type state struct {
	configPath string
	debug      bool
	profile    profiling.Options

	cfg      *config.Config
	session  *profiling.Session
	cleanups []func()
}

// config returns the configuration loaded by the pre-run hook.
func (s *state) config() (*config.Config, error) {
	if s.cfg != nil {
		return s.cfg, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(wd, s.configPath)
	if err != nil {
		return nil, err
	}
	s.cfg = cfg
	return cfg, nil
}

// openApp opens the application over the loaded configuration.
func (s *state) openApp(ctx context.Context) (*app.App, error) {
	cfg, err := s.config()
	if err != nil {
		return nil, err
	}
	return app.Open(ctx, cfg, app.WithLogger(slog.Default()))
}

func (s *state) setupLogging(cmd *cobra.Command) error {
	cfg, err := s.config()
	if err != nil {
		return err
	}

	lc := logging.Config{
		Level:         cfg.Log.Level,
		FilePath:      logging.LogPath(cfg.DataDir),
		MaxSizeMB:     cfg.Log.MaxSizeMB,
		MaxFiles:      cfg.Log.MaxFiles,
		WriteToStderr: cfg.Log.Stderr || s.debug,
	}
	if s.debug {
		lc.Level = "debug"
	}

	var cleanup func()
	if cmd.Annotations[annotationStdio] != "" {
		cleanup, err = logging.SetupStdioMode(lc)
	} else {
		cleanup, err = logging.SetupDefault(lc)
	}
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	s.cleanups = append(s.cleanups, cleanup)
	slog.Debug("command_started",
		slog.String("command", cmd.CommandPath()),
		slog.String("version", version.Version),
		slog.String("data_dir", cfg.DataDir))
	return nil
}

func (s *state) preRun(cmd *cobra.Command, _ []string) error {
	if s.profile.Enabled() {
		session, err := profiling.Start(s.profile)
		if err != nil {
			return err
		}
		s.session = session
	}
	if cmd.Annotations[annotationNoConfig] != "" {
		return nil
	}
	return s.setupLogging(cmd)
}

// finish stops profiling and flushes logs. Cobra skips post-run hooks
// when RunE fails, so Execute also calls it.
func (s *state) finish(_ *cobra.Command, _ []string) error {
	err := s.session.Stop()
	s.session = nil
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		s.cleanups[i]()
	}
	s.cleanups = nil
	return err
}

// NewRootCmd creates the root command for the hybridrag CLI.
func NewRootCmd() *cobra.Command {
	cmd, _ := newRoot()
	return cmd
}

func newRoot() (*cobra.Command, *state) {
	s := &state{}

	cmd := &cobra.Command{
		Use:   "hybridrag",
		Short: "Hybrid retrieval over documents and a knowledge graph",
		Long: `hybridrag ingests documents into a keyword index and a vector index,
queries a Neo4j knowledge graph alongside them, and fuses the results
into one ranked answer, optionally narrated by an LLM.

Run 'hybridrag serve' for the HTTP API or 'hybridrag mcp' for AI
assistants. 'hybridrag doctor' checks every backend.`,
		Version:            version.Version,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  s.preRun,
		PersistentPostRunE: s.finish,
	}
	cmd.SetVersionTemplate("hybridrag version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&s.configPath, "config", "c", "", "Config file (default: ./"+config.ProjectFileName+")")
	cmd.PersistentFlags().BoolVar(&s.debug, "debug", false, "Debug logging, mirrored to stderr")
	cmd.PersistentFlags().StringVar(&s.profile.CPU, "profile-cpu", "", "Write a CPU profile to file")
	cmd.PersistentFlags().StringVar(&s.profile.Heap, "profile-mem", "", "Write a heap profile to file on exit")
	cmd.PersistentFlags().StringVar(&s.profile.Trace, "profile-trace", "", "Write an execution trace to file")

	cmd.AddCommand(newServeCmd(s))
	cmd.AddCommand(newMCPCmd(s))
	cmd.AddCommand(newIngestCmd(s))
	cmd.AddCommand(newSearchCmd(s))
	cmd.AddCommand(newDocumentsCmd(s))
	cmd.AddCommand(newDoctorCmd(s))
	cmd.AddCommand(newConfigCmd(s))
	cmd.AddCommand(newVersionCmd())

	return cmd, s
}

// Execute runs the root command.
func Execute() error {
	cmd, s := newRoot()
	err := cmd.Execute()
	_ = s.finish(cmd, nil)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, apperrors.FormatForCLI(err, s.debug))
	}
	return err
}
