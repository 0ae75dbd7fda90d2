package logging

import (
	"log/slog"
)

// SetupStdioMode initializes logging for the MCP stdio server.
// Logs go only to the file: stdout carries JSON-RPC and any stray write
// corrupts the stream.
func SetupStdioMode(cfg Config) (func(), error) {
	cfg.WriteToStderr = false
	if cfg.FilePath == "" {
		cfg.FilePath = LogPath(DefaultDataDir())
	}

	cleanup, err := SetupDefault(cfg)
	if err != nil {
		return nil, err
	}

	slog.Info("stdio_logging_initialized",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", cfg.Level))
	return cleanup, nil
}
