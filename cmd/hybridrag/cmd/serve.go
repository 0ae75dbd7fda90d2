package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/hybridrag/internal/api"
	"github.com/Aman-CERP/hybridrag/internal/app"
	"github.com/Aman-CERP/hybridrag/internal/watcher"
)

type serveOptions struct {
	addr      string
	watchDir  string
	skipCheck bool
	polling   bool
}

func newServeCmd(s *state) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP/JSON API.

Endpoints:
  POST   /api/search          hybrid search
  POST   /api/documents       upload a document (multipart field "file")
  GET    /api/documents       list documents
  GET    /api/documents/:id   show one document
  DELETE /api/documents/:id   remove a document from every index
  GET    /api/status          backend health and query telemetry
  GET    /healthz             liveness

With --watch, files dropped into the folder are ingested and files
removed from it are deleted from the indexes.`,
		Example: `  hybridrag serve
  hybridrag serve --addr 127.0.0.1:9000 --watch ~/inbox`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, s, opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address (default: server.addr)")
	cmd.Flags().StringVarP(&opts.watchDir, "watch", "w", "", "Drop folder to watch (default: ingest.watch_dir)")
	cmd.Flags().BoolVar(&opts.skipCheck, "skip-check", false, "Skip the startup backend checks")
	cmd.Flags().BoolVar(&opts.polling, "poll", false, "Watch by polling instead of file system events")

	return cmd
}

func runServe(cmd *cobra.Command, s *state, opts serveOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := s.openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if !opts.skipCheck {
		if err := a.Preflight(ctx, cmd.ErrOrStderr(), false); err != nil {
			return err
		}
	}

	cfg := a.Config
	addr := cfg.Server.Addr
	if opts.addr != "" {
		addr = opts.addr
	}
	if !s.debug {
		gin.SetMode(gin.ReleaseMode)
	}

	srv, err := api.New(api.Deps{
		Search:    a.Engine,
		Ingest:    a.Pipeline,
		Documents: a.Registry,
		Status:    a.Health,
		Graph:     a.GraphExpander(),
	}, api.Config{
		Addr:            addr,
		CORSOrigins:     cfg.Server.CORSOrigins,
		UploadRate:      cfg.Server.UploadRate,
		UploadBurst:     cfg.Server.UploadBurst,
		MaxBytes:        cfg.Ingest.MaxBytes,
		ShutdownTimeout: 10 * time.Second,
	}, slog.Default())
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })

	watchDir := opts.watchDir
	if watchDir == "" {
		watchDir = cfg.Ingest.WatchDir
	}
	if watchDir != "" {
		g.Go(func() error { return runWatcher(gctx, a, watchDir, opts.polling) })
	}

	cmd.PrintErrf("hybridrag %s listening on %s\n", a.Embedder.ModelName(), addr)
	return g.Wait()
}

// runWatcher feeds a drop folder into the pipeline until ctx is done.
func runWatcher(ctx context.Context, a *app.App, dir string, polling bool) error {
	wo := watcher.DefaultOptions()
	wo.ForcePolling = polling
	src := watcher.NewSource(wo)

	w := watcher.NewDropWatcher(src, a.Pipeline, watcher.DropOptions{MaxBytes: a.Config.Ingest.MaxBytes})
	slog.Info("watch_started", slog.String("dir", dir), slog.Bool("polling", polling))
	return w.Run(ctx, dir)
}
