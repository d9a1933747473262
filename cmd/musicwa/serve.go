package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nekokan/musicwa/internal/config"
	"github.com/nekokan/musicwa/internal/server"
	"github.com/nekokan/musicwa/internal/ui"
	"github.com/nekokan/musicwa/internal/watch"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "server",
	Short:   "Serve the document directory over HTTP",
	Long: `Serve the document directory to the editor.

Routes:
  GET    /api/list                 document ids and display names
  GET    /api/list-with-labels     the same with music display labels
  GET    /api/files/{id}           document content, fingerprint in ETag
  POST   /api/save                 {id, content, expectedFingerprint}
  DELETE /api/files/{id}           If-Match: fingerprint
  GET    /api/search?q=            label and personnel search
  GET    /ws                       change feed
  GET    /health

With watching enabled, edits made outside the server are picked up and
pushed to connected editors over the change feed.

Example usage:
  musicwa serve --root ./db
  musicwa serve --listen 0.0.0.0:12989 --static ./dist`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "Address to listen on (default 127.0.0.1:12989)")
	serveCmd.Flags().String("static", "", "Directory with the front end to serve at /")
	serveCmd.Flags().Bool("no-watch", false, "Do not watch the directory for outside changes")
	serveCmd.Flags().Bool("no-index", false, "Do not use the SQLite index")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	verbose = true
	if err := v.BindPFlag(config.KeyListen, cmd.Flags().Lookup("listen")); err != nil {
		return err
	}
	if err := v.BindPFlag(config.KeyStaticDir, cmd.Flags().Lookup("static")); err != nil {
		return err
	}
	var err error
	if cfg, err = config.FromViper(v); err != nil {
		return err
	}
	noWatch, _ := cmd.Flags().GetBool("no-watch")
	noIndex, _ := cmd.Flags().GetBool("no-index")

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(ctx, !noIndex)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.NewServer(a.svc, &server.Config{
		Listen:    cfg.Listen,
		StaticDir: cfg.StaticDir,
		Logger:    logger("server"),
	})
	a.svc.Observe(srv)

	if cfg.Watch.Enabled && !noWatch {
		w, err := watch.New(a.store, &watch.Config{
			Debounce: cfg.Watch.Debounce.Std(),
			Logger:   logger("watch"),
		})
		if err != nil {
			return err
		}
		if err := w.Start(); err != nil {
			return err
		}
		defer w.Stop()
		go forwardChanges(ctx, w, a, srv)
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	fmt.Printf("%s Serving %s on http://%s\n", ui.RenderAccent("▶"), a.store.Root(), srv.GetAddr())
	if a.db != nil {
		fmt.Printf("   Index: %s\n", a.db.Path())
	}
	fmt.Printf("   Change feed: ws://%s/ws\n", srv.GetAddr())
	fmt.Println("\nPress Ctrl+C to stop...")

	<-ctx.Done()

	fmt.Println("\nShutting down...")
	if err := srv.Stop(); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}
	fmt.Printf("%s Server stopped\n", ui.RenderPass("✓"))
	return nil
}

// forwardChanges passes watcher events to the index and the change feed.
// Saves made through the server also arrive here a second time.
func forwardChanges(ctx context.Context, w *watch.Watcher, a *app, srv *server.Server) {
	log := logger("watch")
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-w.Events():
			if !ok {
				return
			}
			if a.syncer != nil {
				a.syncer.DocumentChanged(ctx, change)
			}
			srv.DocumentChanged(ctx, change)
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			log.Printf("Watcher error: %v", err)
		}
	}
}
