package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/neoclaw-ai/turnrouter/internal/logging"
	"github.com/neoclaw-ai/turnrouter/internal/notify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := loadApp(runCtx)
			if err != nil {
				return err
			}
			defer app.Close()

			cfg := app.Config()
			addr := cfg.Server.Listen
			if listen != "" {
				addr = listen
			}

			if err := os.MkdirAll(cfg.DataDir(), 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
			pidFilePath := filepath.Join(cfg.DataDir(), "turnrouter.pid")
			if err := os.WriteFile(pidFilePath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
				return fmt.Errorf("write pid file %q: %w", pidFilePath, err)
			}
			defer os.Remove(pidFilePath)

			logging.Logger().Info(
				"starting server",
				"listen", addr,
				"default_model", cfg.Defaults.Model,
				"db", cfg.DBPath(),
			)

			g, gctx := errgroup.WithContext(runCtx)
			g.Go(func() error {
				return app.Server().ListenAndServe(gctx, addr)
			})
			g.Go(func() error {
				logResponses(gctx, app.Hub())
				return nil
			})
			if err := g.Wait(); err != nil {
				return err
			}
			logging.Logger().Info("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides server.listen)")
	return cmd
}

// logResponses logs every finished response until ctx is done.
func logResponses(ctx context.Context, hub *notify.Hub) {
	sub := hub.Subscribe(func(e notify.Event) bool {
		return e.Kind == notify.ResponseCompleted || e.Kind == notify.ResponseStopped
	})
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.Events():
			if ev.Error != "" {
				logging.Logger().Warn("response stopped", "chat_id", ev.ChatID, "message_id", ev.MessageID, "status", ev.Status, "err", ev.Error)
				continue
			}
			logging.Logger().Info("response finished", "chat_id", ev.ChatID, "message_id", ev.MessageID, "status", ev.Status)
		}
	}
}
