package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/davarch/gocd-notifier/internal/application"
	"github.com/davarch/gocd-notifier/internal/infrastructure/config"
	"github.com/davarch/gocd-notifier/internal/infrastructure/event_http"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = needsConfig(&cobra.Command{
	Use:   "serve",
	Short: "Listen for pipeline events and deliver notifications",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, cfg := appLog, appCfg

		a, err := build(cfg, log)
		if err != nil {
			return fmt.Errorf("wire: %w", err)
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		watchAndReload(ctx, cfgPath, log, a.settings)

		srv := &http.Server{
			Addr:              cfg.Listen.Addr,
			Handler:           event_http.NewHandler(log, a.dispatcher, a.metrics.Handler()),
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			<-ctx.Done()
			shutdown, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			_ = srv.Shutdown(shutdown)
		}()

		log.Info("start",
			zap.String("version", version),
			zap.String("listen", cfg.Listen.Addr),
			zap.Int("rules", a.settings.Snapshot().Rules.Len()),
			zap.String("gocd", cfg.GoCD.ServerHost),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", cfg.Listen.Addr, err)
		}
		return nil
	},
})

func init() {
	rootCmd.AddCommand(serveCmd)
}

// watchAndReload swaps in rules, policy, phrases and change settings of a
// changed config file. Bad edits are logged and the previous settings stay.
func watchAndReload(ctx context.Context, cfgPath string, log *zap.Logger, store *application.SettingsStore) {
	if cfgPath == "" {
		return
	}

	dir := filepath.Dir(cfgPath)
	base := filepath.Base(cfgPath)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("fsnotify init failed", zap.Error(err))
		return
	}

	if err := w.Add(dir); err != nil {
		log.Warn("fsnotify add dir failed", zap.String("dir", dir), zap.Error(err))
		_ = w.Close()
		return
	}

	fire := func() {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			log.Warn("config reload failed", zap.Error(err))
			return
		}
		next, err := cfg.Settings()
		if err != nil {
			log.Warn("config reload: invalid settings", zap.Error(err))
			return
		}
		store.Update(next)
	}

	go func() {
		defer func() { _ = w.Close() }()

		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}

				if filepath.Base(ev.Name) != base {
					continue
				}

				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					if timer == nil {
						timer = time.AfterFunc(300*time.Millisecond, fire)
					} else {
						timer.Reset(300 * time.Millisecond)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("fsnotify error", zap.Error(err))
			}
		}
	}()
}
