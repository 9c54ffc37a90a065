package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/polyedge/internal/logger"
	"github.com/rewired-gh/polyedge/internal/server"
)

func runCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Scan on a fixed interval until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()

			if a.telegram != nil {
				a.telegram.ListenForCommands(ctx, a.scheduler)
			}

			var srv *server.Server
			if cfg.Server.Enabled {
				srv = server.New(ctx, cfg.Server.ListenAddr, a.scheduler, a.history, a.registry)
				go func() {
					if err := srv.Start(); err != nil {
						logger.Error("Control server failed: %v", err)
					}
				}()
			}

			a.scheduler.Run(ctx)

			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Warn("Control server shutdown: %v", err)
				}
			}
			// a request that raced the shutdown may still hold a scan
			a.scheduler.Wait()
			logger.Info("Service stopped")
			return nil
		},
	}
}
