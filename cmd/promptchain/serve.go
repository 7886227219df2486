package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/simon020286/go-promptchain/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(c *cli) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long:  `Serves streaming chain runs, the run store and Prometheus metrics over HTTP.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				c.cfg.Server.Addr = addr
			}

			a, err := newApp(c.cfg, c.logger, true)
			if err != nil {
				return err
			}
			defer a.close()

			handler := server.NewHandler(&server.Server{
				Sequencer: a.sequencer,
				Store:     a.store,
				Chains:    a.chains,
				Metrics:   a.metrics.Handler(),
				Logger:    c.logger.Named("http"),
			})

			srv := &http.Server{
				Addr:              c.cfg.Server.Addr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}

			serverErrors := make(chan error, 1)
			go func() {
				c.logger.Info("Starting server",
					zap.String("addr", srv.Addr),
					zap.Strings("chains", a.chains.List()))
				serverErrors <- srv.ListenAndServe()
			}()

			shutdown := make(chan os.Signal, 1)
			signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(shutdown)

			select {
			case err := <-serverErrors:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err

			case sig := <-shutdown:
				c.logger.Info("Shutting down", zap.String("signal", sig.String()))

				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()

				if err := srv.Shutdown(ctx); err != nil {
					c.logger.Warn("Graceful shutdown did not complete", zap.Duration("timeout", shutdownTimeout), zap.Error(err))
					return srv.Close()
				}
				c.logger.Info("Server stopped")
				return nil
			}
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from config)")
	return cmd
}
