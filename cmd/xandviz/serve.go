package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hicksonhaziel/xandviz/www"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, event stream and scheduled collector",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.open(true)
			if err != nil {
				return err
			}
			defer rt.close()
			log := rt.log

			rt.eng.Start()
			defer rt.eng.Stop()

			handler, stopWeb := www.NewRouter(rt.eng)

			rt.cfg.RLock()
			addr := fmt.Sprintf("%s:%d", rt.cfg.Web.Host, rt.cfg.Web.Port)
			rt.cfg.RUnlock()
			srv := &http.Server{
				Addr:              addr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Infof("xandviz: web server listening on %s", addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()
			log.Infof("xandviz: ready (%s)", Version)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-sigCh:
			case err := <-errCh:
				stopWeb()
				return fmt.Errorf("web server: %w", err)
			}

			log.Infof("xandviz: shutting down...")
			stopWeb()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warnf("xandviz: web shutdown: %v", err)
			}
			log.Infof("xandviz: stopped")
			return nil
		},
	}
}
