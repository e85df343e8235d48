// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ziprobotics/zipbridge/internal/bridge"
	"github.com/ziprobotics/zipbridge/internal/gateway"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge",
	Long: `Open the robot link, perform the boot handshake and serve the WebSocket
control endpoint and the HTTP health endpoint until interrupted.

The robot is stopped before the bridge exits.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tr := newTransport(cfg, log)
	b := bridge.New(cfg, tr, log)
	if err := b.Start(ctx); err != nil {
		return err
	}
	defer b.Close()

	gw := gateway.New(b, log)
	defer gw.Close()

	wsSrv := &http.Server{Addr: cfg.Server.WSAddr, Handler: gw.Handler()}
	httpSrv := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: gateway.HealthHandler(b, log)}

	log.WithFields(logrus.Fields{
		"link": tr.Describe(),
		"ws":   cfg.Server.WSAddr,
		"http": cfg.Server.HTTPAddr,
	}).Info("bridge serving")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := wsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")

		// Leave the robot stopped before tearing the servers down.
		b.EmergencyStop("bridge shutdown")

		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		wsSrv.Shutdown(shutCtx)
		httpSrv.Shutdown(shutCtx)
		return nil
	})

	return g.Wait()
}
