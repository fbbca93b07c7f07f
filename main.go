// Copyright 2025 The fawa Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/fawa-io/coverup/pkg/clock"
	"github.com/fawa-io/coverup/pkg/config"
	"github.com/fawa-io/coverup/pkg/cors"
	"github.com/fawa-io/coverup/pkg/fwlog"
	"github.com/fawa-io/coverup/pkg/handoff"
	"github.com/fawa-io/coverup/pkg/presets"
	"github.com/fawa-io/coverup/pkg/storage"
	"github.com/fawa-io/coverup/pkg/upscale"
	"github.com/fawa-io/coverup/pkg/util"
	sharesvc "github.com/fawa-io/coverup/service/share"
	upscalesvc "github.com/fawa-io/coverup/service/upscale"
)

func main() {
	if err := config.InitConfig(); err != nil {
		fwlog.Fatalf("Failed to initialize configuration: %v", err)
	}
	cfg := config.Get()

	level, err := fwlog.ParseLevel(cfg.LogLevel)
	if err != nil {
		fwlog.Fatal(err)
	}
	fwlog.SetLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.Real()
	store, err := storage.Open(ctx, cfg, clk)
	if err != nil {
		fwlog.Fatalf("Failed to open share store: %v", err)
	}

	encoder, err := handoff.NewEncoder(cfg.QR.Size, cfg.QR.Level)
	if err != nil {
		fwlog.Fatalf("Invalid QR settings: %v", err)
	}
	ho := handoff.New(store, encoder, cfg.PublicBaseURL, clk)

	engine := upscale.New(upscale.Options{
		Workers:        cfg.Upscale.Workers,
		Timeout:        cfg.Upscale.Timeout,
		MaxSourceBytes: cfg.Upscale.MaxSourceBytes,
		HTTPClient:     &http.Client{Timeout: cfg.Upscale.Timeout},
	})

	sweeper := storage.NewSweeper(store, clk, storage.TTL)
	sweeper.Start(ctx)

	upscaleSvcHdr := &upscalesvc.UpscaleServiceHandler{
		Engine:        engine,
		BaseDimension: cfg.Upscale.BaseDimension,
	}
	upscaleProcedure, upscaleHandler := upscalesvc.NewUpscaleServiceHandler(upscaleSvcHdr)

	shareSvcHdr := &sharesvc.ShareServiceHandler{
		Handoff:         ho,
		MaxPayloadBytes: cfg.Share.MaxPayloadBytes,
	}
	shareProcedure, shareHandler := sharesvc.NewShareServiceHandler(shareSvcHdr)

	// Register all handlers
	mux := http.NewServeMux()
	mux.Handle(upscaleProcedure, upscaleHandler)
	mux.Handle(shareProcedure, shareHandler)
	upscaleSvcHdr.RegisterREST(mux)
	shareSvcHdr.RegisterREST(mux)
	mux.HandleFunc("GET /api/presets", func(w http.ResponseWriter, _ *http.Request) {
		util.WriteJSON(w, http.StatusOK, presets.All())
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		util.WriteJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"backend": cfg.Share.Backend,
		})
	})

	coverupSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(cors.NewCORS().Handler(mux), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Setup graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fwlog.Info("Shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := coverupSrv.Shutdown(shutdownCtx); err != nil {
			fwlog.Errorf("Server shutdown error: %v", err)
		}

		sweeper.Stop()
		engine.Close()
		if err := store.Close(); err != nil {
			fwlog.Errorf("Error closing share store: %v", err)
		}

		fwlog.Info("Server shutdown complete")
	}()

	fwlog.Infof("Server starting on %v (share backend: %s)", cfg.Addr, cfg.Share.Backend)

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		err = coverupSrv.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
	} else {
		err = coverupSrv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		fwlog.Fatalf("Failed to start server: %v", err)
	}
	<-stopped
}
