package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"tailscale.com/tsnet"

	"github.com/milnet2/coxswain/internal/heart"
	"github.com/milnet2/coxswain/internal/mcp"
	"github.com/milnet2/coxswain/internal/server"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, MCP endpoint and session manager",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(*configPath)
		},
	}
}

func serve(configPath string) error {
	cfg, log, err := loadConfig(configPath, os.Stdout)
	if err != nil {
		return err
	}
	log.Info("coxswain starting", "version", Version)

	ctx := context.Background()
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := newRecording(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rec.close()

	scanner := heart.NewScanner(heart.NewBLEAdapter(log), cfg.Heart.LostAfter, log)
	manager := newManager(cfg, store, rec, scanner, log)
	defer manager.Close()

	// Restore the selection of the previous run
	if p, err := store.SelectedProgram(ctx); err != nil {
		log.Warn("restoring selected program", "error", err)
	} else if p != nil {
		if err := manager.Select(p); err != nil {
			log.Warn("restoring selected program", "program", p.Name, "error", err)
		}
	}

	devices := deviceOpener(cfg, log)
	if cfg.Rower.Device != "" {
		dev, err := devices(cfg.Rower.Device)
		if err != nil {
			log.Warn("rowing machine not available", "error", err)
		} else {
			manager.Start(dev)
		}
	}

	local := &mcp.Local{Manager: manager, Store: store, Devices: devices}
	opts := server.Options{
		Manager: manager,
		Store:   store,
		Scanner: scanner,
		Devices: devices,
		APIKey:  cfg.Auth.APIKey,
		Log:     log,
	}
	if rec.db != nil {
		opts.History = rec.db
		local.History = rec.db
	}
	opts.MCP = mcpserver.NewStreamableHTTPServer(mcp.New(local, Version, log))
	srv := server.New(opts)

	// tsnet or plain HTTP
	var listener net.Listener
	if cfg.Tailscale.Enabled {
		tsServer := &tsnet.Server{
			Hostname: cfg.Tailscale.Hostname,
			Dir:      cfg.Tailscale.StateDir,
		}
		if err := tsServer.Start(); err != nil {
			return fmt.Errorf("tsnet start: %w", err)
		}
		defer tsServer.Close()

		lc, err := tsServer.LocalClient()
		if err != nil {
			return fmt.Errorf("tsnet local client: %w", err)
		}
		srv.SetTailscale(lc)

		listener, err = tsServer.Listen("tcp", ":80")
		if err != nil {
			return fmt.Errorf("tsnet listen: %w", err)
		}
		log.Info("tsnet server starting", "hostname", cfg.Tailscale.Hostname)
	} else {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		log.Info("server starting", "addr", addr, "mode", "dev (no tailscale)")
	}

	// event streams end with the server
	streams, stopStreams := context.WithCancel(context.Background())
	httpSrv := &http.Server{
		Handler:     srv,
		BaseContext: func(net.Listener) context.Context { return streams },
	}
	httpSrv.RegisterOnShutdown(stopStreams)
	serveErr := make(chan error, 1)
	go func() {
		if err := httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down", "signal", sig)
	case err := <-serveErr:
		log.Error("server error", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	manager.Stop()
	log.Info("server stopped")
	return nil
}
