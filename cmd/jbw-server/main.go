// Command jbw-server hosts a single Jelly Bean World simulation over a
// websocket RPC surface, with an optional interactive admin console on
// stdin.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jbw-sim/jbw/diskstore"
	"github.com/jbw-sim/jbw/netrpc"
	"github.com/jbw-sim/jbw/world"
)

func main() {
	configPath := flag.String("config", "jbw.toml", "path to the server's TOML configuration file")
	noConsole := flag.Bool("no-console", false, "disable the interactive admin console")
	flag.Parse()

	log := slog.Default()

	if err := run(*configPath, *noConsole, log); err != nil {
		log.Error("jbw-server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(configPath string, noConsole bool, log *slog.Logger) error {
	uc, err := LoadOrCreateConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sim, err := uc.WorldConfig(log).New()
	if err != nil {
		return fmt.Errorf("construct simulator: %w", err)
	}

	if uc.Persistence.PatchCacheDir != "" {
		cache, err := diskstore.Open(uc.Persistence.PatchCacheDir)
		if err != nil {
			return fmt.Errorf("open patch cache: %w", err)
		}
		defer cache.Close()
		sim.SetPatchCache(cache)
	}

	if f, err := os.Open(uc.Persistence.SnapshotFile); err == nil {
		err = sim.Load(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("load snapshot %s: %w", uc.Persistence.SnapshotFile, err)
		}
		log.Info("resumed from snapshot", "path", uc.Persistence.SnapshotFile, "tick", sim.CurrentTick())
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("open snapshot %s: %w", uc.Persistence.SnapshotFile, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rpc := netrpc.NewServer(sim, log)
	httpSrv := &http.Server{
		Addr:    uc.Network.Address,
		Handler: rpc,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("netrpc listening", "addr", uc.Network.Address)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	runErr := make(chan error, 1)
	go func() {
		runErr <- sim.Run(ctx)
	}()

	if !noConsole {
		go newConsole(sim, log, uc.Persistence.SnapshotFile).run(ctx)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("received signal, shutting down", "signal", sig)
	case err := <-serveErr:
		if err != nil {
			log.Error("netrpc server failed", "err", err)
		}
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("simulator loop failed", "err", err)
		}
	}

	cancel()
	sim.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("netrpc shutdown error", "err", err)
	}

	return saveSnapshot(sim, uc.Persistence.SnapshotFile, log)
}

func saveSnapshot(sim *world.Simulator, path string, log *slog.Logger) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := sim.Save(f); err != nil {
		f.Close()
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	log.Info("saved snapshot", "path", path, "tick", sim.CurrentTick())
	return nil
}
