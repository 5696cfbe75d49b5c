package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/56quarters/donut/app"
	"github.com/56quarters/donut/server"
	"golang.org/x/sync/errgroup"
)

func dropPrivileges(uid, gid int) error {
	if err := syscall.Setgid(gid); err != nil {
		return err
	}
	if err := syscall.Setuid(uid); err != nil {
		return err
	}
	return nil
}

func main() {
	conffile := flag.String("config", "./donut.json", "path to a JSON or YAML config file")
	flag.Parse()

	config, err := app.GetConfig(*conffile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config %s not loaded: %v\n", *conffile, err)
		os.Exit(1)
	}

	stdoutLogger := app.NewLogger(*config, os.Stderr)

	state, err := app.NewAppState(*config, stdoutLogger)
	if err != nil {
		stdoutLogger.Error("failed to initialize", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dohServer, err := server.NewDohServer(*config, state)
	if err != nil {
		stdoutLogger.Error("failed to initialize", "err", err)
		os.Exit(1)
	}

	listener, err := dohServer.Listen()
	if err != nil {
		stdoutLogger.Error("failed to listen", "addr", config.HttpAddress(), "err", err)
		os.Exit(1)
	}

	if os.Geteuid() == 0 {
		if err := dropPrivileges(65534, 65534); err != nil {
			stdoutLogger.Warn("failed to drop privileges after initialization", "err", err)
		} else {
			stdoutLogger.Debug("successfully dropped privileges after initialization")
		}
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return dohServer.Serve(ctx, listener)
	})
	group.Go(func() error {
		return state.Metrics.Start(ctx)
	})

	if err := group.Wait(); err != nil {
		stdoutLogger.Error("server stopped", "err", err)
		os.Exit(1)
	}
	stdoutLogger.Info("shut down cleanly")
}
