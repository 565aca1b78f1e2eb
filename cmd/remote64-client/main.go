package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/remote64/internal/client"
	"github.com/zsiec/remote64/internal/config"
	"github.com/zsiec/remote64/internal/intercom"
)

var version = "dev"

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.LogLevel()})))

	cfg, err := config.LoadClient()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	slog.Info("remote64 client starting",
		"version", version,
		"server", cfg.Server,
		"resolution", cfg.Resolution)

	bus := intercom.NewBus(intercom.Options{})
	sockEP := bus.Endpoint()
	consEP := bus.Endpoint()
	ctrlEP := bus.Endpoint()

	queues := client.NewQueues(cfg.BufferDepth, cfg.Resolution, nil)
	sock := client.NewSocket(cfg.Server, sockEP, nil)
	sock.SetQueueInterval(cfg.QueueInterval)
	consumer := client.NewConsumer(consEP, queues, nil)
	policy := client.Policy{LowWater: cfg.LowWater, Floor: cfg.Floor, MinInterval: cfg.MinInterval}
	controller := client.NewController(policy, queues, ctrlEP, nil)
	presenter := client.NewPresenter(queues, cfg.FPS, nil)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := bus.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		defer sockEP.Close()
		// Losing the server ends the whole client.
		err := sock.Run(ctx)
		if errors.Is(err, client.ErrServerClosed) {
			slog.Info("server ended the session", "reason", err)
			cancel()
			return nil
		}
		return err
	})

	g.Go(func() error {
		defer consEP.Close()
		return consumer.Run(ctx)
	})

	g.Go(func() error {
		defer ctrlEP.Close()
		return controller.Run(ctx)
	})

	g.Go(func() error {
		return presenter.Run(ctx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("client error", "error", err)
		os.Exit(1)
	}
	slog.Info("remote64 client stopped")
}
