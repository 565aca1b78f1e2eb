package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/remote64/internal/api"
	"github.com/zsiec/remote64/internal/config"
	"github.com/zsiec/remote64/internal/ingest"
	srtingest "github.com/zsiec/remote64/internal/ingest/srt"
	"github.com/zsiec/remote64/internal/intercom"
	"github.com/zsiec/remote64/internal/presence"
	"github.com/zsiec/remote64/internal/recording"
	"github.com/zsiec/remote64/internal/session"
	"github.com/zsiec/remote64/internal/transport"
)

var version = "dev"

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.LogLevel()})))

	cfg, err := config.LoadServer()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	features, err := cfg.FeatureSet()
	if err != nil {
		slog.Error("invalid features", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := intercom.NewBus(intercom.Options{})
	mgrEP := bus.Endpoint()
	pubEP := bus.Endpoint()
	recEP := bus.Endpoint()
	presEP := bus.Endpoint()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		control := bus.Endpoint()
		if err := control.Send(intercom.Kill{}); err != nil {
			slog.Debug("kill not broadcast", "error", err)
		}
		control.Close()
		// Give the Kill a moment to drain before tearing everything down.
		time.AfterFunc(2*time.Second, cancel)
	}()

	slog.Info("remote64 server starting",
		"version", version,
		"listen", cfg.Listen,
		"srt", cfg.SRTAddr,
		"api", cfg.APIAddr,
		"features", features,
		"resolution", cfg.Resolution)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := bus.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	ln, err := transport.Listen(ctx, cfg.Listen, nil)
	if err != nil {
		slog.Error("failed to listen", "addr", cfg.Listen, "error", err)
		os.Exit(1)
	}

	mgr := session.NewManager(session.Config{
		Features:     features,
		PingInterval: cfg.PingInterval,
		PongTimeout:  cfg.PongTimeout,
		RingSize:     cfg.RingSize,
	}, mgrEP, nil)

	g.Go(func() error {
		defer mgrEP.Close()
		defer ln.Close()
		return mgr.Run(ctx, ln.Accepted())
	})

	registry := ingest.NewRegistry()
	publisher := ingest.NewPublisher(pubEP, nil)
	srtSrv := srtingest.NewServer(cfg.SRTAddr, registry, publisher, nil)
	srtCaller := srtingest.NewCaller(registry, publisher, nil)

	g.Go(func() error {
		defer pubEP.Close()
		return srtSrv.Start(ctx)
	})
	g.Go(func() error {
		return publisher.Run(ctx)
	})

	for _, p := range cfg.Pulls {
		req := srtingest.PullRequest{Address: p.Address, StreamKey: p.StreamKey, StreamID: p.StreamID}
		if err := srtCaller.Pull(ctx, req); err != nil {
			slog.Warn("initial SRT pull failed", "address", p.Address, "key", p.StreamKey, "error", err)
		}
	}

	var recorder recording.Controller = recording.LogController{}
	if cfg.MQTT.Broker != "" {
		mc := recording.NewMQTTController(recording.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
		}, nil)
		if err := mc.Connect(ctx); err != nil {
			slog.Error("mqtt connect failed, recording control disabled", "error", err)
		} else {
			defer mc.Disconnect()
			recorder = mc
		}
	}
	runner := recording.NewRunner(recorder, recEP, nil)
	g.Go(func() error {
		defer recEP.Close()
		return runner.Run(ctx)
	})

	var store presence.Store = presence.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		store = presence.NewRedisStore(rdb, cfg.Redis.Prefix)
	}
	tracker := presence.NewTracker(store, presEP, nil)
	g.Go(func() error {
		defer presEP.Close()
		return tracker.Run(ctx)
	})

	apiSrv := api.New(api.Config{
		Addr:      cfg.APIAddr,
		Queue:     mgr.Snapshot,
		Ingest:    registry.List,
		BusStats:  bus.Stats,
		Publisher: publisher.Stats,
		SRTPull: func(address, streamKey, streamID string) error {
			return srtCaller.Pull(ctx, srtingest.PullRequest{
				Address:   address,
				StreamKey: streamKey,
				StreamID:  streamID,
			})
		},
		SRTStop: srtCaller.Stop,
		SRTList: func() []api.PullInfo {
			pulls := srtCaller.ActivePulls()
			out := make([]api.PullInfo, len(pulls))
			for i, p := range pulls {
				out[i] = api.PullInfo{Address: p.Address, StreamKey: p.StreamKey, StreamID: p.StreamID}
			}
			return out
		},
	}, nil)
	g.Go(func() error {
		return apiSrv.Start(ctx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("remote64 server stopped")
}
