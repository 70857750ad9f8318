package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"dirmirror/internal/api"
	"dirmirror/internal/config"
	"dirmirror/internal/kvstore"
	"dirmirror/internal/logging"
	"dirmirror/internal/metrics"
	"dirmirror/internal/mirror"
	"dirmirror/internal/otel"
	"dirmirror/internal/version"

	"golang.org/x/sync/errgroup"
)

// run loads settings, starts the mirror and the HTTP server, and blocks until
// ctx ends, a signal arrives or the server fails. ready, when set, receives
// the bound listen address once the server accepts connections.
func run(ctx context.Context, flags flagValues, stderr io.Writer, signals <-chan os.Signal, ready chan<- string) error {
	settings, err := config.Load(flags.ConfigPath, flags.Overrides)
	if err != nil {
		return err
	}

	logger := newLogger(settings.Log, stderr)
	registry := metrics.NewRegistry()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopSignals := watchShutdownSignals(logger, cancel, signals)
	defer stopSignals()

	coordinator := newShutdownCoordinator(logger)

	otelShutdown, err := otel.SetupSDK(ctx, otel.SDKOptions{
		Enabled:            settings.Otel.Enabled,
		HTTPEndpoint:       settings.Otel.Endpoint,
		ServiceName:        settings.Otel.ServiceName,
		ServiceVersion:     version.Version,
		ResourceAttributes: otel.ParseResourceAttributes(settings.Otel.ResourceAttributes),
	})
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}

	instance, err := mirror.New(mirror.Options{
		Root:        settings.Mirror.Root,
		Name:        settings.Mirror.Name,
		EventBuffer: int(settings.Mirror.EventBuffer),
		Logger:      logger,
		Metrics:     registry,
	})
	if err != nil {
		_ = otelShutdown(context.Background())
		return err
	}
	if err := instance.Start(ctx); err != nil {
		_ = instance.Close()
		_ = otelShutdown(context.Background())
		return err
	}

	var store *kvstore.Store
	if settings.KV.Enabled {
		store = kvstore.New(kvstore.Options{
			Separator: settings.KV.Separator,
			Logger:    logger,
			Metrics:   registry,
		})
		if settings.KV.SeedFile != "" {
			count, err := store.LoadFile(settings.KV.SeedFile)
			if err != nil {
				store.Close()
				_ = instance.Close()
				_ = otelShutdown(context.Background())
				return err
			}
			logger.Info("kv seeded", map[string]string{
				"dirmirror.category": "kv",
				"file":               settings.KV.SeedFile,
				"count":              strconv.Itoa(count),
			})
		}
	}

	server := &http.Server{
		Handler: api.NewHandler(api.Options{
			Mirror:          instance,
			KV:              store,
			KVName:          settings.KV.Name,
			AuthToken:       settings.Server.AuthToken,
			Compress:        true,
			EventsPerSecond: settings.Observe.EventsPerSecond,
			Burst:           int(settings.Observe.Burst),
			Logger:          logger,
			Metrics:         registry,
		}),
		ReadHeaderTimeout: time.Duration(settings.Server.ReadHeaderTimeoutMS) * time.Millisecond,
	}
	listener, err := net.Listen("tcp", settings.Server.Addr)
	if err != nil {
		if store != nil {
			store.Close()
		}
		_ = instance.Close()
		_ = otelShutdown(context.Background())
		return fmt.Errorf("listen %s: %w", settings.Server.Addr, err)
	}

	coordinator.Add("http server", server.Shutdown)
	coordinator.Add("mirror", func(context.Context) error { return instance.Close() })
	if store != nil {
		coordinator.Add("kv store", func(context.Context) error {
			store.Close()
			return nil
		})
	}
	coordinator.Add("otel", otelShutdown)

	logger.Info("dirmirror listening", map[string]string{
		"addr":    listener.Addr().String(),
		"mirror":  instance.Name(),
		"root":    instance.Root(),
		"version": version.Version,
	})
	if ready != nil {
		ready <- listener.Addr().String()
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		watchDone := instance.Done()
		for {
			select {
			case <-groupCtx.Done():
				timeout := time.Duration(settings.Server.ShutdownTimeoutMS) * time.Millisecond
				shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), timeout)
				defer cancelShutdown()
				return coordinator.Run(shutdownCtx)
			case <-watchDone:
				watchDone = nil
				if err := instance.WatchLoopErr(); err != nil {
					logger.Error("watch loop exited; serving a frozen tree", map[string]string{
						"dirmirror.category": "mirror",
						"error":              err.Error(),
					})
				}
			}
		}
	})
	return group.Wait()
}

func newLogger(settings config.LogSettings, output io.Writer) *logging.Logger {
	level, ok := logging.ParseLevel(settings.Level)
	if !ok {
		level = logging.LevelInfo
	}
	format, ok := logging.ParseFormat(settings.Format)
	if !ok {
		format = logging.FormatLogfmt
	}
	return logging.NewLoggerWithOptions(logging.NewLogBuffer(logging.DefaultBufferSize), logging.Options{
		Level:  level,
		Format: format,
		Output: output,
	})
}
