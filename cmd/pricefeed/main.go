package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pricefeed/cmd"
	"pricefeed/internal/broadcast"
	"pricefeed/internal/exchange"
	"pricefeed/internal/exchange/binance"
	"pricefeed/internal/exchange/kraken"
	"pricefeed/internal/logger"
	"pricefeed/internal/prices"
	"pricefeed/internal/streamer"

	"github.com/bytedance/sonic"
	"github.com/grafana/pyroscope-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

func main() {
	cfg := cmd.GetConfig()

	app := cli.NewApp()
	app.Name = "pricefeed"
	app.Usage = "Streams best bid/ask midpoints from several exchanges into one price table"
	app.Version = "0.1.0"

	var exchanges string
	app.Flags = []cli.Flag{
		cli.IntFlag{
			Name:        "port, p",
			Usage:       "HTTP listen port",
			Value:       cfg.ServerPort,
			Destination: &cfg.ServerPort,
			EnvVar:      "SERVER_PORT",
		},
		cli.StringFlag{
			Name:        "log-level, l",
			Usage:       "debug, info, warn or error",
			Value:       cfg.LogLevel,
			Destination: &cfg.LogLevel,
			EnvVar:      "LOG_LEVEL",
		},
		cli.StringFlag{
			Name:        "exchanges, e",
			Usage:       "comma separated exchanges to ingest",
			Value:       strings.Join(cfg.Exchanges, ","),
			Destination: &exchanges,
			EnvVar:      "EXCHANGES",
		},
	}

	app.Action = func(c *cli.Context) error {
		cfg.Exchanges = strings.Split(exchanges, ",")
		if err := cfg.Validate(); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		if err := logger.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		if err := run(cfg); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cfg *cmd.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.PyroscopeServer != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "pricefeed",
			ServerAddress:   cfg.PyroscopeServer,
			Tags: map[string]string{
				"exchanges": strings.Join(cfg.Exchanges, ","),
			},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Warnf("pyroscope start failed: %v", err)
		} else {
			defer func() {
				_ = profiler.Stop()
			}()
		}
	}

	table := prices.NewTable()
	hub := broadcast.NewHub(cfg.BroadcastBuffer, cfg.SubscriberBuffer)
	go hub.Run(ctx)

	if cfg.RedisAddr != "" {
		client, err := broadcast.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Warnf("redis mirror disabled: %v", err)
		} else {
			defer client.Close()
			mirror := broadcast.NewRedisMirror(client, cfg.RedisTTL)
			go mirror.Run(ctx, hub.Subscribe())
			log.Infof("mirroring latest prices to redis %s", cfg.RedisAddr)
		}
	}

	engine := streamer.NewEngine(table, hub, streamer.Options{
		Policy: streamer.Policy{
			BaseDelay:   cfg.ReconnectBaseDelay,
			MaxAttempts: cfg.WSConnectionMaxRetries,
			ReadTimeout: cfg.ReadTimeout,
		},
		Stagger: cfg.LaunchStagger,
	}, buildExchanges(cfg)...)
	engine.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/api/prices", prices.NewPricesService(table))
	mux.Handle("/ws/prices", broadcast.NewHandler(hub))
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"prices":      table.Len(),
			"subscribers": hub.Subscribers(),
			"dropped":     hub.Dropped(),
			"connections": engine.Status(),
		})
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serverErr:
		stop()
		engine.Wait()
		return errors.Wrap(err, "http server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("http shutdown: %v", err)
	}
	engine.Wait()
	log.Info("stopped")
	return nil
}

func buildExchanges(cfg *cmd.Config) []streamer.Exchange {
	var out []streamer.Exchange
	for _, id := range cfg.EnabledExchanges() {
		switch id {
		case exchange.Binance:
			out = append(out, streamer.Exchange{
				Connector: binance.NewAdapter(binance.Options{WSURL: cfg.BinanceWSURL}),
				Catalog:   binance.NewCatalog(cfg.BinanceRESTURL, cfg.CatalogTimeout, cfg.CatalogAttempts),
				ChunkSize: cfg.BinanceChunkSize,
			})
		case exchange.Kraken:
			out = append(out, streamer.Exchange{
				Connector: kraken.NewAdapter(kraken.Options{
					WSURL:          cfg.KrakenWSURL,
					SubscribeBatch: cfg.KrakenSubscribeBatch,
					PingInterval:   cfg.KrakenPingInterval,
				}),
				Catalog:   kraken.NewCatalog(cfg.KrakenRESTURL, cfg.CatalogTimeout, cfg.CatalogAttempts),
				ChunkSize: cfg.KrakenChunkSize,
			})
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}
