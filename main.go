package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"liqflow/config"
	liqchannel "liqflow/internal/channel/liq"
	"liqflow/internal/dashboard"
	"liqflow/internal/feed"
	"liqflow/internal/feed/binance"
	"liqflow/internal/feed/bybit"
	"liqflow/internal/format"
	"liqflow/internal/metrics"
	"liqflow/internal/models"
	"liqflow/internal/notifier"
	"liqflow/internal/policy"
	"liqflow/internal/processor"
	"liqflow/internal/supervisor"
	"liqflow/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Liqflow.Name,
		"version": cfg.Liqflow.Version,
	}).Info("starting liqflow")

	if cfg.Metrics.CloudWatch.Enabled {
		metrics.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
	}

	pol, err := policy.FromConfig(cfg.Filter)
	if err != nil {
		log.WithError(err).Error("failed to build alert policy")
		os.Exit(1)
	}

	sink, err := notifier.NewTelegram(cfg.Telegram, log)
	if err != nil {
		log.WithError(err).Error("failed to create telegram sink")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var units []supervisor.Unit
	var channels []*liqchannel.Channels
	var processors []*processor.Liquidation
	var sources []string

	if cfg.Source.Binance.Enabled {
		ch := liqchannel.NewChannels(models.ExchangeBinance, cfg.Channels.RawBuffer)
		channels = append(channels, ch)
		proc := processor.NewLiquidation(ch, pol, sink)
		processors = append(processors, proc)
		srcCfg := cfg.Source.Binance
		units = append(units, supervisor.Unit{
			Name: "binance",
			New: func() feed.Connection {
				return binance.NewConnection(srcCfg, ch, log)
			},
		})
		sources = append(sources, "binance")
	}

	if cfg.Source.Bybit.Enabled {
		ch := liqchannel.NewChannels(models.ExchangeBybit, cfg.Channels.RawBuffer)
		channels = append(channels, ch)
		proc := processor.NewLiquidation(ch, pol, sink)
		processors = append(processors, proc)
		srcCfg := cfg.Source.Bybit
		units = append(units, supervisor.Unit{
			Name: "bybit",
			New: func() feed.Connection {
				return bybit.NewConnection(srcCfg, ch, log)
			},
		})
		sources = append(sources, "bybit")
	}

	for _, proc := range processors {
		if err := proc.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start processor")
			os.Exit(1)
		}
	}

	sup := supervisor.New(cfg.Supervisor, units)
	sup.Start(ctx)

	dash := dashboard.NewServer(cfg.Dashboard, dashboard.StatusSource{
		AppName:  cfg.Liqflow.Name,
		Version:  cfg.Liqflow.Version,
		Feeds:    sup.Snapshot,
		Channels: channels,
	}, log)
	go func() {
		if err := dash.Run(ctx); err != nil {
			log.WithError(err).Error("status server failed")
		}
	}()

	if err := sink.Send(ctx, format.StartupMessage(cfg.Liqflow.Name, cfg.Liqflow.Version, pol, sources)); err != nil {
		log.WithError(err).Warn("failed to send startup announcement")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	cancel()
	if !sup.Wait(cfg.Supervisor.ShutdownGrace) {
		log.WithComponent("main").Warn("feeds did not stop within shutdown grace")
	}
	for _, proc := range processors {
		proc.Stop()
	}
	for _, ch := range channels {
		ch.Close()
	}

	log.WithComponent("main").Info("liqflow stopped")
}
