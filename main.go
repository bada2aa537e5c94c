package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/mjasion/balena-home/vanmon/buffer"
	"github.com/mjasion/balena-home/vanmon/classifier"
	"github.com/mjasion/balena-home/vanmon/config"
	"github.com/mjasion/balena-home/vanmon/decoder"
	"github.com/mjasion/balena-home/vanmon/dispatcher"
	"github.com/mjasion/balena-home/vanmon/fridge"
	"github.com/mjasion/balena-home/vanmon/metrics"
	"github.com/mjasion/balena-home/vanmon/profiling"
	"github.com/mjasion/balena-home/vanmon/publisher"
	"github.com/mjasion/balena-home/vanmon/radio"
	"github.com/mjasion/balena-home/vanmon/registry"
	"github.com/mjasion/balena-home/vanmon/telemetry"
	"github.com/mjasion/balena-home/vanmon/types"
)

const changeQueueSize = 64

func main() {
	configPath := flag.String("c", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("vanmon stopped with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting van monitoring service")
	cfg.PrintConfig(logger)

	profiler, err := profiling.Start(&cfg.Profiling, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize profiler: %w", err)
	}
	defer profiler.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelProviders, err := telemetry.InitProviders(ctx, &cfg.OpenTelemetry, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry providers: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := otelProviders.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown OpenTelemetry providers", zap.Error(err))
		}
	}()

	instruments, err := telemetry.NewInstruments(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}

	// sinks
	ringBuffer := buffer.New[*types.Reading](cfg.Prometheus.BufferSize, logger)
	var pusher *metrics.Pusher
	if cfg.Prometheus.Enabled {
		pusher = metrics.New(metrics.Config{
			URL:          cfg.Prometheus.URL,
			Username:     cfg.Prometheus.Username,
			Password:     cfg.Prometheus.Password,
			PushInterval: time.Duration(cfg.Prometheus.PushIntervalSeconds) * time.Second,
			BatchSize:    cfg.Prometheus.BatchSize,
		}, ringBuffer, logger)
		logger.Info("prometheus pusher initialized", zap.String("url", cfg.Prometheus.URL))
	}

	var mqttClient *publisher.Client
	if cfg.MQTT.Enabled {
		// validated by config.Load
		qos, _ := cfg.MQTT.QoSLevel()
		mqttClient = publisher.NewClient(publisher.Config{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			TopicPrefix:    cfg.MQTT.TopicPrefix,
			QoS:            qos,
			ConnectTimeout: time.Duration(cfg.MQTT.ConnectTimeoutSeconds) * time.Second,
		}, logger)
		if err := mqttClient.Connect(ctx); err != nil {
			// paho keeps retrying in the background
			logger.Warn("mqtt not connected yet", zap.Error(err))
		}
		defer mqttClient.Disconnect()
	}

	// the registry callback runs on the event loop and must not block
	changes := make(chan registry.Change, changeQueueSize)
	onChange := func(c registry.Change) {
		select {
		case changes <- c:
		default:
			logger.Warn("change queue full, dropping change", zap.String("device", c.Name))
		}
	}

	reg := registry.New()
	var fridgeAddr *radio.Address
	for _, dev := range cfg.BLE.Devices {
		addr, err := radio.ParseAddress(dev.MACAddress)
		if err != nil {
			return fmt.Errorf("device %s: %w", dev.Name, err)
		}
		kind, err := decoder.ParseKind(dev.Kind)
		if err != nil {
			return fmt.Errorf("device %s: %w", dev.Name, err)
		}
		if err := reg.Register(addr, dev.DecodedKey(), kind, dev.Name, onChange); err != nil {
			return fmt.Errorf("failed to register device %s: %w", dev.Name, err)
		}
		if kind == decoder.KindFridge {
			fridgeAddr = &addr
		}
	}

	bleRadio := radio.NewBlueZ(bluetooth.DefaultAdapter, cfg.BLE.CommandQueueSize, logger.Named("radio"))

	var machine *fridge.Machine
	if fridgeAddr != nil {
		machine = fridge.NewMachine(bleRadio, *fridgeAddr, logger.Named("fridge"))
	}

	loop := dispatcher.New(dispatcher.Config{
		ScanWindow:     cfg.BLE.ScanWindow(),
		ScanInterval:   cfg.BLE.ScanInterval(),
		AutoReconnect:  cfg.Fridge.AutoReconnect(),
		EventQueueSize: cfg.BLE.EventQueueSize,
	}, bleRadio, reg, classifier.New(reg, int16(cfg.BLE.MinRSSI)), machine, instruments, logger)
	bleRadio.SetHandler(loop.Post)

	if err := bleRadio.Start(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = loop.Run(ctx)
	}()

	// fan accepted changes out to the sinks
	sinkDone := make(chan struct{})
	go func() {
		defer close(sinkDone)
		for c := range changes {
			if pusher != nil {
				ringBuffer.Add(types.FromChange(c))
			}
			if mqttClient != nil {
				if err := mqttClient.Publish(c); err != nil {
					logger.Warn("failed to publish change", zap.String("device", c.Name), zap.Error(err))
				}
			}
		}
	}()

	if err := loop.Submit(dispatcher.StartScan); err != nil {
		return fmt.Errorf("failed to request scan: %w", err)
	}

	var poller *fridge.Poller
	if machine != nil {
		if err := loop.Submit(dispatcher.ConnectFridge); err != nil {
			logger.Warn("failed to request fridge connect", zap.Error(err))
		}
		poller = fridge.NewPoller(time.Duration(cfg.Fridge.QueryIntervalSeconds)*time.Second, func() error {
			return loop.Submit(dispatcher.QueryFridge)
		}, logger)
		if err := poller.Start(); err != nil {
			return err
		}
	}

	if pusher != nil {
		if cfg.Prometheus.StartAtEvenSecond {
			now := time.Now()
			wait := now.Truncate(time.Second).Add(time.Second).Sub(now)
			logger.Info("waiting to start at even second", zap.Duration("wait_duration", wait))
			time.Sleep(wait)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			pusher.Run(ctx)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	if poller != nil {
		poller.Stop()
	}
	if err := loop.Submit(dispatcher.StopScan); err != nil {
		logger.Warn("failed to request scan stop", zap.Error(err))
	}
	if machine != nil {
		if err := loop.Submit(dispatcher.DisconnectFridge); err != nil {
			logger.Warn("failed to request fridge disconnect", zap.Error(err))
		}
	}
	// let the loop drain the stop requests
	time.Sleep(500 * time.Millisecond)

	cancel()
	wg.Wait()
	close(changes)
	<-sinkDone

	if pusher != nil {
		logger.Info("performing final metrics push")
		finalCtx, finalCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer finalCancel()
		if n := pusher.Flush(finalCtx); n > 0 {
			logger.Info("final metrics push successful", zap.Int("reading_count", n))
		}
	}

	logger.Info("van monitoring service stopped")
	return nil
}
