package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fako1024/esf37/pkg/api"
	"github.com/fako1024/esf37/pkg/ble"
	"github.com/fako1024/esf37/pkg/ble/bluez"
	"github.com/fako1024/esf37/pkg/ble/hci"
	"github.com/fako1024/esf37/pkg/config"
	"github.com/fako1024/esf37/pkg/esf37"
	"github.com/fako1024/esf37/pkg/mock"
	"github.com/fako1024/esf37/pkg/scale"
	"github.com/fako1024/esf37/pkg/sink"
)

const version = "1.0.0"

func main() {

	// Parse command line options
	var (
		cfgPath string
		envFile string
		useMock bool
		debug   bool
	)

	flag.StringVar(&cfgPath, "config", "", "path to YAML configuration file")
	flag.StringVar(&envFile, "env", "", "path to .env file (default: ./.env, if present)")
	flag.BoolVar(&useMock, "mock", false, "use a simulated scale instead of a bluetooth adapter")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := loadConfig(cfgPath, envFile, useMock, debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %s\n", err)
		os.Exit(1)
	}

	logger := scale.MustNewDefaultLogger(cfg.Log.Level, cfg.Log.File)
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(cfg, logger); err != nil {
		logger.Errorf("failed to run scale logger: %s", err)
		os.Exit(1)
	}
}

func loadConfig(path, envFile string, useMock, debug bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	var envFiles []string
	if envFile != "" {
		envFiles = append(envFiles, envFile)
	}
	if err := cfg.ApplyEnv(envFiles...); err != nil {
		return nil, err
	}

	if useMock {
		cfg.Transport = config.TransportMock
	}
	if debug {
		cfg.Log.Level = "debug"
	}

	return cfg, cfg.Validate()
}

func run(cfg *config.Config, logger scale.Logger) error {
	logger.Info("")
	logger.Info("********************************")
	logger.Info("**        Scale Logger        **")
	logger.Info("********************************")
	logger.Info("")
	logger.Infof("Scale Logger v%s starting up (transport: %s)...", version, cfg.Transport)

	adapter, err := newAdapter(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize bluetooth adapter: %w", err)
	}
	defer func() {
		if err := adapter.Close(); err != nil {
			logger.Warnf("failed to release bluetooth adapter: %s", err)
		}
	}()

	sinks, err := newSinks(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize measurement sinks: %w", err)
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			logger.Warnf("failed to close measurement sinks: %s", err)
		}
	}()

	scanner := esf37.New(adapter, sinks,
		esf37.WithLogger(logger),
		esf37.WithDeviceName(cfg.DeviceName),
		esf37.WithScanWindow(cfg.ScanWindow),
		esf37.WithNotificationTimeout(cfg.NotificationTimeout),
		esf37.WithCoolOff(cfg.CoolOff),
		esf37.WithEnumerateServices(cfg.EnumerateServices),
		esf37.WithAdvertisementLogging(cfg.LogAdvertisements),
		esf37.WithNotificationLogging(cfg.LogNotifications),
	)
	scanner.SetStateChangeHandler(func(status scale.Status) {
		logger.Debugf("state change: %s", status.State)
	})

	if cfg.API.Listen != "" {
		options := []func(*api.API){api.WithLogger(logger)}
		if history := sinks.History(); history != nil {
			options = append(options, api.WithHistory(history))
		}
		statusAPI := api.New(scanner, options...)
		statusAPI.Listen(cfg.API.Listen)
		defer func() {
			if err := statusAPI.Shutdown(); err != nil {
				logger.Warnf("failed to shut down status API: %s", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Infof("got signal, terminating")
		scanner.Close()
	}()

	scanner.Run(ctx)
	logger.Info("Scale Logger exiting!")

	return nil
}

func newAdapter(cfg *config.Config, logger scale.Logger) (ble.Adapter, error) {
	switch cfg.Transport {
	case config.TransportHCI:
		return hci.New(
			hci.WithDeviceID(cfg.HCIDevice),
			hci.WithLogger(logger),
		)
	case config.TransportBlueZ:
		return bluez.New(
			bluez.WithAdapterName(cfg.BlueZAdapter),
			bluez.WithLogger(logger),
		)
	case config.TransportMock:
		return mock.New(
			mock.WithDeviceName(cfg.DeviceName),
			mock.WithFrameInterval(500*time.Millisecond),
			mock.WithFrames(
				mock.WeightFrame(42.7, false),
				mock.WeightFrame(81.35, false),
				mock.WeightFrame(95.1, true),
			),
		), nil
	default:
		return nil, fmt.Errorf("unsupported transport `%s`", cfg.Transport)
	}
}

func newSinks(cfg *config.Config, logger scale.Logger) (sinks sink.Multi, err error) {
	defer func() {
		if err != nil {
			_ = sinks.Close()
		}
	}()

	if path := cfg.Sinks.CSV.Path; path != "" {
		csvSink, err := sink.NewCSV(path)
		if err != nil {
			return sinks, err
		}
		logger.Infof("recording measurements to %s", path)
		sinks = append(sinks, csvSink)
	}

	if path := cfg.Sinks.SQLite.Path; path != "" {
		sqliteSink, err := sink.NewSQLite(path)
		if err != nil {
			return sinks, err
		}
		logger.Infof("recording measurements to SQLite database %s", path)
		sinks = append(sinks, sqliteSink)
	}

	if mqttCfg := cfg.Sinks.MQTT; mqttCfg.Broker != "" {
		mqttSink, err := sink.NewMQTT(mqttCfg.Broker, mqttCfg.ClientID, mqttCfg.Topic, mqttCfg.QoS, logger)
		if err != nil {
			return sinks, err
		}
		logger.Infof("publishing measurements to %s (topic `%s`)", mqttCfg.Broker, mqttCfg.Topic)
		sinks = append(sinks, mqttSink)
	}

	if influxCfg := cfg.Sinks.Influx; influxCfg.URL != "" {
		logger.Infof("writing measurements to InfluxDB at %s (bucket `%s`)", influxCfg.URL, influxCfg.Bucket)
		sinks = append(sinks, sink.NewInflux(influxCfg.URL, influxCfg.Token, influxCfg.Org, influxCfg.Bucket, cfg.DeviceName))
	}

	return sinks, nil
}
