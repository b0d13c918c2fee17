package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fako1024/esf37/pkg/ble"
	"github.com/fako1024/esf37/pkg/ble/bluez"
	"github.com/fako1024/esf37/pkg/ble/hci"
	"github.com/fako1024/esf37/pkg/config"
	"github.com/fako1024/esf37/pkg/esf37"
	"github.com/fako1024/esf37/pkg/scale"
	"github.com/fako1024/esf37/pkg/service"
)

type options struct {
	cfgPath string
	binary  string

	install bool
	remove  bool
	scan    bool
	dryRun  bool
}

var log = scale.MustNewDefaultLogger("info", "")

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() (err error) {

	// Parse command line options
	var opts options

	flag.StringVar(&opts.cfgPath, "config", "", "path to YAML configuration file")
	flag.StringVar(&opts.binary, "binary", "", "path to the logger binary (default: esf37-logger next to this tool)")

	flag.BoolVar(&opts.install, "install", false, "install, enable and start the system service")
	flag.BoolVar(&opts.remove, "remove", false, "stop, disable and remove the system service")
	flag.BoolVar(&opts.scan, "scan", false, "perform a single scan and report whether the scale was found")
	flag.BoolVar(&opts.dryRun, "n", false, "print the service unit instead of installing it")
	flag.Parse()

	cfg, err := config.Load(opts.cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	switch {
	case opts.install:
		unit, binary, err := buildUnit(cfg, opts)
		if err != nil {
			return err
		}
		if opts.dryRun {
			data, err := unit.Render()
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		}
		return service.New(service.WithLogger(log)).Install(unit, binary)
	case opts.remove:
		return service.New(service.WithLogger(log)).Uninstall(cfg.Service.Name)
	case opts.scan:
		return scanOnce(cfg)
	default:
		flag.Usage()
		return errors.New("one of -install, -remove or -scan is required")
	}
}

func buildUnit(cfg *config.Config, opts options) (service.Unit, string, error) {
	binary := opts.binary
	if binary == "" {
		self, err := os.Executable()
		if err != nil {
			return service.Unit{}, "", fmt.Errorf("failed to determine own location: %w", err)
		}
		binary = filepath.Join(filepath.Dir(self), "esf37-logger")
	}
	binary, err := filepath.Abs(binary)
	if err != nil {
		return service.Unit{}, "", err
	}

	execStart := binary
	if opts.cfgPath != "" {
		cfgPath, err := filepath.Abs(opts.cfgPath)
		if err != nil {
			return service.Unit{}, "", err
		}
		execStart += " -config " + cfgPath
	}

	return service.Unit{
		Name:       cfg.Service.Name,
		ExecStart:  execStart,
		WorkingDir: cfg.Service.WorkingDir,
		User:       cfg.Service.User,
	}, binary, nil
}

var errMockScan = errors.New("scanning requires a bluetooth transport, the simulated scale cannot be scanned for (use `hci` or `bluez`)")

func newScanAdapter(cfg *config.Config) (ble.Adapter, error) {
	switch cfg.Transport {
	case config.TransportHCI:
		return hci.New(hci.WithDeviceID(cfg.HCIDevice), hci.WithLogger(log))
	case config.TransportBlueZ:
		return bluez.New(bluez.WithAdapterName(cfg.BlueZAdapter), bluez.WithLogger(log))
	case config.TransportMock:
		return nil, errMockScan
	default:
		return nil, fmt.Errorf("unsupported transport `%s`", cfg.Transport)
	}
}

func scanOnce(cfg *config.Config) (err error) {
	adapter, err := newScanAdapter(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize bluetooth adapter: %w", err)
	}
	defer func() {
		if cerr := adapter.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	scanner := esf37.New(adapter, nil,
		esf37.WithLogger(log),
		esf37.WithDeviceName(cfg.DeviceName),
		esf37.WithScanWindow(cfg.ScanWindow),
		esf37.WithAdvertisementLogging(true),
	)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ScanWindow+5*time.Second)
	defer cancel()

	res, err := scanner.ScanOnce(ctx)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	switch res.Outcome {
	case esf37.Matched:
		log.Infof("found `%s` @ %s (RSSI %d dBm)", cfg.DeviceName, res.Device, res.Device.RSSI)
	default:
		log.Warnf("`%s` not found within %v (step on the scale to wake it up)", cfg.DeviceName, cfg.ScanWindow)
	}

	return nil
}
