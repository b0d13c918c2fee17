// Package bluez implements the ble.Adapter on top of the system's BlueZ daemon
// (via D-Bus), sharing the bluetooth controller with other applications
package bluez

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fako1024/esf37/pkg/ble"
	"github.com/fako1024/esf37/pkg/scale"
	"tinygo.org/x/bluetooth"
)

const (
	defaultAdapterName = "hci0"
	stopScanTimeout    = 5 * time.Second
)

// scanner is the part of the bluetooth adapter driving discovery
type scanner interface {
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
}

// Adapter denotes a bluetooth adapter managed by BlueZ
type Adapter struct {
	name    string
	adapter *bluetooth.Adapter
	scanner scanner

	mu        sync.Mutex
	scanDone  chan struct{}
	addresses map[string]bluetooth.Address
	conns     map[string]*connection

	logger scale.Logger
}

// New instantiates and enables a new BlueZ adapter, executing functional options, if any
func New(options ...func(*Adapter)) (*Adapter, error) {

	a := &Adapter{
		name:      defaultAdapterName,
		addresses: make(map[string]bluetooth.Address),
		conns:     make(map[string]*connection),
		logger:    &scale.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(a)
	}

	a.adapter = newAdapter(a.name)
	if err := a.adapter.Enable(); err != nil {
		return nil, ble.NewTransportError(fmt.Sprintf("enable adapter %s", a.name), err)
	}
	a.adapter.SetConnectHandler(a.onConnectionChanged)
	a.scanner = a.adapter

	return a, nil
}

// StartScan starts scanning for advertisements in the background, clearing all
// previously seen devices
func (a *Adapter) StartScan(handler func(ble.Advertisement)) error {
	a.mu.Lock()
	if a.scanDone != nil {
		a.mu.Unlock()
		return ble.NewTransportError("start scan", fmt.Errorf("scan already in progress"))
	}
	done := make(chan struct{})
	a.scanDone = done
	a.addresses = make(map[string]bluetooth.Address)
	a.mu.Unlock()

	// adapter.Scan blocks until StopScan() or error. Each scan is identified by
	// its done channel, a scan that already ended must not touch its successor
	go func() {
		defer close(done)

		err := a.scanner.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			addr := result.Address.String()

			a.mu.Lock()
			if a.scanDone != done {
				a.mu.Unlock()
				return
			}
			a.addresses[addr] = result.Address
			a.mu.Unlock()

			handler(toAdvertisement(result))
		})

		a.mu.Lock()
		if a.scanDone == done {
			a.scanDone = nil
		}
		a.mu.Unlock()

		if err != nil {
			a.logger.Warnf("scan on adapter %s terminated: %s", a.name, err)
		}
	}()

	return nil
}

// StopScan stops a running scan, returning once the scan has terminated
func (a *Adapter) StopScan() error {
	a.mu.Lock()
	done := a.scanDone
	a.scanDone = nil
	a.mu.Unlock()

	if done == nil {
		return ble.NewTransportError("stop scan", ble.ErrNotScanning)
	}
	if err := a.scanner.StopScan(); err != nil {
		return ble.NewTransportError("stop scan", err)
	}

	select {
	case <-done:
	case <-time.After(stopScanTimeout):
		return ble.NewTransportError("stop scan", ble.ErrTimeout)
	}

	return nil
}

// Connect establishes a connection to a device seen during the last scan
func (a *Adapter) Connect(ctx context.Context, adv ble.Advertisement) (ble.Connection, error) {
	a.mu.Lock()
	addr, exists := a.addresses[adv.Address]
	a.mu.Unlock()
	if !exists {
		return nil, ble.NewTransportError("connect", ble.ErrUnknownDevice)
	}

	// adapter.Connect blocks internally with its own timeout, which cannot be
	// interrupted from here
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	resChan := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		resChan <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if res := <-resChan; res.err == nil {
				_ = res.device.Disconnect()
			}
		}()
		return nil, ble.NewTransportError("connect", ctx.Err())
	case res := <-resChan:
		if res.err != nil {
			return nil, ble.NewTransportError("connect", res.err)
		}

		conn := newConnection(a, adv.Address, res.device)
		a.mu.Lock()
		a.conns[adv.Address] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// Close releases the adapter
func (a *Adapter) Close() error {
	if err := a.StopScan(); err != nil && !errors.Is(err, ble.ErrNotScanning) {
		return err
	}

	return nil
}

////////////////////////////////////////////////////////////////////////////////

func (a *Adapter) onConnectionChanged(device bluetooth.Device, connected bool) {
	if connected {
		return
	}

	addr := device.Address.String()
	a.mu.Lock()
	conn := a.conns[addr]
	delete(a.conns, addr)
	a.mu.Unlock()

	a.logger.Debugf("device `%s` disconnected", addr)
	if conn != nil {
		conn.markDisconnected()
	}
}

func toAdvertisement(result bluetooth.ScanResult) ble.Advertisement {
	adv := ble.Advertisement{
		Address:     result.Address.String(),
		AddressType: addressType(result.Address),
		RSSI:        int(result.RSSI),

		// BlueZ only reports devices it considers reachable, the advertising PDU
		// type is not exposed
		Connectable: true,
		Fields:      make(map[string]string),
	}

	if name := result.LocalName(); name != "" {
		adv.Fields[ble.FieldCompleteLocalName] = name
	}
	for _, md := range result.ManufacturerData() {
		adv.Fields[fmt.Sprintf("%s 0x%04X", ble.FieldManufacturer, md.CompanyID)] = hex.EncodeToString(md.Data)
	}

	return adv
}

func toAddressType(random bool) ble.AddressType {
	if random {
		return ble.AddressRandom
	}
	return ble.AddressPublic
}
