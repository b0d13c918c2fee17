// Package hci implements the ble.Adapter on top of a raw HCI socket, taking
// exclusive control of the local bluetooth controller
package hci

import (
	"context"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fako1024/esf37/pkg/ble"
	"github.com/fako1024/esf37/pkg/scale"
	"github.com/fako1024/gatt"
)

const (
	defaultDeviceID       = -1
	defaultPowerOnTimeout = 5 * time.Second
	defaultConnectTimeout = 10 * time.Second
)

// Adapter denotes a bluetooth adapter accessed via HCI
type Adapter struct {
	btDevice gatt.Device
	deviceID int

	powerOnTimeout time.Duration
	connectTimeout time.Duration

	poweredOn     chan struct{}
	poweredOnOnce sync.Once

	mu          sync.Mutex
	scanHandler func(ble.Advertisement)
	peripherals map[string]gatt.Peripheral
	pending     map[string]chan error
	conns       map[string]*connection

	logger scale.Logger
}

// New instantiates a new HCI adapter, executing functional options, if any
func New(options ...func(*Adapter)) (*Adapter, error) {

	a := &Adapter{
		deviceID:       defaultDeviceID,
		powerOnTimeout: defaultPowerOnTimeout,
		connectTimeout: defaultConnectTimeout,
		poweredOn:      make(chan struct{}),
		peripherals:    make(map[string]gatt.Peripheral),
		pending:        make(map[string]chan error),
		conns:          make(map[string]*connection),
		logger:         &scale.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(a)
	}

	// Initialize a new GATT device (if not provided as option)
	if a.btDevice == nil {
		btDevice, err := gatt.NewDevice(defaultBTClientOptions(a.deviceID)...)
		if err != nil {
			return nil, ble.NewTransportError("open device", err)
		}
		a.btDevice = btDevice
	}

	// Register handlers
	a.btDevice.Handle(
		gatt.AddPeripheralDiscovered(a.onPeriphDiscovered),
		gatt.AddPeripheralConnected(a.onPeriphConnected),
		gatt.AddPeripheralDisconnected(a.onPeriphDisconnected),
	)

	// Initialize the device and wait for it to become available
	if err := a.btDevice.Init(a.onStateChanged); err != nil {
		return nil, ble.NewTransportError("init device", err)
	}
	select {
	case <-a.poweredOn:
	case <-time.After(a.powerOnTimeout):
		return nil, ble.NewTransportError("init device", ble.ErrTimeout)
	}

	return a, nil
}

// StartScan starts scanning for advertisements, clearing all previously seen devices
func (a *Adapter) StartScan(handler func(ble.Advertisement)) error {
	a.mu.Lock()
	a.scanHandler = handler
	a.peripherals = make(map[string]gatt.Peripheral)
	a.mu.Unlock()

	if err := a.btDevice.Scan([]gatt.UUID{}, true); err != nil {
		a.mu.Lock()
		a.scanHandler = nil
		a.mu.Unlock()
		return ble.NewTransportError("start scan", err)
	}

	return nil
}

// StopScan stops a running scan
func (a *Adapter) StopScan() error {
	a.mu.Lock()
	wasScanning := a.scanHandler != nil
	a.scanHandler = nil
	a.mu.Unlock()

	if !wasScanning {
		return ble.NewTransportError("stop scan", ble.ErrNotScanning)
	}
	if err := a.btDevice.StopScanning(); err != nil {
		return ble.NewTransportError("stop scan", err)
	}

	return nil
}

// Connect establishes a connection to a device seen during the last scan
func (a *Adapter) Connect(ctx context.Context, adv ble.Advertisement) (ble.Connection, error) {

	a.mu.Lock()
	p, exists := a.peripherals[adv.Address]
	if !exists {
		a.mu.Unlock()
		return nil, ble.NewTransportError("connect", ble.ErrUnknownDevice)
	}
	resChan := make(chan error, 1)
	a.pending[p.ID()] = resChan
	a.mu.Unlock()

	if err := a.btDevice.Connect(p); err != nil {
		a.dropPending(p)
		return nil, ble.NewTransportError("connect", err)
	}

	select {
	case err := <-resChan:
		if err != nil {
			return nil, ble.NewTransportError("connect", err)
		}
	case <-time.After(a.connectTimeout):
		a.dropPending(p)
		_ = a.btDevice.CancelConnection(p)
		return nil, ble.NewTransportError("connect", ble.ErrTimeout)
	case <-ctx.Done():
		a.dropPending(p)
		_ = a.btDevice.CancelConnection(p)
		return nil, ble.NewTransportError("connect", ctx.Err())
	}

	// Set connection MTU
	if err := p.SetMTU(500); err != nil {
		a.logger.Warnf("failed to set MTU for peripheral `%s/%s`: %s", p.Name(), p.ID(), err)
	}

	conn := newConnection(a, p)
	a.mu.Lock()
	a.conns[p.ID()] = conn
	a.mu.Unlock()

	return conn, nil
}

// Close releases the adapter
func (a *Adapter) Close() error {
	_ = a.btDevice.StopScanning()
	return a.btDevice.RemoveAllServices()
}

////////////////////////////////////////////////////////////////////////////////

func (a *Adapter) dropPending(p gatt.Peripheral) {
	a.mu.Lock()
	delete(a.pending, p.ID())
	a.mu.Unlock()
}

func (a *Adapter) onStateChanged(d gatt.Device, s gatt.State) {
	a.logger.Debugf("bluetooth device state changed to `%v`", s)

	if s == gatt.StatePoweredOn {
		a.poweredOnOnce.Do(func() {
			close(a.poweredOn)
		})
	}
}

func (a *Adapter) onPeriphDiscovered(p gatt.Peripheral, adv *gatt.Advertisement, rssi int) {
	a.mu.Lock()
	handler := a.scanHandler
	if handler == nil {
		a.mu.Unlock()
		return
	}
	a.peripherals[p.ID()] = p
	a.mu.Unlock()

	handler(toAdvertisement(p, adv, rssi))
}

func (a *Adapter) onPeriphConnected(p gatt.Peripheral, connErr error) {
	a.mu.Lock()
	resChan, isPending := a.pending[p.ID()]
	delete(a.pending, p.ID())
	a.mu.Unlock()

	if isPending {
		resChan <- connErr
		return
	}

	// Connection completed after the attempt was abandoned, release it right away
	if connErr == nil {
		a.logger.Debugf("releasing stale connection to peripheral `%s/%s`", p.Name(), p.ID())
		_ = a.btDevice.CancelConnection(p)
	}
}

func (a *Adapter) onPeriphDisconnected(p gatt.Peripheral, err error) {
	a.mu.Lock()
	conn := a.conns[p.ID()]
	delete(a.conns, p.ID())
	resChan, isPending := a.pending[p.ID()]
	delete(a.pending, p.ID())
	a.mu.Unlock()

	a.logger.Debugf("disconnected peripheral `%s/%s`: %v", p.Name(), p.ID(), err)

	if isPending {
		resChan <- ble.ErrDisconnected
	}
	if conn != nil {
		conn.markDisconnected()
	}
}

func toAdvertisement(p gatt.Peripheral, adv *gatt.Advertisement, rssi int) ble.Advertisement {
	res := ble.Advertisement{
		Address:     p.ID(),
		AddressType: ble.AddressUnknown,
		RSSI:        rssi,
		Fields:      make(map[string]string),
	}
	if adv == nil {
		return res
	}
	res.Connectable = adv.Connectable

	name := adv.LocalName
	if name == "" {
		name = p.Name()
	}
	if name != "" {
		res.Fields[ble.FieldCompleteLocalName] = name
	}
	if len(adv.ManufacturerData) > 0 {
		res.Fields[ble.FieldManufacturer] = hex.EncodeToString(adv.ManufacturerData)
	}
	if adv.TxPowerLevel != 0 {
		res.Fields[ble.FieldTxPowerLevel] = strconv.Itoa(adv.TxPowerLevel)
	}
	if len(adv.Services) > 0 {
		uuids := make([]string, 0, len(adv.Services))
		for _, u := range adv.Services {
			uuids = append(uuids, u.String())
		}
		res.Fields[ble.FieldServices] = strings.Join(uuids, ",")
	}

	return res
}
