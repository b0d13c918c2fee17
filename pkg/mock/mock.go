// Package mock provides a simulated ESF37 scale, acting as its own bluetooth
// adapter. It advertises itself (and optionally other devices) while scanning
// and replays a configurable sequence of frames once connected
package mock

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/fako1024/esf37/pkg/ble"
	"github.com/fako1024/esf37/pkg/frame"
)

const (
	defaultDeviceName          = "Etekcity Fitness Scale"
	defaultAddress             = "A4:C1:38:5E:0F:37"
	defaultAdvertisingInterval = 100 * time.Millisecond
	defaultFrameInterval       = 250 * time.Millisecond

	kgToLb = 2.20462
)

// Mock denotes a simulated bluetooth scale
type Mock struct {
	deviceName  string
	address     string
	addressType ble.AddressType
	connectable bool

	advertisingInterval time.Duration
	frameInterval       time.Duration
	frames              [][]byte
	otherDevices        []ble.Advertisement
	linkLoss            bool

	connectErr      error
	connectDelay    time.Duration
	panicOnServices bool

	mu         sync.Mutex
	scanning   bool
	stopChan   chan struct{}
	scans      int
	connects   int
	lastConn   *Connection
	connsTotal []*Connection
}

// New instantiates a new Mock scale, executing functional options, if any
func New(options ...func(*Mock)) *Mock {

	// Initialize a new instance of a Mock scale
	m := &Mock{
		deviceName:          defaultDeviceName,
		address:             defaultAddress,
		addressType:         ble.AddressPublic,
		connectable:         true,
		advertisingInterval: defaultAdvertisingInterval,
		frameInterval:       defaultFrameInterval,
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(m)
	}

	return m
}

// WeightFrame builds a weight frame as sent by the scale
func WeightFrame(kg float64, stable bool) []byte {
	return frame.Encode(frame.HeaderWeight, frame.WeightReading{
		KgRaw:   int16(math.Round(kg * 100)),
		LbRaw:   int16(math.Round(kg * kgToLb * 100)),
		Stable:  stable,
		Trailer: []byte{0x00, 0x00, 0x00},
	}.Bytes())
}

// Advertisement returns the advertisement of the simulated scale
func (m *Mock) Advertisement() ble.Advertisement {
	return ble.Advertisement{
		Address:     m.address,
		AddressType: m.addressType,
		RSSI:        -60,
		Connectable: m.connectable,
		Fields: map[string]string{
			ble.FieldCompleteLocalName: m.deviceName,
		},
	}
}

// StartScan starts advertising the simulated scale (and all other devices) to the handler
func (m *Mock) StartScan(handler func(ble.Advertisement)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.scanning {
		return ble.NewTransportError("start scan", errors.New("scan already in progress"))
	}
	m.scanning = true
	m.scans++
	m.stopChan = make(chan struct{})

	go m.advertise(handler, m.stopChan)

	return nil
}

// StopScan stops a running scan. Like some real world stacks, stopping a scan that
// is not running fails with a disconnect error
func (m *Mock) StopScan() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.scanning {
		return ble.NewTransportError("stop scan", ble.ErrDisconnected)
	}
	m.scanning = false
	close(m.stopChan)

	return nil
}

// Connect establishes a (simulated) connection to the scale. Like a real stack,
// an attempt still pending when the context is cancelled is aborted
func (m *Mock) Connect(ctx context.Context, adv ble.Advertisement) (ble.Connection, error) {
	m.mu.Lock()
	m.connects++
	delay := m.connectDelay
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ble.NewTransportError("connect", ctx.Err())
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connectErr != nil {
		return nil, ble.NewTransportError("connect", m.connectErr)
	}
	if adv.Address != m.address {
		return nil, ble.NewTransportError("connect", ble.ErrUnknownDevice)
	}

	m.lastConn = newConnection(m)
	m.connsTotal = append(m.connsTotal, m.lastConn)

	return m.lastConn, nil
}

// Close releases the adapter
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.scanning {
		m.scanning = false
		close(m.stopChan)
	}

	return nil
}

// Scans returns the number of scans started
func (m *Mock) Scans() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.scans
}

// Connects returns the number of connection attempts
func (m *Mock) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.connects
}

// Disconnects returns the total number of disconnects across all connections
func (m *Mock) Disconnects() (n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, conn := range m.connsTotal {
		n += conn.Disconnects()
	}

	return
}

// LastConnection returns the most recently established connection (if any)
func (m *Mock) LastConnection() *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastConn
}

////////////////////////////////////////////////////////////////////////////////

func (m *Mock) advertise(handler func(ble.Advertisement), stopChan chan struct{}) {
	ticker := time.NewTicker(m.advertisingInterval)
	defer ticker.Stop()

	advs := append(append([]ble.Advertisement{}, m.otherDevices...), m.Advertisement())
	for {
		for _, adv := range advs {
			select {
			case <-stopChan:
				return
			default:
				handler(adv)
			}
		}

		select {
		case <-ticker.C:
		case <-stopChan:
			return
		}
	}
}
