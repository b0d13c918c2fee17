package bluez

import (
	"errors"
	"sync"

	"github.com/fako1024/esf37/pkg/ble"
	"tinygo.org/x/bluetooth"
)

const (
	notificationBufferSize = 64
	maxReadSize            = 512
)

type connection struct {
	adapter *Adapter
	address string
	device  bluetooth.Device

	mu            sync.Mutex
	services      []ble.Service
	chars         []bluetooth.DeviceCharacteristic
	notifications chan []byte

	disconnected     chan struct{}
	disconnectedOnce sync.Once
}

func newConnection(a *Adapter, address string, device bluetooth.Device) *connection {
	return &connection{
		adapter:      a,
		address:      address,
		device:       device,
		disconnected: make(chan struct{}),
	}
}

// Address returns the address of the connected device
func (c *connection) Address() string {
	return c.address
}

// Services discovers all services and characteristics of the device
func (c *connection) Services() ([]ble.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.discover()
}

// Notifications subscribes to all characteristics of the device, characteristics
// that do not support notifications are skipped
func (c *connection) Notifications() (<-chan []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.notifications != nil {
		return c.notifications, nil
	}
	if _, err := c.discover(); err != nil {
		return nil, err
	}

	c.notifications = make(chan []byte, notificationBufferSize)
	subscribed := 0
	for i := range c.chars {
		if err := c.chars[i].EnableNotifications(c.receive); err != nil {
			c.adapter.logger.Debugf("skipping characteristic %s of device `%s`: %s", c.chars[i].UUID(), c.address, err)
			continue
		}
		subscribed++
	}
	if subscribed == 0 {
		c.notifications = nil
		return nil, ble.NewTransportError("subscribe", errors.New("device provides no notifying characteristic"))
	}

	return c.notifications, nil
}

// Disconnected returns a channel that is closed once the link is lost
func (c *connection) Disconnected() <-chan struct{} {
	return c.disconnected
}

// Disconnect terminates the connection
func (c *connection) Disconnect() error {
	defer c.markDisconnected()

	if err := c.device.Disconnect(); err != nil {
		return ble.NewTransportError("disconnect", err)
	}

	return nil
}

////////////////////////////////////////////////////////////////////////////////

func (c *connection) markDisconnected() {
	c.disconnectedOnce.Do(func() {
		close(c.disconnected)
	})
}

func (c *connection) receive(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case c.notifications <- buf:
	case <-c.disconnected:
	default:
		c.adapter.logger.Warnf("dropping notification from device `%s`, buffer full", c.address)
	}
}

func (c *connection) discover() ([]ble.Service, error) {
	if c.services != nil {
		return c.services, nil
	}

	ss, err := c.device.DiscoverServices(nil)
	if err != nil {
		return nil, ble.NewTransportError("discover services", err)
	}

	services := make([]ble.Service, 0, len(ss))
	for _, s := range ss {
		cs, err := s.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, ble.NewTransportError("discover characteristics", err)
		}

		service := ble.Service{
			UUID:            s.UUID().String(),
			Characteristics: make([]ble.Characteristic, 0, len(cs)),
		}
		for i := range cs {
			service.Characteristics = append(service.Characteristics, &characteristic{c: cs[i]})
		}
		c.chars = append(c.chars, cs...)
		services = append(services, service)
	}
	c.services = services

	return c.services, nil
}

// characteristic wraps a BlueZ characteristic. Properties are not exposed by
// the backend, hence every characteristic is considered readable
type characteristic struct {
	c bluetooth.DeviceCharacteristic
}

func (c *characteristic) UUID() string {
	return c.c.UUID().String()
}

func (c *characteristic) Properties() string {
	return "unknown"
}

func (c *characteristic) Readable() bool {
	return true
}

func (c *characteristic) Read() ([]byte, error) {
	buf := make([]byte, maxReadSize)
	n, err := c.c.Read(buf)
	if err != nil {
		return nil, ble.NewTransportError("read characteristic", err)
	}

	return buf[:n], nil
}
