package hci

import (
	"errors"
	"sync"

	"github.com/fako1024/esf37/pkg/ble"
	"github.com/fako1024/gatt"
)

const notificationBufferSize = 64

type connection struct {
	adapter *Adapter
	p       gatt.Peripheral

	mu            sync.Mutex
	services      []ble.Service
	notifyChars   []*gatt.Characteristic
	notifications chan []byte

	disconnected     chan struct{}
	disconnectedOnce sync.Once
}

func newConnection(a *Adapter, p gatt.Peripheral) *connection {
	return &connection{
		adapter:      a,
		p:            p,
		disconnected: make(chan struct{}),
	}
}

// Address returns the address of the connected device
func (c *connection) Address() string {
	return c.p.ID()
}

// Services discovers all services and characteristics of the device
func (c *connection) Services() ([]ble.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.discover()
}

// Notifications subscribes to all characteristics supporting notifications or
// indications
func (c *connection) Notifications() (<-chan []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.notifications != nil {
		return c.notifications, nil
	}
	if _, err := c.discover(); err != nil {
		return nil, err
	}
	if len(c.notifyChars) == 0 {
		return nil, ble.NewTransportError("subscribe", errors.New("device provides no notifying characteristic"))
	}

	c.notifications = make(chan []byte, notificationBufferSize)
	for _, char := range c.notifyChars {

		// Descriptors (CCCD) have to be known in order to enable notifications
		if _, err := c.p.DiscoverDescriptors(nil, char); err != nil {
			return nil, ble.NewTransportError("discover descriptors", err)
		}
		if err := c.p.SetNotifyValue(char, c.receive); err != nil {
			return nil, ble.NewTransportError("subscribe", err)
		}
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

	if err := c.adapter.btDevice.CancelConnection(c.p); err != nil {
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

func (c *connection) receive(_ *gatt.Characteristic, data []byte, err error) {
	if err != nil {
		c.adapter.logger.Debugf("error on notification from peripheral `%s`: %s", c.p.ID(), err)
		return
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case c.notifications <- buf:
	case <-c.disconnected:
	default:
		c.adapter.logger.Warnf("dropping notification from peripheral `%s`, buffer full", c.p.ID())
	}
}

func (c *connection) discover() ([]ble.Service, error) {
	if c.services != nil {
		return c.services, nil
	}

	ss, err := c.p.DiscoverServices(nil)
	if err != nil {
		return nil, ble.NewTransportError("discover services", err)
	}

	services := make([]ble.Service, 0, len(ss))
	for _, s := range ss {
		cs, err := c.p.DiscoverCharacteristics(nil, s)
		if err != nil {
			return nil, ble.NewTransportError("discover characteristics", err)
		}

		service := ble.Service{
			UUID:            s.UUID().String(),
			Name:            s.Name(),
			Characteristics: make([]ble.Characteristic, 0, len(cs)),
		}
		for _, char := range cs {
			service.Characteristics = append(service.Characteristics, &characteristic{p: c.p, c: char})
			if char.Properties()&(gatt.CharNotify|gatt.CharIndicate) != 0 {
				c.notifyChars = append(c.notifyChars, char)
			}
		}
		services = append(services, service)
	}
	c.services = services

	return c.services, nil
}

type characteristic struct {
	p gatt.Peripheral
	c *gatt.Characteristic
}

func (c *characteristic) UUID() string {
	return c.c.UUID().String()
}

func (c *characteristic) Properties() string {
	return c.c.Properties().String()
}

func (c *characteristic) Readable() bool {
	return c.c.Properties()&gatt.CharRead != 0
}

func (c *characteristic) Read() ([]byte, error) {
	data, err := c.p.ReadCharacteristic(c.c)
	if err != nil {
		return nil, ble.NewTransportError("read characteristic", err)
	}

	return data, nil
}
