package mock

import (
	"errors"
	"sync"
	"time"

	"github.com/fako1024/esf37/pkg/ble"
)

// ErrReadNotPermitted is returned when reading the simulated write-only characteristic
var ErrReadNotPermitted = errors.New("read not permitted")

// Connection denotes a simulated connection to the scale
type Connection struct {
	m *Mock

	mu            sync.Mutex
	notifications chan []byte
	disconnects   int

	disconnected     chan struct{}
	disconnectedOnce sync.Once
}

func newConnection(m *Mock) *Connection {
	return &Connection{
		m:            m,
		disconnected: make(chan struct{}),
	}
}

// Address returns the address of the simulated scale
func (c *Connection) Address() string {
	return c.m.address
}

// Services returns the (static) service tree of the simulated scale
func (c *Connection) Services() ([]ble.Service, error) {
	if c.m.panicOnServices {
		panic("simulated failure during service discovery")
	}

	return []ble.Service{
		{
			UUID: "1800",
			Name: "Generic Access",
			Characteristics: []ble.Characteristic{
				&characteristic{uuid: "2a00", props: "read", value: []byte(c.m.deviceName)},
			},
		},
		{
			UUID: "1910",
			Characteristics: []ble.Characteristic{
				&characteristic{uuid: "2c10", props: "read write", value: []byte{0x01}},
				&characteristic{uuid: "2c11", props: "write", err: ErrReadNotPermitted},
				&characteristic{uuid: "2c12", props: "notify"},
			},
		},
	}, nil
}

// Notifications starts replaying the configured frames
func (c *Connection) Notifications() (<-chan []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.notifications != nil {
		return c.notifications, nil
	}
	c.notifications = make(chan []byte, len(c.m.frames))
	go c.replay()

	return c.notifications, nil
}

// Disconnected returns a channel that is closed once the link is lost
func (c *Connection) Disconnected() <-chan struct{} {
	return c.disconnected
}

// Disconnect terminates the simulated connection
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	c.disconnects++
	c.mu.Unlock()

	c.markDisconnected()
	return nil
}

// Disconnects returns the number of times Disconnect() was called
func (c *Connection) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.disconnects
}

////////////////////////////////////////////////////////////////////////////////

func (c *Connection) markDisconnected() {
	c.disconnectedOnce.Do(func() {
		close(c.disconnected)
	})
}

func (c *Connection) replay() {
	for _, data := range c.m.frames {
		select {
		case <-time.After(c.m.frameInterval):
		case <-c.disconnected:
			return
		}

		select {
		case c.notifications <- data:
		case <-c.disconnected:
			return
		}
	}

	// Simulate the scale powering off (and dropping the link) after all frames
	if c.m.linkLoss {
		time.Sleep(c.m.frameInterval)
		c.markDisconnected()
	}
}

type characteristic struct {
	uuid  string
	props string
	value []byte
	err   error
}

func (c *characteristic) UUID() string {
	return c.uuid
}

func (c *characteristic) Properties() string {
	return c.props
}

func (c *characteristic) Readable() bool {
	return c.value != nil || c.err != nil
}

func (c *characteristic) Read() ([]byte, error) {
	if c.err != nil {
		return nil, ble.NewTransportError("read characteristic", c.err)
	}

	return c.value, nil
}
