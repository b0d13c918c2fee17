package mock

import (
	"time"

	"github.com/fako1024/esf37/pkg/ble"
)

// WithDeviceName sets the advertised device name
func WithDeviceName(deviceName string) func(*Mock) {
	return func(m *Mock) {
		m.deviceName = deviceName
	}
}

// WithAddress sets the device address
func WithAddress(address string, addressType ble.AddressType) func(*Mock) {
	return func(m *Mock) {
		m.address = address
		m.addressType = addressType
	}
}

// WithConnectable sets if the device advertises itself as connectable
func WithConnectable(connectable bool) func(*Mock) {
	return func(m *Mock) {
		m.connectable = connectable
	}
}

// WithAdvertisingInterval sets the interval between two rounds of advertisements
func WithAdvertisingInterval(interval time.Duration) func(*Mock) {
	return func(m *Mock) {
		m.advertisingInterval = interval
	}
}

// WithFrames sets the frames sent (in order) after a connection has been established
func WithFrames(frames ...[]byte) func(*Mock) {
	return func(m *Mock) {
		m.frames = frames
	}
}

// WithFrameInterval sets the interval between two frames
func WithFrameInterval(interval time.Duration) func(*Mock) {
	return func(m *Mock) {
		m.frameInterval = interval
	}
}

// WithOtherDevices adds further devices advertising alongside the scale
func WithOtherDevices(advs ...ble.Advertisement) func(*Mock) {
	return func(m *Mock) {
		m.otherDevices = append(m.otherDevices, advs...)
	}
}

// WithLinkLoss makes the scale drop the connection after all frames have been sent
func WithLinkLoss() func(*Mock) {
	return func(m *Mock) {
		m.linkLoss = true
	}
}

// WithConnectError makes all connection attempts fail with the provided error
func WithConnectError(err error) func(*Mock) {
	return func(m *Mock) {
		m.connectErr = err
	}
}

// WithConnectDelay sets the time it takes to establish a connection
func WithConnectDelay(delay time.Duration) func(*Mock) {
	return func(m *Mock) {
		m.connectDelay = delay
	}
}

// WithPanicOnServices makes service discovery panic
func WithPanicOnServices() func(*Mock) {
	return func(m *Mock) {
		m.panicOnServices = true
	}
}
