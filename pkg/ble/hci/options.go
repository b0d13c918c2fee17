package hci

import (
	"time"

	"github.com/fako1024/esf37/pkg/scale"
	"github.com/fako1024/gatt"
)

// WithDeviceID sets the ID of the HCI device to use (-1 selects the first available one)
func WithDeviceID(deviceID int) func(*Adapter) {
	return func(a *Adapter) {
		a.deviceID = deviceID
	}
}

// WithDevice sets the Bluetooth device
func WithDevice(btDevice gatt.Device) func(*Adapter) {
	return func(a *Adapter) {
		a.btDevice = btDevice
	}
}

// WithConnectTimeout sets the maximum duration of a connection attempt
func WithConnectTimeout(timeout time.Duration) func(*Adapter) {
	return func(a *Adapter) {
		a.connectTimeout = timeout
	}
}

// WithLogger sets a logger
func WithLogger(logger scale.Logger) func(*Adapter) {
	return func(a *Adapter) {
		a.logger = logger
	}
}
