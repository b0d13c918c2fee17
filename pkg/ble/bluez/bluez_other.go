//go:build !linux

package bluez

import (
	"github.com/fako1024/esf37/pkg/ble"
	"tinygo.org/x/bluetooth"
)

// Adapters cannot be selected by name outside of BlueZ
func newAdapter(_ string) *bluetooth.Adapter {
	return bluetooth.DefaultAdapter
}

func addressType(_ bluetooth.Address) ble.AddressType {
	return ble.AddressUnknown
}
