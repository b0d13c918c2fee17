package bluez

import (
	"github.com/fako1024/esf37/pkg/ble"
	"tinygo.org/x/bluetooth"
)

func newAdapter(name string) *bluetooth.Adapter {
	return bluetooth.NewAdapter(name)
}

func addressType(addr bluetooth.Address) ble.AddressType {
	return toAddressType(addr.IsRandom())
}
