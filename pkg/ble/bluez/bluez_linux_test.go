package bluez

import (
	"testing"

	"github.com/fako1024/esf37/pkg/ble"
	"tinygo.org/x/bluetooth"
)

func TestAddressType(t *testing.T) {
	mac, err := bluetooth.ParseMAC("A4:C1:38:5E:0F:37")
	if err != nil {
		t.Fatalf("failed to parse address: %s", err)
	}

	addr := bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}
	if addressType(addr) != ble.AddressPublic {
		t.Fatalf("unexpected address type: %s", addressType(addr))
	}
}
