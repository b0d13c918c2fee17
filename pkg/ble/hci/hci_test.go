package hci

import (
	"testing"

	"github.com/fako1024/esf37/pkg/ble"
	"github.com/fako1024/gatt"
)

func TestInit(t *testing.T) {
	a, err := New(WithDeviceID(99))
	if err == nil {
		t.Fatalf("instantiation of adapter was unexpectedly successful")
	}
	if a != nil {
		t.Fatalf("instantiation of adapter unexpectedly returned non-nil instance")
	}
}

type testPeripheral struct {
	gatt.Peripheral
	id   string
	name string
}

func (p testPeripheral) ID() string {
	return p.id
}

func (p testPeripheral) Name() string {
	return p.name
}

func TestToAdvertisement(t *testing.T) {
	p := testPeripheral{id: "A4:C1:38:5E:0F:37", name: "Etekcity Fitness Scale"}

	adv := toAdvertisement(p, &gatt.Advertisement{
		Connectable:      true,
		ManufacturerData: []byte{0xD0, 0x07, 0x01},
		TxPowerLevel:     -4,
		Services:         []gatt.UUID{gatt.UUID16(0x1910)},
	}, -67)

	if adv.Address != p.id || adv.RSSI != -67 || !adv.Connectable || adv.AddressType != ble.AddressUnknown {
		t.Fatalf("unexpected advertisement: %+v", adv)
	}
	if adv.LocalName() != "Etekcity Fitness Scale" {
		t.Fatalf("unexpected local name: %s", adv.LocalName())
	}
	if adv.Fields[ble.FieldManufacturer] != "d00701" || adv.Fields[ble.FieldTxPowerLevel] != "-4" || adv.Fields[ble.FieldServices] != "1910" {
		t.Fatalf("unexpected advertisement fields: %v", adv.Fields)
	}

	// Advertised names take precedence, missing advertisement data yields a bare entry
	if adv := toAdvertisement(p, &gatt.Advertisement{LocalName: "Other"}, 0); adv.LocalName() != "Other" || adv.Connectable {
		t.Fatalf("unexpected advertisement: %+v", adv)
	}
	if adv := toAdvertisement(p, nil, 0); adv.LocalName() != "" || len(adv.Fields) != 0 {
		t.Fatalf("unexpected advertisement: %+v", adv)
	}
}
